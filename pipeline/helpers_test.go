package pipeline

// testDefinition returns a minimal valid definition reading from a named
// data source and writing to a file
func testDefinition(name string, stages ...Transformation) Definition {
	return Definition{
		Name: name,
		Source: Source{
			Type:   SourceDataSource,
			Config: map[string]interface{}{"name": "test"},
		},
		Transformations: stages,
		Destination: Destination{
			Type:   DestinationFile,
			Config: map[string]interface{}{"path": "out.json"},
			Mode:   ModeAppend,
		},
	}
}

// filterStage builds an enabled filter transformation with one condition
func filterStage(name string, order int, column, operator string, value interface{}) Transformation {
	return Transformation{
		Name:    name,
		Kind:    KindFilter,
		Order:   order,
		Enabled: true,
		Config: map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"column": column, "operator": operator, "value": value},
			},
		},
	}
}

// mapStage builds an enabled map transformation
func mapStage(name string, order int, mappings map[string]string) Transformation {
	m := make(map[string]interface{}, len(mappings))
	for k, v := range mappings {
		m[k] = v
	}
	return Transformation{
		Name:    name,
		Kind:    KindMap,
		Order:   order,
		Enabled: true,
		Config:  map[string]interface{}{"mappings": m},
	}
}
