// Package pipelinetest builds pipeline definitions for tests in other packages.
package pipelinetest

import "github.com/teranos/plumb/pipeline"

// Definition returns a minimal valid definition reading from a named
// data source and writing to a file
func Definition(name string, stages ...pipeline.Transformation) pipeline.Definition {
	return pipeline.Definition{
		Name: name,
		Source: pipeline.Source{
			Type:   pipeline.SourceDataSource,
			Config: map[string]interface{}{"name": "test"},
		},
		Transformations: stages,
		Destination: pipeline.Destination{
			Type:   pipeline.DestinationFile,
			Config: map[string]interface{}{"path": "out.json"},
			Mode:   pipeline.ModeAppend,
		},
	}
}

// Filter builds an enabled filter transformation with one condition
func Filter(name string, order int, column, operator string, value interface{}) pipeline.Transformation {
	return pipeline.Transformation{
		Name:    name,
		Kind:    pipeline.KindFilter,
		Order:   order,
		Enabled: true,
		Config: map[string]interface{}{
			"conditions": []interface{}{
				map[string]interface{}{"column": column, "operator": operator, "value": value},
			},
		},
	}
}

// Map builds an enabled map transformation
func Map(name string, order int, mappings map[string]string) pipeline.Transformation {
	m := make(map[string]interface{}, len(mappings))
	for k, v := range mappings {
		m[k] = v
	}
	return pipeline.Transformation{
		Name:    name,
		Kind:    pipeline.KindMap,
		Order:   order,
		Enabled: true,
		Config:  map[string]interface{}{"mappings": m},
	}
}
