package adapter

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/plumb/am"
	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/pipeline"
)

func TestRegistryLookup(t *testing.T) {
	r := NewRegistry()
	mem := NewMemoryAdapter()
	r.RegisterExtractor("memory", mem)
	r.RegisterLoader("memory", mem)

	e, err := r.Extractor("memory")
	require.NoError(t, err)
	assert.Same(t, mem, e)

	_, err = r.Extractor("ftp")
	assert.True(t, errors.IsNotFound(err))
	_, err = r.Loader("ftp")
	assert.True(t, errors.IsNotFound(err))

	assert.Equal(t, []string{"memory"}, r.SourceTypes())
	assert.Equal(t, []string{"memory"}, r.DestinationTypes())
}

func TestDefaultRegistryCoversPipelineTypes(t *testing.T) {
	d := NewDefaultRegistry(nil, nil)
	defer d.Close()

	for _, st := range []pipeline.SourceType{
		pipeline.SourceDataSource, pipeline.SourceAPI, pipeline.SourceFile,
		pipeline.SourceDatabase, pipeline.SourceStream,
	} {
		_, err := d.Registry.Extractor(string(st))
		assert.NoError(t, err, st)
	}
	for _, dt := range []pipeline.DestinationType{
		pipeline.DestinationDataSource, pipeline.DestinationFile,
		pipeline.DestinationDatabase, pipeline.DestinationAPI,
	} {
		_, err := d.Registry.Loader(string(dt))
		assert.NoError(t, err, dt)
	}

	// stream is extract-only
	_, err := d.Registry.Loader(string(pipeline.SourceStream))
	assert.True(t, errors.IsNotFound(err))
}

func TestResolveDataset(t *testing.T) {
	ctx := context.Background()
	d := NewDefaultRegistry(nil, nil)
	d.Memory.Put("regions", []Record{{"id": 1.0, "region": "north"}})

	got, err := d.Registry.ResolveDataset(ctx, map[string]interface{}{
		"type":   "memory",
		"config": map[string]interface{}{"name": "regions"},
	})
	require.NoError(t, err)
	assert.Equal(t, []Record{{"id": 1.0, "region": "north"}}, got)

	_, err = d.Registry.ResolveDataset(ctx, map[string]interface{}{})
	assert.True(t, errors.IsValidation(err))
}

func TestMemoryAdapterModes(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	cfg := map[string]interface{}{"name": "out", "key": "id"}

	require.NoError(t, m.Load(ctx, cfg, pipeline.ModeAppend, []Record{{"id": 1.0, "v": "a"}}))
	require.NoError(t, m.Load(ctx, cfg, pipeline.ModeAppend, []Record{{"id": 2.0, "v": "b"}}))
	assert.Len(t, m.Dataset("out"), 2)

	require.NoError(t, m.Load(ctx, cfg, pipeline.ModeUpsert, []Record{{"id": "2", "v": "B"}, {"id": 3.0, "v": "c"}}))
	got := m.Dataset("out")
	require.Len(t, got, 3)
	assert.Equal(t, "B", got[1]["v"])
	assert.Equal(t, "c", got[2]["v"])

	require.NoError(t, m.Load(ctx, cfg, pipeline.ModeReplace, []Record{{"id": 9.0}}))
	assert.Equal(t, []Record{{"id": 9.0}}, m.Dataset("out"))

	err := m.Load(ctx, map[string]interface{}{"name": "out"}, pipeline.ModeUpsert, nil)
	assert.True(t, errors.IsValidation(err))

	_, err = m.Extract(ctx, map[string]interface{}{"name": "missing"})
	assert.True(t, errors.IsNotFound(err))
}

func TestMemoryAdapterCopiesRecords(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryAdapter()
	in := []Record{{"nested": map[string]interface{}{"a": 1.0}}}
	m.Put("ds", in)
	in[0]["nested"].(map[string]interface{})["a"] = 2.0

	got, err := m.Extract(ctx, map[string]interface{}{"name": "ds"})
	require.NoError(t, err)
	assert.Equal(t, 1.0, got[0]["nested"].(map[string]interface{})["a"])
}

func TestDataSourceAdapter(t *testing.T) {
	ctx := context.Background()
	sources := map[string]am.DataSourceConfig{
		"warehouse": {Type: "memory", Config: map[string]interface{}{"name": "sales"}},
		"loop":      {Type: "data_source", Config: map[string]interface{}{"name": "warehouse"}},
	}
	d := NewDefaultRegistry(sources, nil)
	d.Memory.Put("sales", []Record{{"value": 100.0}})

	got, err := d.DataSource.Extract(ctx, map[string]interface{}{"name": "warehouse"})
	require.NoError(t, err)
	assert.Equal(t, []Record{{"value": 100.0}}, got)

	require.NoError(t, d.DataSource.Load(ctx, map[string]interface{}{"name": "warehouse"},
		pipeline.ModeAppend, []Record{{"value": 200.0}}))
	assert.Len(t, d.Memory.Dataset("sales"), 2)

	_, err = d.DataSource.Extract(ctx, map[string]interface{}{"name": "nope"})
	assert.True(t, errors.IsNotFound(err))
	assert.NotEmpty(t, errors.GetAllHints(err))

	_, err = d.DataSource.Extract(ctx, map[string]interface{}{"name": "loop"})
	assert.True(t, errors.IsValidation(err))

	assert.Equal(t, []string{"loop", "warehouse"}, d.DataSource.Names())
}

func TestRecordKey(t *testing.T) {
	assert.Equal(t, recordKey(1), recordKey(1.0))
	assert.Equal(t, recordKey("1"), recordKey(1.0))
	assert.Equal(t, "abc", recordKey("abc"))
	assert.Equal(t, "", recordKey(nil))
}
