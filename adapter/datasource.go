package adapter

import (
	"context"
	"sort"

	"github.com/teranos/plumb/am"
	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/internal/util"
	"github.com/teranos/plumb/pipeline"
)

// DataSourceAdapter resolves config.name against the configured data sources
// and delegates to the adapter registered for that source's type. Any other
// keys in config override the named source's config.
type DataSourceAdapter struct {
	sources  map[string]am.DataSourceConfig
	registry *Registry
}

// NewDataSourceAdapter creates a data_source adapter delegating through registry
func NewDataSourceAdapter(sources map[string]am.DataSourceConfig, registry *Registry) *DataSourceAdapter {
	return &DataSourceAdapter{sources: sources, registry: registry}
}

// Names lists the configured data sources, sorted
func (d *DataSourceAdapter) Names() []string {
	out := make([]string, 0, len(d.sources))
	for k := range d.sources {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (d *DataSourceAdapter) resolve(config map[string]interface{}) (string, map[string]interface{}, error) {
	name, err := requireString(config, "name")
	if err != nil {
		return "", nil, err
	}
	src, ok := d.sources[name]
	if !ok {
		return "", nil, errors.WithHint(
			errors.NewNotFoundError("data source %q", name),
			"declare it under [data_sources."+name+"] in am.toml",
		)
	}
	if src.Type == string(pipeline.SourceDataSource) {
		return "", nil, errors.NewValidationError("data source %q cannot point at another data source", name)
	}

	merged := util.DeepCopyMap(src.Config)
	if merged == nil {
		merged = make(map[string]interface{})
	}
	for k, v := range config {
		if k != "name" {
			merged[k] = v
		}
	}
	return src.Type, merged, nil
}

// Extract delegates to the named source's extractor
func (d *DataSourceAdapter) Extract(ctx context.Context, config map[string]interface{}) ([]Record, error) {
	typ, merged, err := d.resolve(config)
	if err != nil {
		return nil, err
	}
	e, err := d.registry.Extractor(typ)
	if err != nil {
		return nil, err
	}
	return e.Extract(ctx, merged)
}

// Load delegates to the named source's loader
func (d *DataSourceAdapter) Load(ctx context.Context, config map[string]interface{}, mode pipeline.WriteMode, records []Record) error {
	typ, merged, err := d.resolve(config)
	if err != nil {
		return err
	}
	l, err := d.registry.Loader(typ)
	if err != nil {
		return err
	}
	return l.Load(ctx, merged, mode, records)
}
