package stage

import (
	"context"
	"sort"

	"github.com/teranos/plumb/pipeline"
)

// MapConfig is the config of a map stage: source field to target field
type MapConfig struct {
	Mappings map[string]string `json:"mappings"`
}

func applyMap(_ context.Context, _ *Library, t pipeline.Transformation, batch []Record) (Result, error) {
	var cfg MapConfig
	if err := decodeConfig(t.Config, &cfg); err != nil {
		return Result{}, err
	}

	sources := make([]string, 0, len(cfg.Mappings))
	for src := range cfg.Mappings {
		sources = append(sources, src)
	}
	sort.Strings(sources)

	out := make([]Record, len(batch))
	for i, rec := range batch {
		out[i] = mapRecord(rec, sources, cfg.Mappings)
	}
	return Result{Records: out}, nil
}

// mapRecord reads every source from the original record, so swaps such as
// a->b, b->a behave as expected.
func mapRecord(rec Record, sources []string, mappings map[string]string) Record {
	out := copyRecord(rec)
	for _, src := range sources {
		if _, ok := rec[src]; ok && mappings[src] != src {
			delete(out, src)
		}
	}
	for _, src := range sources {
		if v, ok := rec[src]; ok {
			out[mappings[src]] = v
		}
	}
	return out
}
