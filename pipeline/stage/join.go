package stage

import (
	"context"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/pipeline"
)

// Join types
const (
	JoinInner = "inner"
	JoinLeft  = "left"
	JoinRight = "right"
	JoinFull  = "full"
)

// JoinConfig is the config of a join stage. Dataset is a source description
// ({"type": ..., "config": {...}}) handed to the library's DatasetResolver.
type JoinConfig struct {
	Dataset     map[string]interface{} `json:"dataset,omitempty"`
	Type        string                 `json:"type,omitempty"`
	LeftColumn  string                 `json:"leftColumn"`
	RightColumn string                 `json:"rightColumn"`
}

func applyJoin(ctx context.Context, l *Library, t pipeline.Transformation, batch []Record) (Result, error) {
	var cfg JoinConfig
	if err := decodeConfig(t.Config, &cfg); err != nil {
		return Result{}, err
	}
	if cfg.Type == "" {
		cfg.Type = JoinInner
	}
	switch cfg.Type {
	case JoinInner, JoinLeft, JoinRight, JoinFull:
	default:
		return Result{}, errors.NewValidationError("unknown join type %q", cfg.Type)
	}

	if len(cfg.Dataset) == 0 || l.resolver == nil {
		return Result{
			Records:  batch,
			Warnings: []string{"join has no secondary dataset wired; batch passed through unchanged"},
		}, nil
	}
	if cfg.LeftColumn == "" || cfg.RightColumn == "" {
		return Result{}, errors.NewValidationError("join needs leftColumn and rightColumn")
	}

	right, err := l.resolver.ResolveDataset(ctx, cfg.Dataset)
	if err != nil {
		return Result{}, errors.Wrap(err, "failed to resolve join dataset")
	}

	return Result{Records: Join(cfg.Type, batch, right, cfg.LeftColumn, cfg.RightColumn)}, nil
}

// Join combines left and right on equality of leftColumn and rightColumn.
// Output follows left order, then unmatched right records in right order.
// On field name collisions the left value wins.
func Join(joinType string, left, right []Record, leftColumn, rightColumn string) []Record {
	index := make(map[string][]int)
	for i, r := range right {
		v, ok := r[rightColumn]
		if !ok || v == nil {
			continue
		}
		k := keyOf(v)
		index[k] = append(index[k], i)
	}

	matchedRight := make([]bool, len(right))
	var out []Record

	for _, l := range left {
		var matches []int
		if v, ok := l[leftColumn]; ok && v != nil {
			matches = index[keyOf(v)]
		}
		if len(matches) == 0 {
			if joinType == JoinLeft || joinType == JoinFull {
				out = append(out, copyRecord(l))
			}
			continue
		}
		for _, i := range matches {
			matchedRight[i] = true
			merged := copyRecord(l)
			for k, v := range right[i] {
				if _, exists := merged[k]; !exists {
					merged[k] = v
				}
			}
			out = append(out, merged)
		}
	}

	if joinType == JoinRight || joinType == JoinFull {
		for i, r := range right {
			if !matchedRight[i] {
				out = append(out, copyRecord(r))
			}
		}
	}
	if out == nil {
		out = []Record{}
	}
	return out
}
