package stage

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/pipeline"
)

// Aggregate functions
const (
	FuncSum      = "sum"
	FuncAvg      = "avg"
	FuncMin      = "min"
	FuncMax      = "max"
	FuncCount    = "count"
	FuncDistinct = "distinct"
)

// AggregateConfig is the config of an aggregate stage
type AggregateConfig struct {
	Aggregations []Aggregation `json:"aggregations"`
}

// Aggregation computes one output column per group
type Aggregation struct {
	Column   string     `json:"column"`
	Function string     `json:"function"`
	Alias    string     `json:"alias,omitempty"`
	GroupBy  columnList `json:"groupBy,omitempty"`
}

// OutputName is the alias, or {function}_{column}
func (a Aggregation) OutputName() string {
	if a.Alias != "" {
		return a.Alias
	}
	column := a.Column
	if column == "" || column == "*" {
		column = "all"
	}
	return a.Function + "_" + column
}

// columnList accepts either "region" or ["region", "year"]
type columnList []string

func (c *columnList) UnmarshalJSON(data []byte) error {
	var single string
	if err := json.Unmarshal(data, &single); err == nil {
		if single != "" {
			*c = columnList{single}
		}
		return nil
	}
	var many []string
	if err := json.Unmarshal(data, &many); err != nil {
		return err
	}
	*c = many
	return nil
}

// groupColumns returns the first groupBy column of every aggregation that
// declares one. Further columns of a multi-column groupBy are not used.
func groupColumns(aggs []Aggregation) []string {
	var cols []string
	seen := make(map[string]bool)
	for _, a := range aggs {
		if len(a.GroupBy) == 0 || seen[a.GroupBy[0]] {
			continue
		}
		seen[a.GroupBy[0]] = true
		cols = append(cols, a.GroupBy[0])
	}
	return cols
}

func applyAggregate(_ context.Context, _ *Library, t pipeline.Transformation, batch []Record) (Result, error) {
	var cfg AggregateConfig
	if err := decodeConfig(t.Config, &cfg); err != nil {
		return Result{}, err
	}
	if len(cfg.Aggregations) == 0 {
		return Result{}, errors.NewValidationError("aggregate stage declares no aggregations")
	}
	for _, a := range cfg.Aggregations {
		switch a.Function {
		case FuncSum, FuncAvg, FuncMin, FuncMax, FuncDistinct:
			if a.Column == "" || a.Column == "*" {
				return Result{}, errors.NewValidationError("%s needs a column", a.Function)
			}
		case FuncCount:
		default:
			return Result{}, errors.NewValidationError("unknown aggregate function %q", a.Function)
		}
	}

	cols := groupColumns(cfg.Aggregations)

	type group struct {
		first   Record
		members []Record
	}
	var order []string
	groups := make(map[string]*group)

	for _, rec := range batch {
		parts := make([]string, len(cols))
		for i, c := range cols {
			parts[i] = keyOf(rec[c])
		}
		key := strings.Join(parts, "\x1f")

		g, ok := groups[key]
		if !ok {
			g = &group{first: rec}
			groups[key] = g
			order = append(order, key)
		}
		g.members = append(g.members, rec)
	}

	out := make([]Record, 0, len(order))
	for _, key := range order {
		g := groups[key]
		row := make(Record, len(cols)+len(cfg.Aggregations))
		for _, c := range cols {
			row[c] = g.first[c]
		}
		for _, a := range cfg.Aggregations {
			row[a.OutputName()] = compute(a, g.members)
		}
		out = append(out, row)
	}
	return Result{Records: out}, nil
}

func compute(a Aggregation, members []Record) interface{} {
	switch a.Function {
	case FuncCount:
		if a.Column == "" || a.Column == "*" {
			return len(members)
		}
		n := 0
		for _, r := range members {
			if r[a.Column] != nil {
				n++
			}
		}
		return n

	case FuncDistinct:
		seen := make(map[string]bool)
		for _, r := range members {
			if v, ok := r[a.Column]; ok {
				seen[keyOf(v)] = true
			}
		}
		return len(seen)
	}

	var nums []float64
	for _, r := range members {
		// Non-numeric values are excluded from numeric aggregations
		if f, ok := toFloat(r[a.Column]); ok {
			nums = append(nums, f)
		}
	}

	switch a.Function {
	case FuncSum:
		sum := 0.0
		for _, n := range nums {
			sum += n
		}
		return sum
	case FuncAvg:
		if len(nums) == 0 {
			return nil
		}
		sum := 0.0
		for _, n := range nums {
			sum += n
		}
		return sum / float64(len(nums))
	case FuncMin, FuncMax:
		if len(nums) == 0 {
			return nil
		}
		best := nums[0]
		for _, n := range nums[1:] {
			if (a.Function == FuncMin && n < best) || (a.Function == FuncMax && n > best) {
				best = n
			}
		}
		return best
	}
	return nil
}
