package stage

import (
	"context"
	"strings"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/pipeline"
)

// Filter operators
const (
	OpEq      = "eq"
	OpNe      = "ne"
	OpGt      = "gt"
	OpGte     = "gte"
	OpLt      = "lt"
	OpLte     = "lte"
	OpIn      = "in"
	OpNotIn   = "not_in"
	OpLike    = "like"
	OpNotLike = "not_like"
)

var knownOperators = map[string]bool{
	OpEq: true, OpNe: true, OpGt: true, OpGte: true, OpLt: true, OpLte: true,
	OpIn: true, OpNotIn: true, OpLike: true, OpNotLike: true,
}

// FilterConfig is the config of a filter stage
type FilterConfig struct {
	Conditions []pipeline.Condition `json:"conditions"`
}

func applyFilter(_ context.Context, _ *Library, t pipeline.Transformation, batch []Record) (Result, error) {
	var cfg FilterConfig
	if err := decodeConfig(t.Config, &cfg); err != nil {
		return Result{}, err
	}

	out, err := FilterRecords(cfg.Conditions, batch)
	if err != nil {
		return Result{}, err
	}
	return Result{Records: out}, nil
}

// FilterRecords keeps the records satisfying every condition. Conditions are
// checked before any record is evaluated, so a bad operator fails even on an
// empty batch.
func FilterRecords(conds []pipeline.Condition, batch []Record) ([]Record, error) {
	if err := ValidateConditions(conds); err != nil {
		return nil, err
	}

	out := make([]Record, 0, len(batch))
	for _, rec := range batch {
		keep := true
		for _, c := range conds {
			if !evaluate(c, rec) {
				keep = false
				break
			}
		}
		if keep {
			out = append(out, rec)
		}
	}
	return out, nil
}

// ValidateConditions rejects unknown operators and malformed set operands
func ValidateConditions(conds []pipeline.Condition) error {
	for _, c := range conds {
		if c.Column == "" {
			return errors.NewValidationError("condition has no column")
		}
		if !knownOperators[c.Operator] {
			return errors.WithHint(
				errors.NewValidationError("unknown operator %q on column %q", c.Operator, c.Column),
				"supported operators: eq, ne, gt, gte, lt, lte, in, not_in, like, not_like",
			)
		}
		if c.Operator == OpIn || c.Operator == OpNotIn {
			if _, ok := c.Value.([]interface{}); !ok {
				return errors.NewValidationError("operator %q on column %q needs a list value", c.Operator, c.Column)
			}
		}
	}
	return nil
}

func evaluate(c pipeline.Condition, rec Record) bool {
	field := rec[c.Column]

	switch c.Operator {
	case OpEq:
		return compareValues(field, c.Value) == 0
	case OpNe:
		return compareValues(field, c.Value) != 0
	case OpGt:
		return field != nil && compareValues(field, c.Value) > 0
	case OpGte:
		return field != nil && compareValues(field, c.Value) >= 0
	case OpLt:
		return field != nil && compareValues(field, c.Value) < 0
	case OpLte:
		return field != nil && compareValues(field, c.Value) <= 0
	case OpIn:
		return inList(field, c.Value.([]interface{}))
	case OpNotIn:
		return !inList(field, c.Value.([]interface{}))
	case OpLike:
		return strings.Contains(toString(field), toString(c.Value))
	case OpNotLike:
		return !strings.Contains(toString(field), toString(c.Value))
	}
	return false
}

func inList(field interface{}, list []interface{}) bool {
	for _, v := range list {
		if compareValues(field, v) == 0 {
			return true
		}
	}
	return false
}
