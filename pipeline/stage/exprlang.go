package stage

import (
	"context"
	"sort"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"github.com/teranos/plumb/errors"
)

// ExprRuntime evaluates expr-lang expressions against each record.
// Fields are computed from the input record, never from each other.
type ExprRuntime struct{}

// Configured reports whether any field or predicate is present
func (ExprRuntime) Configured(cfg CustomConfig) bool {
	return len(cfg.Fields) > 0 || cfg.Where != ""
}

// Run computes cfg.Fields for every record that satisfies cfg.Where
func (ExprRuntime) Run(ctx context.Context, cfg CustomConfig, batch []Record) ([]Record, error) {
	var where *vm.Program
	if cfg.Where != "" {
		p, err := expr.Compile(cfg.Where, expr.AllowUndefinedVariables(), expr.AsBool())
		if err != nil {
			return nil, errors.Wrapf(errors.ErrValidation, "invalid where expression: %v", err)
		}
		where = p
	}

	names := make([]string, 0, len(cfg.Fields))
	for name := range cfg.Fields {
		names = append(names, name)
	}
	sort.Strings(names)

	programs := make(map[string]*vm.Program, len(names))
	for _, name := range names {
		p, err := expr.Compile(cfg.Fields[name], expr.AllowUndefinedVariables())
		if err != nil {
			return nil, errors.Wrapf(errors.ErrValidation, "invalid expression for field %q: %v", name, err)
		}
		programs[name] = p
	}

	out := make([]Record, 0, len(batch))
	for i, rec := range batch {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		env := map[string]interface{}(rec)

		if where != nil {
			keep, err := expr.Run(where, env)
			if err != nil {
				return nil, errors.Wrapf(err, "where expression failed at record %d", i)
			}
			if b, _ := keep.(bool); !b {
				continue
			}
		}

		row := copyRecord(rec)
		for _, name := range names {
			v, err := expr.Run(programs[name], env)
			if err != nil {
				return nil, errors.Wrapf(err, "expression for field %q failed at record %d", name, i)
			}
			row[name] = v
		}
		out = append(out, row)
	}
	return out, nil
}
