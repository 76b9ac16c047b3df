// Package template produces pipelines from parameterized templates.
//
// A template carries a partial pipeline definition as a generic document.
// Placeholders of the form {{name}} are substituted by walking that document,
// so only string values that reference a declared parameter change.
package template

import (
	"sort"
	"strconv"
	"strings"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/internal/util"
)

// ParamType is the declared type of a template parameter
type ParamType string

const (
	ParamString  ParamType = "string"
	ParamNumber  ParamType = "number"
	ParamBoolean ParamType = "boolean"
	ParamSelect  ParamType = "select"
)

// Parameter declares one value a template needs
type Parameter struct {
	Name        string      `json:"name" yaml:"name"`
	Type        ParamType   `json:"type" yaml:"type"`
	Required    bool        `json:"required" yaml:"required"`
	Default     interface{} `json:"default,omitempty" yaml:"default,omitempty"`
	Options     []string    `json:"options,omitempty" yaml:"options,omitempty"`
	Description string      `json:"description,omitempty" yaml:"description,omitempty"`
}

// Template is a reusable, parameterized pipeline definition
type Template struct {
	ID          string                 `json:"id" yaml:"id"`
	Name        string                 `json:"name" yaml:"name"`
	Category    string                 `json:"category,omitempty" yaml:"category,omitempty"`
	Description string                 `json:"description,omitempty" yaml:"description,omitempty"`
	Definition  map[string]interface{} `json:"template" yaml:"template"`
	Parameters  []Parameter            `json:"parameters" yaml:"parameters"`
}

// Clone returns a deep copy
func (t *Template) Clone() *Template {
	c := *t
	c.Definition = util.DeepCopyMap(t.Definition)
	c.Parameters = make([]Parameter, len(t.Parameters))
	for i, p := range t.Parameters {
		c.Parameters[i] = p
		c.Parameters[i].Options = append([]string(nil), p.Options...)
	}
	return &c
}

// Parameter looks up a declared parameter by name
func (t *Template) Parameter(name string) (Parameter, bool) {
	for _, p := range t.Parameters {
		if p.Name == name {
			return p, true
		}
	}
	return Parameter{}, false
}

// Validate checks the template declaration itself
func (t *Template) Validate() error {
	if strings.TrimSpace(t.ID) == "" {
		return errors.NewValidationError("template id is required")
	}
	if t.Definition == nil {
		return errors.NewValidationError("template %s has no definition", t.ID)
	}
	seen := make(map[string]bool, len(t.Parameters))
	for _, p := range t.Parameters {
		if p.Name == "" {
			return errors.NewValidationError("template %s declares a parameter without a name", t.ID)
		}
		if seen[p.Name] {
			return errors.NewValidationError("template %s declares parameter %q twice", t.ID, p.Name)
		}
		seen[p.Name] = true

		switch p.Type {
		case ParamString, ParamNumber, ParamBoolean:
		case ParamSelect:
			if len(p.Options) == 0 {
				return errors.NewValidationError("select parameter %q of template %s has no options", p.Name, t.ID)
			}
		default:
			return errors.WithHint(
				errors.NewValidationError("parameter %q of template %s has unknown type %q", p.Name, t.ID, p.Type),
				"supported types: string, number, boolean, select",
			)
		}
		if p.Default != nil {
			if _, err := p.coerce(p.Default); err != nil {
				return errors.Wrapf(err, "default of parameter %q in template %s", p.Name, t.ID)
			}
		}
	}
	return nil
}

// coerce converts a supplied value to the parameter's type. Numbers and
// booleans are also accepted as strings, which is what CLI flags produce.
func (p Parameter) coerce(v interface{}) (interface{}, error) {
	switch p.Type {
	case ParamString:
		switch s := v.(type) {
		case string:
			return s, nil
		case float64, int, int64, bool:
			return formatValue(s), nil
		}
	case ParamNumber:
		switch n := v.(type) {
		case float64:
			return n, nil
		case int:
			return float64(n), nil
		case int64:
			return float64(n), nil
		case string:
			if f, err := strconv.ParseFloat(strings.TrimSpace(n), 64); err == nil {
				return f, nil
			}
		}
	case ParamBoolean:
		switch b := v.(type) {
		case bool:
			return b, nil
		case string:
			if parsed, err := strconv.ParseBool(strings.TrimSpace(b)); err == nil {
				return parsed, nil
			}
		}
	case ParamSelect:
		s, ok := v.(string)
		if !ok {
			break
		}
		for _, opt := range p.Options {
			if opt == s {
				return s, nil
			}
		}
		return nil, errors.WithDetailf(
			errors.NewValidationError("parameter %q: %q is not an allowed option", p.Name, s),
			"options: %s", strings.Join(p.Options, ", "),
		)
	}
	return nil, errors.NewValidationError("parameter %q expects a %s, got %v", p.Name, p.Type, v)
}

func formatValue(v interface{}) string {
	switch x := v.(type) {
	case string:
		return x
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case int:
		return strconv.Itoa(x)
	case int64:
		return strconv.FormatInt(x, 10)
	case bool:
		return strconv.FormatBool(x)
	case nil:
		return ""
	}
	return ""
}

func sortTemplates(ts []*Template) {
	sort.Slice(ts, func(i, j int) bool { return ts[i].ID < ts[j].ID })
}
