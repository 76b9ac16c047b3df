package template

import (
	"embed"
	"path"

	"gopkg.in/yaml.v3"

	"github.com/teranos/plumb/errors"
)

//go:embed builtin/*.yaml
var builtinFS embed.FS

// Builtins returns the templates shipped with plumb
func Builtins() ([]*Template, error) {
	entries, err := builtinFS.ReadDir("builtin")
	if err != nil {
		return nil, errors.Wrap(err, "failed to read built-in templates")
	}
	out := make([]*Template, 0, len(entries))
	for _, entry := range entries {
		data, err := builtinFS.ReadFile(path.Join("builtin", entry.Name()))
		if err != nil {
			return nil, errors.Wrapf(err, "failed to read built-in template %s", entry.Name())
		}
		t, err := Parse(data)
		if err != nil {
			return nil, errors.Wrapf(err, "built-in template %s", entry.Name())
		}
		out = append(out, t)
	}
	sortTemplates(out)
	return out, nil
}

// Parse decodes and validates a YAML template document
func Parse(data []byte) (*Template, error) {
	var t Template
	if err := yaml.Unmarshal(data, &t); err != nil {
		return nil, errors.Wrap(errors.ErrValidation, "invalid template YAML: "+err.Error())
	}
	if err := t.Validate(); err != nil {
		return nil, err
	}
	return &t, nil
}
