package template

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/plumb/errors"
)

func TestBuiltinsParse(t *testing.T) {
	ts, err := Builtins()
	require.NoError(t, err)
	require.Len(t, ts, 2)
	assert.Equal(t, "api-to-file", ts[0].ID)
	assert.Equal(t, "csv-to-database", ts[1].ID)

	for _, tmpl := range ts {
		assert.NotEmpty(t, tmpl.Name)
		assert.NotEmpty(t, tmpl.Parameters)
		assert.NotNil(t, tmpl.Definition["source"])
	}
}

func TestValidate(t *testing.T) {
	base := func() *Template {
		return &Template{
			ID:         "t",
			Definition: map[string]interface{}{"name": "x"},
			Parameters: []Parameter{{Name: "a", Type: ParamString}},
		}
	}

	require.NoError(t, base().Validate())

	tests := []struct {
		name   string
		mutate func(*Template)
	}{
		{"missing id", func(t *Template) { t.ID = "" }},
		{"missing definition", func(t *Template) { t.Definition = nil }},
		{"unnamed parameter", func(t *Template) { t.Parameters[0].Name = "" }},
		{"duplicate parameter", func(t *Template) { t.Parameters = append(t.Parameters, t.Parameters[0]) }},
		{"unknown type", func(t *Template) { t.Parameters[0].Type = "date" }},
		{"select without options", func(t *Template) { t.Parameters[0].Type = ParamSelect }},
		{"default of wrong type", func(t *Template) {
			t.Parameters[0].Type = ParamNumber
			t.Parameters[0].Default = "lots"
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tmpl := base()
			tt.mutate(tmpl)
			err := tmpl.Validate()
			require.Error(t, err)
			assert.True(t, errors.IsValidation(err), "got %v", err)
		})
	}
}

func TestCoerce(t *testing.T) {
	num := Parameter{Name: "n", Type: ParamNumber}
	v, err := num.coerce("12.5")
	require.NoError(t, err)
	assert.Equal(t, 12.5, v)
	v, err = num.coerce(3)
	require.NoError(t, err)
	assert.Equal(t, 3.0, v)
	_, err = num.coerce(true)
	assert.True(t, errors.IsValidation(err))

	boolean := Parameter{Name: "b", Type: ParamBoolean}
	v, err = boolean.coerce("true")
	require.NoError(t, err)
	assert.Equal(t, true, v)

	str := Parameter{Name: "s", Type: ParamString}
	v, err = str.coerce(42.0)
	require.NoError(t, err)
	assert.Equal(t, "42", v)

	sel := Parameter{Name: "mode", Type: ParamSelect, Options: []string{"append", "replace"}}
	v, err = sel.coerce("replace")
	require.NoError(t, err)
	assert.Equal(t, "replace", v)
	_, err = sel.coerce("merge")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore()
	require.NoError(t, err)

	_, err = s.Get(ctx, "nope")
	assert.True(t, errors.IsNotFound(err))

	tmpl := &Template{ID: "b", Definition: map[string]interface{}{"name": "b"}}
	require.NoError(t, s.Put(tmpl))
	require.NoError(t, s.Put(&Template{ID: "a", Definition: map[string]interface{}{"name": "a"}}))

	got, err := s.Get(ctx, "b")
	require.NoError(t, err)
	got.Definition["name"] = "changed"

	again, err := s.Get(ctx, "b")
	require.NoError(t, err)
	assert.Equal(t, "b", again.Definition["name"], "store hands out copies")

	list, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "a", list[0].ID)

	assert.Error(t, s.Put(&Template{ID: "bad"}))
}
