package commands

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/pipeline"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestDecodeFile_Formats(t *testing.T) {
	files := map[string]string{
		"def.json": `{"name":"sales","source":{"type":"file","config":{"path":"in.csv"}},
			"transformations":[{"name":"big","kind":"filter","order":1,"enabled":true}],
			"destination":{"type":"file","config":{"path":"out.json"},"mode":"append"}}`,
		"def.yaml": `
name: sales
source:
  type: file
  config:
    path: in.csv
transformations:
  - name: big
    kind: filter
    order: 1
    enabled: true
destination:
  type: file
  mode: append
  config:
    path: out.json
`,
		"def.toml": `
name = "sales"

[source]
type = "file"
[source.config]
path = "in.csv"

[[transformations]]
name = "big"
kind = "filter"
order = 1
enabled = true

[destination]
type = "file"
mode = "append"
[destination.config]
path = "out.json"
`,
	}

	for name, content := range files {
		t.Run(name, func(t *testing.T) {
			var def pipeline.Definition
			require.NoError(t, decodeFile(writeFile(t, name, content), &def))

			assert.Equal(t, "sales", def.Name)
			assert.Equal(t, pipeline.SourceType("file"), def.Source.Type)
			assert.Equal(t, "in.csv", def.Source.Config["path"])
			require.Len(t, def.Transformations, 1)
			assert.Equal(t, pipeline.KindFilter, def.Transformations[0].Kind)
			assert.Equal(t, 1, def.Transformations[0].Order)
			assert.True(t, def.Transformations[0].Enabled)
			assert.Equal(t, pipeline.WriteMode("append"), def.Destination.Mode)
		})
	}
}

func TestDecodeFile_Patch(t *testing.T) {
	var patch pipeline.Patch
	require.NoError(t, decodeFile(writeFile(t, "patch.yaml", "name: renamed\n"), &patch))

	require.NotNil(t, patch.Name)
	assert.Equal(t, "renamed", *patch.Name)
	assert.Nil(t, patch.Source)
	assert.False(t, patch.Substantive())
}

func TestDecodeFile_Errors(t *testing.T) {
	var def pipeline.Definition

	err := decodeFile(writeFile(t, "def.txt", "name: x"), &def)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequest(err))
	assert.NotEmpty(t, errors.GetAllHints(err))

	err = decodeFile(writeFile(t, "def.json", "{not json"), &def)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequest(err))

	err = decodeFile(writeFile(t, "def.json", `{"transformations":"nope"}`), &def)
	require.Error(t, err)
	assert.True(t, errors.IsInvalidRequest(err))

	err = decodeFile(filepath.Join(t.TempDir(), "missing.json"), &def)
	require.Error(t, err)
}

func TestParseParams(t *testing.T) {
	params, err := parseParams([]string{"table=rows", "url=https://x.test/?a=b", "empty="})
	require.NoError(t, err)
	assert.Equal(t, map[string]interface{}{
		"table": "rows",
		"url":   "https://x.test/?a=b",
		"empty": "",
	}, params)

	for _, bad := range []string{"novalue", "=value"} {
		_, err := parseParams([]string{bad})
		assert.True(t, errors.IsInvalidRequest(err), bad)
	}
}

func TestTypedValue(t *testing.T) {
	assert.Equal(t, int64(8080), typedValue("8080"))
	assert.Equal(t, 0.5, typedValue("0.5"))
	assert.Equal(t, true, typedValue("true"))
	assert.Equal(t, "sqlite", typedValue("sqlite"))
}

func TestFormatTime(t *testing.T) {
	assert.Equal(t, "-", formatTime(nil))
}
