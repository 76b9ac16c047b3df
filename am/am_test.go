package am

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_Defaults(t *testing.T) {
	v := viper.New()
	SetDefaults(v)

	cfg, err := LoadWithViper(v)
	require.NoError(t, err)

	assert.Equal(t, "plumb.db", cfg.Database.Path)
	assert.Equal(t, StoreBackendSQLite, cfg.Store.Backend)
	assert.Equal(t, DefaultServerPort, cfg.Server.Port)
	assert.Equal(t, 4, cfg.Engine.Workers)
	assert.Equal(t, 3, cfg.Engine.StatusWriteRetries)
	assert.Equal(t, 24*time.Hour, cfg.GetHealthWindow())
	assert.Equal(t, 250*time.Millisecond, cfg.GetStreamPollInterval())
	assert.False(t, cfg.Engine.AllowCommandStages)
}

func TestValidate(t *testing.T) {
	valid := func() Config {
		return Config{
			Engine: EngineConfig{Workers: 1, StatusWriteRetries: 1},
		}
	}

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"minimal config", func(*Config) {}, false},
		{"negative port", func(c *Config) { c.Server.Port = -1 }, true},
		{"zero workers", func(c *Config) { c.Engine.Workers = 0 }, true},
		{"zero retries", func(c *Config) { c.Engine.StatusWriteRetries = 0 }, true},
		{"negative backoff", func(c *Config) { c.Engine.RetryBackoffMs = -5 }, true},
		{"memory backend", func(c *Config) { c.Store.Backend = StoreBackendMemory }, false},
		{"unknown backend", func(c *Config) { c.Store.Backend = "postgres" }, true},
		{"watch without dir", func(c *Config) { c.Templates.Watch = true }, true},
		{"data source without type", func(c *Config) {
			c.DataSources = map[string]DataSourceConfig{"sales": {}}
		}, true},
		{"nested data source", func(c *Config) {
			c.DataSources = map[string]DataSourceConfig{"sales": {Type: "data_source"}}
		}, true},
		{"file data source", func(c *Config) {
			c.DataSources = map[string]DataSourceConfig{"sales": {Type: "file", Config: map[string]any{"path": "sales.json"}}}
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	content := `
[engine]
workers = 8

[data_sources.sales]
type = "file"

[data_sources.sales.config]
path = "sales.json"
format = "json"
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)

	assert.Equal(t, 8, cfg.Engine.Workers)
	assert.Equal(t, 3, cfg.Engine.StatusWriteRetries, "unset keys keep their defaults")
	require.Contains(t, cfg.DataSources, "sales")
	assert.Equal(t, "file", cfg.DataSources["sales"].Type)
	assert.Equal(t, "sales.json", cfg.DataSources["sales"].Config["path"])
}

func TestLoadFromFile_Invalid(t *testing.T) {
	path := filepath.Join(t.TempDir(), "am.toml")
	require.NoError(t, os.WriteFile(path, []byte("[engine]\nworkers = 0\n"), 0644))

	_, err := LoadFromFile(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "engine.workers")
}

func TestSetValue(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "am.toml")

	require.NoError(t, SetValue(path, "engine.workers", 2))
	require.NoError(t, SetValue(path, "server.port", 9000))

	cfg, err := LoadFromFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, cfg.Engine.Workers)
	assert.Equal(t, 9000, cfg.Server.Port)

	// Second write rotated the first version into a backup
	_, err = os.Stat(path + ".back1")
	assert.NoError(t, err)
}

func TestSetValue_EmptyKey(t *testing.T) {
	err := SetValue(filepath.Join(t.TempDir(), "am.toml"), "", 1)
	assert.Error(t, err)
}
