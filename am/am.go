package am

// Config represents the plumb configuration
type Config struct {
	Database    DatabaseConfig              `mapstructure:"database"`
	Store       StoreConfig                 `mapstructure:"store"`
	Server      ServerConfig                `mapstructure:"server"`
	Engine      EngineConfig                `mapstructure:"engine"`
	Health      HealthConfig                `mapstructure:"health"`
	Templates   TemplatesConfig             `mapstructure:"templates"`
	DataSources map[string]DataSourceConfig `mapstructure:"data_sources"`
}

// DatabaseConfig configures the SQLite database
type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

// StoreConfig selects the persistence backend for pipelines and executions
type StoreConfig struct {
	Backend string `mapstructure:"backend"` // "sqlite" (default) or "memory"
}

// Store backends
const (
	StoreBackendSQLite = "sqlite"
	StoreBackendMemory = "memory"
)

// ServerConfig configures the HTTP API server
type ServerConfig struct {
	Port           int      `mapstructure:"port"`
	AllowedOrigins []string `mapstructure:"allowed_origins"`
	StreamPollMs   int      `mapstructure:"stream_poll_ms"` // WebSocket log stream poll interval
}

// EngineConfig configures the execution engine
type EngineConfig struct {
	Workers            int    `mapstructure:"workers"`              // Concurrent runs (bounded worker pool)
	StatusWriteRetries int    `mapstructure:"status_write_retries"` // Attempts for execution store writes
	RetryBackoffMs     int    `mapstructure:"retry_backoff_ms"`     // Linear backoff step between attempts
	AllowCommandStages bool   `mapstructure:"allow_command_stages"` // Enable the custom-stage command runtime (spawns processes)
	CommandDir         string `mapstructure:"command_dir"`          // Working directory for command stages
}

// HealthConfig configures the health monitor
type HealthConfig struct {
	WindowHours int `mapstructure:"window_hours"`
}

// TemplatesConfig configures where pipeline templates are loaded from
type TemplatesConfig struct {
	Dir   string `mapstructure:"dir"`   // Directory of *.yaml templates (empty = built-ins only)
	Watch bool   `mapstructure:"watch"` // Reload templates when the directory changes
}

// DataSourceConfig is a named connection referenced by data_source adapters
type DataSourceConfig struct {
	Type   string         `mapstructure:"type"` // file, database, api, stream, memory
	Config map[string]any `mapstructure:"config"`
}

// Defaults
const (
	DefaultServerPort         = 8787
	DefaultDatabasePath       = "plumb.db"
	DefaultWorkers            = 4
	DefaultStatusWriteRetries = 3
	DefaultRetryBackoffMs     = 100
	DefaultHealthWindowHours  = 24
	DefaultStreamPollMs       = 250
)

// File system constants
const (
	DefaultDirPermissions  = 0755 // Standard directory permissions (rwxr-xr-x)
	DefaultFilePermissions = 0644 // Standard file permissions (rw-r--r--)
)
