package am

import (
	"time"

	"github.com/spf13/viper"
)

// SetDefaults configures default values for all configuration options
func SetDefaults(v *viper.Viper) {
	v.SetDefault("database.path", DefaultDatabasePath)
	v.SetDefault("store.backend", StoreBackendSQLite)

	v.SetDefault("server.port", DefaultServerPort)
	v.SetDefault("server.allowed_origins", []string{
		"http://localhost",
		"http://127.0.0.1",
	})
	v.SetDefault("server.stream_poll_ms", DefaultStreamPollMs)

	v.SetDefault("engine.workers", DefaultWorkers)
	v.SetDefault("engine.status_write_retries", DefaultStatusWriteRetries)
	v.SetDefault("engine.retry_backoff_ms", DefaultRetryBackoffMs)
	v.SetDefault("engine.allow_command_stages", false)
	v.SetDefault("engine.command_dir", "")

	v.SetDefault("health.window_hours", DefaultHealthWindowHours)

	v.SetDefault("templates.dir", "")
	v.SetDefault("templates.watch", false)
}

// BindSensitiveEnvVars binds settings commonly injected by deployments
func BindSensitiveEnvVars(v *viper.Viper) {
	_ = v.BindEnv("database.path", "PLUMB_DATABASE_PATH")
	_ = v.BindEnv("server.port", "PLUMB_SERVER_PORT")
	_ = v.BindEnv("engine.workers", "PLUMB_ENGINE_WORKERS")
}

// GetDatabasePath returns the configured database path
func (c *Config) GetDatabasePath() string {
	if c.Database.Path == "" {
		return DefaultDatabasePath
	}
	return c.Database.Path
}

// GetServerPort returns the configured server port or the default
func (c *Config) GetServerPort() int {
	if c.Server.Port == 0 {
		return DefaultServerPort
	}
	return c.Server.Port
}

// GetStreamPollInterval returns the WebSocket log stream poll interval
func (c *Config) GetStreamPollInterval() time.Duration {
	if c.Server.StreamPollMs <= 0 {
		return DefaultStreamPollMs * time.Millisecond
	}
	return time.Duration(c.Server.StreamPollMs) * time.Millisecond
}

// GetHealthWindow returns the trailing window considered by the health monitor
func (c *Config) GetHealthWindow() time.Duration {
	if c.Health.WindowHours <= 0 {
		return DefaultHealthWindowHours * time.Hour
	}
	return time.Duration(c.Health.WindowHours) * time.Hour
}

// GetRetryBackoff returns the linear backoff step for store write retries
func (c *Config) GetRetryBackoff() time.Duration {
	return time.Duration(c.Engine.RetryBackoffMs) * time.Millisecond
}
