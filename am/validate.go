package am

import "github.com/teranos/plumb/errors"

// Validate checks that the configuration is valid
func (c *Config) Validate() error {
	// Server port: 0 means default, negative is invalid
	if c.Server.Port < 0 {
		return errors.Newf("server.port must be positive, got %d", c.Server.Port)
	}

	switch c.Store.Backend {
	case "", StoreBackendSQLite, StoreBackendMemory:
	default:
		return errors.WithHint(
			errors.Newf("store.backend %q is not supported", c.Store.Backend),
			"use \"sqlite\" or \"memory\"",
		)
	}

	// A pool with zero workers would accept runs that never start
	if c.Engine.Workers < 1 {
		return errors.Newf("engine.workers must be >= 1, got %d", c.Engine.Workers)
	}
	if c.Engine.StatusWriteRetries < 1 {
		return errors.Newf("engine.status_write_retries must be >= 1, got %d", c.Engine.StatusWriteRetries)
	}
	if c.Engine.RetryBackoffMs < 0 {
		return errors.Newf("engine.retry_backoff_ms must be >= 0, got %d", c.Engine.RetryBackoffMs)
	}

	if c.Health.WindowHours < 0 {
		return errors.Newf("health.window_hours must be >= 0, got %d", c.Health.WindowHours)
	}

	if c.Templates.Watch && c.Templates.Dir == "" {
		return errors.New("templates.watch requires templates.dir")
	}

	for name, ds := range c.DataSources {
		if ds.Type == "" {
			return errors.Newf("data_sources.%s.type cannot be empty", name)
		}
		if ds.Type == "data_source" {
			return errors.Newf("data_sources.%s cannot reference another data source", name)
		}
	}

	return nil
}
