package db

import (
	"context"
	"database/sql"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/teranos/plumb/errors"
)

// SQLiteBusyTimeoutMS is how long a connection waits on a locked database
// before the driver reports SQLITE_BUSY. Keep it in step with the
// busy_timeout pragma in Open.
const SQLiteBusyTimeoutMS = 5000

// Open opens a SQLite database at the specified path with optimized settings:
//   - WAL journal, so API reads proceed while a run writes its logs
//   - foreign keys on, so deleting an execution cascades to its logs
//   - a busy timeout, so concurrent writers wait instead of failing at once
//
// If logger is provided, logs database operations; otherwise operates silently.
// The caller owns the returned handle and must Close it.
func Open(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	if logger != nil {
		logger.Debugw("Opening database", "path", path)
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to open database")
	}

	pragmas := []struct {
		stmt string
		what string
	}{
		// Enable WAL mode for concurrent reads during writes
		{"PRAGMA journal_mode = WAL", "enable WAL mode"},
		// Enable foreign key constraints (off by default in SQLite)
		{"PRAGMA foreign_keys = ON", "enable foreign keys"},
		// Set busy timeout to 5 seconds
		{"PRAGMA busy_timeout = 5000", "set busy timeout"},
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p.stmt); err != nil {
			db.Close()
			return nil, errors.Wrapf(err, "failed to %s", p.what)
		}
	}

	if logger != nil {
		logger.Infow("Database opened",
			"path", path,
			"wal_mode", true,
			"foreign_keys", true,
		)
	}

	return db, nil
}

// OpenWithMigrations opens the database and applies all pending migrations.
//
// Migrations run inside MigrateContext, one transaction per file, so a failed
// migration leaves the schema at the last version that applied cleanly. The
// handle is closed before returning any error.
func OpenWithMigrations(path string, logger *zap.SugaredLogger) (*sql.DB, error) {
	db, err := Open(path, logger)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open %s", path)
	}
	ctx := context.Background()
	if err := MigrateContext(ctx, db, logger); err != nil {
		db.Close()
		return nil, errors.Wrapf(err, "failed to migrate %s", path)
	}
	if logger != nil {
		if v, err := SchemaVersion(ctx, db); err == nil {
			logger.Debugw("Schema ready", "path", path, "schema_version", v)
		}
	}
	return db, nil
}
