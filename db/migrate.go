package db

import (
	"context"
	"database/sql"
	"embed"
	"path"
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/teranos/plumb/errors"
)

//go:embed sqlite/migrations/*.sql
var migrations embed.FS

const migrationsDir = "sqlite/migrations"

// bootstrapVersion creates schema_migrations itself, so it is the only
// migration allowed to run before that table exists.
const bootstrapVersion = "000"

type migration struct {
	version string
	file    string
}

// loadMigrations lists the embedded migrations in version order
func loadMigrations() ([]migration, error) {
	entries, err := migrations.ReadDir(migrationsDir)
	if err != nil {
		return nil, errors.Wrap(err, "read migrations")
	}
	var ms []migration
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasSuffix(name, ".sql") {
			continue
		}
		version, _, ok := strings.Cut(name, "_")
		if !ok {
			return nil, errors.AssertionFailedf("migration %s has no version prefix", name)
		}
		ms = append(ms, migration{version: version, file: name})
	}
	sort.Slice(ms, func(i, j int) bool { return ms[i].version < ms[j].version })
	return ms, nil
}

// appliedVersions returns the recorded versions, or nil when schema_migrations
// does not exist yet.
func appliedVersions(ctx context.Context, conn *sql.DB) (map[string]bool, error) {
	var exists int
	err := conn.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = 'schema_migrations'`).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, "check schema_migrations")
	}
	if exists == 0 {
		return nil, nil
	}

	rows, err := conn.QueryContext(ctx, `SELECT version FROM schema_migrations`)
	if err != nil {
		return nil, errors.Wrap(err, "read schema_migrations")
	}
	defer rows.Close()

	applied := make(map[string]bool)
	for rows.Next() {
		var v string
		if err := rows.Scan(&v); err != nil {
			return nil, errors.Wrap(err, "scan schema_migrations")
		}
		applied[v] = true
	}
	return applied, rows.Err()
}

// Migrate applies every pending migration, each in its own transaction.
// logger may be nil.
func Migrate(conn *sql.DB, logger *zap.SugaredLogger) error {
	return MigrateContext(context.Background(), conn, logger)
}

// MigrateContext is Migrate with a caller-supplied context
func MigrateContext(ctx context.Context, conn *sql.DB, logger *zap.SugaredLogger) error {
	ms, err := loadMigrations()
	if err != nil {
		return err
	}
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return err
	}

	count := 0
	for _, m := range ms {
		if applied[m.version] {
			continue
		}
		if applied == nil && m.version != bootstrapVersion {
			return errors.Newf("schema_migrations table missing, but migration is not %s: %s", bootstrapVersion, m.file)
		}
		if err := apply(ctx, conn, m, logger); err != nil {
			return err
		}
		if applied == nil {
			applied = make(map[string]bool)
		}
		applied[m.version] = true
		count++
	}

	if logger != nil {
		logger.Infow("Migrations complete", "total_migrations", len(ms), "applied", count)
	}
	return nil
}

func apply(ctx context.Context, conn *sql.DB, m migration, logger *zap.SugaredLogger) error {
	body, err := migrations.ReadFile(path.Join(migrationsDir, m.file))
	if err != nil {
		return errors.Wrapf(err, "read %s", m.file)
	}
	if logger != nil {
		logger.Infow("Applying migration", "migration", m.file, "version", m.version)
	}

	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrapf(err, "begin tx for %s", m.file)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, string(body)); err != nil {
		return errors.Wrapf(err, "execute %s", m.file)
	}
	if _, err := tx.ExecContext(ctx, `INSERT INTO schema_migrations (version) VALUES (?)`, m.version); err != nil {
		return errors.Wrapf(err, "record %s", m.file)
	}
	return errors.Wrapf(tx.Commit(), "commit %s", m.file)
}

// SchemaVersion returns the highest applied migration version, or "" for an
// empty database.
func SchemaVersion(ctx context.Context, conn *sql.DB) (string, error) {
	applied, err := appliedVersions(ctx, conn)
	if err != nil {
		return "", err
	}
	latest := ""
	for v := range applied {
		if v > latest {
			latest = v
		}
	}
	return latest, nil
}
