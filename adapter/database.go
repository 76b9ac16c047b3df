package adapter

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/teranos/plumb/db"
	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/pipeline"
)

// DatabaseAdapter reads query results from and writes tables to SQLite databases.
//
// Config keys:
//
//	path   database file (":memory:" is per-adapter)
//	query  SELECT statement (extract)
//	table  target table (load); created and widened as needed
//	key    upsert key column
type DatabaseAdapter struct {
	logger *zap.SugaredLogger

	mu    sync.Mutex
	conns map[string]*sql.DB
}

// NewDatabaseAdapter creates a database adapter
func NewDatabaseAdapter(log *zap.SugaredLogger) *DatabaseAdapter {
	return &DatabaseAdapter{
		logger: logger.OrNop(log),
		conns:  make(map[string]*sql.DB),
	}
}

func (d *DatabaseAdapter) conn(path string) (*sql.DB, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if c, ok := d.conns[path]; ok {
		return c, nil
	}
	c, err := db.Open(path, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to open database %s", path)
	}
	if path == ":memory:" {
		// Every pooled connection would otherwise see its own empty database
		c.SetMaxOpenConns(1)
	}
	d.conns[path] = c
	return c, nil
}

// Close closes every cached connection
func (d *DatabaseAdapter) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for path, c := range d.conns {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrapf(err, "failed to close %s", path)
		}
		delete(d.conns, path)
	}
	return firstErr
}

// Extract runs config.query and returns one record per row
func (d *DatabaseAdapter) Extract(ctx context.Context, config map[string]interface{}) ([]Record, error) {
	path, err := requireString(config, "path")
	if err != nil {
		return nil, err
	}
	query, err := requireString(config, "query")
	if err != nil {
		return nil, err
	}
	conn, err := d.conn(path)
	if err != nil {
		return nil, err
	}

	rows, err := conn.QueryContext(ctx, query)
	if err != nil {
		return nil, errors.Wrap(err, "failed to run source query")
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, errors.Wrap(err, "failed to read columns")
	}

	out := []Record{}
	for rows.Next() {
		values := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, errors.Wrap(err, "failed to scan row")
		}
		rec := make(Record, len(cols))
		for i, c := range cols {
			if b, ok := values[i].([]byte); ok {
				rec[c] = string(b)
				continue
			}
			rec[c] = normalizeValue(values[i])
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate rows")
	}
	d.logger.Debugw("query extracted", "path", path, logger.FieldCount, len(out))
	return out, nil
}

// Load writes records into config.table in a single transaction
func (d *DatabaseAdapter) Load(ctx context.Context, config map[string]interface{}, mode pipeline.WriteMode, records []Record) error {
	path, err := requireString(config, "path")
	if err != nil {
		return err
	}
	table, err := requireIdentifier(config, "table")
	if err != nil {
		return err
	}
	key := optString(config, "key")
	if key != "" && !identifierPattern.MatchString(key) {
		return errors.NewValidationError("key %q is not a valid identifier", key)
	}
	if mode == pipeline.ModeUpsert && key == "" {
		return errors.NewValidationError("upsert needs a \"key\" column")
	}

	cols := columnsOf(records)
	for _, c := range cols {
		if !identifierPattern.MatchString(c) {
			return errors.NewValidationError("column %q is not a valid identifier", c)
		}
	}
	if key != "" && !containsString(cols, key) {
		cols = append(cols, key)
	}

	conn, err := d.conn(path)
	if err != nil {
		return err
	}
	tx, err := conn.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := ensureTable(ctx, tx, table, cols, key); err != nil {
		return err
	}

	switch mode {
	case pipeline.ModeReplace:
		if _, err := tx.ExecContext(ctx, fmt.Sprintf("DELETE FROM %s", quoteIdent(table))); err != nil {
			return errors.Wrapf(err, "failed to clear %s", table)
		}
	case pipeline.ModeAppend, pipeline.ModeUpsert, "":
	default:
		return errors.NewValidationError("unknown write mode %q", mode)
	}

	if len(records) > 0 {
		stmt, err := tx.PrepareContext(ctx, insertStatement(table, cols, key, mode))
		if err != nil {
			return errors.Wrap(err, "failed to prepare insert")
		}
		defer stmt.Close()

		for i, r := range records {
			args := make([]interface{}, len(cols))
			for j, c := range cols {
				args[j] = sqlValue(r[c])
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return errors.Wrapf(err, "failed to write record %d", i)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit")
	}
	d.logger.Debugw("table loaded", "table", table, logger.FieldCount, len(records), "mode", mode)
	return nil
}

func ensureTable(ctx context.Context, tx *sql.Tx, table string, cols []string, key string) error {
	defs := make([]string, 0, len(cols))
	for _, c := range cols {
		if c == key {
			defs = append(defs, quoteIdent(c)+" PRIMARY KEY")
		} else {
			defs = append(defs, quoteIdent(c))
		}
	}
	if len(defs) == 0 {
		// SQLite rejects a table without columns
		defs = append(defs, quoteIdent("_plumb_row"))
	}
	create := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quoteIdent(table), strings.Join(defs, ", "))
	if _, err := tx.ExecContext(ctx, create); err != nil {
		return errors.Wrapf(err, "failed to create table %s", table)
	}

	existing, err := tableColumns(ctx, tx, table)
	if err != nil {
		return err
	}
	for _, c := range cols {
		if existing[c] {
			continue
		}
		alter := fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s", quoteIdent(table), quoteIdent(c))
		if _, err := tx.ExecContext(ctx, alter); err != nil {
			return errors.Wrapf(err, "failed to add column %s.%s", table, c)
		}
	}

	if key != "" {
		// Pre-existing tables may lack the key constraint ON CONFLICT needs
		index := fmt.Sprintf("CREATE UNIQUE INDEX IF NOT EXISTS %s ON %s (%s)",
			quoteIdent("ux_"+table+"_"+key), quoteIdent(table), quoteIdent(key))
		if _, err := tx.ExecContext(ctx, index); err != nil {
			return errors.Wrapf(err, "failed to index %s.%s", table, key)
		}
	}
	return nil
}

func tableColumns(ctx context.Context, tx *sql.Tx, table string) (map[string]bool, error) {
	rows, err := tx.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%s)", quoteIdent(table)))
	if err != nil {
		return nil, errors.Wrapf(err, "failed to inspect %s", table)
	}
	defer rows.Close()

	cols := make(map[string]bool)
	for rows.Next() {
		var (
			cid     int
			name    string
			ctype   string
			notNull int
			dflt    sql.NullString
			pk      int
		)
		if err := rows.Scan(&cid, &name, &ctype, &notNull, &dflt, &pk); err != nil {
			return nil, errors.Wrap(err, "failed to scan table info")
		}
		cols[name] = true
	}
	return cols, rows.Err()
}

func insertStatement(table string, cols []string, key string, mode pipeline.WriteMode) string {
	quoted := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
		marks[i] = "?"
	}
	stmt := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quoteIdent(table), strings.Join(quoted, ", "), strings.Join(marks, ", "))

	if mode == pipeline.ModeUpsert {
		var sets []string
		for _, c := range cols {
			if c != key {
				sets = append(sets, fmt.Sprintf("%s = excluded.%s", quoteIdent(c), quoteIdent(c)))
			}
		}
		if len(sets) == 0 {
			stmt += fmt.Sprintf(" ON CONFLICT (%s) DO NOTHING", quoteIdent(key))
		} else {
			stmt += fmt.Sprintf(" ON CONFLICT (%s) DO UPDATE SET %s", quoteIdent(key), strings.Join(sets, ", "))
		}
	}
	return stmt
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// sqlValue stores nested values as JSON text
func sqlValue(v interface{}) interface{} {
	switch v.(type) {
	case map[string]interface{}, []interface{}:
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return string(b)
	default:
		return v
	}
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
