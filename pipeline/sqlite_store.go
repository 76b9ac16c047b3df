package pipeline

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/teranos/plumb/db"
	"github.com/teranos/plumb/errors"
)

// SQLiteStore persists pipelines in the pipelines table
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over a migrated database
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db}
}

const pipelineColumns = `id, name, description, status, source, transformations,
		       destination, metadata, schedule, version, version_history,
		       created_at, updated_at, last_run, next_run`

// Get retrieves a pipeline by ID
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Pipeline, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines WHERE id = ?`, id)
	p, err := scanPipeline(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, errors.NewNotFoundError("pipeline %s", id)
		}
		return nil, errors.Wrapf(err, "failed to get pipeline %s", id)
	}
	return p, nil
}

// List returns all pipelines, oldest first
func (s *SQLiteStore) List(ctx context.Context) ([]*Pipeline, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+pipelineColumns+` FROM pipelines ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list pipelines")
	}
	defer rows.Close()

	var out []*Pipeline
	for rows.Next() {
		p, err := scanPipeline(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan pipeline")
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate pipelines")
	}
	return out, nil
}

// Save inserts or replaces a pipeline
func (s *SQLiteStore) Save(ctx context.Context, p *Pipeline) error {
	if p == nil || p.ID == "" {
		return errors.New("cannot save pipeline without id")
	}

	source, err := json.Marshal(p.Source)
	if err != nil {
		return errors.Wrap(err, "failed to marshal source")
	}
	transformations, err := json.Marshal(p.Transformations)
	if err != nil {
		return errors.Wrap(err, "failed to marshal transformations")
	}
	destination, err := json.Marshal(p.Destination)
	if err != nil {
		return errors.Wrap(err, "failed to marshal destination")
	}
	metadata, err := json.Marshal(p.Metadata)
	if err != nil {
		return errors.Wrap(err, "failed to marshal metadata")
	}
	history, err := json.Marshal(p.VersionHistory)
	if err != nil {
		return errors.Wrap(err, "failed to marshal version history")
	}

	query := `
		INSERT INTO pipelines (
			id, name, description, status, source, transformations,
			destination, metadata, schedule, version, version_history,
			created_at, updated_at, last_run, next_run
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			status = excluded.status,
			source = excluded.source,
			transformations = excluded.transformations,
			destination = excluded.destination,
			metadata = excluded.metadata,
			schedule = excluded.schedule,
			version = excluded.version,
			version_history = excluded.version_history,
			updated_at = excluded.updated_at,
			last_run = excluded.last_run,
			next_run = excluded.next_run
	`

	_, err = s.db.ExecContext(ctx, query,
		p.ID,
		p.Name,
		p.Description,
		string(p.Status),
		string(source),
		string(transformations),
		string(destination),
		string(metadata),
		p.Schedule,
		p.Version,
		string(history),
		db.FormatTime(p.CreatedAt),
		db.FormatTime(p.UpdatedAt),
		db.FormatTimePtr(p.LastRun),
		db.FormatTimePtr(p.NextRun),
	)
	if err != nil {
		return errors.Wrapf(err, "failed to save pipeline %s", p.ID)
	}
	return nil
}

// Delete removes a pipeline, reporting whether it existed
func (s *SQLiteStore) Delete(ctx context.Context, id string) (bool, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM pipelines WHERE id = ?`, id)
	if err != nil {
		return false, errors.Wrapf(err, "failed to delete pipeline %s", id)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, errors.Wrap(err, "failed to check rows affected")
	}
	return n > 0, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanPipeline(row rowScanner) (*Pipeline, error) {
	var p Pipeline
	var status, source, transformations, destination, metadata, history string
	var createdAt, updatedAt string
	var lastRun, nextRun sql.NullString

	err := row.Scan(
		&p.ID,
		&p.Name,
		&p.Description,
		&status,
		&source,
		&transformations,
		&destination,
		&metadata,
		&p.Schedule,
		&p.Version,
		&history,
		&createdAt,
		&updatedAt,
		&lastRun,
		&nextRun,
	)
	if err != nil {
		return nil, err
	}
	p.Status = Status(status)

	if err := json.Unmarshal([]byte(source), &p.Source); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal source")
	}
	if err := json.Unmarshal([]byte(transformations), &p.Transformations); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal transformations")
	}
	if err := json.Unmarshal([]byte(destination), &p.Destination); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal destination")
	}
	if err := json.Unmarshal([]byte(metadata), &p.Metadata); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal metadata")
	}
	if err := json.Unmarshal([]byte(history), &p.VersionHistory); err != nil {
		return nil, errors.Wrap(err, "failed to unmarshal version history")
	}

	if p.CreatedAt, err = db.ParseTime(createdAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse created_at")
	}
	if p.UpdatedAt, err = db.ParseTime(updatedAt); err != nil {
		return nil, errors.Wrap(err, "failed to parse updated_at")
	}
	if p.LastRun, err = db.ParseTimePtr(lastRun); err != nil {
		return nil, errors.Wrap(err, "failed to parse last_run")
	}
	if p.NextRun, err = db.ParseTimePtr(nextRun); err != nil {
		return nil, errors.Wrap(err, "failed to parse next_run")
	}
	return &p, nil
}
