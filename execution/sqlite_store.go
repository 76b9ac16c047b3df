package execution

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/teranos/plumb/db"
	"github.com/teranos/plumb/errors"
)

// SQLiteStore persists executions in the executions, execution_logs and
// execution_errors tables
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore creates a store over a migrated database
func NewSQLiteStore(conn *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: conn}
}

const executionColumns = `id, pipeline_id, pipeline_version, status, dry_run, start_time,
	end_time, records_processed, records_failed`

// Save inserts a new execution with any logs and errors it already carries
func (s *SQLiteStore) Save(ctx context.Context, e *Execution) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, `
		INSERT INTO executions (
			id, pipeline_id, pipeline_version, status, dry_run, start_time,
			end_time, duration_ms, records_processed, records_failed
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID,
		e.PipelineID,
		e.PipelineVersion,
		string(e.Status),
		e.DryRun,
		db.FormatTime(e.StartTime),
		db.FormatTimePtr(e.EndTime),
		e.Duration().Milliseconds(),
		e.RecordsProcessed,
		e.RecordsFailed,
	)
	if err != nil {
		return errors.Wrap(err, "failed to create execution")
	}
	for _, entry := range e.Logs {
		if err := insertLog(ctx, tx, e.ID, entry); err != nil {
			return err
		}
	}
	for _, er := range e.Errors {
		if err := insertError(ctx, tx, e.ID, er); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit execution")
	}
	return nil
}

// Update replaces status, end time and counters of a running execution.
// The status guard sits in the WHERE clause so a concurrent terminal write
// cannot be overwritten.
func (s *SQLiteStore) Update(ctx context.Context, e *Execution) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE executions
		SET status = ?,
		    end_time = ?,
		    duration_ms = ?,
		    records_processed = ?,
		    records_failed = ?
		WHERE id = ? AND status = ?`,
		string(e.Status),
		db.FormatTimePtr(e.EndTime),
		e.Duration().Milliseconds(),
		e.RecordsProcessed,
		e.RecordsFailed,
		e.ID,
		string(StatusRunning),
	)
	if err != nil {
		return errors.Wrap(err, "failed to update execution")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "failed to read affected rows")
	}
	if n == 0 {
		return s.explainImmutable(ctx, e.ID)
	}
	return nil
}

// explainImmutable distinguishes a missing execution from a terminal one
func (s *SQLiteStore) explainImmutable(ctx context.Context, id string) error {
	var status string
	err := s.db.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError("execution %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "failed to read execution status")
	}
	if Status(status).IsTerminal() {
		return errors.AssertionFailedf("execution %s is %s and can no longer change", id, status)
	}
	return nil
}

func (s *SQLiteStore) requireRunning(ctx context.Context, tx *sql.Tx, id string) error {
	var status string
	err := tx.QueryRowContext(ctx, `SELECT status FROM executions WHERE id = ?`, id).Scan(&status)
	if errors.Is(err, sql.ErrNoRows) {
		return errors.NewNotFoundError("execution %s", id)
	}
	if err != nil {
		return errors.Wrap(err, "failed to read execution status")
	}
	if Status(status).IsTerminal() {
		return errors.AssertionFailedf("execution %s is %s and can no longer change", id, status)
	}
	return nil
}

// AppendLog adds an entry to a running execution
func (s *SQLiteStore) AppendLog(ctx context.Context, executionID string, entry LogEntry) error {
	return s.appendTx(ctx, executionID, func(tx *sql.Tx) error {
		return insertLog(ctx, tx, executionID, entry)
	})
}

// AppendError adds an error to a running execution
func (s *SQLiteStore) AppendError(ctx context.Context, executionID string, e Error) error {
	return s.appendTx(ctx, executionID, func(tx *sql.Tx) error {
		return insertError(ctx, tx, executionID, e)
	})
}

func (s *SQLiteStore) appendTx(ctx context.Context, executionID string, insert func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "failed to begin transaction")
	}
	defer tx.Rollback()

	if err := s.requireRunning(ctx, tx, executionID); err != nil {
		return err
	}
	if err := insert(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "failed to commit")
	}
	return nil
}

func insertLog(ctx context.Context, tx *sql.Tx, executionID string, entry LogEntry) error {
	logCtx, err := marshalNullable(entry.Context)
	if err != nil {
		return errors.Wrap(err, "failed to marshal log context")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_logs (execution_id, timestamp, level, message, context)
		VALUES (?, ?, ?, ?, ?)`,
		executionID, db.FormatTime(entry.Timestamp), string(entry.Level), entry.Message, logCtx,
	)
	if err != nil {
		return errors.Wrap(err, "failed to append log")
	}
	return nil
}

func insertError(ctx context.Context, tx *sql.Tx, executionID string, e Error) error {
	details, err := marshalNullable(e.Details)
	if err != nil {
		return errors.Wrap(err, "failed to marshal error details")
	}
	record, err := marshalNullable(e.OffendingRecord)
	if err != nil {
		return errors.Wrap(err, "failed to marshal offending record")
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO execution_errors (id, execution_id, kind, stage, message, details, offending_record, timestamp)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, executionID, string(e.Kind), e.Stage, e.Message, details, record, db.FormatTime(e.Timestamp),
	)
	if err != nil {
		return errors.Wrap(err, "failed to append error")
	}
	return nil
}

// Get returns the execution with its logs and errors in insertion order
func (s *SQLiteStore) Get(ctx context.Context, id string) (*Execution, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+executionColumns+` FROM executions WHERE id = ?`, id)
	e, err := scanExecution(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, errors.NewNotFoundError("execution %s", id)
	}
	if err != nil {
		return nil, errors.Wrap(err, "failed to get execution")
	}
	if e.Logs, err = s.logsFor(ctx, id); err != nil {
		return nil, err
	}
	if e.Errors, err = s.errorsFor(ctx, id); err != nil {
		return nil, err
	}
	return e, nil
}

func (s *SQLiteStore) logsFor(ctx context.Context, id string) ([]LogEntry, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT timestamp, level, message, context
		FROM execution_logs WHERE execution_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query logs")
	}
	defer rows.Close()

	out := []LogEntry{}
	for rows.Next() {
		var (
			entry  LogEntry
			ts     string
			level  string
			rawCtx sql.NullString
		)
		if err := rows.Scan(&ts, &level, &entry.Message, &rawCtx); err != nil {
			return nil, errors.Wrap(err, "failed to scan log")
		}
		if entry.Timestamp, err = db.ParseTime(ts); err != nil {
			return nil, errors.Wrap(err, "failed to parse log timestamp")
		}
		entry.Level = Level(level)
		if entry.Context, err = unmarshalNullable(rawCtx); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal log context")
		}
		out = append(out, entry)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate logs")
}

func (s *SQLiteStore) errorsFor(ctx context.Context, id string) ([]Error, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, kind, stage, message, details, offending_record, timestamp
		FROM execution_errors WHERE execution_id = ? ORDER BY seq ASC`, id)
	if err != nil {
		return nil, errors.Wrap(err, "failed to query errors")
	}
	defer rows.Close()

	out := []Error{}
	for rows.Next() {
		var (
			e       Error
			kind    string
			details sql.NullString
			record  sql.NullString
			ts      string
		)
		if err := rows.Scan(&e.ID, &kind, &e.Stage, &e.Message, &details, &record, &ts); err != nil {
			return nil, errors.Wrap(err, "failed to scan error")
		}
		e.Kind = ErrorKind(kind)
		if e.Timestamp, err = db.ParseTime(ts); err != nil {
			return nil, errors.Wrap(err, "failed to parse error timestamp")
		}
		if e.Details, err = unmarshalNullable(details); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal error details")
		}
		if e.OffendingRecord, err = unmarshalNullable(record); err != nil {
			return nil, errors.Wrap(err, "failed to unmarshal offending record")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "failed to iterate errors")
}

// ListByPipeline returns summaries newest first
func (s *SQLiteStore) ListByPipeline(ctx context.Context, pipelineID string) ([]*Execution, error) {
	return s.list(ctx, `WHERE pipeline_id = ?`, pipelineID)
}

// ListSince returns summaries started at or after since, newest first
func (s *SQLiteStore) ListSince(ctx context.Context, pipelineID string, since time.Time) ([]*Execution, error) {
	return s.list(ctx, `WHERE pipeline_id = ? AND start_time >= ?`, pipelineID, db.FormatTime(since))
}

// ListRunning returns every running execution, newest first
func (s *SQLiteStore) ListRunning(ctx context.Context) ([]*Execution, error) {
	return s.list(ctx, `WHERE status = ?`, string(StatusRunning))
}

func (s *SQLiteStore) list(ctx context.Context, where string, args ...interface{}) ([]*Execution, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+executionColumns+` FROM executions `+where+` ORDER BY start_time DESC, id DESC`, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list executions")
	}
	defer rows.Close()

	out := []*Execution{}
	for rows.Next() {
		e, err := scanExecution(rows)
		if err != nil {
			return nil, errors.Wrap(err, "failed to scan execution")
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to iterate executions")
	}
	return out, nil
}

// DeleteByPipeline removes a pipeline's executions; logs and errors cascade
func (s *SQLiteStore) DeleteByPipeline(ctx context.Context, pipelineID string) (int, error) {
	result, err := s.db.ExecContext(ctx, `DELETE FROM executions WHERE pipeline_id = ?`, pipelineID)
	if err != nil {
		return 0, errors.Wrap(err, "failed to delete executions")
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to read affected rows")
	}
	return int(n), nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanExecution(row rowScanner) (*Execution, error) {
	var (
		e       Execution
		status  string
		start   string
		endTime sql.NullString
	)
	err := row.Scan(
		&e.ID,
		&e.PipelineID,
		&e.PipelineVersion,
		&status,
		&e.DryRun,
		&start,
		&endTime,
		&e.RecordsProcessed,
		&e.RecordsFailed,
	)
	if err != nil {
		return nil, err
	}
	e.Status = Status(status)
	if e.StartTime, err = db.ParseTime(start); err != nil {
		return nil, errors.Wrap(err, "failed to parse start_time")
	}
	if e.EndTime, err = db.ParseTimePtr(endTime); err != nil {
		return nil, errors.Wrap(err, "failed to parse end_time")
	}
	e.Errors = []Error{}
	e.Logs = []LogEntry{}
	return &e, nil
}

func marshalNullable(m map[string]interface{}) (sql.NullString, error) {
	if len(m) == 0 {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

func unmarshalNullable(s sql.NullString) (map[string]interface{}, error) {
	if !s.Valid || s.String == "" {
		return nil, nil
	}
	var m map[string]interface{}
	if err := json.Unmarshal([]byte(s.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}
