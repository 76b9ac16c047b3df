package execution

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/plumb/errors"
	plumbtest "github.com/teranos/plumb/internal/testing"
)

func storesUnderTest(t *testing.T) map[string]Store {
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": NewSQLiteStore(plumbtest.CreateMigratedTestDB(t)),
	}
}

func TestStoreLifecycle(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			e := New("pl_1", "1.0.1", true, t0)
			require.NoError(t, store.Save(ctx, e))

			require.NoError(t, store.AppendLog(ctx, e.ID, LogEntry{
				Timestamp: t0, Level: LevelInfo, Message: "extracted", Context: map[string]interface{}{"count": 3.0},
			}))
			require.NoError(t, store.AppendLog(ctx, e.ID, LogEntry{Timestamp: t0, Level: LevelWarn, Message: "second"}))

			er := NewError(KindTransformation, "unknown operator", t0)
			er.Stage = "big"
			er.Details = map[string]interface{}{"operator": "between"}
			require.NoError(t, store.AppendError(ctx, e.ID, er))

			require.NoError(t, e.Fail(t0.Add(2*time.Second), 0, 0))
			require.NoError(t, store.Update(ctx, e))

			got, err := store.Get(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusFailed, got.Status)
			assert.Equal(t, "1.0.1", got.PipelineVersion)
			assert.True(t, got.DryRun)
			assert.True(t, got.StartTime.Equal(t0))
			require.NotNil(t, got.EndTime)
			assert.Equal(t, 2*time.Second, got.Duration())

			require.Len(t, got.Logs, 2)
			assert.Equal(t, "extracted", got.Logs[0].Message)
			assert.Equal(t, 3.0, got.Logs[0].Context["count"])
			assert.Equal(t, LevelWarn, got.Logs[1].Level)
			assert.Nil(t, got.Logs[1].Context)

			require.Len(t, got.Errors, 1)
			assert.Equal(t, er.ID, got.Errors[0].ID)
			assert.Equal(t, KindTransformation, got.Errors[0].Kind)
			assert.Equal(t, "big", got.Errors[0].Stage)
			assert.Equal(t, "between", got.Errors[0].Details["operator"])
		})
	}
}

func TestStoreRejectsMutationAfterTerminal(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			e := New("pl_1", "1.0.0", false, t0)
			require.NoError(t, store.Save(ctx, e))
			require.NoError(t, e.Complete(t0.Add(time.Second), 5, 0))
			require.NoError(t, store.Update(ctx, e))

			forged := *e
			forged.Status = StatusFailed
			err := store.Update(ctx, &forged)
			assert.True(t, errors.HasAssertionFailure(err))

			err = store.AppendLog(ctx, e.ID, LogEntry{Timestamp: t0, Level: LevelInfo, Message: "late"})
			assert.True(t, errors.HasAssertionFailure(err))
			err = store.AppendError(ctx, e.ID, NewError(KindSystem, "late", t0))
			assert.True(t, errors.HasAssertionFailure(err))

			got, err := store.Get(ctx, e.ID)
			require.NoError(t, err)
			assert.Equal(t, StatusCompleted, got.Status)
			assert.Equal(t, 5, got.RecordsProcessed)
			assert.Empty(t, got.Logs)
		})
	}
}

func TestStoreNotFound(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(ctx, "ex_missing")
			assert.True(t, errors.IsNotFound(err))

			err = store.Update(ctx, &Execution{ID: "ex_missing", Status: StatusCompleted})
			assert.True(t, errors.IsNotFound(err))

			err = store.AppendLog(ctx, "ex_missing", LogEntry{Timestamp: t0, Level: LevelInfo, Message: "x"})
			assert.True(t, errors.IsNotFound(err))
		})
	}
}

func TestStoreListing(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			var created []*Execution
			for i := 0; i < 4; i++ {
				e := New("pl_1", "1.0.0", false, t0.Add(time.Duration(i)*time.Hour))
				require.NoError(t, store.Save(ctx, e))
				created = append(created, e)
			}
			require.NoError(t, store.Save(ctx, New("pl_2", "1.0.0", false, t0)))
			require.NoError(t, store.AppendLog(ctx, created[0].ID, LogEntry{Timestamp: t0, Level: LevelInfo, Message: "x"}))
			require.NoError(t, created[1].Complete(t0.Add(90*time.Minute), 1, 0))
			require.NoError(t, store.Update(ctx, created[1]))

			list, err := store.ListByPipeline(ctx, "pl_1")
			require.NoError(t, err)
			require.Len(t, list, 4)
			assert.Equal(t, created[3].ID, list[0].ID)
			assert.Equal(t, created[0].ID, list[3].ID)
			assert.Empty(t, list[3].Logs, "list returns summaries")

			since, err := store.ListSince(ctx, "pl_1", t0.Add(2*time.Hour))
			require.NoError(t, err)
			require.Len(t, since, 2)
			assert.Equal(t, created[3].ID, since[0].ID)

			running, err := store.ListRunning(ctx)
			require.NoError(t, err)
			assert.Len(t, running, 4)

			empty, err := store.ListByPipeline(ctx, "pl_none")
			require.NoError(t, err)
			assert.NotNil(t, empty)
			assert.Empty(t, empty)
		})
	}
}

func TestStoreDeleteByPipeline(t *testing.T) {
	ctx := context.Background()

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			a := New("pl_1", "1.0.0", false, t0)
			b := New("pl_1", "1.0.0", false, t0.Add(time.Minute))
			other := New("pl_2", "1.0.0", false, t0)
			for _, e := range []*Execution{a, b, other} {
				require.NoError(t, store.Save(ctx, e))
			}
			require.NoError(t, store.AppendLog(ctx, a.ID, LogEntry{Timestamp: t0, Level: LevelInfo, Message: "x"}))

			n, err := store.DeleteByPipeline(ctx, "pl_1")
			require.NoError(t, err)
			assert.Equal(t, 2, n)

			_, err = store.Get(ctx, a.ID)
			assert.True(t, errors.IsNotFound(err))
			_, err = store.Get(ctx, other.ID)
			assert.NoError(t, err)

			n, err = store.DeleteByPipeline(ctx, "pl_1")
			require.NoError(t, err)
			assert.Zero(t, n)
		})
	}
}

func TestSaveDuplicate(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	e := New("pl_1", "1.0.0", false, t0)
	require.NoError(t, store.Save(ctx, e))
	assert.True(t, errors.IsConflict(store.Save(ctx, e)))
}

func TestSQLiteStoreDriverErrors(t *testing.T) {
	ctx := context.Background()
	conn, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer conn.Close()
	store := NewSQLiteStore(conn)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT id, pipeline_id`)).
		WillReturnError(errors.New("disk I/O error"))
	_, err = store.Get(ctx, "ex_1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to get execution")

	mock.ExpectExec(regexp.QuoteMeta(`UPDATE executions`)).
		WillReturnError(errors.New("database is locked"))
	err = store.Update(ctx, &Execution{ID: "ex_1", Status: StatusCompleted})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to update execution")

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT status FROM executions`)).
		WithArgs("ex_1").
		WillReturnRows(sqlmock.NewRows([]string{"status"}).AddRow("running"))
	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO execution_logs`)).
		WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()
	err = store.AppendLog(ctx, "ex_1", LogEntry{Timestamp: t0, Level: LevelInfo, Message: "x"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to append log")

	assert.NoError(t, mock.ExpectationsWereMet())
}
