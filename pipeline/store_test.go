package pipeline

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

func samplePipeline(id string, created time.Time) *Pipeline {
	def := testDefinition("sales-"+id, filterStage("big", 1, "value", "gte", 150.0))
	lastRun := created.Add(time.Minute)
	return &Pipeline{
		ID:              id,
		Name:            def.Name,
		Description:     "daily sales",
		Status:          StatusActive,
		Source:          def.Source,
		Transformations: def.Transformations,
		Destination:     def.Destination,
		Metadata:        Metadata{Version: "1.0.0", Author: "ops", Tags: []string{"sales"}},
		Schedule:        "@daily",
		Version:         "1.0.0",
		VersionHistory:  []string{"1.0.0"},
		CreatedAt:       created,
		UpdatedAt:       created,
		LastRun:         &lastRun,
	}
}

func TestStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	created := time.Date(2026, 1, 2, 3, 4, 5, 600, time.UTC)

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			p := samplePipeline("pl_a", created)
			require.NoError(t, store.Save(ctx, p))

			got, err := store.Get(ctx, "pl_a")
			require.NoError(t, err)
			assert.Equal(t, p.Name, got.Name)
			assert.Equal(t, p.Status, got.Status)
			assert.Equal(t, p.Source.Type, got.Source.Type)
			assert.Equal(t, "test", got.Source.Config["name"])
			require.Len(t, got.Transformations, 1)
			assert.Equal(t, KindFilter, got.Transformations[0].Kind)
			assert.Equal(t, []string{"sales"}, got.Metadata.Tags)
			assert.Equal(t, []string{"1.0.0"}, got.VersionHistory)
			assert.True(t, got.CreatedAt.Equal(created))
			require.NotNil(t, got.LastRun)
			assert.True(t, got.LastRun.Equal(*p.LastRun))
			assert.Nil(t, got.NextRun)

			// Mutating the returned copy must not leak into the store
			got.Source.Config["name"] = "mutated"
			again, err := store.Get(ctx, "pl_a")
			require.NoError(t, err)
			assert.Equal(t, "test", again.Source.Config["name"])
		})
	}
}

func TestStoreSaveReplaces(t *testing.T) {
	ctx := context.Background()
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			p := samplePipeline("pl_a", time.Now())
			require.NoError(t, store.Save(ctx, p))

			p.Name = "renamed"
			p.Version = "1.0.1"
			p.VersionHistory = append(p.VersionHistory, "1.0.1")
			require.NoError(t, store.Save(ctx, p))

			got, err := store.Get(ctx, "pl_a")
			require.NoError(t, err)
			assert.Equal(t, "renamed", got.Name)
			assert.Equal(t, []string{"1.0.0", "1.0.1"}, got.VersionHistory)
		})
	}
}

func TestStoreListOrderAndDelete(t *testing.T) {
	ctx := context.Background()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, store.Save(ctx, samplePipeline("pl_b", base.Add(2*time.Second))))
			require.NoError(t, store.Save(ctx, samplePipeline("pl_a", base.Add(1*time.Second))))
			require.NoError(t, store.Save(ctx, samplePipeline("pl_c", base.Add(3*time.Second))))

			list, err := store.List(ctx)
			require.NoError(t, err)
			require.Len(t, list, 3)
			assert.Equal(t, "pl_a", list[0].ID)
			assert.Equal(t, "pl_b", list[1].ID)
			assert.Equal(t, "pl_c", list[2].ID)

			deleted, err := store.Delete(ctx, "pl_b")
			require.NoError(t, err)
			assert.True(t, deleted)

			deleted, err = store.Delete(ctx, "pl_b")
			require.NoError(t, err)
			assert.False(t, deleted)

			_, err = store.Get(ctx, "pl_b")
			assert.True(t, errors.IsNotFound(err))
		})
	}
}

func TestStoreRejectsMissingID(t *testing.T) {
	for name, store := range storesUnderTest(t) {
		t.Run(name, func(t *testing.T) {
			assert.Error(t, store.Save(context.Background(), &Pipeline{}))
		})
	}
}

func TestSQLiteStore_DriverErrors(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	store := NewSQLiteStore(db)
	ctx := context.Background()

	mock.ExpectQuery(regexp.QuoteMeta("FROM pipelines WHERE id = ?")).
		WithArgs("pl_x").
		WillReturnError(errors.New("disk I/O error"))
	_, err = store.Get(ctx, "pl_x")
	require.Error(t, err)
	assert.False(t, errors.IsNotFound(err))
	assert.Contains(t, err.Error(), "failed to get pipeline pl_x")

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO pipelines")).
		WillReturnError(errors.New("database is locked"))
	err = store.Save(ctx, samplePipeline("pl_x", time.Now()))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to save pipeline pl_x")

	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM pipelines")).
		WithArgs("pl_x").
		WillReturnResult(sqlmock.NewErrorResult(errors.New("rows unavailable")))
	_, err = store.Delete(ctx, "pl_x")
	assert.Error(t, err)

	assert.NoError(t, mock.ExpectationsWereMet())
}
