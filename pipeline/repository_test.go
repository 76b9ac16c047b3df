package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/Masterminds/semver/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/internal/ids"
)

type fakeCascade struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (f *fakeCascade) DeleteByPipeline(_ context.Context, pipelineID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.deleted = append(f.deleted, pipelineID)
	return 2, nil
}

func newTestRepository(t *testing.T) (*Repository, *fakeCascade) {
	t.Helper()
	cascade := &fakeCascade{}
	return NewRepository(NewMemoryStore(), cascade, nil), cascade
}

func TestRepositoryCreate(t *testing.T) {
	repo, _ := newTestRepository(t)
	now := time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return now })

	def := testDefinition("sales", filterStage("big", 1, "value", "gte", 150))
	def.Destination.Mode = ""
	def.Schedule = "0 13 * * *"

	p, err := repo.Create(context.Background(), def)
	require.NoError(t, err)

	assert.True(t, ids.HasPrefix(p.ID, ids.PipelinePrefix))
	assert.Equal(t, StatusDraft, p.Status)
	assert.Equal(t, ModeAppend, p.Destination.Mode)
	assert.Equal(t, "1.0.0", p.Version)
	assert.Equal(t, "1.0.0", p.Metadata.Version)
	assert.Equal(t, []string{"1.0.0"}, p.VersionHistory)
	assert.Equal(t, now, p.CreatedAt)
	assert.Equal(t, now, p.UpdatedAt)
	require.NotNil(t, p.NextRun)
	assert.Equal(t, time.Date(2026, 5, 1, 13, 0, 0, 0, time.UTC), *p.NextRun)
	require.Len(t, p.Transformations, 1)
	assert.True(t, ids.HasPrefix(p.Transformations[0].ID, ids.StagePrefix))
}

func TestRepositoryCreateRejectsDuplicateOrder(t *testing.T) {
	repo, _ := newTestRepository(t)
	def := testDefinition("sales",
		filterStage("a", 1, "value", "gt", 1),
		filterStage("b", 1, "value", "lt", 9),
	)

	_, err := repo.Create(context.Background(), def)
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	list, err := repo.List(context.Background())
	require.NoError(t, err)
	assert.Empty(t, list)
}

func TestRepositoryVersioningMonotonic(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)

	p, err := repo.Create(ctx, testDefinition("sales"))
	require.NoError(t, err)

	substantive := []Patch{
		{Transformations: &[]Transformation{filterStage("f", 1, "value", "gt", 1)}},
		{Source: &Source{Type: SourceFile, Config: map[string]interface{}{"path": "in.csv"}}},
		{Destination: &Destination{Type: DestinationDatabase, Config: map[string]interface{}{"table": "t"}}},
		{Transformations: &[]Transformation{}},
	}

	previous := p.Version
	for i, patch := range substantive {
		updated, err := repo.Update(ctx, p.ID, patch)
		require.NoError(t, err)
		assert.True(t, versionGreater(t, updated.Version, previous), "update %d: %s should exceed %s", i, updated.Version, previous)
		assert.Len(t, updated.VersionHistory, i+2)
		assert.Equal(t, updated.Version, updated.VersionHistory[len(updated.VersionHistory)-1])
		previous = updated.Version
	}

	// Interleaved cosmetic updates leave the history alone
	name := "renamed"
	status := StatusActive
	updated, err := repo.Update(ctx, p.ID, Patch{Name: &name, Status: &status})
	require.NoError(t, err)
	assert.Equal(t, previous, updated.Version)
	assert.Len(t, updated.VersionHistory, len(substantive)+1)
	assert.Equal(t, "renamed", updated.Name)
	assert.Equal(t, StatusActive, updated.Status)
}

func versionGreater(t *testing.T, a, b string) bool {
	t.Helper()
	va, err := semver.NewVersion(a)
	require.NoError(t, err)
	vb, err := semver.NewVersion(b)
	require.NoError(t, err)
	return va.GreaterThan(vb)
}

func TestRepositoryUpdateNotFound(t *testing.T) {
	repo, _ := newTestRepository(t)
	name := "x"
	_, err := repo.Update(context.Background(), "pl_missing", Patch{Name: &name})
	assert.True(t, errors.IsNotFound(err))
}

func TestRepositoryUpdateInvalidLeavesStoredCopy(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	p, err := repo.Create(ctx, testDefinition("sales"))
	require.NoError(t, err)

	dup := []Transformation{
		filterStage("a", 3, "value", "gt", 1),
		filterStage("b", 3, "value", "lt", 9),
	}
	_, err = repo.Update(ctx, p.ID, Patch{Transformations: &dup})
	require.True(t, errors.IsValidation(err))

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", got.Version)
	assert.Empty(t, got.Transformations)
}

func TestRepositoryUpdateTimestamps(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	t0 := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	repo.SetClock(func() time.Time { return t0 })

	p, err := repo.Create(ctx, testDefinition("sales"))
	require.NoError(t, err)

	t1 := t0.Add(time.Hour)
	repo.SetClock(func() time.Time { return t1 })
	desc := "now with docs"
	updated, err := repo.Update(ctx, p.ID, Patch{Description: &desc})
	require.NoError(t, err)
	assert.Equal(t, t0, updated.CreatedAt)
	assert.Equal(t, t1, updated.UpdatedAt)
}

func TestRepositoryRollback(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	p, err := repo.Create(ctx, testDefinition("sales"))
	require.NoError(t, err)

	stages := []Transformation{filterStage("f", 1, "value", "gt", 1)}
	for i := 0; i < 2; i++ {
		_, err = repo.Update(ctx, p.ID, Patch{Transformations: &stages})
		require.NoError(t, err)
	}

	rolled, err := repo.Rollback(ctx, p.ID, "1.0.0")
	require.NoError(t, err)
	assert.Equal(t, "1.0.0", rolled.Version)
	assert.Equal(t, []string{"1.0.0", "1.0.1", "1.0.2"}, rolled.VersionHistory)
	// Cosmetic: the stages of 1.0.2 remain
	assert.Len(t, rolled.Transformations, 1)

	// The next substantive update continues past the highest version
	updated, err := repo.Update(ctx, p.ID, Patch{Transformations: &stages})
	require.NoError(t, err)
	assert.Equal(t, "1.0.3", updated.Version)

	_, err = repo.Rollback(ctx, p.ID, "7.0.0")
	assert.True(t, errors.IsInvalidRequest(err))

	_, err = repo.Rollback(ctx, "pl_missing", "1.0.0")
	assert.True(t, errors.IsNotFound(err))
}

func TestRepositoryDeleteCascades(t *testing.T) {
	ctx := context.Background()
	repo, cascade := newTestRepository(t)
	p, err := repo.Create(ctx, testDefinition("sales"))
	require.NoError(t, err)

	deleted, err := repo.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.True(t, deleted)
	assert.Equal(t, []string{p.ID}, cascade.deleted)

	_, err = repo.Get(ctx, p.ID)
	assert.True(t, errors.IsNotFound(err))

	deleted, err = repo.Delete(ctx, p.ID)
	require.NoError(t, err)
	assert.False(t, deleted)
	assert.Len(t, cascade.deleted, 1)
}

func TestRepositoryDeleteCascadeFailureKeepsPipeline(t *testing.T) {
	ctx := context.Background()
	repo, cascade := newTestRepository(t)
	p, err := repo.Create(ctx, testDefinition("sales"))
	require.NoError(t, err)

	cascade.err = errors.New("store offline")
	_, err = repo.Delete(ctx, p.ID)
	require.Error(t, err)

	_, err = repo.Get(ctx, p.ID)
	assert.NoError(t, err)
}

func TestRepositoryRecordRun(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	def := testDefinition("sales")
	def.Schedule = "@hourly"
	p, err := repo.Create(ctx, def)
	require.NoError(t, err)

	started := time.Date(2026, 2, 2, 8, 15, 0, 0, time.UTC)
	require.NoError(t, repo.RecordRun(ctx, p.ID, started))

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, started, *got.LastRun)
	require.NotNil(t, got.NextRun)
	assert.Equal(t, time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC), *got.NextRun)
	assert.Equal(t, "1.0.0", got.Version)

	history, err := repo.History(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"1.0.0"}, history)
}

func TestRepositoryConcurrentUpdates(t *testing.T) {
	ctx := context.Background()
	repo, _ := newTestRepository(t)
	p, err := repo.Create(ctx, testDefinition("sales"))
	require.NoError(t, err)

	const n = 20
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(order int) {
			defer wg.Done()
			stages := []Transformation{filterStage("f", order, "value", "gt", order)}
			_, err := repo.Update(ctx, p.ID, Patch{Transformations: &stages})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	got, err := repo.Get(ctx, p.ID)
	require.NoError(t, err)
	assert.Len(t, got.VersionHistory, n+1)
	assert.Equal(t, "1.0.20", got.Version)
}
