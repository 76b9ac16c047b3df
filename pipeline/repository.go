package pipeline

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/internal/ids"
	"github.com/teranos/plumb/logger"
)

// ExecutionCascade removes the executions belonging to a deleted pipeline
type ExecutionCascade interface {
	DeleteByPipeline(ctx context.Context, pipelineID string) (int, error)
}

// Repository owns pipeline definitions. All mutation goes through it so
// version bumping can never be bypassed.
type Repository struct {
	store      Store
	executions ExecutionCascade
	logger     *zap.SugaredLogger
	now        func() time.Time

	// Serializes read-modify-write cycles against the store
	mu sync.Mutex
}

// NewRepository creates a repository over store. executions may be nil when
// no execution history is kept.
func NewRepository(store Store, executions ExecutionCascade, log *zap.SugaredLogger) *Repository {
	return &Repository{
		store:      store,
		executions: executions,
		logger:     logger.OrNop(log),
		now:        time.Now,
	}
}

// SetClock replaces the time source (tests)
func (r *Repository) SetClock(now func() time.Time) {
	r.now = now
}

// Create validates def and stores it as a new pipeline at version 1.0.0
func (r *Repository) Create(ctx context.Context, def Definition) (*Pipeline, error) {
	now := r.now()
	p := &Pipeline{
		ID:              ids.NewPipelineID(),
		Name:            def.Name,
		Description:     def.Description,
		Status:          def.Status,
		Source:          def.Source.clone(),
		Transformations: cloneTransformations(def.Transformations),
		Destination:     def.Destination.clone(),
		Metadata:        def.Metadata.clone(),
		Schedule:        def.Schedule,
		Version:         InitialVersion,
		VersionHistory:  []string{InitialVersion},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if p.Status == "" {
		p.Status = StatusDraft
	}
	if p.Destination.Mode == "" {
		p.Destination.Mode = ModeAppend
	}
	if p.Transformations == nil {
		p.Transformations = []Transformation{}
	}
	assignStageIDs(p.Transformations)
	p.Metadata.Version = p.Version
	p.NextRun = NextRun(p.Schedule, now)

	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := r.store.Save(ctx, p); err != nil {
		return nil, errors.Wrap(err, "failed to create pipeline")
	}

	r.logger.Infow("Pipeline created",
		logger.FieldPipelineID, p.ID,
		"name", p.Name,
		logger.FieldVersion, p.Version,
	)
	return p.Clone(), nil
}

// Get returns a snapshot of the pipeline or ErrNotFound
func (r *Repository) Get(ctx context.Context, id string) (*Pipeline, error) {
	return r.store.Get(ctx, id)
}

// List returns all pipelines, oldest first
func (r *Repository) List(ctx context.Context) ([]*Pipeline, error) {
	return r.store.List(ctx)
}

// Update merges patch into the pipeline. Changes to source, destination or
// transformations bump the patch version and append it to the history.
func (r *Repository) Update(ctx context.Context, id string, patch Patch) (*Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if patch.Name != nil {
		p.Name = *patch.Name
	}
	if patch.Description != nil {
		p.Description = *patch.Description
	}
	if patch.Status != nil {
		p.Status = *patch.Status
	}
	if patch.Metadata != nil {
		p.Metadata = patch.Metadata.clone()
	}
	if patch.Schedule != nil {
		p.Schedule = *patch.Schedule
	}
	if patch.Source != nil {
		p.Source = patch.Source.clone()
	}
	if patch.Destination != nil {
		p.Destination = patch.Destination.clone()
		if p.Destination.Mode == "" {
			p.Destination.Mode = ModeAppend
		}
	}
	if patch.Transformations != nil {
		p.Transformations = cloneTransformations(*patch.Transformations)
		if p.Transformations == nil {
			p.Transformations = []Transformation{}
		}
		assignStageIDs(p.Transformations)
	}

	now := r.now()
	p.UpdatedAt = now

	if patch.Substantive() {
		next, err := NextVersion(p.VersionHistory)
		if err != nil {
			return nil, err
		}
		p.Version = next
		p.VersionHistory = append(p.VersionHistory, next)
	}
	p.Metadata.Version = p.Version
	if patch.Schedule != nil {
		p.NextRun = NextRun(p.Schedule, now)
	}

	if err := p.Validate(); err != nil {
		return nil, err
	}

	if err := r.store.Save(ctx, p); err != nil {
		return nil, errors.Wrapf(err, "failed to update pipeline %s", id)
	}

	r.logger.Infow("Pipeline updated",
		logger.FieldPipelineID, p.ID,
		logger.FieldVersion, p.Version,
		"substantive", patch.Substantive(),
	)
	return p.Clone(), nil
}

// Delete removes the pipeline and all of its executions. It returns false
// without error when the pipeline does not exist.
func (r *Repository) Delete(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := r.store.Get(ctx, id); err != nil {
		if errors.IsNotFound(err) {
			return false, nil
		}
		return false, err
	}

	// Executions first, so a failure leaves the definition in place to retry
	removed := 0
	if r.executions != nil {
		n, err := r.executions.DeleteByPipeline(ctx, id)
		if err != nil {
			return false, errors.Wrapf(err, "failed to delete executions of pipeline %s", id)
		}
		removed = n
	}

	deleted, err := r.store.Delete(ctx, id)
	if err != nil {
		return false, err
	}

	r.logger.Infow("Pipeline deleted",
		logger.FieldPipelineID, id,
		"executions_removed", removed,
	)
	return deleted, nil
}

// Rollback points the pipeline at an earlier version label. Field values are
// not restored: only version strings are kept in history.
func (r *Repository) Rollback(ctx context.Context, id, targetVersion string) (*Pipeline, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	version, ok := HasVersion(p.VersionHistory, targetVersion)
	if !ok {
		return nil, errors.WithDetailf(
			errors.NewInvalidRequestError("version %q is not in the history of pipeline %s", targetVersion, id),
			"known versions: %v", p.VersionHistory,
		)
	}

	p.Version = version
	p.Metadata.Version = version
	p.UpdatedAt = r.now()

	if err := r.store.Save(ctx, p); err != nil {
		return nil, errors.Wrapf(err, "failed to roll back pipeline %s", id)
	}

	r.logger.Infow("Pipeline rolled back",
		logger.FieldPipelineID, id,
		logger.FieldVersion, version,
	)
	return p.Clone(), nil
}

// RecordRun stamps LastRun and recomputes NextRun without touching the version
func (r *Repository) RecordRun(ctx context.Context, id string, startedAt time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.store.Get(ctx, id)
	if err != nil {
		return err
	}
	p.LastRun = &startedAt
	p.NextRun = NextRun(p.Schedule, startedAt)

	if err := r.store.Save(ctx, p); err != nil {
		return errors.Wrapf(err, "failed to record run of pipeline %s", id)
	}
	return nil
}

// History returns the version history, oldest first
func (r *Repository) History(ctx context.Context, id string) ([]string, error) {
	p, err := r.store.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	return p.VersionHistory, nil
}

func assignStageIDs(ts []Transformation) {
	for i := range ts {
		if ts[i].ID == "" {
			ts[i].ID = ids.NewStageID()
		}
	}
}
