// Package engine runs pipelines: it guards against concurrent runs of the
// same pipeline, executes extract, validate, transform and load on a bounded
// worker pool and records every step on the execution.
package engine

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teranos/plumb/adapter"
	"github.com/teranos/plumb/am"
	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/execution"
	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/pipeline"
	"github.com/teranos/plumb/pipeline/stage"
)

// Pipelines is the part of the repository the engine needs
type Pipelines interface {
	Get(ctx context.Context, id string) (*pipeline.Pipeline, error)
	RecordRun(ctx context.Context, id string, startedAt time.Time) error
}

// Adapters resolves source and destination types
type Adapters interface {
	Extractor(sourceType string) (adapter.Extractor, error)
	Loader(destinationType string) (adapter.Loader, error)
}

// Stages applies one transformation to a batch
type Stages interface {
	Apply(ctx context.Context, t pipeline.Transformation, batch []pipeline.Record) (stage.Result, error)
}

// Options controls a single run
type Options struct {
	DryRun bool `json:"dryRun"`
}

// Config tunes the engine
type Config struct {
	Workers            int
	StatusWriteRetries int
	RetryBackoff       time.Duration
	Registerer         prometheus.Registerer // nil = private registry
}

// ConfigFromAm derives engine settings from the loaded configuration
func ConfigFromAm(cfg *am.Config) Config {
	return Config{
		Workers:            cfg.Engine.Workers,
		StatusWriteRetries: cfg.Engine.StatusWriteRetries,
		RetryBackoff:       cfg.GetRetryBackoff(),
	}
}

// maxRecordedValidationErrors caps per-record schema errors stored on one execution
const maxRecordedValidationErrors = 100

type run struct {
	exec      *execution.Execution
	pipeline  *pipeline.Pipeline
	cancelled atomic.Bool
	done      chan struct{}
}

// Engine executes pipelines
type Engine struct {
	pipelines  Pipelines
	executions execution.Store
	adapters   Adapters
	stages     Stages
	cfg        Config
	logger     *zap.SugaredLogger
	metrics    *Metrics
	now        func() time.Time

	guard *guard
	pool  *pool

	mu     sync.Mutex
	runs   map[string]*run // executionID -> in-flight run
	closed bool
}

// New creates an engine and logs a warning when the worker count looks too
// high for the host's available memory.
func New(pipelines Pipelines, executions execution.Store, adapters Adapters, stages Stages, cfg Config, log *zap.SugaredLogger) *Engine {
	log = logger.OrNop(log)
	if cfg.Workers < 1 {
		cfg.Workers = am.DefaultWorkers
	}
	if cfg.StatusWriteRetries < 1 {
		cfg.StatusWriteRetries = 1
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	e := &Engine{
		pipelines:  pipelines,
		executions: executions,
		adapters:   adapters,
		stages:     stages,
		cfg:        cfg,
		logger:     log,
		metrics:    NewMetrics(reg),
		now:        time.Now,
		guard:      newGuard(),
		pool:       newPool(cfg.Workers, log.Named("pool")),
		runs:       make(map[string]*run),
	}

	if warning := checkMemoryPressure(cfg.Workers, getMemoryStats); warning != "" {
		log.Warnw("Memory pressure warning", "warning", warning, logger.FieldWorkers, cfg.Workers)
	}
	return e
}

// SetClock replaces the time source (tests)
func (e *Engine) SetClock(now func() time.Time) {
	e.now = now
}

// Metrics exposes the engine's collectors
func (e *Engine) Metrics() *Metrics {
	return e.metrics
}

// ExecutePipeline starts a run and returns its execution id without waiting
// for it. A pipeline that is already running yields ErrConflict.
func (e *Engine) ExecutePipeline(ctx context.Context, pipelineID string, opts Options) (string, error) {
	p, err := e.pipelines.Get(ctx, pipelineID)
	if err != nil {
		return "", err
	}

	exec := execution.New(p.ID, p.Version, opts.DryRun, e.now())
	if holder, ok := e.guard.acquire(p.ID, exec.ID); !ok {
		return "", errors.WithDetailf(
			errors.NewConflictError("pipeline %s is already running", p.ID),
			"running execution: %s", holder,
		)
	}

	e.mu.Lock()
	if e.closed {
		e.mu.Unlock()
		e.guard.release(p.ID, exec.ID)
		return "", errors.Wrap(errors.ErrServiceUnavailable, "engine is shutting down")
	}
	// Reserved under mu so Shutdown, which sets closed under mu, always waits
	// for a run it did not reject.
	e.pool.reserve()
	r := &run{exec: exec, pipeline: p, done: make(chan struct{})}
	e.runs[exec.ID] = r
	e.mu.Unlock()

	if err := e.withRetry(ctx, "create execution", func() error {
		return e.executions.Save(ctx, exec)
	}); err != nil {
		e.forget(r)
		e.pool.release()
		return "", errors.Wrap(err, "failed to persist execution")
	}

	if err := e.pipelines.RecordRun(ctx, p.ID, exec.StartTime); err != nil {
		e.logger.Warnw("Failed to record run on pipeline",
			logger.FieldPipelineID, p.ID,
			logger.FieldExecutionID, exec.ID,
			logger.FieldError, err,
		)
	}

	e.metrics.RunsStarted.Inc()
	e.metrics.InFlight.Inc()
	e.logger.Infow("Execution accepted",
		logger.FieldPipelineID, p.ID,
		logger.FieldExecutionID, exec.ID,
		logger.FieldVersion, p.Version,
		"dry_run", opts.DryRun,
	)

	e.pool.start(func() { e.execute(r) })
	return exec.ID, nil
}

// forget releases the guard and wakes waiters
func (e *Engine) forget(r *run) {
	e.mu.Lock()
	delete(e.runs, r.exec.ID)
	e.mu.Unlock()
	e.guard.release(r.pipeline.ID, r.exec.ID)
	close(r.done)
}

func (e *Engine) inFlight() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.runs)
}

// Cancel asks a running execution to stop at its next stage boundary
func (e *Engine) Cancel(ctx context.Context, executionID string) error {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if ok {
		r.cancelled.Store(true)
		e.logger.Infow("Cancellation requested", logger.FieldExecutionID, executionID)
		return nil
	}

	stored, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return err
	}
	if stored.Status.IsTerminal() {
		return errors.NewConflictError("execution %s is already %s", executionID, stored.Status)
	}
	return errors.NewConflictError("execution %s is not running in this process", executionID)
}

// CancelPipeline cancels the pipeline's in-flight run, if any. Returns the
// cancelled execution id, or "" when nothing was running.
func (e *Engine) CancelPipeline(pipelineID string) string {
	executionID, ok := e.guard.holder(pipelineID)
	if !ok {
		return ""
	}
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if !ok {
		return ""
	}
	r.cancelled.Store(true)
	return executionID
}

// Wait blocks until the execution has finished or ctx is done
func (e *Engine) Wait(ctx context.Context, executionID string) error {
	e.mu.Lock()
	r, ok := e.runs[executionID]
	e.mu.Unlock()
	if ok {
		select {
		case <-r.done:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}

	stored, err := e.executions.Get(ctx, executionID)
	if err != nil {
		return err
	}
	if !stored.Status.IsTerminal() {
		return errors.NewConflictError("execution %s is not running in this process", executionID)
	}
	return nil
}

// Shutdown stops accepting runs and waits for in-flight ones
func (e *Engine) Shutdown(ctx context.Context) error {
	e.mu.Lock()
	e.closed = true
	pending := len(e.runs)
	e.mu.Unlock()

	e.logger.Infow("Engine shutting down", "in_flight", pending)
	if err := e.pool.wait(ctx); err != nil {
		e.logger.Warnw("Engine shutdown timed out with runs still in flight", logger.FieldError, err)
		return errors.Wrap(err, "engine shutdown")
	}
	return nil
}

// Recover fails executions left running by a previous process. They can
// never finish: their worker is gone.
func (e *Engine) Recover(ctx context.Context) (int, error) {
	running, err := e.executions.ListRunning(ctx)
	if err != nil {
		return 0, errors.Wrap(err, "failed to list running executions")
	}

	recovered := 0
	for _, stored := range running {
		e.mu.Lock()
		_, ours := e.runs[stored.ID]
		e.mu.Unlock()
		if ours {
			continue
		}

		now := e.now()
		sysErr := execution.NewError(execution.KindSystem, "execution interrupted: the process running it stopped", now)
		if err := e.executions.AppendError(ctx, stored.ID, sysErr); err != nil {
			e.logger.Warnw("Failed to record interruption", logger.FieldExecutionID, stored.ID, logger.FieldError, err)
			continue
		}
		if err := stored.Fail(now, stored.RecordsProcessed, stored.RecordsFailed); err != nil {
			continue
		}
		if err := e.executions.Update(ctx, stored); err != nil {
			e.logger.Warnw("Failed to fail orphaned execution", logger.FieldExecutionID, stored.ID, logger.FieldError, err)
			continue
		}
		recovered++
	}
	if recovered > 0 {
		e.logger.Infow("Recovered orphaned executions", logger.FieldCount, recovered)
	}
	return recovered, nil
}

// withRetry retries fn with linear backoff. Assertion failures (writes to a
// terminal execution) and not-found errors are returned immediately.
func (e *Engine) withRetry(ctx context.Context, what string, fn func() error) error {
	var err error
	for attempt := 1; attempt <= e.cfg.StatusWriteRetries; attempt++ {
		if err = fn(); err == nil {
			return nil
		}
		if errors.HasAssertionFailure(err) || errors.IsNotFound(err) || errors.IsConflict(err) {
			return err
		}
		if attempt == e.cfg.StatusWriteRetries {
			break
		}
		e.metrics.StoreRetries.Inc()
		e.logger.Debugw("Store write failed, retrying",
			"operation", what,
			logger.FieldAttempt, attempt,
			logger.FieldError, err,
		)
		select {
		case <-time.After(e.cfg.RetryBackoff * time.Duration(attempt)):
		case <-ctx.Done():
			return errors.Wrap(ctx.Err(), what)
		}
	}
	e.logger.Errorw("Store write failed",
		"operation", what,
		logger.FieldAttempt, e.cfg.StatusWriteRetries,
		logger.FieldError, err,
	)
	return err
}
