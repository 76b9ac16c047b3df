// Package service composes the repository, engine, stores, health monitor and
// template expander into the query surface used by the CLI and HTTP API.
package service

import (
	"context"
	"database/sql"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/teranos/plumb/adapter"
	"github.com/teranos/plumb/am"
	"github.com/teranos/plumb/db"
	"github.com/teranos/plumb/engine"
	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/execution"
	"github.com/teranos/plumb/health"
	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/pipeline"
	"github.com/teranos/plumb/pipeline/stage"
	"github.com/teranos/plumb/template"
)

// Service is the assembled plumb system
type Service struct {
	cfg    *am.Config
	conn   *sql.DB // nil with the memory backend
	logger *zap.SugaredLogger

	pipelines  *pipeline.Repository
	executions execution.Store
	adapters   *adapter.Defaults
	engine     *engine.Engine
	health     *health.Monitor
	templates  *template.DirStore
	expander   *template.Expander
	registry   *prometheus.Registry

	stopWatch context.CancelFunc
}

// New assembles a service from configuration. Executions left running by a
// previous process are marked failed before the service is returned.
func New(ctx context.Context, cfg *am.Config, log *zap.SugaredLogger) (*Service, error) {
	log = logger.OrNop(log)
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "invalid configuration")
	}

	s := &Service{cfg: cfg, logger: log, stopWatch: func() {}}

	var pipelineStore pipeline.Store
	switch cfg.Store.Backend {
	case am.StoreBackendMemory:
		pipelineStore = pipeline.NewMemoryStore()
		s.executions = execution.NewMemoryStore()
	default:
		conn, err := db.OpenWithMigrations(cfg.GetDatabasePath(), log.Named("db"))
		if err != nil {
			return nil, err
		}
		s.conn = conn
		pipelineStore = pipeline.NewSQLiteStore(conn)
		s.executions = execution.NewSQLiteStore(conn)
	}

	s.pipelines = pipeline.NewRepository(pipelineStore, s.executions, log.Named("pipeline"))
	s.adapters = adapter.NewDefaultRegistry(cfg.DataSources, log.Named("adapter"))

	opts := []stage.Option{
		stage.WithDatasetResolver(s.adapters.Registry),
		stage.WithLogger(log.Named("stage")),
	}
	if cfg.Engine.AllowCommandStages {
		opts = append(opts, stage.WithRuntime(stage.RuntimeCommand, stage.CommandRuntime{Dir: cfg.Engine.CommandDir}))
		log.Warnw("Command stages enabled; custom stages may spawn processes", "dir", cfg.Engine.CommandDir)
	}
	library := stage.NewLibrary(opts...)

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	engineCfg := engine.ConfigFromAm(cfg)
	engineCfg.Registerer = s.registry
	s.engine = engine.New(s.pipelines, s.executions, s.adapters.Registry, library, engineCfg, log.Named("engine"))

	s.health = health.NewMonitor(s.executions, cfg.GetHealthWindow(), log.Named("health"))

	builtins, err := template.Builtins()
	if err != nil {
		s.closeResources()
		return nil, err
	}
	s.templates, err = template.NewDirStore(cfg.Templates.Dir, builtins, log.Named("template"))
	if err != nil {
		s.closeResources()
		return nil, err
	}
	if cfg.Templates.Watch {
		watchCtx, cancel := context.WithCancel(context.Background())
		if err := s.templates.Watch(watchCtx); err != nil {
			cancel()
			s.closeResources()
			return nil, err
		}
		s.stopWatch = cancel
	}
	s.expander = template.NewExpander(s.templates, s.pipelines, log.Named("template"))

	log.Infow("Service ready",
		"store", storeBackend(cfg),
		logger.FieldWorkers, engineCfg.Workers,
		"templates_dir", cfg.Templates.Dir,
	)
	return s, nil
}

func storeBackend(cfg *am.Config) string {
	if cfg.Store.Backend == "" {
		return am.StoreBackendSQLite
	}
	return cfg.Store.Backend
}

// Close waits for in-flight runs (bounded by ctx) and releases resources
func (s *Service) Close(ctx context.Context) error {
	s.stopWatch()
	shutdownErr := s.engine.Shutdown(ctx)
	if err := s.closeResources(); err != nil {
		return err
	}
	return shutdownErr
}

func (s *Service) closeResources() error {
	var firstErr error
	if s.adapters != nil {
		firstErr = s.adapters.Close()
	}
	if s.conn != nil {
		if err := s.conn.Close(); err != nil && firstErr == nil {
			firstErr = errors.Wrap(err, "failed to close database")
		}
	}
	return firstErr
}

// Config returns the configuration the service was built from
func (s *Service) Config() *am.Config {
	return s.cfg
}

// Gatherer exposes the metrics registry
func (s *Service) Gatherer() prometheus.Gatherer {
	return s.registry
}

// Engine exposes the execution engine
func (s *Service) Engine() *engine.Engine {
	return s.engine
}

// Adapters exposes the registered adapters (memory datasets, data sources)
func (s *Service) Adapters() *adapter.Defaults {
	return s.adapters
}

// ListPipelines returns all pipeline definitions
func (s *Service) ListPipelines(ctx context.Context) ([]*pipeline.Pipeline, error) {
	return s.pipelines.List(ctx)
}

// GetPipeline returns one pipeline or ErrNotFound
func (s *Service) GetPipeline(ctx context.Context, id string) (*pipeline.Pipeline, error) {
	return s.pipelines.Get(ctx, id)
}

// CreatePipeline validates and stores a new definition at version 1.0.0
func (s *Service) CreatePipeline(ctx context.Context, def pipeline.Definition) (*pipeline.Pipeline, error) {
	return s.pipelines.Create(ctx, def)
}

// UpdatePipeline applies patch; substantive changes bump the version
func (s *Service) UpdatePipeline(ctx context.Context, id string, patch pipeline.Patch) (*pipeline.Pipeline, error) {
	if patch.Empty() {
		return nil, errors.NewInvalidRequestError("update of pipeline %s changes nothing", id)
	}
	return s.pipelines.Update(ctx, id, patch)
}

// DeletePipeline cancels an in-flight run, waits for it to stop, then removes
// the pipeline and its executions.
func (s *Service) DeletePipeline(ctx context.Context, id string) (bool, error) {
	if executionID := s.engine.CancelPipeline(id); executionID != "" {
		s.logger.Infow("Cancelling run of deleted pipeline",
			logger.FieldPipelineID, id,
			logger.FieldExecutionID, executionID,
		)
		if err := s.engine.Wait(ctx, executionID); err != nil {
			return false, errors.Wrapf(err, "pipeline %s is still running", id)
		}
	}
	return s.pipelines.Delete(ctx, id)
}

// RollbackPipeline points the pipeline at an earlier version label
func (s *Service) RollbackPipeline(ctx context.Context, id, version string) (*pipeline.Pipeline, error) {
	return s.pipelines.Rollback(ctx, id, version)
}

// ExecutePipeline starts a run and returns its execution id
func (s *Service) ExecutePipeline(ctx context.Context, id string, opts engine.Options) (string, error) {
	return s.engine.ExecutePipeline(ctx, id, opts)
}

// CancelExecution requests cooperative cancellation of a running execution
func (s *Service) CancelExecution(ctx context.Context, executionID string) error {
	return s.engine.Cancel(ctx, executionID)
}

// WaitExecution blocks until the execution leaves the engine or ctx ends
func (s *Service) WaitExecution(ctx context.Context, executionID string) error {
	return s.engine.Wait(ctx, executionID)
}

// GetExecution returns the execution with its logs and errors
func (s *Service) GetExecution(ctx context.Context, executionID string) (*execution.Execution, error) {
	return s.executions.Get(ctx, executionID)
}

// ListExecutionsByPipeline returns execution summaries, newest first. An
// unknown or deleted pipeline has no executions, so the list is empty rather
// than an error.
func (s *Service) ListExecutionsByPipeline(ctx context.Context, pipelineID string) ([]*execution.Execution, error) {
	return s.executions.ListByPipeline(ctx, pipelineID)
}

// GetHealth scores the pipeline's recent executions
func (s *Service) GetHealth(ctx context.Context, pipelineID string) (*health.Report, error) {
	if _, err := s.pipelines.Get(ctx, pipelineID); err != nil {
		return nil, err
	}
	return s.health.GetHealth(ctx, pipelineID)
}

// ListTemplates returns the available templates
func (s *Service) ListTemplates(ctx context.Context) ([]*template.Template, error) {
	return s.templates.List(ctx)
}

// GetTemplate returns one template or ErrNotFound
func (s *Service) GetTemplate(ctx context.Context, id string) (*template.Template, error) {
	return s.templates.Get(ctx, id)
}

// InstantiateFromTemplate creates a pipeline from a template
func (s *Service) InstantiateFromTemplate(ctx context.Context, templateID string, params map[string]interface{}) (*pipeline.Pipeline, error) {
	return s.expander.Instantiate(ctx, templateID, params)
}

// RecoverInterrupted marks executions left running by a previous process as
// failed. Only the process that owns the database (the server) may call it.
func (s *Service) RecoverInterrupted(ctx context.Context) (int, error) {
	return s.engine.Recover(ctx)
}

// StreamPollInterval is how often execution log streams check for new entries
func (s *Service) StreamPollInterval() time.Duration {
	return s.cfg.GetStreamPollInterval()
}
