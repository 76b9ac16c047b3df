// Package server exposes plumb over HTTP: pipeline and execution CRUD,
// template instantiation, a WebSocket execution log stream and metrics.
package server

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/teranos/plumb/engine"
	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/execution"
	"github.com/teranos/plumb/health"
	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/pipeline"
	"github.com/teranos/plumb/template"
)

// API is the query surface the server exposes
type API interface {
	ListPipelines(ctx context.Context) ([]*pipeline.Pipeline, error)
	GetPipeline(ctx context.Context, id string) (*pipeline.Pipeline, error)
	CreatePipeline(ctx context.Context, def pipeline.Definition) (*pipeline.Pipeline, error)
	UpdatePipeline(ctx context.Context, id string, patch pipeline.Patch) (*pipeline.Pipeline, error)
	DeletePipeline(ctx context.Context, id string) (bool, error)
	RollbackPipeline(ctx context.Context, id, version string) (*pipeline.Pipeline, error)
	ExecutePipeline(ctx context.Context, id string, opts engine.Options) (string, error)
	CancelExecution(ctx context.Context, executionID string) error
	GetExecution(ctx context.Context, executionID string) (*execution.Execution, error)
	ListExecutionsByPipeline(ctx context.Context, pipelineID string) ([]*execution.Execution, error)
	GetHealth(ctx context.Context, pipelineID string) (*health.Report, error)
	ListTemplates(ctx context.Context) ([]*template.Template, error)
	InstantiateFromTemplate(ctx context.Context, templateID string, params map[string]interface{}) (*pipeline.Pipeline, error)
}

// Options configures the server
type Options struct {
	AllowedOrigins []string
	PollInterval   time.Duration // execution stream poll interval
	Gatherer       prometheus.Gatherer
}

// Server serves the plumb HTTP API
type Server struct {
	api      API
	opts     Options
	logger   *zap.SugaredLogger
	mux      *http.ServeMux
	upgrader websocket.Upgrader
}

// New creates a server over api
func New(api API, opts Options, log *zap.SugaredLogger) *Server {
	if opts.PollInterval <= 0 {
		opts.PollInterval = 250 * time.Millisecond
	}
	s := &Server{
		api:    api,
		opts:   opts,
		logger: logger.OrNop(log),
		mux:    http.NewServeMux(),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	s.setupRoutes()
	return s
}

// Handler returns the root handler with CORS and request logging applied
func (s *Server) Handler() http.Handler {
	return s.logRequests(s.cors(s.mux))
}

// ListenAndServe serves on addr until ctx is cancelled, then drains
// connections for up to drainTimeout.
func (s *Server) ListenAndServe(ctx context.Context, addr string, drainTimeout time.Duration) error {
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", addr)
	}
	return s.Serve(ctx, listener, drainTimeout)
}

// Serve serves on an existing listener until ctx is cancelled
func (s *Server) Serve(ctx context.Context, listener net.Listener, drainTimeout time.Duration) error {
	httpServer := &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.Serve(listener)
	}()
	s.logger.Infow("Server ready", "url", fmt.Sprintf("http://%s", listener.Addr()))

	select {
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return errors.Wrap(err, "server stopped")
	case <-ctx.Done():
	}

	s.logger.Infow("Server draining", "timeout", drainTimeout)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), drainTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "server shutdown")
	}
	return nil
}
