package server

import (
	"bufio"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/logger"
)

// setupRoutes registers every handler on the server's mux
func (s *Server) setupRoutes() {
	s.mux.HandleFunc("GET /api/pipelines", s.handleListPipelines)
	s.mux.HandleFunc("POST /api/pipelines", s.handleCreatePipeline)
	s.mux.HandleFunc("GET /api/pipelines/{id}", s.handleGetPipeline)
	s.mux.HandleFunc("PATCH /api/pipelines/{id}", s.handleUpdatePipeline)
	s.mux.HandleFunc("DELETE /api/pipelines/{id}", s.handleDeletePipeline)
	s.mux.HandleFunc("POST /api/pipelines/{id}/execute", s.handleExecutePipeline)
	s.mux.HandleFunc("POST /api/pipelines/{id}/rollback", s.handleRollbackPipeline)
	s.mux.HandleFunc("GET /api/pipelines/{id}/executions", s.handleListExecutions)
	s.mux.HandleFunc("GET /api/pipelines/{id}/health", s.handlePipelineHealth)

	s.mux.HandleFunc("GET /api/executions/{id}", s.handleGetExecution)
	s.mux.HandleFunc("POST /api/executions/{id}/cancel", s.handleCancelExecution)
	s.mux.HandleFunc("GET /api/executions/{id}/stream", s.handleStreamExecution)

	s.mux.HandleFunc("GET /api/templates", s.handleListTemplates)
	s.mux.HandleFunc("POST /api/templates/{id}/instantiate", s.handleInstantiateTemplate)

	s.mux.HandleFunc("GET /health", s.handleHealth)
	if s.opts.Gatherer != nil {
		s.mux.Handle("GET /metrics", promhttp.HandlerFor(s.opts.Gatherer, promhttp.HandlerOpts{}))
	}
}

// cors adds CORS headers for configured origins and answers preflight requests
func (s *Server) cors(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		if origin != "" && s.checkOrigin(r) {
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// checkOrigin allows requests without an Origin header and origins matching a
// configured prefix (so any port on an allowed host is accepted).
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	allowed := s.opts.AllowedOrigins
	if len(allowed) == 0 {
		allowed = []string{"http://localhost", "http://127.0.0.1"}
	}
	for _, prefix := range allowed {
		if strings.HasPrefix(origin, prefix) {
			return true
		}
	}
	return false
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (r *statusRecorder) Unwrap() http.ResponseWriter {
	return r.ResponseWriter
}

// Hijack passes WebSocket upgrades through to the underlying connection
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.logger.Debugw("HTTP request",
			logger.FieldMethod, r.Method,
			logger.FieldPath, r.URL.Path,
			logger.FieldStatus, rec.status,
			logger.FieldDurationMS, time.Since(start).Milliseconds(),
		)
	})
}
