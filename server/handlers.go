package server

import (
	"net/http"
	"strconv"

	"github.com/teranos/plumb/engine"
	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/execution"
	"github.com/teranos/plumb/pipeline"
	"github.com/teranos/plumb/template"
	"github.com/teranos/plumb/version"
)

// ListPipelinesResponse is the body of GET /api/pipelines
type ListPipelinesResponse struct {
	Pipelines []*pipeline.Pipeline `json:"pipelines"`
	Count     int                  `json:"count"`
}

// ListExecutionsResponse is the body of GET /api/pipelines/{id}/executions
type ListExecutionsResponse struct {
	Executions []*execution.Execution `json:"executions"`
	Count      int                    `json:"count"`
}

// ListTemplatesResponse is the body of GET /api/templates
type ListTemplatesResponse struct {
	Templates []*template.Template `json:"templates"`
	Count     int                  `json:"count"`
}

// ExecuteResponse is returned when a run starts
type ExecuteResponse struct {
	ExecutionID string `json:"executionId"`
}

// RollbackRequest is the body of POST /api/pipelines/{id}/rollback
type RollbackRequest struct {
	Version string `json:"version"`
}

// InstantiateRequest is the body of POST /api/templates/{id}/instantiate
type InstantiateRequest struct {
	Parameters map[string]interface{} `json:"parameters"`
}

func (s *Server) handleListPipelines(w http.ResponseWriter, r *http.Request) {
	ps, err := s.api.ListPipelines(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListPipelinesResponse{Pipelines: ps, Count: len(ps)})
}

func (s *Server) handleCreatePipeline(w http.ResponseWriter, r *http.Request) {
	var def pipeline.Definition
	if !readJSON(w, r, &def, false) {
		return
	}
	p, err := s.api.CreatePipeline(r.Context(), def)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleGetPipeline(w http.ResponseWriter, r *http.Request) {
	p, err := s.api.GetPipeline(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleUpdatePipeline(w http.ResponseWriter, r *http.Request) {
	var patch pipeline.Patch
	if !readJSON(w, r, &patch, false) {
		return
	}
	p, err := s.api.UpdatePipeline(r.Context(), r.PathValue("id"), patch)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleDeletePipeline(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	deleted, err := s.api.DeletePipeline(r.Context(), id)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if !deleted {
		writeError(w, http.StatusNotFound, "pipeline "+id+" not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleExecutePipeline(w http.ResponseWriter, r *http.Request) {
	var opts engine.Options
	if !readJSON(w, r, &opts, true) {
		return
	}
	if raw := r.URL.Query().Get("dry_run"); raw != "" {
		dry, err := strconv.ParseBool(raw)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dry_run must be a boolean")
			return
		}
		opts.DryRun = dry
	}

	id, err := s.api.ExecutePipeline(r.Context(), r.PathValue("id"), opts)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, ExecuteResponse{ExecutionID: id})
}

func (s *Server) handleRollbackPipeline(w http.ResponseWriter, r *http.Request) {
	var req RollbackRequest
	if !readJSON(w, r, &req, false) {
		return
	}
	if req.Version == "" {
		s.writeServiceError(w, r, errors.NewInvalidRequestError("version is required"))
		return
	}
	p, err := s.api.RollbackPipeline(r.Context(), r.PathValue("id"), req.Version)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (s *Server) handleListExecutions(w http.ResponseWriter, r *http.Request) {
	list, err := s.api.ListExecutionsByPipeline(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	if status := r.URL.Query().Get("status"); status != "" {
		if !execution.IsValidStatus(status) {
			writeError(w, http.StatusBadRequest, "invalid status: "+status)
			return
		}
		filtered := list[:0]
		for _, e := range list {
			if string(e.Status) == status {
				filtered = append(filtered, e)
			}
		}
		list = filtered
	}
	writeJSON(w, http.StatusOK, ListExecutionsResponse{Executions: list, Count: len(list)})
}

func (s *Server) handlePipelineHealth(w http.ResponseWriter, r *http.Request) {
	report, err := s.api.GetHealth(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (s *Server) handleGetExecution(w http.ResponseWriter, r *http.Request) {
	e, err := s.api.GetExecution(r.Context(), r.PathValue("id"))
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

func (s *Server) handleCancelExecution(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if err := s.api.CancelExecution(r.Context(), id); err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"executionId": id, "status": "cancelling"})
}

func (s *Server) handleListTemplates(w http.ResponseWriter, r *http.Request) {
	ts, err := s.api.ListTemplates(r.Context())
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ListTemplatesResponse{Templates: ts, Count: len(ts)})
}

func (s *Server) handleInstantiateTemplate(w http.ResponseWriter, r *http.Request) {
	var req InstantiateRequest
	if !readJSON(w, r, &req, true) {
		return
	}
	p, err := s.api.InstantiateFromTemplate(r.Context(), r.PathValue("id"), req.Parameters)
	if err != nil {
		s.writeServiceError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	info := version.Get()
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"version": info.Version,
		"commit":  info.Short(),
	})
}
