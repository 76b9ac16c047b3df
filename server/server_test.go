package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/plumb/am"
	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/execution"
	"github.com/teranos/plumb/health"
	"github.com/teranos/plumb/internal/testing/pipelinetest"
	"github.com/teranos/plumb/pipeline"
	"github.com/teranos/plumb/service"
)

type testServer struct {
	svc *service.Service
	ts  *httptest.Server
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	v := viper.New()
	am.SetDefaults(v)
	v.Set("store.backend", am.StoreBackendMemory)
	v.Set("database.path", filepath.Join(t.TempDir(), "unused.db"))
	cfg, err := am.LoadWithViper(v)
	require.NoError(t, err)
	cfg.DataSources = map[string]am.DataSourceConfig{
		"sales": {Type: "memory", Config: map[string]any{"name": "sales"}},
		"out":   {Type: "memory", Config: map[string]any{"name": "out"}},
	}

	svc, err := service.New(context.Background(), cfg, nil)
	require.NoError(t, err)
	svc.Adapters().Memory.Put("sales", []pipeline.Record{
		{"region": "north", "amount": 120.0},
		{"region": "south", "amount": 80.0},
	})

	srv := New(svc, Options{
		AllowedOrigins: []string{"http://localhost"},
		PollInterval:   10 * time.Millisecond,
		Gatherer:       svc.Gatherer(),
	}, nil)
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(func() {
		ts.Close()
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = svc.Close(ctx)
	})
	return &testServer{svc: svc, ts: ts}
}

func (s *testServer) do(t *testing.T, method, path string, body interface{}, out interface{}) int {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequest(method, s.ts.URL+path, reader)
	require.NoError(t, err)
	req.Header.Set("Content-Type", "application/json")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	if out != nil && resp.StatusCode != http.StatusNoContent {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
	}
	return resp.StatusCode
}

func salesDefinition() pipeline.Definition {
	return pipeline.Definition{
		Name:   "big sales",
		Source: pipeline.Source{Type: pipeline.SourceDataSource, Config: map[string]interface{}{"name": "sales"}},
		Transformations: []pipeline.Transformation{
			pipelinetest.Filter("big", 1, "amount", "gte", 100),
		},
		Destination: pipeline.Destination{
			Type:   pipeline.DestinationDataSource,
			Config: map[string]interface{}{"name": "out"},
		},
	}
}

func (s *testServer) createPipeline(t *testing.T) *pipeline.Pipeline {
	t.Helper()
	var p pipeline.Pipeline
	require.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/pipelines", salesDefinition(), &p))
	return &p
}

func (s *testServer) execute(t *testing.T, pipelineID string) string {
	t.Helper()
	var resp ExecuteResponse
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/pipelines/"+pipelineID+"/execute", nil, &resp))
	require.NotEmpty(t, resp.ExecutionID)
	return resp.ExecutionID
}

func TestPipelineLifecycle(t *testing.T) {
	s := newTestServer(t)
	p := s.createPipeline(t)
	assert.Equal(t, pipeline.InitialVersion, p.Version)

	var got pipeline.Pipeline
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/pipelines/"+p.ID, nil, &got))
	assert.Equal(t, "big sales", got.Name)

	var list ListPipelinesResponse
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/pipelines", nil, &list))
	assert.Equal(t, 1, list.Count)

	stages := []pipeline.Transformation{pipelinetest.Filter("bigger", 1, "amount", "gte", 200)}
	var updated pipeline.Pipeline
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPatch, "/api/pipelines/"+p.ID,
		pipeline.Patch{Transformations: &stages}, &updated))
	assert.Equal(t, "1.0.1", updated.Version)

	var rolled pipeline.Pipeline
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodPost, "/api/pipelines/"+p.ID+"/rollback",
		RollbackRequest{Version: "1.0.0"}, &rolled))
	assert.Equal(t, "1.0.0", rolled.Version)

	assert.Equal(t, http.StatusNoContent, s.do(t, http.MethodDelete, "/api/pipelines/"+p.ID, nil, nil))
	var errResp errorResponse
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/pipelines/"+p.ID, nil, &errResp))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodDelete, "/api/pipelines/"+p.ID, nil, &errResp))
}

func TestExecuteAndInspect(t *testing.T) {
	s := newTestServer(t)
	p := s.createPipeline(t)
	id := s.execute(t, p.ID)
	require.NoError(t, s.svc.WaitExecution(context.Background(), id))

	var e execution.Execution
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/executions/"+id, nil, &e))
	assert.Equal(t, execution.StatusCompleted, e.Status)
	assert.Equal(t, 1, e.RecordsProcessed)

	var list ListExecutionsResponse
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/pipelines/"+p.ID+"/executions?status=completed", nil, &list))
	assert.Equal(t, 1, list.Count)

	var errResp errorResponse
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodGet, "/api/pipelines/"+p.ID+"/executions?status=bogus", nil, &errResp))

	var report health.Report
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/pipelines/"+p.ID+"/health", nil, &report))
	assert.Equal(t, health.StatusHealthy, report.Status)

	assert.Equal(t, http.StatusConflict, s.do(t, http.MethodPost, "/api/executions/"+id+"/cancel", nil, &errResp))
	assert.Contains(t, errResp.Error, "already completed")
}

func TestDryRunQueryParameter(t *testing.T) {
	s := newTestServer(t)
	p := s.createPipeline(t)

	var resp ExecuteResponse
	require.Equal(t, http.StatusAccepted, s.do(t, http.MethodPost, "/api/pipelines/"+p.ID+"/execute?dry_run=true", nil, &resp))
	require.NoError(t, s.svc.WaitExecution(context.Background(), resp.ExecutionID))

	e, err := s.svc.GetExecution(context.Background(), resp.ExecutionID)
	require.NoError(t, err)
	assert.True(t, e.DryRun)
	assert.Empty(t, s.svc.Adapters().Memory.Dataset("out"))
}

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t)
	var errResp errorResponse

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/pipelines/pl_missing", nil, &errResp))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/pipelines/pl_missing/execute", nil, &errResp))
	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodGet, "/api/executions/ex_missing", nil, &errResp))

	var none ListExecutionsResponse
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/pipelines/pl_missing/executions", nil, &none))
	assert.NotNil(t, none.Executions)
	assert.Empty(t, none.Executions)
	assert.Zero(t, none.Count)

	bad := salesDefinition()
	bad.Source.Type = "ftp"
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/pipelines", bad, &errResp))
	assert.Contains(t, errResp.Error, "unknown source type")
	assert.NotEmpty(t, errResp.Hints)

	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/pipelines", map[string]string{"nonsense": "x"}, &errResp))

	p := s.createPipeline(t)
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/pipelines/"+p.ID+"/rollback", RollbackRequest{}, &errResp))
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/pipelines/"+p.ID+"/rollback", RollbackRequest{Version: "7.0.0"}, &errResp))
}

func TestStatusFor(t *testing.T) {
	assert.Equal(t, http.StatusNotFound, statusFor(errors.NewNotFoundError("x")))
	assert.Equal(t, http.StatusConflict, statusFor(errors.NewConflictError("x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(errors.NewMissingParameterError("x")))
	assert.Equal(t, http.StatusBadRequest, statusFor(errors.NewValidationError("x")))
	assert.Equal(t, http.StatusServiceUnavailable, statusFor(errors.Wrap(errors.ErrServiceUnavailable, "closed")))
	assert.Equal(t, http.StatusInternalServerError, statusFor(errors.New("disk on fire")))
}

func TestTemplates(t *testing.T) {
	s := newTestServer(t)

	var list ListTemplatesResponse
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/api/templates", nil, &list))
	assert.Equal(t, 2, list.Count)

	var errResp errorResponse
	assert.Equal(t, http.StatusBadRequest, s.do(t, http.MethodPost, "/api/templates/csv-to-database/instantiate",
		InstantiateRequest{Parameters: map[string]interface{}{"csv_path": "a.csv"}}, &errResp))
	assert.Contains(t, errResp.Error, "database_path")

	var p pipeline.Pipeline
	assert.Equal(t, http.StatusCreated, s.do(t, http.MethodPost, "/api/templates/csv-to-database/instantiate",
		InstantiateRequest{Parameters: map[string]interface{}{
			"csv_path": "a.csv", "database_path": "a.db", "table": "rows",
		}}, &p))
	assert.Equal(t, "rows", p.Destination.Config["table"])

	assert.Equal(t, http.StatusNotFound, s.do(t, http.MethodPost, "/api/templates/nope/instantiate", nil, &errResp))
}

func TestHealthAndMetrics(t *testing.T) {
	s := newTestServer(t)

	var body map[string]string
	assert.Equal(t, http.StatusOK, s.do(t, http.MethodGet, "/health", nil, &body))
	assert.Equal(t, "ok", body["status"])

	resp, err := http.Get(s.ts.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(data), "plumb_engine_runs_started_total")
}

func TestCORS(t *testing.T) {
	s := newTestServer(t)

	req, _ := http.NewRequest(http.MethodOptions, s.ts.URL+"/api/pipelines", nil)
	req.Header.Set("Origin", "http://localhost:5173")
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	assert.Equal(t, "http://localhost:5173", resp.Header.Get("Access-Control-Allow-Origin"))

	req, _ = http.NewRequest(http.MethodGet, s.ts.URL+"/api/pipelines", nil)
	req.Header.Set("Origin", "https://evil.example")
	resp, err = http.DefaultClient.Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Empty(t, resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestStreamExecution(t *testing.T) {
	s := newTestServer(t)
	p := s.createPipeline(t)
	id := s.execute(t, p.ID)

	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/api/executions/" + id + "/stream"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	var logs []string
	var done *execution.Execution
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	for done == nil {
		var msg StreamMessage
		require.NoError(t, conn.ReadJSON(&msg))
		switch msg.Type {
		case StreamLog:
			logs = append(logs, msg.Entry.Message)
		case StreamDone:
			done = msg.Execution
		}
	}

	assert.Equal(t, execution.StatusCompleted, done.Status)
	assert.NotEmpty(t, logs)
	assert.Equal(t, "execution started", logs[0])

	_, _, err = conn.ReadMessage()
	var closeErr *websocket.CloseError
	require.ErrorAs(t, err, &closeErr)
	assert.Equal(t, websocket.CloseNormalClosure, closeErr.Code)
}

func TestStreamUnknownExecution(t *testing.T) {
	s := newTestServer(t)
	wsURL := "ws" + strings.TrimPrefix(s.ts.URL, "http") + "/api/executions/ex_missing/stream"
	_, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.Error(t, err)
	require.NotNil(t, resp)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}
