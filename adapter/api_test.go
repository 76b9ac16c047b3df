package adapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/internal/httpclient"
	"github.com/teranos/plumb/pipeline"
)

func TestAPIExtract(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "secret", r.Header.Get("X-Token"))
		w.Write([]byte(`{"data":[{"id":1},{"id":2}]}`))
	}))
	defer srv.Close()

	a := NewAPIAdapter(nil)
	got, err := a.Extract(context.Background(), map[string]interface{}{
		"url":                   srv.URL,
		"records_path":          "data",
		"headers":               map[string]interface{}{"X-Token": "secret"},
		"allow_private_network": true,
	})
	require.NoError(t, err)
	assert.Equal(t, []Record{{"id": 1.0}, {"id": 2.0}}, got)
}

func TestAPIExtractPages(t *testing.T) {
	var pages []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		page := r.URL.Query().Get("page")
		pages = append(pages, page)
		if page == "3" {
			w.Write([]byte(`[]`))
			return
		}
		w.Write([]byte(`[{"page":"` + page + `"}]`))
	}))
	defer srv.Close()

	a := NewAPIAdapter(nil)
	got, err := a.Extract(context.Background(), map[string]interface{}{
		"url":                   srv.URL,
		"page_param":            "page",
		"max_pages":             10,
		"allow_private_network": true,
	})
	require.NoError(t, err)
	assert.Equal(t, []Record{{"page": "1"}, {"page": "2"}}, got)
	assert.Equal(t, []string{"1", "2", "3"}, pages)
}

func TestAPILoadBatches(t *testing.T) {
	var (
		mu      sync.Mutex
		batches [][]Record
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var batch []Record
		require.NoError(t, json.NewDecoder(r.Body).Decode(&batch))
		mu.Lock()
		batches = append(batches, batch)
		mu.Unlock()
		w.WriteHeader(http.StatusCreated)
	}))
	defer srv.Close()

	a := NewAPIAdapter(nil)
	records := []Record{{"n": 1.0}, {"n": 2.0}, {"n": 3.0}, {"n": 4.0}, {"n": 5.0}}
	require.NoError(t, a.Load(context.Background(), map[string]interface{}{
		"url":                   srv.URL,
		"batch_size":            2,
		"allow_private_network": true,
	}, pipeline.ModeAppend, records))

	require.Len(t, batches, 3)
	assert.Len(t, batches[0], 2)
	assert.Len(t, batches[2], 1)
}

func TestAPIErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream down", http.StatusBadGateway)
	}))
	defer srv.Close()

	a := NewAPIAdapter(nil)
	_, err := a.Extract(context.Background(), map[string]interface{}{
		"url":                   srv.URL,
		"allow_private_network": true,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
	assert.Contains(t, err.Error(), "upstream down")
}

func TestAPIBlocksPrivateByDefault(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("request should not reach the server")
	}))
	defer srv.Close()

	a := NewAPIAdapter(nil)
	_, err := a.Extract(context.Background(), map[string]interface{}{"url": srv.URL})
	assert.True(t, errors.Is(err, httpclient.ErrBlocked))
}

func TestAPILimiterPerHost(t *testing.T) {
	a := NewAPIAdapter(nil)
	assert.Nil(t, a.limiter("example.com", map[string]interface{}{}))

	cfg := map[string]interface{}{"rate_per_second": 5, "burst": 2}
	l1 := a.limiter("example.com", cfg)
	l2 := a.limiter("example.com", cfg)
	require.NotNil(t, l1)
	assert.Same(t, l1, l2)
	assert.Equal(t, 2, l1.Burst())
	assert.NotSame(t, l1, a.limiter("other.com", cfg))
}
