package adapter

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/internal/httpclient"
	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/pipeline"
)

const (
	defaultAPITimeout   = 30 * time.Second
	defaultAPIBatchSize = 100
	maxAPIResponseBytes = 64 << 20
)

// APIAdapter exchanges JSON records with HTTP endpoints.
//
// Config keys:
//
//	url                    endpoint (required)
//	method                 defaults to GET for extract, POST for load
//	headers                map of request headers
//	records_path           dotted path to the record array in the response
//	page_param, max_pages  query parameter incremented from 1 until an empty page
//	rate_per_second, burst per-host request rate (0 = unlimited)
//	batch_size             records per load request (default 100)
//	timeout_ms             per-request timeout
//	allow_private_network  permit loopback and private addresses
type APIAdapter struct {
	logger *zap.SugaredLogger

	mu       sync.Mutex
	limiters map[string]*rate.Limiter
}

// NewAPIAdapter creates an API adapter
func NewAPIAdapter(log *zap.SugaredLogger) *APIAdapter {
	return &APIAdapter{
		logger:   logger.OrNop(log),
		limiters: make(map[string]*rate.Limiter),
	}
}

func (a *APIAdapter) limiter(host string, config map[string]interface{}) *rate.Limiter {
	perSecond := optFloat(config, "rate_per_second", 0)
	if perSecond <= 0 {
		return nil
	}
	burst := optInt(config, "burst", 1)
	if burst < 1 {
		burst = 1
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	l, ok := a.limiters[host]
	if !ok {
		l = rate.NewLimiter(rate.Limit(perSecond), burst)
		a.limiters[host] = l
		return l
	}
	if l.Limit() != rate.Limit(perSecond) {
		l.SetLimit(rate.Limit(perSecond))
	}
	if l.Burst() != burst {
		l.SetBurst(burst)
	}
	return l
}

func clientFor(config map[string]interface{}) *httpclient.Client {
	timeout := defaultAPITimeout
	if ms := optInt(config, "timeout_ms", 0); ms > 0 {
		timeout = time.Duration(ms) * time.Millisecond
	}
	return httpclient.New(httpclient.Options{
		Timeout:      timeout,
		AllowPrivate: optBool(config, "allow_private_network", false),
	})
}

// Extract fetches one page, or pages until an empty one when page_param is set
func (a *APIAdapter) Extract(ctx context.Context, config map[string]interface{}) ([]Record, error) {
	raw, err := requireString(config, "url")
	if err != nil {
		return nil, err
	}
	client := clientFor(config)
	base, err := client.ValidateURL(raw)
	if err != nil {
		return nil, err
	}
	method := optString(config, "method")
	if method == "" {
		method = http.MethodGet
	}

	pageParam := optString(config, "page_param")
	maxPages := optInt(config, "max_pages", 1)
	if pageParam == "" || maxPages < 1 {
		maxPages = 1
	}

	out := []Record{}
	for page := 1; page <= maxPages; page++ {
		u := *base
		if pageParam != "" {
			q := u.Query()
			q.Set(pageParam, strconv.Itoa(page))
			u.RawQuery = q.Encode()
		}

		body, err := a.do(ctx, client, method, &u, config, nil)
		if err != nil {
			return nil, err
		}
		var doc interface{}
		if err := json.Unmarshal(body, &doc); err != nil {
			return nil, errors.Wrapf(err, "invalid json from %s", u.Redacted())
		}
		records, err := recordsAt(doc, optString(config, "records_path"))
		if err != nil {
			return nil, err
		}
		if len(records) == 0 {
			break
		}
		out = append(out, records...)
	}
	a.logger.Debugw("api extracted", "url", base.Redacted(), logger.FieldCount, len(out))
	return out, nil
}

// Load sends records as JSON arrays of at most batch_size elements
func (a *APIAdapter) Load(ctx context.Context, config map[string]interface{}, _ pipeline.WriteMode, records []Record) error {
	raw, err := requireString(config, "url")
	if err != nil {
		return err
	}
	client := clientFor(config)
	u, err := client.ValidateURL(raw)
	if err != nil {
		return err
	}
	method := optString(config, "method")
	if method == "" {
		method = http.MethodPost
	}
	size := optInt(config, "batch_size", defaultAPIBatchSize)
	if size < 1 {
		size = defaultAPIBatchSize
	}

	for start := 0; start < len(records); start += size {
		end := start + size
		if end > len(records) {
			end = len(records)
		}
		payload, err := json.Marshal(records[start:end])
		if err != nil {
			return errors.Wrap(err, "failed to encode records")
		}
		if _, err := a.do(ctx, client, method, u, config, payload); err != nil {
			return errors.Wrapf(err, "failed to send records %d-%d", start, end-1)
		}
	}
	a.logger.Debugw("api loaded", "url", u.Redacted(), logger.FieldCount, len(records))
	return nil
}

func (a *APIAdapter) do(ctx context.Context, client *httpclient.Client, method string, u *url.URL, config map[string]interface{}, payload []byte) ([]byte, error) {
	if l := a.limiter(u.Host, config); l != nil {
		if err := l.Wait(ctx); err != nil {
			return nil, errors.Wrap(err, "rate limiter")
		}
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range optStringMap(config, "headers") {
		req.Header.Set(k, v)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrapf(err, "%s %s", method, u.Redacted())
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAPIResponseBytes))
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		snippet := string(data)
		if len(snippet) > 200 {
			snippet = snippet[:200]
		}
		return nil, errors.Newf("%s %s returned %d: %s", method, u.Redacted(), resp.StatusCode, snippet)
	}
	return data, nil
}
