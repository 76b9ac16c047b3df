package adapter

import (
	"context"
	"io"
	"net/http"
	"os"

	"go.uber.org/zap"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/logger"
)

// DefaultStreamMaxRecords bounds a stream read when max_records is unset
const DefaultStreamMaxRecords = 10000

// StreamAdapter reads a bounded batch of newline-delimited JSON from a file
// or an HTTP endpoint. It stops after max_records and never follows the
// stream further, so each run sees a discrete batch.
type StreamAdapter struct {
	logger *zap.SugaredLogger
}

// NewStreamAdapter creates a stream adapter
func NewStreamAdapter(log *zap.SugaredLogger) *StreamAdapter {
	return &StreamAdapter{logger: logger.OrNop(log)}
}

// Extract reads up to max_records lines from path or url
func (s *StreamAdapter) Extract(ctx context.Context, config map[string]interface{}) ([]Record, error) {
	limit := optInt(config, "max_records", DefaultStreamMaxRecords)
	if limit <= 0 {
		limit = DefaultStreamMaxRecords
	}

	r, closer, err := s.open(ctx, config)
	if err != nil {
		return nil, err
	}
	defer closer()

	records, err := decodeJSONLines(r, limit)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read stream")
	}
	s.logger.Debugw("stream extracted", logger.FieldCount, len(records), "max_records", limit)
	return records, nil
}

func (s *StreamAdapter) open(ctx context.Context, config map[string]interface{}) (io.Reader, func(), error) {
	if path := optString(config, "path"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return nil, nil, errors.Wrapf(err, "failed to open %s", path)
		}
		return f, func() { f.Close() }, nil
	}

	raw := optString(config, "url")
	if raw == "" {
		return nil, nil, errors.NewValidationError("stream source needs \"path\" or \"url\"")
	}
	client := clientFor(config)
	u, err := client.ValidateURL(raw)
	if err != nil {
		return nil, nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, nil, errors.Wrap(err, "failed to build request")
	}
	for k, v := range optStringMap(config, "headers") {
		req.Header.Set(k, v)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "GET %s", u.Redacted())
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		resp.Body.Close()
		return nil, nil, errors.Newf("GET %s returned %d", u.Redacted(), resp.StatusCode)
	}
	return resp.Body, func() { resp.Body.Close() }, nil
}
