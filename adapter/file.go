package adapter

import (
	"bufio"
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"

	getter "github.com/hashicorp/go-getter"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/pipeline"
)

// Supported file formats
const (
	FormatJSON    = "json"
	FormatJSONL   = "jsonl"
	FormatCSV     = "csv"
	FormatYAML    = "yaml"
	FormatMsgpack = "msgpack"
)

// FileAdapter reads and writes record files.
//
// Config keys:
//
//	path         local file (required for load)
//	url          http(s) source fetched with go-getter (extract only)
//	allow_private_network  permit loopback and private hosts in url
//	timeout_ms   download timeout (default: 30s)
//	format       json | jsonl | csv | yaml | msgpack (default: from extension)
//	records_path dotted path to the record array inside a json/yaml document
//	infer_types  csv only: parse numeric and boolean cells
//	key          upsert key column
type FileAdapter struct {
	logger *zap.SugaredLogger
	locks  sync.Map // path -> *sync.Mutex
}

// NewFileAdapter creates a file adapter
func NewFileAdapter(log *zap.SugaredLogger) *FileAdapter {
	return &FileAdapter{logger: logger.OrNop(log)}
}

func (f *FileAdapter) lock(path string) func() {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	m, _ := f.locks.LoadOrStore(abs, &sync.Mutex{})
	mu := m.(*sync.Mutex)
	mu.Lock()
	return mu.Unlock
}

// Extract reads the configured file or URL
func (f *FileAdapter) Extract(ctx context.Context, config map[string]interface{}) ([]Record, error) {
	path := optString(config, "path")
	src := optString(config, "url")
	if path == "" && src == "" {
		return nil, errors.WithHint(
			errors.NewValidationError("file source needs \"path\" or \"url\""),
			"set config.path to a local file or config.url to a remote one",
		)
	}

	format := optString(config, "format")
	if src != "" {
		if format == "" {
			format = formatFromName(src)
		}
		data, err := f.fetch(ctx, src, config)
		if err != nil {
			return nil, err
		}
		return decodeRecords(data, format, config)
	}

	if format == "" {
		format = formatFromName(path)
	}
	unlock := f.lock(path)
	data, err := os.ReadFile(path)
	unlock()
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read %s", path)
	}
	records, err := decodeRecords(data, format, config)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to decode %s", path)
	}
	f.logger.Debugw("file extracted", "path", path, logger.FieldCount, len(records))
	return records, nil
}

// fetch downloads src into a temporary file. Only http and https are
// accepted, under the same address policy as the api adapter.
func (f *FileAdapter) fetch(ctx context.Context, src string, config map[string]interface{}) ([]byte, error) {
	pwd, _ := os.Getwd()
	detected, err := getter.Detect(src, pwd, getter.Detectors)
	if err != nil {
		return nil, errors.Wrapf(err, "unsupported source %q", src)
	}

	client := clientFor(config)
	if _, err := client.ValidateURL(detected); err != nil {
		return nil, errors.WithHint(
			errors.Wrapf(err, "refusing to fetch %s", src),
			"file urls must be http(s); use config.path for local files",
		)
	}

	dir, err := os.MkdirTemp("", "plumb-fetch-*")
	if err != nil {
		return nil, errors.Wrap(err, "failed to create download directory")
	}
	defer os.RemoveAll(dir)

	httpGetter := &getter.HttpGetter{
		Client:                client.HTTP(),
		XTerraformGetDisabled: true,
	}
	dst := filepath.Join(dir, "payload")
	gc := &getter.Client{
		Ctx:  ctx,
		Src:  detected,
		Dst:  dst,
		Mode: getter.ClientModeFile,
		Getters: map[string]getter.Getter{
			"http":  httpGetter,
			"https": httpGetter,
		},
	}
	f.logger.Debugw("fetching with go-getter", "source", detected)
	if err := gc.Get(); err != nil {
		return nil, errors.Wrapf(err, "failed to fetch %s", src)
	}
	data, err := os.ReadFile(dst)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read download of %s", src)
	}
	return data, nil
}

// Load writes records to config.path honoring the write mode
func (f *FileAdapter) Load(_ context.Context, config map[string]interface{}, mode pipeline.WriteMode, records []Record) error {
	path, err := requireString(config, "path")
	if err != nil {
		return err
	}
	format := optString(config, "format")
	if format == "" {
		format = formatFromName(path)
	}

	unlock := f.lock(path)
	defer unlock()

	var existing []Record
	if mode != pipeline.ModeReplace {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if existing, err = decodeRecords(data, format, config); err != nil {
				return errors.Wrapf(err, "failed to decode existing %s", path)
			}
		case !os.IsNotExist(err):
			return errors.Wrapf(err, "failed to read %s", path)
		}
	}

	merged, err := mergeRecords(existing, records, mode, optString(config, "key"))
	if err != nil {
		return err
	}
	data, err := encodeRecords(merged, format)
	if err != nil {
		return errors.Wrapf(err, "failed to encode %s", path)
	}
	if err := writeFileAtomic(path, data); err != nil {
		return err
	}
	f.logger.Debugw("file loaded", "path", path, logger.FieldCount, len(records), "mode", mode)
	return nil
}

func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrapf(err, "failed to create directory %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return errors.Wrap(err, "failed to create temp file")
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to write %s", tmpName)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to close %s", tmpName)
	}
	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return errors.Wrapf(err, "failed to replace %s", path)
	}
	return nil
}

func formatFromName(name string) string {
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	switch strings.ToLower(filepath.Ext(name)) {
	case ".jsonl", ".ndjson":
		return FormatJSONL
	case ".csv":
		return FormatCSV
	case ".yaml", ".yml":
		return FormatYAML
	case ".msgpack", ".mpk":
		return FormatMsgpack
	default:
		return FormatJSON
	}
}

func decodeRecords(data []byte, format string, config map[string]interface{}) ([]Record, error) {
	switch format {
	case FormatJSON:
		var doc interface{}
		if len(bytes.TrimSpace(data)) == 0 {
			return []Record{}, nil
		}
		if err := json.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(err, "invalid json")
		}
		return recordsAt(doc, optString(config, "records_path"))
	case FormatJSONL:
		return decodeJSONLines(bytes.NewReader(data), 0)
	case FormatCSV:
		return decodeCSV(data, optBool(config, "infer_types", false))
	case FormatYAML:
		var doc interface{}
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(err, "invalid yaml")
		}
		if doc == nil {
			return []Record{}, nil
		}
		return recordsAt(normalizeValue(doc), optString(config, "records_path"))
	case FormatMsgpack:
		if len(data) == 0 {
			return []Record{}, nil
		}
		var doc []map[string]interface{}
		if err := msgpack.Unmarshal(data, &doc); err != nil {
			return nil, errors.Wrap(err, "invalid msgpack")
		}
		out := make([]Record, len(doc))
		for i, r := range doc {
			out[i] = normalizeValue(r).(map[string]interface{})
		}
		return out, nil
	default:
		return nil, errors.NewValidationError("unsupported file format %q", format)
	}
}

// decodeJSONLines reads one JSON object per line, stopping after limit records when limit > 0
func decodeJSONLines(r io.Reader, limit int) ([]Record, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 16*1024*1024)

	out := []Record{}
	line := 0
	for scanner.Scan() {
		line++
		text := bytes.TrimSpace(scanner.Bytes())
		if len(text) == 0 {
			continue
		}
		var rec Record
		if err := json.Unmarshal(text, &rec); err != nil {
			return nil, errors.Wrapf(err, "invalid json on line %d", line)
		}
		out = append(out, rec)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrap(err, "failed to read lines")
	}
	return out, nil
}

func decodeCSV(data []byte, inferTypes bool) ([]Record, error) {
	reader := csv.NewReader(bytes.NewReader(data))
	rows, err := reader.ReadAll()
	if err != nil {
		return nil, errors.Wrap(err, "invalid csv")
	}
	out := []Record{}
	if len(rows) == 0 {
		return out, nil
	}
	header := rows[0]
	for _, row := range rows[1:] {
		rec := make(Record, len(header))
		for i, col := range header {
			if i >= len(row) {
				rec[col] = nil
				continue
			}
			if inferTypes {
				rec[col] = inferCell(row[i])
			} else {
				rec[col] = row[i]
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func inferCell(s string) interface{} {
	if s == "" {
		return nil
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil {
		return f
	}
	if b, err := strconv.ParseBool(s); err == nil {
		return b
	}
	return s
}

// recordsAt walks a dotted path and returns the array of objects found there
func recordsAt(doc interface{}, path string) ([]Record, error) {
	if path != "" {
		for _, part := range strings.Split(path, ".") {
			obj, ok := doc.(map[string]interface{})
			if !ok {
				return nil, errors.NewValidationError("records_path %q: %q is not inside an object", path, part)
			}
			doc = obj[part]
		}
	}
	switch v := doc.(type) {
	case []interface{}:
		out := make([]Record, 0, len(v))
		for i, item := range v {
			rec, ok := item.(map[string]interface{})
			if !ok {
				return nil, errors.NewValidationError("element %d is not an object", i)
			}
			out = append(out, rec)
		}
		return out, nil
	case map[string]interface{}:
		return []Record{v}, nil
	case nil:
		return []Record{}, nil
	default:
		return nil, errors.NewValidationError("expected an array of objects, got %T", doc)
	}
}

// normalizeValue converts decoder-specific numeric and map types to the JSON shapes the stages expect
func normalizeValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		for k, val := range t {
			t[k] = normalizeValue(val)
		}
		return t
	case map[interface{}]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[toKey(k)] = normalizeValue(val)
		}
		return out
	case []interface{}:
		for i, val := range t {
			t[i] = normalizeValue(val)
		}
		return t
	case int:
		return float64(t)
	case int8:
		return float64(t)
	case int16:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case uint:
		return float64(t)
	case uint8:
		return float64(t)
	case uint16:
		return float64(t)
	case uint32:
		return float64(t)
	case uint64:
		return float64(t)
	case float32:
		return float64(t)
	default:
		return v
	}
}

func toKey(k interface{}) string {
	if s, ok := k.(string); ok {
		return s
	}
	return recordKey(k)
}

func encodeRecords(records []Record, format string) ([]byte, error) {
	if records == nil {
		records = []Record{}
	}
	switch format {
	case FormatJSON:
		return json.MarshalIndent(records, "", "  ")
	case FormatJSONL:
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		for _, r := range records {
			if err := enc.Encode(r); err != nil {
				return nil, err
			}
		}
		return buf.Bytes(), nil
	case FormatCSV:
		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		cols := columnsOf(records)
		if err := w.Write(cols); err != nil {
			return nil, err
		}
		for _, r := range records {
			row := make([]string, len(cols))
			for i, c := range cols {
				row[i] = formatCell(r[c])
			}
			if err := w.Write(row); err != nil {
				return nil, err
			}
		}
		w.Flush()
		return buf.Bytes(), w.Error()
	case FormatYAML:
		return yaml.Marshal(records)
	case FormatMsgpack:
		return msgpack.Marshal(records)
	default:
		return nil, errors.NewValidationError("unsupported file format %q", format)
	}
}

func formatCell(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		b, err := json.Marshal(t)
		if err != nil {
			return ""
		}
		return string(b)
	}
}
