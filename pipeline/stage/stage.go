// Package stage implements the transformation stage library: pure functions
// over an in-memory record batch, one per transformation kind.
package stage

import (
	"context"
	"encoding/json"

	"go.uber.org/zap"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/pipeline"
)

// Record is one row of a batch
type Record = pipeline.Record

// Result is the output batch of a stage plus any non-fatal warnings
type Result struct {
	Records  []Record
	Warnings []string
}

// DatasetResolver extracts the right-hand side of a join
type DatasetResolver interface {
	ResolveDataset(ctx context.Context, dataset map[string]interface{}) ([]Record, error)
}

type applyFunc func(ctx context.Context, l *Library, t pipeline.Transformation, batch []Record) (Result, error)

// Library applies transformations. It holds configuration only (runtimes and
// the join resolver); no state is carried between calls.
type Library struct {
	kinds    map[pipeline.Kind]applyFunc
	runtimes map[string]Runtime
	resolver DatasetResolver
	logger   *zap.SugaredLogger
}

// Option configures a Library
type Option func(*Library)

// WithDatasetResolver wires the source of join datasets
func WithDatasetResolver(r DatasetResolver) Option {
	return func(l *Library) { l.resolver = r }
}

// WithRuntime registers (or replaces) a custom-stage runtime
func WithRuntime(name string, rt Runtime) Option {
	return func(l *Library) { l.runtimes[name] = rt }
}

// WithoutRuntime removes a custom-stage runtime; stages naming it pass through
func WithoutRuntime(name string) Option {
	return func(l *Library) { delete(l.runtimes, name) }
}

// WithLogger sets the process logger
func WithLogger(log *zap.SugaredLogger) Option {
	return func(l *Library) { l.logger = log }
}

// NewLibrary creates a library with all built-in kinds and the sandboxed
// custom runtimes (javascript, expr, wasm). The command runtime spawns
// processes and must be added explicitly with WithRuntime.
func NewLibrary(opts ...Option) *Library {
	l := &Library{
		kinds: map[pipeline.Kind]applyFunc{
			pipeline.KindFilter:    applyFilter,
			pipeline.KindMap:       applyMap,
			pipeline.KindAggregate: applyAggregate,
			pipeline.KindJoin:      applyJoin,
			pipeline.KindCustom:    applyCustom,
		},
		runtimes: map[string]Runtime{
			RuntimeJavaScript: JavaScriptRuntime{},
			RuntimeExpr:       ExprRuntime{},
			RuntimeWasm:       WasmRuntime{},
		},
	}
	for _, opt := range opts {
		opt(l)
	}
	l.logger = logger.OrNop(l.logger)
	return l
}

var defaultLibrary = NewLibrary()

// Apply runs one transformation over batch using the default library
func Apply(t pipeline.Transformation, batch []Record) ([]Record, error) {
	res, err := defaultLibrary.Apply(context.Background(), t, batch)
	if err != nil {
		return nil, err
	}
	return res.Records, nil
}

// Apply runs one transformation over batch. The input batch and its records
// are never modified.
func (l *Library) Apply(ctx context.Context, t pipeline.Transformation, batch []Record) (Result, error) {
	fn, ok := l.kinds[t.Kind]
	if !ok {
		return Result{}, errors.NewValidationError("stage %q: unknown kind %q", t.Name, t.Kind)
	}
	if batch == nil {
		batch = []Record{}
	}

	res, err := fn(ctx, l, t, batch)
	if err != nil {
		return Result{}, errors.Wrapf(err, "stage %q (%s)", t.Name, t.Kind)
	}
	if res.Records == nil {
		res.Records = []Record{}
	}

	l.logger.Debugw("Stage applied",
		logger.FieldStage, t.Name,
		logger.FieldKind, string(t.Kind),
		logger.FieldRecordsIn, len(batch),
		logger.FieldRecordsOut, len(res.Records),
	)
	return res, nil
}

// decodeConfig converts a loosely typed config map into a typed config struct
func decodeConfig(cfg map[string]interface{}, out interface{}) error {
	if cfg == nil {
		cfg = map[string]interface{}{}
	}
	data, err := json.Marshal(cfg)
	if err != nil {
		return errors.Wrapf(errors.ErrValidation, "config is not serializable: %v", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return errors.Wrapf(errors.ErrValidation, "malformed config: %v", err)
	}
	return nil
}

func copyRecord(r Record) Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}
