package logger

import (
	"context"

	"go.uber.org/zap"
)

// Standard field names for consistent structured logging across plumb.
// Use these constants instead of raw strings to ensure consistency.
const (
	// Identity
	FieldPipelineID  = "pipeline_id"
	FieldExecutionID = "execution_id"
	FieldTemplateID  = "template_id"
	FieldRequestID   = "request_id"

	// Components
	FieldComponent = "component"
	FieldAdapter   = "adapter"
	FieldStage     = "stage"
	FieldKind      = "kind"

	// Operations
	FieldOperation = "operation"
	FieldMethod    = "method"
	FieldPath      = "path"

	// Timing
	FieldDurationMS = "duration_ms"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and versions
	FieldCount      = "count"
	FieldRecordsIn  = "records_in"
	FieldRecordsOut = "records_out"
	FieldVersion    = "version"
	FieldStatus     = "status"
	FieldAttempt    = "attempt"
	FieldWorkers    = "workers"
)

// Context keys for propagating logging context
type contextKey string

const (
	pipelineIDKey  contextKey = "logger_pipeline_id"
	executionIDKey contextKey = "logger_execution_id"
	requestIDKey   contextKey = "logger_request_id"
)

// WithPipelineID adds a pipeline ID to the context for logging
func WithPipelineID(ctx context.Context, pipelineID string) context.Context {
	return context.WithValue(ctx, pipelineIDKey, pipelineID)
}

// WithExecutionID adds an execution ID to the context for logging
func WithExecutionID(ctx context.Context, executionID string) context.Context {
	return context.WithValue(ctx, executionIDKey, executionID)
}

// WithRequestID adds a request ID to the context for logging
func WithRequestID(ctx context.Context, requestID string) context.Context {
	return context.WithValue(ctx, requestIDKey, requestID)
}

// FieldsFromContext extracts logging fields from context.
// Returns key-value pairs suitable for use with Infow/Errorw/etc.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if id, ok := ctx.Value(pipelineIDKey).(string); ok && id != "" {
		fields = append(fields, FieldPipelineID, id)
	}
	if id, ok := ctx.Value(executionIDKey).(string); ok && id != "" {
		fields = append(fields, FieldExecutionID, id)
	}
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, FieldRequestID, id)
	}

	return fields
}

// FromContext returns base enriched with the fields carried by ctx.
func FromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	if base == nil {
		base = Logger
	}
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}

// ComponentLogger returns a named logger for a specific component.
// This is the preferred way to get a logger for dependency injection.
//
// Example:
//
//	type Engine struct {
//	    logger *zap.SugaredLogger
//	}
//
//	func New() *Engine {
//	    return &Engine{logger: logger.ComponentLogger("engine")}
//	}
func ComponentLogger(name string) *zap.SugaredLogger {
	return Logger.Named(name)
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l *zap.SugaredLogger) *zap.SugaredLogger {
	if l == nil {
		return zap.NewNop().Sugar()
	}
	return l
}
