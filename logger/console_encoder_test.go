package logger

import (
	"errors"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var ansiPattern = regexp.MustCompile(`\x1b\[[0-9;]*m`)

func stripANSI(s string) string {
	return ansiPattern.ReplaceAllString(s, "")
}

func encode(t *testing.T, enc zapcore.Encoder, ent zapcore.Entry, fields ...zapcore.Field) string {
	t.Helper()
	buf, err := enc.EncodeEntry(ent, fields)
	require.NoError(t, err)
	defer buf.Free()
	return buf.String()
}

func TestConsoleEncoderNeverDiscardsFields(t *testing.T) {
	ent := zapcore.Entry{
		Level:      zapcore.InfoLevel,
		Time:       time.Date(2026, 3, 1, 13, 4, 35, 0, time.UTC),
		LoggerName: "engine",
		Message:    "Stage applied [filter]",
	}

	out := stripANSI(encode(t, newConsoleEncoder(true), ent,
		zap.String(FieldPipelineID, "pl_nightly"),
		zap.String(FieldExecutionID, "ex_42"),
		zap.Int(FieldRecordsIn, 10),
		zap.Int(FieldRecordsOut, 7),
		zap.Bool("dry_run", true),
		zap.Float64("ratio", 0.7),
		zap.Strings("columns", []string{"id", "amount"}),
		zap.Error(errors.New("boom")),
		zap.String("field.with.dots", "x"),
	))

	for _, want := range []string{
		"13:04:35", "engine", "Stage applied [filter]",
		"pl_nightly", "ex_42",
		"records_in=10", "records_out=7", "dry_run=true", "ratio=0.7",
		"columns=[id,amount]", "error=boom", "field.with.dots=x",
	} {
		assert.Contains(t, out, want)
	}
	assert.True(t, strings.HasSuffix(out, "\n"))
}

func TestConsoleEncoderOrdersIDsFirst(t *testing.T) {
	out := encode(t, newConsoleEncoder(false), zapcore.Entry{Message: "run finished"},
		zap.Int("count", 3),
		zap.String(FieldExecutionID, "ex_1"),
		zap.String(FieldPipelineID, "pl_1"),
		zap.String("adapter", "file"),
	)

	assert.Contains(t, out, "run finished  pl_1 ex_1 adapter=file count=3")
}

func TestConsoleEncoderLevels(t *testing.T) {
	enc := newConsoleEncoder(false)

	info := encode(t, enc, zapcore.Entry{Level: zapcore.InfoLevel, Message: "hello"})
	assert.NotContains(t, info, "INFO")

	warn := encode(t, enc, zapcore.Entry{Level: zapcore.WarnLevel, Message: "careful"})
	assert.Contains(t, warn, "WARN  careful")

	errLine := encode(t, enc, zapcore.Entry{Level: zapcore.ErrorLevel, Message: "broken", Stack: "goroutine 1"})
	assert.Contains(t, errLine, "ERROR  broken")
	assert.Contains(t, errLine, "goroutine 1")
}

func TestConsoleEncoderWithContextFields(t *testing.T) {
	enc := newConsoleEncoder(false)
	enc.AddString(FieldComponent, "server")

	clone := enc.Clone()
	out := encode(t, clone, zapcore.Entry{Message: "listening"}, zap.Int("port", 8787))
	assert.Contains(t, out, "component=server port=8787")

	// encoding must not leak entry fields back into the shared encoder
	again := encode(t, enc, zapcore.Entry{Message: "again"})
	assert.NotContains(t, again, "port=")
}

func TestConsoleEncoderPlain(t *testing.T) {
	out := encode(t, newConsoleEncoder(false), zapcore.Entry{Message: "x [y]"}, zap.Int("n", 1))
	assert.Equal(t, out, stripANSI(out))
}
