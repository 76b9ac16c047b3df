package logger

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"go.uber.org/zap/buffer"
	"go.uber.org/zap/zapcore"
)

const (
	colorReset = "\x1b[0m"
	colorBold  = "\x1b[1m"

	colorFg     = "\x1b[38;5;223m"
	colorTime   = "\x1b[38;5;107m"
	colorID     = "\x1b[38;5;109m"
	colorNumber = "\x1b[38;5;108m"
	colorStage  = "\x1b[38;5;208m"
	colorWarn   = "\x1b[38;5;179m"
	colorErr    = "\x1b[38;5;167m"
	colorWarnBg = "\x1b[48;5;58m"
	colorErrBg  = "\x1b[48;5;52m"
)

var componentColors = []string{"\x1b[38;5;108m", "\x1b[38;5;65m", "\x1b[38;5;208m"}

var bracketPattern = regexp.MustCompile(`\[([^\]]+)\]`)

// idFields are printed as bare values ahead of the other fields
var idFields = []string{FieldPipelineID, FieldExecutionID, FieldTemplateID, FieldRequestID}

var bufferPool = buffer.NewPool()

// consoleEncoder writes one compact, coloured line per entry:
//
//	13:04:35  WARN  engine  Stage failed [filter]  ex_7Hq2  duration_ms=12 error=boom
//
// Every field is printed. Ids come first as bare values, the rest as key=value
// in key order.
type consoleEncoder struct {
	zapcore.ObjectEncoder
	fields *zapcore.MapObjectEncoder
	color  bool
}

func newConsoleEncoder(color bool) *consoleEncoder {
	fields := zapcore.NewMapObjectEncoder()
	return &consoleEncoder{ObjectEncoder: fields, fields: fields, color: color}
}

func (enc *consoleEncoder) Clone() zapcore.Encoder {
	clone := newConsoleEncoder(enc.color)
	for k, v := range enc.fields.Fields {
		clone.fields.Fields[k] = v
	}
	return clone
}

func (enc *consoleEncoder) EncodeEntry(ent zapcore.Entry, fields []zapcore.Field) (*buffer.Buffer, error) {
	all := enc.Clone().(*consoleEncoder)
	for _, f := range fields {
		f.AddTo(all.fields)
	}

	line := bufferPool.Get()
	line.AppendString(enc.paint(colorTime, ent.Time.Format("15:04:05")))

	if ent.Level != zapcore.InfoLevel {
		line.AppendString("  ")
		line.AppendString(enc.level(ent.Level))
	}
	if ent.LoggerName != "" {
		line.AppendString("  ")
		line.AppendString(enc.paint(componentColor(ent.LoggerName), ent.LoggerName))
	}

	line.AppendString("  ")
	line.AppendString(enc.message(ent.Message))

	if rendered := enc.renderFields(all.fields.Fields); rendered != "" {
		line.AppendString("  ")
		line.AppendString(rendered)
	}
	if ent.Stack != "" && ent.Level >= zapcore.ErrorLevel {
		line.AppendString("\n")
		line.AppendString(ent.Stack)
	}
	line.AppendString("\n")
	return line, nil
}

func (enc *consoleEncoder) paint(color, s string) string {
	if !enc.color {
		return s
	}
	return color + s + colorReset
}

func (enc *consoleEncoder) level(level zapcore.Level) string {
	switch {
	case level == zapcore.DebugLevel:
		return "DEBUG"
	case level == zapcore.WarnLevel:
		return enc.paint(colorBold+colorWarnBg+colorWarn, "WARN")
	default:
		return enc.paint(colorBold+colorErrBg+colorErr, level.CapitalString())
	}
}

// message highlights bracketed stage names such as "[filter]"
func (enc *consoleEncoder) message(msg string) string {
	if !enc.color {
		return msg
	}
	return colorFg + bracketPattern.ReplaceAllStringFunc(msg, func(m string) string {
		return colorStage + m + colorReset + colorFg
	}) + colorReset
}

func (enc *consoleEncoder) renderFields(fields map[string]interface{}) string {
	if len(fields) == 0 {
		return ""
	}

	var parts []string
	seen := make(map[string]bool, len(idFields))
	for _, key := range idFields {
		if v, ok := fields[key]; ok {
			parts = append(parts, enc.paint(colorID, fmt.Sprint(v)))
			seen[key] = true
		}
	}

	keys := make([]string, 0, len(fields))
	for k := range fields {
		if !seen[k] {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	for _, k := range keys {
		value := formatFieldValue(fields[k])
		switch fields[k].(type) {
		case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, float32, float64:
			value = enc.paint(colorNumber, value)
		}
		if k == FieldError {
			value = enc.paint(colorErr, value)
		}
		parts = append(parts, k+"="+value)
	}
	return strings.Join(parts, " ")
}

func formatFieldValue(v interface{}) string {
	switch val := v.(type) {
	case nil:
		return "<nil>"
	case []interface{}:
		items := make([]string, len(val))
		for i, item := range val {
			items[i] = formatFieldValue(item)
		}
		return "[" + strings.Join(items, ",") + "]"
	default:
		return fmt.Sprint(val)
	}
}

func componentColor(name string) string {
	hash := 0
	for _, c := range name {
		hash += int(c)
	}
	return componentColors[hash%len(componentColors)]
}
