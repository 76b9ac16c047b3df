package stage

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// toFloat interprets v as a number. Numeric strings count, since CSV and
// query-string sources deliver numbers as text.
func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// toString renders v the way conditions and keys compare it; nil is empty
func toString(v interface{}) string {
	switch s := v.(type) {
	case nil:
		return ""
	case string:
		return s
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		if f, ok := toFloat(v); ok {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return fmt.Sprint(v)
	}
}

// compareValues orders a against b: numerically when both are numbers,
// otherwise by string form.
func compareValues(a, b interface{}) int {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			switch {
			case fa < fb:
				return -1
			case fa > fb:
				return 1
			default:
				return 0
			}
		}
	}
	return strings.Compare(toString(a), toString(b))
}

// keyOf returns a grouping/join key for v; 2, 2.0 and "2" collide
func keyOf(v interface{}) string {
	if v == nil {
		return "\x00nil"
	}
	if f, ok := toFloat(v); ok {
		return "n:" + strconv.FormatFloat(f, 'f', -1, 64)
	}
	return "s:" + toString(v)
}
