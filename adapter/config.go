package adapter

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"

	"github.com/teranos/plumb/errors"
)

func optString(cfg map[string]interface{}, key string) string {
	s, _ := cfg[key].(string)
	return s
}

func requireString(cfg map[string]interface{}, key string) (string, error) {
	s := optString(cfg, key)
	if s == "" {
		return "", errors.WithHint(
			errors.NewValidationError("adapter config is missing %q", key),
			"set it in the source or destination config map",
		)
	}
	return s, nil
}

// optInt accepts JSON numbers (float64), Go ints and numeric strings
func optInt(cfg map[string]interface{}, key string, def int) int {
	switch v := cfg[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return def
}

func optFloat(cfg map[string]interface{}, key string, def float64) float64 {
	switch v := cfg[key].(type) {
	case int:
		return float64(v)
	case int64:
		return float64(v)
	case float64:
		return v
	case string:
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func optBool(cfg map[string]interface{}, key string, def bool) bool {
	switch v := cfg[key].(type) {
	case bool:
		return v
	case string:
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return def
}

func optStringMap(cfg map[string]interface{}, key string) map[string]string {
	raw, _ := cfg[key].(map[string]interface{})
	out := make(map[string]string, len(raw))
	for k, v := range raw {
		if s, ok := v.(string); ok {
			out[k] = s
		}
	}
	return out
}

var identifierPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func requireIdentifier(cfg map[string]interface{}, key string) (string, error) {
	name, err := requireString(cfg, key)
	if err != nil {
		return "", err
	}
	if !identifierPattern.MatchString(name) {
		return "", errors.NewValidationError("%s %q is not a valid identifier", key, name)
	}
	return name, nil
}

// columnsOf returns the sorted union of keys across records
func columnsOf(records []Record) []string {
	seen := make(map[string]bool)
	var cols []string
	for _, r := range records {
		for k := range r {
			if !seen[k] {
				seen[k] = true
				cols = append(cols, k)
			}
		}
	}
	sort.Strings(cols)
	return cols
}

// recordKey normalises an upsert key so 1, 1.0 and "1" address the same row
func recordKey(v interface{}) string {
	switch n := v.(type) {
	case float64:
		return strconv.FormatFloat(n, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(n), 'f', -1, 64)
	case int:
		return strconv.Itoa(n)
	case int64:
		return strconv.FormatInt(n, 10)
	case string:
		if f, err := strconv.ParseFloat(n, 64); err == nil {
			return strconv.FormatFloat(f, 'f', -1, 64)
		}
		return n
	case nil:
		return ""
	}
	return fmt.Sprint(v)
}
