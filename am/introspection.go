package am

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/viper"

	"github.com/teranos/plumb/errors"
)

// Source says where an effective setting came from
type Source string

const (
	SourceDefault     Source = "default"
	SourceSystem      Source = "system"      // /etc/plumb/config.toml
	SourceUser        Source = "user"        // ~/.plumb/am.toml
	SourceProject     Source = "project"     // am.toml found from the working directory
	SourceEnvironment Source = "environment" // PLUMB_* env vars
)

// Setting is one flattened configuration key with its effective value and origin
type Setting struct {
	Key    string      `json:"key"`
	Value  interface{} `json:"value"`
	Source Source      `json:"source"`
	Path   string      `json:"path,omitempty"` // file path or env var name
}

// Introspect lists every effective setting of the cascaded configuration and
// the layer that set it.
func Introspect() ([]Setting, error) {
	return introspect(GetViper(), ConfigPaths(), os.LookupEnv)
}

func introspect(v *viper.Viper, paths []string, lookupEnv func(string) (string, bool)) ([]Setting, error) {
	origins := make(map[string]Setting)
	for _, path := range paths {
		if _, err := os.Stat(path); err != nil {
			continue
		}
		fv := viper.New()
		fv.SetConfigFile(path)
		fv.SetConfigType("toml")
		if err := fv.ReadInConfig(); err != nil {
			return nil, errors.Wrapf(err, "failed to read %s", path)
		}
		source := sourceForPath(path)
		for key := range flatten(fv.AllSettings(), "") {
			origins[key] = Setting{Source: source, Path: path}
		}
	}

	effective := flatten(v.AllSettings(), "")
	keys := make([]string, 0, len(effective))
	for k := range effective {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	settings := make([]Setting, 0, len(keys))
	for _, key := range keys {
		s, ok := origins[key]
		if !ok {
			s = Setting{Source: SourceDefault}
		}
		envKey := EnvVarName(key)
		if value, set := lookupEnv(envKey); set && value != "" {
			s = Setting{Source: SourceEnvironment, Path: envKey}
		}
		s.Key = key
		s.Value = effective[key]
		settings = append(settings, s)
	}
	return settings, nil
}

// EnvVarName is the environment variable that overrides a dotted key
func EnvVarName(key string) string {
	return "PLUMB_" + strings.ToUpper(strings.ReplaceAll(key, ".", "_"))
}

func sourceForPath(path string) Source {
	if strings.HasPrefix(path, "/etc/") {
		return SourceSystem
	}
	if home, err := os.UserHomeDir(); err == nil && strings.HasPrefix(path, filepath.Join(home, ".plumb")+string(filepath.Separator)) {
		return SourceUser
	}
	return SourceProject
}

// flatten turns nested settings into dotted keys. Maps under data_sources.*.config
// are leaves so adapter options are shown as one value.
func flatten(settings map[string]interface{}, prefix string) map[string]interface{} {
	out := make(map[string]interface{})
	for key, value := range settings {
		full := key
		if prefix != "" {
			full = prefix + "." + key
		}
		nested, ok := value.(map[string]interface{})
		if ok && !isLeafMap(full) {
			for k, v := range flatten(nested, full) {
				out[k] = v
			}
			continue
		}
		out[full] = value
	}
	return out
}

func isLeafMap(key string) bool {
	return strings.HasPrefix(key, "data_sources.") && strings.HasSuffix(key, ".config")
}
