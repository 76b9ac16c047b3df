package commands

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/teranos/plumb/am"
	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/logger"
	"github.com/teranos/plumb/service"
)

// closeTimeout bounds how long a command waits for in-flight runs on exit
const closeTimeout = 30 * time.Second

// loadConfig reads --config when given, otherwise the cascaded configuration
func loadConfig(cmd *cobra.Command) (*am.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path != "" {
		return am.LoadFromFile(path)
	}
	cfg, err := am.Load()
	if err != nil {
		return nil, errors.Wrap(err, "failed to load config")
	}
	return cfg, nil
}

// withService builds the service, runs fn and closes the service afterwards
func withService(cmd *cobra.Command, fn func(ctx context.Context, svc *service.Service) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	svc, err := service.New(ctx, cfg, logger.Logger)
	if err != nil {
		return err
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), closeTimeout)
		defer cancel()
		if err := svc.Close(closeCtx); err != nil {
			logger.Warnw("Service did not close cleanly", logger.FieldError, err)
		}
	}()
	return fn(ctx, svc)
}

// decodeFile reads a JSON, YAML or TOML document into out. Documents are
// normalised through JSON so json tags apply whatever the file format.
func decodeFile(path string, out interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return errors.Wrapf(err, "failed to read %s", path)
	}

	var doc map[string]interface{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		err = json.Unmarshal(data, &doc)
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &doc)
	case ".toml":
		err = toml.Unmarshal(data, &doc)
	default:
		return errors.WithHint(
			errors.NewInvalidRequestError("unsupported file type %q", filepath.Ext(path)),
			"use .json, .yaml, .yml or .toml",
		)
	}
	if err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "failed to parse %s: %v", path, err)
	}

	normalised, err := json.Marshal(doc)
	if err != nil {
		return errors.Wrapf(err, "failed to normalise %s", path)
	}
	if err := json.Unmarshal(normalised, out); err != nil {
		return errors.Wrapf(errors.ErrInvalidRequest, "%s does not match the expected shape: %v", path, err)
	}
	return nil
}

// parseParams turns repeated key=value flags into a map. Values stay strings;
// templates coerce them to their declared types.
func parseParams(pairs []string) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(pairs))
	for _, pair := range pairs {
		key, value, ok := strings.Cut(pair, "=")
		if !ok || key == "" {
			return nil, errors.NewInvalidRequestError("parameter %q is not key=value", pair)
		}
		params[key] = value
	}
	return params, nil
}

func printJSON(v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, "failed to marshal JSON")
	}
	fmt.Println(string(data))
	return nil
}

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
