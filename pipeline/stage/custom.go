package stage

import (
	"context"
	"fmt"

	"github.com/teranos/plumb/pipeline"
)

// Custom stage runtimes
const (
	RuntimeJavaScript = "javascript"
	RuntimeExpr       = "expr"
	RuntimeWasm       = "wasm"
	RuntimeCommand    = "command"
)

// CustomConfig is the config of a custom stage. Which fields apply depends on Runtime.
type CustomConfig struct {
	Runtime string `json:"runtime"`

	// javascript: source defining transform(record)
	Script string `json:"script,omitempty"`

	// expr: output field -> expression, and an optional boolean predicate
	Fields map[string]string `json:"fields,omitempty"`
	Where  string            `json:"where,omitempty"`

	// wasm: path to a WASI module
	Module string `json:"module,omitempty"`

	// command: command line of a plugin process
	Command string `json:"command,omitempty"`
}

// Runtime executes a custom stage over a whole batch
type Runtime interface {
	// Configured reports whether cfg carries something for this runtime to run
	Configured(cfg CustomConfig) bool
	Run(ctx context.Context, cfg CustomConfig, batch []Record) ([]Record, error)
}

func applyCustom(ctx context.Context, l *Library, t pipeline.Transformation, batch []Record) (Result, error) {
	var cfg CustomConfig
	if err := decodeConfig(t.Config, &cfg); err != nil {
		return Result{}, err
	}

	rt, ok := l.runtimes[cfg.Runtime]
	if !ok {
		return passThrough(batch, fmt.Sprintf("no runtime %q available for custom stage; batch passed through unchanged", cfg.Runtime)), nil
	}
	if !rt.Configured(cfg) {
		return passThrough(batch, fmt.Sprintf("custom stage has nothing to run for runtime %q; batch passed through unchanged", cfg.Runtime)), nil
	}

	out, err := rt.Run(ctx, cfg, batch)
	if err != nil {
		return Result{}, err
	}
	return Result{Records: out}, nil
}

func passThrough(batch []Record, warning string) Result {
	return Result{Records: batch, Warnings: []string{warning}}
}
