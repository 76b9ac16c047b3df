package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"github.com/tetratelabs/wazero/sys"

	"github.com/teranos/plumb/errors"
)

// WasmRuntime runs a WASI command module. The batch is written to stdin as a
// JSON array and the module must print the output batch as a JSON array.
// The module gets no filesystem or network access.
type WasmRuntime struct{}

// Configured reports whether a module path is present
func (WasmRuntime) Configured(cfg CustomConfig) bool {
	return cfg.Module != ""
}

// Run executes the module once over the whole batch
func (WasmRuntime) Run(ctx context.Context, cfg CustomConfig, batch []Record) ([]Record, error) {
	wasmBytes, err := os.ReadFile(cfg.Module)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read wasm module %s", cfg.Module)
	}

	input, err := json.Marshal(batch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal batch")
	}

	r := wazero.NewRuntimeWithConfig(ctx, wazero.NewRuntimeConfig().WithCloseOnContextDone(true))
	defer r.Close(ctx)

	if _, err := wasi_snapshot_preview1.Instantiate(ctx, r); err != nil {
		return nil, errors.Wrap(err, "failed to instantiate WASI")
	}

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrValidation, "failed to compile wasm module %s: %v", cfg.Module, err)
	}

	var stdout, stderr bytes.Buffer
	modCfg := wazero.NewModuleConfig().
		WithStdin(bytes.NewReader(input)).
		WithStdout(&stdout).
		WithStderr(&stderr).
		WithArgs("stage")

	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		var exitErr *sys.ExitError
		if !errors.As(err, &exitErr) || exitErr.ExitCode() != 0 {
			return nil, errors.WithDetail(
				errors.Wrapf(err, "wasm module %s failed", cfg.Module),
				stderr.String(),
			)
		}
	}
	if mod != nil {
		mod.Close(ctx)
	}

	return decodeBatch(stdout.Bytes(), "wasm module "+cfg.Module)
}

// decodeBatch parses the JSON array emitted by an out-of-process stage
func decodeBatch(data []byte, what string) ([]Record, error) {
	var out []Record
	if err := json.Unmarshal(bytes.TrimSpace(data), &out); err != nil {
		return nil, errors.Wrapf(err, "%s did not print a JSON array of records", what)
	}
	if out == nil {
		out = []Record{}
	}
	return out, nil
}
