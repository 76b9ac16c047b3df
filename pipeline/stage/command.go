package stage

import (
	"bytes"
	"context"
	"encoding/json"
	"os/exec"

	"github.com/kballard/go-shellquote"

	"github.com/teranos/plumb/errors"
)

// CommandRuntime runs a plugin process: the batch is written to its stdin as
// a JSON array and the output batch is read from stdout. It is not part of the
// default library because it executes arbitrary programs.
type CommandRuntime struct {
	// Dir is the working directory for the process (empty = inherit)
	Dir string
}

// Configured reports whether a command line is present
func (CommandRuntime) Configured(cfg CustomConfig) bool {
	return cfg.Command != ""
}

// Run executes the command once over the whole batch
func (c CommandRuntime) Run(ctx context.Context, cfg CustomConfig, batch []Record) ([]Record, error) {
	args, err := shellquote.Split(cfg.Command)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrValidation, "cannot parse command %q: %v", cfg.Command, err)
	}
	if len(args) == 0 {
		return nil, errors.NewValidationError("empty command")
	}

	input, err := json.Marshal(batch)
	if err != nil {
		return nil, errors.Wrap(err, "failed to marshal batch")
	}

	cmd := exec.CommandContext(ctx, args[0], args[1:]...)
	cmd.Dir = c.Dir
	cmd.Stdin = bytes.NewReader(input)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, errors.WithDetail(
			errors.Wrapf(err, "command %q failed", args[0]),
			stderr.String(),
		)
	}

	return decodeBatch(stdout.Bytes(), "command "+args[0])
}
