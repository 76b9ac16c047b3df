// Package ids generates prefixed opaque identifiers such as pl_4vJ9... and ex_2Qm1...
package ids

import (
	"strings"

	"github.com/google/uuid"
	"github.com/mr-tron/base58"
)

// Identifier prefixes
const (
	PipelinePrefix  = "pl_"
	ExecutionPrefix = "ex_"
	ErrorPrefix     = "err_"
	StagePrefix     = "st_"
)

// New returns prefix followed by a base58-encoded random (v4) UUID
func New(prefix string) string {
	id := uuid.New()
	return prefix + base58.Encode(id[:])
}

// NewPipelineID returns a fresh pipeline identifier
func NewPipelineID() string { return New(PipelinePrefix) }

// NewExecutionID returns a fresh execution identifier
func NewExecutionID() string { return New(ExecutionPrefix) }

// NewErrorID returns a fresh execution error identifier
func NewErrorID() string { return New(ErrorPrefix) }

// NewStageID returns a fresh transformation identifier
func NewStageID() string { return New(StagePrefix) }

// HasPrefix reports whether id carries prefix followed by a decodable 16-byte payload
func HasPrefix(id, prefix string) bool {
	if !strings.HasPrefix(id, prefix) {
		return false
	}
	raw, err := base58.Decode(strings.TrimPrefix(id, prefix))
	return err == nil && len(raw) == 16
}
