package ids

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNew(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id := NewPipelineID()
		assert.True(t, HasPrefix(id, PipelinePrefix), id)
		assert.False(t, seen[id], "duplicate id %s", id)
		seen[id] = true
	}
}

func TestHasPrefix(t *testing.T) {
	assert.True(t, HasPrefix(NewExecutionID(), ExecutionPrefix))
	assert.False(t, HasPrefix(NewExecutionID(), PipelinePrefix))
	assert.False(t, HasPrefix("ex_not-base58!", ExecutionPrefix))
	assert.False(t, HasPrefix("ex_", ExecutionPrefix))
}
