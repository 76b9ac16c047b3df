package engine

import "sync"

// guard tracks the running execution of each pipeline
type guard struct {
	mu      sync.Mutex
	running map[string]string // pipelineID -> executionID
}

func newGuard() *guard {
	return &guard{running: make(map[string]string)}
}

// acquire marks pipelineID as running executionID. Returns the current
// holder and false when the pipeline is already running.
func (g *guard) acquire(pipelineID, executionID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if holder, ok := g.running[pipelineID]; ok {
		return holder, false
	}
	g.running[pipelineID] = executionID
	return "", true
}

// release clears the marker if executionID still holds it
func (g *guard) release(pipelineID, executionID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.running[pipelineID] == executionID {
		delete(g.running, pipelineID)
	}
}

func (g *guard) holder(pipelineID string) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.running[pipelineID]
	return id, ok
}
