package execution

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/teranos/plumb/errors"
)

// Store persists executions. List methods return summaries without logs and
// errors; Get returns the full record.
type Store interface {
	Save(ctx context.Context, e *Execution) error
	// Update replaces status, end time and counters. Rejected once the stored record is terminal.
	Update(ctx context.Context, e *Execution) error
	AppendLog(ctx context.Context, executionID string, entry LogEntry) error
	AppendError(ctx context.Context, executionID string, e Error) error
	Get(ctx context.Context, id string) (*Execution, error)
	// ListByPipeline returns the pipeline's executions, newest first
	ListByPipeline(ctx context.Context, pipelineID string) ([]*Execution, error)
	// ListSince returns executions started at or after since, newest first
	ListSince(ctx context.Context, pipelineID string, since time.Time) ([]*Execution, error)
	ListRunning(ctx context.Context) ([]*Execution, error)
	DeleteByPipeline(ctx context.Context, pipelineID string) (int, error)
}

// MemoryStore keeps executions in process
type MemoryStore struct {
	mu         sync.RWMutex
	executions map[string]*Execution
}

// NewMemoryStore creates an empty store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{executions: make(map[string]*Execution)}
}

// Save inserts a new execution
func (s *MemoryStore) Save(_ context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.executions[e.ID]; ok {
		return errors.NewConflictError("execution %s already exists", e.ID)
	}
	s.executions[e.ID] = e.Clone()
	return nil
}

// Update replaces the mutable fields of a non-terminal execution
func (s *MemoryStore) Update(_ context.Context, e *Execution) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.mutable(e.ID)
	if err != nil {
		return err
	}
	stored.Status = e.Status
	if e.EndTime != nil {
		t := *e.EndTime
		stored.EndTime = &t
	} else {
		stored.EndTime = nil
	}
	stored.RecordsProcessed = e.RecordsProcessed
	stored.RecordsFailed = e.RecordsFailed
	return nil
}

// AppendLog adds an entry to a non-terminal execution
func (s *MemoryStore) AppendLog(_ context.Context, executionID string, entry LogEntry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.mutable(executionID)
	if err != nil {
		return err
	}
	stored.Logs = append(stored.Logs, entry)
	return nil
}

// AppendError adds an error to a non-terminal execution
func (s *MemoryStore) AppendError(_ context.Context, executionID string, e Error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, err := s.mutable(executionID)
	if err != nil {
		return err
	}
	stored.Errors = append(stored.Errors, e)
	return nil
}

// mutable requires s.mu held
func (s *MemoryStore) mutable(id string) (*Execution, error) {
	stored, ok := s.executions[id]
	if !ok {
		return nil, errors.NewNotFoundError("execution %s", id)
	}
	if stored.Status.IsTerminal() {
		return nil, errors.AssertionFailedf("execution %s is %s and can no longer change", id, stored.Status)
	}
	return stored, nil
}

// Get returns a copy of the execution with logs and errors
func (s *MemoryStore) Get(_ context.Context, id string) (*Execution, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.executions[id]
	if !ok {
		return nil, errors.NewNotFoundError("execution %s", id)
	}
	return e.Clone(), nil
}

// ListByPipeline returns summaries newest first
func (s *MemoryStore) ListByPipeline(_ context.Context, pipelineID string) ([]*Execution, error) {
	return s.filter(func(e *Execution) bool { return e.PipelineID == pipelineID }), nil
}

// ListSince returns summaries started at or after since, newest first
func (s *MemoryStore) ListSince(_ context.Context, pipelineID string, since time.Time) ([]*Execution, error) {
	return s.filter(func(e *Execution) bool {
		return e.PipelineID == pipelineID && !e.StartTime.Before(since)
	}), nil
}

// ListRunning returns every running execution, newest first
func (s *MemoryStore) ListRunning(_ context.Context) ([]*Execution, error) {
	return s.filter(func(e *Execution) bool { return e.Status == StatusRunning }), nil
}

func (s *MemoryStore) filter(keep func(*Execution) bool) []*Execution {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := []*Execution{}
	for _, e := range s.executions {
		if keep(e) {
			out = append(out, summary(e))
		}
	}
	sortNewestFirst(out)
	return out
}

// DeleteByPipeline removes all of a pipeline's executions
func (s *MemoryStore) DeleteByPipeline(_ context.Context, pipelineID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for id, e := range s.executions {
		if e.PipelineID == pipelineID {
			delete(s.executions, id)
			n++
		}
	}
	return n, nil
}

func summary(e *Execution) *Execution {
	c := *e
	if e.EndTime != nil {
		t := *e.EndTime
		c.EndTime = &t
	}
	c.Errors = []Error{}
	c.Logs = []LogEntry{}
	return &c
}

func sortNewestFirst(list []*Execution) {
	sort.Slice(list, func(i, j int) bool {
		if !list[i].StartTime.Equal(list[j].StartTime) {
			return list[i].StartTime.After(list[j].StartTime)
		}
		return list[i].ID > list[j].ID
	})
}
