package pipeline

import (
	"context"
	"sort"
	"sync"

	"github.com/teranos/plumb/errors"
)

// Store persists pipeline definitions. Implementations return copies, so
// callers may mutate what they get back without affecting stored state.
type Store interface {
	Get(ctx context.Context, id string) (*Pipeline, error)
	List(ctx context.Context) ([]*Pipeline, error)
	Save(ctx context.Context, p *Pipeline) error
	Delete(ctx context.Context, id string) (bool, error)
}

// MemoryStore is a concurrency-safe in-process Store
type MemoryStore struct {
	mu        sync.RWMutex
	pipelines map[string]*Pipeline
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{pipelines: make(map[string]*Pipeline)}
}

// Get returns a copy of the pipeline or ErrNotFound
func (s *MemoryStore) Get(_ context.Context, id string) (*Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	p, ok := s.pipelines[id]
	if !ok {
		return nil, errors.NewNotFoundError("pipeline %s", id)
	}
	return p.Clone(), nil
}

// List returns copies of all pipelines, oldest first
func (s *MemoryStore) List(_ context.Context) ([]*Pipeline, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*Pipeline, 0, len(s.pipelines))
	for _, p := range s.pipelines {
		out = append(out, p.Clone())
	}
	sortPipelines(out)
	return out, nil
}

// Save inserts or replaces a pipeline
func (s *MemoryStore) Save(_ context.Context, p *Pipeline) error {
	if p == nil || p.ID == "" {
		return errors.New("cannot save pipeline without id")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	s.pipelines[p.ID] = p.Clone()
	return nil
}

// Delete removes a pipeline, reporting whether it existed
func (s *MemoryStore) Delete(_ context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.pipelines[id]; !ok {
		return false, nil
	}
	delete(s.pipelines, id)
	return true, nil
}

func sortPipelines(ps []*Pipeline) {
	sort.Slice(ps, func(i, j int) bool {
		if ps[i].CreatedAt.Equal(ps[j].CreatedAt) {
			return ps[i].ID < ps[j].ID
		}
		return ps[i].CreatedAt.Before(ps[j].CreatedAt)
	})
}
