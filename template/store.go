package template

import (
	"context"
	"sync"

	"github.com/teranos/plumb/errors"
)

// Store provides read access to templates
type Store interface {
	Get(ctx context.Context, id string) (*Template, error)
	List(ctx context.Context) ([]*Template, error)
}

// MemoryStore keeps templates in a map
type MemoryStore struct {
	mu        sync.RWMutex
	templates map[string]*Template
}

// NewMemoryStore creates a store holding the given templates
func NewMemoryStore(templates ...*Template) (*MemoryStore, error) {
	s := &MemoryStore{templates: make(map[string]*Template)}
	for _, t := range templates {
		if err := s.Put(t); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Put validates and stores t, replacing any template with the same id
func (s *MemoryStore) Put(t *Template) error {
	if err := t.Validate(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.templates[t.ID] = t.Clone()
	return nil
}

// Get returns a copy of the template or ErrNotFound
func (s *MemoryStore) Get(_ context.Context, id string) (*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.templates[id]
	if !ok {
		return nil, errors.NewNotFoundError("template %s", id)
	}
	return t.Clone(), nil
}

// List returns copies of all templates ordered by id
func (s *MemoryStore) List(_ context.Context) ([]*Template, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]*Template, 0, len(s.templates))
	for _, t := range s.templates {
		out = append(out, t.Clone())
	}
	sortTemplates(out)
	return out, nil
}
