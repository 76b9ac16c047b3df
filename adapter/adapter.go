// Package adapter defines the source and destination contracts used by the
// engine and ships the built-in adapters.
package adapter

import (
	"context"
	"sort"
	"sync"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/pipeline"
)

// Record is one row exchanged with an adapter
type Record = pipeline.Record

// Extractor reads records from a source. config is adapter-specific and opaque to the engine.
type Extractor interface {
	Extract(ctx context.Context, config map[string]interface{}) ([]Record, error)
}

// Loader writes records to a destination
type Loader interface {
	Load(ctx context.Context, config map[string]interface{}, mode pipeline.WriteMode, records []Record) error
}

// Registry maps source and destination types to adapters
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
	loaders    map[string]Loader
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{
		extractors: make(map[string]Extractor),
		loaders:    make(map[string]Loader),
	}
}

// RegisterExtractor binds a source type to an extractor, replacing any previous one
func (r *Registry) RegisterExtractor(sourceType string, e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.extractors[sourceType] = e
}

// RegisterLoader binds a destination type to a loader, replacing any previous one
func (r *Registry) RegisterLoader(destinationType string, l Loader) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.loaders[destinationType] = l
}

// Extractor returns the extractor for sourceType
func (r *Registry) Extractor(sourceType string) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[sourceType]
	if !ok {
		return nil, errors.NewNotFoundError("no extractor registered for source type %q", sourceType)
	}
	return e, nil
}

// Loader returns the loader for destinationType
func (r *Registry) Loader(destinationType string) (Loader, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	l, ok := r.loaders[destinationType]
	if !ok {
		return nil, errors.NewNotFoundError("no loader registered for destination type %q", destinationType)
	}
	return l, nil
}

// SourceTypes lists registered source types, sorted
func (r *Registry) SourceTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.extractors))
	for k := range r.extractors {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// DestinationTypes lists registered destination types, sorted
func (r *Registry) DestinationTypes() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.loaders))
	for k := range r.loaders {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ResolveDataset extracts a join dataset described as {"type": ..., "config": {...}}
func (r *Registry) ResolveDataset(ctx context.Context, dataset map[string]interface{}) ([]Record, error) {
	sourceType, _ := dataset["type"].(string)
	if sourceType == "" {
		return nil, errors.NewValidationError("join dataset has no type")
	}
	cfg, _ := dataset["config"].(map[string]interface{})

	e, err := r.Extractor(sourceType)
	if err != nil {
		return nil, err
	}
	return e.Extract(ctx, cfg)
}
