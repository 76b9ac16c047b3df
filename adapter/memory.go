package adapter

import (
	"context"
	"sort"
	"sync"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/internal/util"
	"github.com/teranos/plumb/pipeline"
)

// MemoryAdapter keeps named datasets in process. Config key: "name"; upsert
// also needs "key".
type MemoryAdapter struct {
	mu       sync.RWMutex
	datasets map[string][]Record
}

// NewMemoryAdapter creates an empty memory adapter
func NewMemoryAdapter() *MemoryAdapter {
	return &MemoryAdapter{datasets: make(map[string][]Record)}
}

// Put replaces a dataset
func (m *MemoryAdapter) Put(name string, records []Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.datasets[name] = copyRecords(records)
}

// Dataset returns a copy of a dataset (nil when absent)
func (m *MemoryAdapter) Dataset(name string) []Record {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ds, ok := m.datasets[name]; ok {
		return copyRecords(ds)
	}
	return nil
}

// Names lists dataset names, sorted
func (m *MemoryAdapter) Names() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]string, 0, len(m.datasets))
	for k := range m.datasets {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Extract returns a copy of the named dataset
func (m *MemoryAdapter) Extract(_ context.Context, config map[string]interface{}) ([]Record, error) {
	name, err := requireString(config, "name")
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	ds, ok := m.datasets[name]
	if !ok {
		return nil, errors.NewNotFoundError("memory dataset %q", name)
	}
	return copyRecords(ds), nil
}

// Load writes records into the named dataset
func (m *MemoryAdapter) Load(_ context.Context, config map[string]interface{}, mode pipeline.WriteMode, records []Record) error {
	name, err := requireString(config, "name")
	if err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	merged, err := mergeRecords(m.datasets[name], records, mode, optString(config, "key"))
	if err != nil {
		return err
	}
	m.datasets[name] = copyRecords(merged)
	return nil
}

// mergeRecords applies a write mode to an existing record set
func mergeRecords(existing, incoming []Record, mode pipeline.WriteMode, key string) ([]Record, error) {
	switch mode {
	case pipeline.ModeReplace:
		return incoming, nil
	case pipeline.ModeUpsert:
		if key == "" {
			return nil, errors.NewValidationError("upsert needs a \"key\" column")
		}
		out := append([]Record(nil), existing...)
		pos := make(map[string]int, len(out))
		for i, r := range out {
			pos[recordKey(r[key])] = i
		}
		for _, r := range incoming {
			k := recordKey(r[key])
			if i, ok := pos[k]; ok {
				out[i] = r
				continue
			}
			pos[k] = len(out)
			out = append(out, r)
		}
		return out, nil
	case pipeline.ModeAppend, "":
		return append(append([]Record(nil), existing...), incoming...), nil
	default:
		return nil, errors.NewValidationError("unknown write mode %q", mode)
	}
}

func copyRecords(records []Record) []Record {
	out := make([]Record, len(records))
	for i, r := range records {
		out[i] = util.DeepCopyMap(r)
	}
	return out
}
