package template

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/teranos/plumb/errors"
	"github.com/teranos/plumb/logger"
)

const defaultDebounce = 250 * time.Millisecond

// DirStore serves built-in templates plus every *.yaml / *.yml file in a
// directory. Files override built-ins with the same id. A file that fails
// to parse is skipped and logged so the rest stay available.
type DirStore struct {
	dir      string
	builtins []*Template
	logger   *zap.SugaredLogger

	mu      sync.RWMutex
	current *MemoryStore

	debounce time.Duration
	timer    *time.Timer
	timerMu  sync.Mutex
}

// NewDirStore loads dir once. An empty dir serves built-ins only.
func NewDirStore(dir string, builtins []*Template, log *zap.SugaredLogger) (*DirStore, error) {
	s := &DirStore{
		dir:      dir,
		builtins: builtins,
		logger:   logger.OrNop(log),
		debounce: defaultDebounce,
	}
	if err := s.Reload(); err != nil {
		return nil, err
	}
	return s, nil
}

// Reload rereads the directory and atomically swaps the template set
func (s *DirStore) Reload() error {
	next, err := NewMemoryStore(s.builtins...)
	if err != nil {
		return err
	}

	loaded := 0
	if s.dir != "" {
		entries, err := os.ReadDir(s.dir)
		if err != nil {
			return errors.Wrapf(err, "failed to read template directory %s", s.dir)
		}
		for _, entry := range entries {
			if entry.IsDir() || !isTemplateFile(entry.Name()) {
				continue
			}
			file := filepath.Join(s.dir, entry.Name())
			data, err := os.ReadFile(file)
			if err != nil {
				s.logger.Warnw("Skipping unreadable template", "file", file, logger.FieldError, err)
				continue
			}
			t, err := Parse(data)
			if err != nil {
				s.logger.Warnw("Skipping invalid template", "file", file, logger.FieldError, err)
				continue
			}
			if err := next.Put(t); err != nil {
				s.logger.Warnw("Skipping invalid template", "file", file, logger.FieldError, err)
				continue
			}
			loaded++
		}
	}

	s.mu.Lock()
	s.current = next
	s.mu.Unlock()

	s.logger.Debugw("Templates loaded", "dir", s.dir, logger.FieldCount, loaded)
	return nil
}

// Get returns a template or ErrNotFound
func (s *DirStore) Get(ctx context.Context, id string) (*Template, error) {
	return s.store().Get(ctx, id)
}

// List returns all templates ordered by id
func (s *DirStore) List(ctx context.Context) ([]*Template, error) {
	return s.store().List(ctx)
}

func (s *DirStore) store() *MemoryStore {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current
}

// Watch reloads the directory whenever files in it change, until ctx is done.
// Bursts of events are coalesced.
func (s *DirStore) Watch(ctx context.Context) error {
	if s.dir == "" {
		return errors.NewInvalidRequestError("no template directory to watch")
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "failed to create fsnotify watcher")
	}
	if err := watcher.Add(s.dir); err != nil {
		watcher.Close()
		return errors.Wrapf(err, "failed to watch template directory %s", s.dir)
	}

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				s.stopTimer()
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isTemplateFile(event.Name) {
					continue
				}
				if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
					continue
				}
				s.logger.Debugw("Template directory changed", "file", event.Name, "op", event.Op.String())
				s.scheduleReload()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				s.logger.Warnw("Template watcher error", logger.FieldError, err)
			}
		}
	}()
	return nil
}

func (s *DirStore) scheduleReload() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.debounce, func() {
		if err := s.Reload(); err != nil {
			s.logger.Errorw("Template reload failed", logger.FieldError, err)
		}
	})
}

func (s *DirStore) stopTimer() {
	s.timerMu.Lock()
	defer s.timerMu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
	}
}

func isTemplateFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	if ext != ".yaml" && ext != ".yml" {
		return false
	}
	base := filepath.Base(name)
	return !strings.HasPrefix(base, ".") && !strings.HasSuffix(base, "~")
}
