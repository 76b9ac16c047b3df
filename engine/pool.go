package engine

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"

	"go.uber.org/zap"
)

// pool runs started tasks on at most `workers` goroutines at a time.
// Tasks queue as parked goroutines waiting on the semaphore.
type pool struct {
	sem    chan struct{}
	wg     sync.WaitGroup
	logger *zap.SugaredLogger

	mu     sync.Mutex
	active int
}

func newPool(workers int, log *zap.SugaredLogger) *pool {
	if workers < 1 {
		workers = 1
	}
	return &pool{
		sem:    make(chan struct{}, workers),
		logger: log,
	}
}

// reserve claims a slot that wait honours before the task exists. Every
// reserve must be followed by exactly one start or release.
func (p *pool) reserve() {
	p.wg.Add(1)
}

// release gives back a reserved slot whose task will never start
func (p *pool) release() {
	p.wg.Done()
}

// start runs task in a previously reserved slot. A panic escaping task is
// logged, never propagated.
func (p *pool) start(task func()) {
	go func() {
		defer p.wg.Done()
		p.sem <- struct{}{}
		defer func() { <-p.sem }()

		p.mu.Lock()
		p.active++
		p.mu.Unlock()
		defer func() {
			p.mu.Lock()
			p.active--
			p.mu.Unlock()
		}()

		defer func() {
			if r := recover(); r != nil {
				p.logger.Errorw("Worker recovered from panic",
					"panic", fmt.Sprint(r),
					"stack", string(debug.Stack()),
				)
			}
		}()
		task()
	}()
}

// Active returns the number of tasks currently holding a worker slot
func (p *pool) Active() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.active
}

// wait blocks until every reserved slot is released or its task returned, or ctx is done
func (p *pool) wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *pool) size() int {
	return cap(p.sem)
}
