package engine

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/driprun/driprun/pkg/schema"
)

// PoolMetrics counts work processed by a pool.
type PoolMetrics struct {
	Submitted atomic.Int64
	Completed atomic.Int64
	Rejected  atomic.Int64
}

// WorkerPool bounds concurrent step executions. Submit blocks until a slot
// frees or the context ends; Shutdown drains in-flight work.
type WorkerPool struct {
	sem     chan struct{}
	wg      sync.WaitGroup
	mu      sync.Mutex
	closed  bool
	Metrics PoolMetrics
}

func NewWorkerPool(size int) *WorkerPool {
	if size < 1 {
		size = 1
	}
	return &WorkerPool{sem: make(chan struct{}, size)}
}

// Submit schedules fn on the pool. It returns an error when the pool is shut
// down or the context ends before a slot frees.
func (p *WorkerPool) Submit(ctx context.Context, fn func()) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.Metrics.Rejected.Add(1)
		return schema.NewError(schema.ErrCodeConflict, "worker pool is shut down")
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
	case <-ctx.Done():
		p.Metrics.Rejected.Add(1)
		return schema.NewError(schema.ErrCodeTimeout, "no worker slot available").WithCause(ctx.Err())
	}

	// Re-check after acquiring the slot; Shutdown may have raced in.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem
		p.Metrics.Rejected.Add(1)
		return schema.NewError(schema.ErrCodeConflict, "worker pool is shut down")
	}
	p.wg.Add(1)
	p.mu.Unlock()

	p.Metrics.Submitted.Add(1)
	go func() {
		defer func() {
			<-p.sem
			p.wg.Done()
			p.Metrics.Completed.Add(1)
		}()
		fn()
	}()
	return nil
}

// Wait blocks until all submitted work has finished.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown stops accepting work and waits for in-flight work to finish.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	p.closed = true
	p.mu.Unlock()
	p.wg.Wait()
}
