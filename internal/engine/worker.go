package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// TaskFunc is one unit of task work dispatched into the pool. Outcomes are
// recorded by the caller (the executor keeps per-task results itself), so
// the function carries no error return.
type TaskFunc func(ctx context.Context)

// PoolMetrics is a snapshot of the pool's counters. Recovered counts
// panics caught by the pool's backstop; task-level recovery happens
// upstream, so a non-zero value here means a bug slipped past it.
type PoolMetrics struct {
	Capacity   int   `json:"capacity"`
	Active     int64 `json:"active"`
	Dispatched int64 `json:"dispatched"`
	Completed  int64 `json:"completed"`
	Recovered  int64 `json:"recovered"`
}

// ErrPoolShutdown is returned when work is submitted to a shut-down pool.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// WorkerPool bounds the concurrency of task execution. Tasks within one
// graph level are independent; RunLevel dispatches a whole level and waits
// for it to drain.
type WorkerPool struct {
	capacity int
	sem      chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	done     chan struct{}
	closed   bool

	active     atomic.Int64
	dispatched atomic.Int64
	completed  atomic.Int64
	recovered  atomic.Int64
}

// NewWorkerPool creates a pool with the given max concurrency.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		capacity: size,
		sem:      make(chan struct{}, size),
		done:     make(chan struct{}),
	}
}

// Submit enqueues one task. It blocks while the pool is at capacity
// (backpressure) and respects context cancellation while waiting. Returns
// ErrPoolShutdown if the pool has been shut down.
func (p *WorkerPool) Submit(ctx context.Context, fn TaskFunc) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolShutdown
	}
	p.mu.Unlock()

	select {
	case p.sem <- struct{}{}:
		// Slot acquired.
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolShutdown
	}

	// Re-check closed after acquiring the slot, in case Shutdown raced.
	// wg.Add(1) MUST be inside the lock to prevent race with Shutdown's wg.Wait().
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.sem // release slot
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.active.Add(1)
	p.dispatched.Add(1)
	p.mu.Unlock()

	go func() {
		defer func() {
			if r := recover(); r != nil {
				p.recovered.Add(1)
			}
			p.active.Add(-1)
			<-p.sem // release slot
			p.wg.Done()
		}()

		fn(ctx)
		p.completed.Add(1)
	}()

	return nil
}

// RunLevel dispatches one level of independent tasks and blocks until every
// dispatched task has finished. When a dispatch fails (shutdown, cancelled
// context) the remaining tasks of the level are not dispatched; the tasks
// already in flight still drain before the error is returned.
func (p *WorkerPool) RunLevel(ctx context.Context, tasks []TaskFunc) error {
	var wg sync.WaitGroup
	var dispatchErr error

	for _, fn := range tasks {
		fn := fn
		wg.Add(1)
		err := p.Submit(ctx, func(taskCtx context.Context) {
			defer wg.Done()
			fn(taskCtx)
		})
		if err != nil {
			wg.Done()
			dispatchErr = err
			break
		}
	}

	wg.Wait()
	return dispatchErr
}

// Wait blocks until all submitted work completes.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Shutdown gracefully stops the pool. It prevents new submissions and waits
// for all active work to complete.
func (p *WorkerPool) Shutdown() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the current pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Capacity:   p.capacity,
		Active:     p.active.Load(),
		Dispatched: p.dispatched.Load(),
		Completed:  p.completed.Load(),
		Recovered:  p.recovered.Load(),
	}
}
