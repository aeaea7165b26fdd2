package engine

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// ErrPoolShutdown is returned for work offered to a pool after Shutdown.
var ErrPoolShutdown = errors.New("worker pool is shut down")

// PoolMetrics is a point-in-time view of a pool's counters.
type PoolMetrics struct {
	Active    int64 `json:"active"`
	Completed int64 `json:"completed"`
	Failed    int64 `json:"failed"`
	Panics    int64 `json:"panics"`
	Abandoned int64 `json:"abandoned"`
}

// WorkerPool runs functions on goroutines, at most Size at a time. Async
// flows dispatch execute attempts through one; parallel batch nodes fan
// their items out over one.
type WorkerPool struct {
	slots chan struct{}
	stop  chan struct{}
	once  sync.Once

	// mu orders wg.Add against Shutdown's wg.Wait.
	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup

	active, completed, failed, panics, abandoned atomic.Int64
}

// NewWorkerPool returns a pool bounded to size goroutines; size < 1 means 1.
func NewWorkerPool(size int) *WorkerPool {
	return &WorkerPool{
		slots: make(chan struct{}, max(size, 1)),
		stop:  make(chan struct{}),
	}
}

func (p *WorkerPool) Size() int { return cap(p.slots) }

// Submit starts fn once a slot frees up and returns without waiting for it.
// While the pool is full it blocks until a slot frees, ctx ends or the pool
// shuts down. Panics in fn are recovered and counted.
func (p *WorkerPool) Submit(ctx context.Context, fn func(ctx context.Context) error) error {
	return p.spawn(ctx, func(ctx context.Context) error {
		return SafeCall(func() error { return fn(ctx) })
	})
}

// Do runs fn on the pool and returns its error, or ctx's error if ctx ends
// first. An abandoned fn keeps its slot until it returns.
func (p *WorkerPool) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	result := make(chan error, 1)
	if err := p.spawn(ctx, func(ctx context.Context) error {
		err := SafeCall(func() error { return fn(ctx) })
		result <- err
		return err
	}); err != nil {
		return err
	}

	select {
	case err := <-result:
		return err
	case <-ctx.Done():
		p.abandoned.Add(1)
		return ctx.Err()
	}
}

func (p *WorkerPool) spawn(ctx context.Context, fn func(ctx context.Context) error) error {
	select {
	case <-p.stop:
		return ErrPoolShutdown
	default:
	}

	select {
	case p.slots <- struct{}{}:
	case <-p.stop:
		return ErrPoolShutdown
	case <-ctx.Done():
		return ctx.Err()
	}

	p.mu.RLock()
	if p.closed {
		p.mu.RUnlock()
		<-p.slots
		return ErrPoolShutdown
	}
	p.wg.Add(1)
	p.mu.RUnlock()

	p.active.Add(1)
	go func() {
		defer p.wg.Done()
		defer func() { <-p.slots }()
		defer p.active.Add(-1)
		p.record(fn(ctx))
	}()
	return nil
}

func (p *WorkerPool) record(err error) {
	switch {
	case err == nil:
		p.completed.Add(1)
	case IsPanic(err):
		p.panics.Add(1)
		p.failed.Add(1)
	default:
		p.failed.Add(1)
	}
}

// Wait blocks until every started function has returned.
func (p *WorkerPool) Wait() { p.wg.Wait() }

// Shutdown rejects further work, wakes blocked submitters and waits for
// running functions. Calling it again is a no-op.
func (p *WorkerPool) Shutdown() {
	p.once.Do(func() {
		close(p.stop)
		p.mu.Lock()
		p.closed = true
		p.mu.Unlock()
	})
	p.wg.Wait()
}

func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:    p.active.Load(),
		Completed: p.completed.Load(),
		Failed:    p.failed.Load(),
		Panics:    p.panics.Load(),
		Abandoned: p.abandoned.Load(),
	}
}
