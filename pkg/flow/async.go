package flow

import (
	"context"
	"sync"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

// AsyncFlow has the same graph and state machine as Flow, but runs in the
// background. Every Execute attempt is dispatched on a worker pool shared by
// all runs of the flow and awaited against the run's context, so a node that
// ignores cancellation cannot hold a cancelled run.
type AsyncFlow struct {
	*Flow
	pool     *engine.WorkerPool
	poolOnce sync.Once
}

// NewAsync creates an empty async flow. WithPoolSize bounds its concurrency
// (default 10).
func NewAsync(name string, opts ...Option) *AsyncFlow {
	return &AsyncFlow{Flow: New(name, opts...)}
}

func (a *AsyncFlow) workers() *engine.WorkerPool {
	a.poolOnce.Do(func() { a.pool = engine.NewWorkerPool(a.poolSize) })
	return a.pool
}

// Submit begins a run and returns immediately. ctx bounds the run; cancel it
// or call Execution.Cancel to stop the run.
func (a *AsyncFlow) Submit(ctx context.Context, shared *Shared) *Execution {
	pool := a.workers()
	r, err := a.newRun(shared, pool.Do)

	rctx, cancel := context.WithCancel(ctx)
	ex := &Execution{run: r, done: make(chan struct{}), cancel: cancel}
	if err != nil {
		ex.err = err
		cancel()
		close(ex.done)
		return ex
	}

	go func() {
		defer close(ex.done)
		defer cancel()
		_, ex.err = r.exec(rctx)
	}()
	return ex
}

// Run submits a run and waits for it to finish.
func (a *AsyncFlow) Run(ctx context.Context, shared *Shared) (*Shared, error) {
	ex := a.Submit(ctx, shared)
	<-ex.done
	return ex.run.shared, ex.err
}

// Do submits a run and returns its Execution once the run finishes.
func (a *AsyncFlow) Do(ctx context.Context, shared *Shared) *Execution {
	ex := a.Submit(ctx, shared)
	<-ex.done
	return ex
}

// Close waits for in-flight attempts and stops the worker pool. Runs started
// afterwards fail with an execution error.
func (a *AsyncFlow) Close() {
	a.workers().Shutdown()
}

// Execution is a handle to a background run.
type Execution struct {
	run    *run
	done   chan struct{}
	cancel context.CancelFunc
	err    error
}

// RunID returns the run's ID.
func (e *Execution) RunID() string { return e.run.id }

// Shared returns the run's shared context. It is only safe to read once
// Done is closed.
func (e *Execution) Shared() *Shared { return e.run.shared }

// Done is closed when the run reaches a terminal state.
func (e *Execution) Done() <-chan struct{} { return e.done }

// Cancel asks the run to stop. The run fails with CANCELLED unless it
// already finished.
func (e *Execution) Cancel() { e.cancel() }

// State returns the run's current state.
func (e *Execution) State() schema.RunState {
	if e.run.fsm == nil {
		return schema.RunStateFailed
	}
	return e.run.fsm.State()
}

// Err returns the run's error once Done is closed, nil before.
func (e *Execution) Err() error {
	select {
	case <-e.done:
		return e.err
	default:
		return nil
	}
}

// Wait blocks until the run finishes or ctx is done. Giving up on the wait
// does not cancel the run.
func (e *Execution) Wait(ctx context.Context) (*Shared, error) {
	select {
	case <-e.done:
		return e.run.shared, e.err
	case <-ctx.Done():
		return e.run.shared, ctx.Err()
	}
}
