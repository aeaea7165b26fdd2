package flow

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

type stepKind int

const (
	kindNode stepKind = iota
	kindBatch
	kindSubflow
	kindBatchFlow
)

func (k stepKind) String() string {
	switch k {
	case kindBatch:
		return "batch"
	case kindSubflow:
		return "subflow"
	case kindBatchFlow:
		return "batch_flow"
	default:
		return "node"
	}
}

// Step is a node bound to an ID and its execution options. Steps are the
// vertices of a flow; the same Step may be added to several flows.
type Step struct {
	id   string
	kind stepKind
	cfg  stepConfig
	err  error
	exec func(ctx context.Context, r *run) (schema.Action, error)
}

// ID returns the step's identifier.
func (s *Step) ID() string { return s.id }

// Kind returns "node", "batch", "subflow" or "batch_flow".
func (s *Step) Kind() string { return s.kind.String() }

// RetryPolicy returns the policy applied to Execute.
func (s *Step) RetryPolicy() schema.RetryPolicy { return s.cfg.retry }

// Err returns the construction error, if any. Flows refuse steps with one.
func (s *Step) Err() error { return s.err }

func newStep(id string, kind stepKind, opts []StepOption) *Step {
	cfg := defaultStepConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	s := &Step{id: id, kind: kind, cfg: cfg}
	if id == "" {
		s.err = schema.NewError(schema.ErrCodeValidation, "step id must not be empty")
		return s
	}
	if err := cfg.validate(); err != nil {
		s.err = schema.NewError(schema.ErrCodeValidation, message(err)).WithNode(id).WithCause(err)
	}
	return s
}

// NewStep binds node to id.
func NewStep[P, R any](id string, node Node[P, R], opts ...StepOption) *Step {
	s := newStep(id, kindNode, opts)
	if node == nil {
		s.err = schema.NewError(schema.ErrCodeValidation, "node must not be nil").WithNode(id)
		return s
	}
	fb, _ := node.(Fallbacker[P, R])

	s.exec = func(ctx context.Context, r *run) (schema.Action, error) {
		var in P
		if err := engine.SafeCall(func() (err error) {
			in, err = node.Prepare(ctx, r.shared)
			return err
		}); err != nil {
			return "", prepareError(s.id, err)
		}
		r.logger.DebugContext(ctx, "node prepared")

		out, attempts, err := attempt(ctx, r, s, nil, func(ctx context.Context) (R, error) {
			return node.Execute(ctx, in)
		})
		if err != nil {
			if fb == nil || isCancelled(err) {
				return "", executionError(s.id, attempts, err)
			}
			if ferr := engine.SafeCall(func() (e error) {
				out, e = fb.Fallback(ctx, in, err)
				return e
			}); ferr != nil {
				return "", executionError(s.id, attempts, ferr)
			}
			r.logger.InfoContext(ctx, "fallback recovered node", "attempts", attempts, "error", err)
		}
		r.logger.DebugContext(ctx, "node executed", "attempts", attempts)

		return finalizeStep(s.id, func() (schema.Action, error) {
			return node.Finalize(ctx, r.shared, in, out)
		})
	}
	return s
}

// NewBatchStep binds a batch node to id. Items run one at a time unless
// WithParallelism is given.
func NewBatchStep[I, R any](id string, node BatchNode[I, R], opts ...StepOption) *Step {
	s := newStep(id, kindBatch, opts)
	if node == nil {
		s.err = schema.NewError(schema.ErrCodeValidation, "batch node must not be nil").WithNode(id)
		return s
	}
	fb, _ := node.(Fallbacker[I, R])

	s.exec = func(ctx context.Context, r *run) (schema.Action, error) {
		var items []I
		if err := engine.SafeCall(func() (err error) {
			items, err = node.Prepare(ctx, r.shared)
			return err
		}); err != nil {
			return "", prepareError(s.id, err)
		}
		r.logger.DebugContext(ctx, "batch prepared", "items", len(items), "parallelism", s.cfg.parallelism)

		results, err := runItems(ctx, r, s, items, node.Execute, fb)
		if err != nil {
			return "", err
		}

		return finalizeStep(s.id, func() (schema.Action, error) {
			return node.Finalize(ctx, r.shared, items, results)
		})
	}
	return s
}

func finalizeStep(nodeID string, fn func() (schema.Action, error)) (schema.Action, error) {
	var action schema.Action
	if err := engine.SafeCall(func() (err error) {
		action, err = fn()
		return err
	}); err != nil {
		return "", finalizeError(nodeID, err)
	}
	return action.OrDefault(), nil
}

func runItems[I, R any](ctx context.Context, r *run, s *Step, items []I,
	exec func(context.Context, I) (R, error), fb Fallbacker[I, R]) ([]ItemResult[R], error) {

	results := make([]ItemResult[R], len(items))

	one := func(ctx context.Context, i int) error {
		idx := i
		out, attempts, err := attempt(ctx, r, s, &idx, func(ctx context.Context) (R, error) {
			return exec(ctx, items[i])
		})
		if err != nil && fb != nil && !isCancelled(err) {
			err = engine.SafeCall(func() (e error) {
				out, e = fb.Fallback(ctx, items[i], err)
				return e
			})
		}
		if err == nil {
			results[i] = ItemResult[R]{Index: i, Value: out}
			return nil
		}
		if isCancelled(err) {
			return executionError(s.id, attempts, err)
		}

		itemErr := executionError(s.id, attempts, err).
			WithDetails(map[string]any{"item_index": i, "item_count": len(items)})
		if s.cfg.itemPolicy == ItemSkip {
			results[i] = ItemResult[R]{Index: i, Err: itemErr}
			r.logger.WarnContext(ctx, "batch item skipped", "item_index", i, "attempts", attempts, "error", err)
			r.emit(ctx, &schema.Event{Type: schema.EventItemSkipped, NodeID: s.id, ItemIndex: &idx, Attempt: attempts, Error: itemErr})
			return nil
		}
		r.emit(ctx, &schema.Event{Type: schema.EventItemFailed, NodeID: s.id, ItemIndex: &idx, Attempt: attempts, Error: itemErr})
		return itemErr
	}

	if s.cfg.parallelism <= 1 || len(items) <= 1 {
		for i := range items {
			if err := one(ctx, i); err != nil {
				return nil, err
			}
		}
		return results, nil
	}

	if err := runParallel(ctx, s.id, s.cfg.parallelism, len(items), one); err != nil {
		return nil, err
	}
	return results, nil
}

// runParallel executes count items on a pool of n workers. The first item
// error cancels the items still running or queued.
func runParallel(ctx context.Context, nodeID string, n, count int, one func(context.Context, int) error) error {
	pool := engine.NewWorkerPool(n)
	defer pool.Shutdown()

	bctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var (
		once  sync.Once
		first error
	)
	for i := 0; i < count; i++ {
		err := pool.Submit(bctx, func(ctx context.Context) error {
			err := one(ctx, i)
			if err != nil {
				once.Do(func() {
					first = err
					cancel()
				})
			}
			return err
		})
		if err != nil {
			break
		}
	}
	pool.Wait()

	if first != nil {
		return first
	}
	if err := ctx.Err(); err != nil {
		return schema.NewError(schema.ErrCodeCancelled, err.Error()).WithNode(nodeID).WithCause(err)
	}
	return nil
}

// attempt runs fn under the step's retry policy, breaker, rate limiter and
// attempt timeout. item is set for batch items.
func attempt[R any](ctx context.Context, r *run, s *Step, item *int, fn func(context.Context) (R, error)) (R, int, error) {
	var result R
	policy := s.cfg.retry

	attempts, err := engine.Retry(ctx, policy, func(ctx context.Context, n int) error {
		if s.cfg.breaker != nil {
			if err := r.flow.breakers.AllowRequest(s.id); err != nil {
				r.logger.WarnContext(ctx, "circuit open, attempt rejected", "attempt", n)
				r.emit(ctx, &schema.Event{Type: schema.EventCircuitOpen, NodeID: s.id, Attempt: n, ItemIndex: item, Error: flowError(err)})
				return err
			}
		}
		if s.cfg.limiter != nil {
			if err := s.cfg.limiter.Wait(ctx); err != nil {
				return err
			}
		}

		actx, cancel := ctx, context.CancelFunc(func() {})
		if s.cfg.timeout > 0 {
			actx, cancel = context.WithTimeout(ctx, s.cfg.timeout)
		}
		defer cancel()

		var out R
		err := r.dispatch(actx, func(ctx context.Context) error {
			var err error
			out, err = fn(ctx)
			return err
		})
		if err != nil && ctx.Err() == nil && errors.Is(actx.Err(), context.DeadlineExceeded) {
			err = schema.NewErrorf(schema.ErrCodeTimeout, "attempt timed out after %s", s.cfg.timeout).WithCause(err)
		}

		if s.cfg.breaker != nil && ctx.Err() == nil {
			if err == nil {
				r.flow.breakers.RecordSuccess(s.id)
			} else {
				r.flow.breakers.RecordFailure(s.id)
			}
		}

		if err != nil {
			r.emit(ctx, &schema.Event{
				Type: schema.EventNodeAttemptFailed, NodeID: s.id, Attempt: n, ItemIndex: item,
				Error: schema.NewError(schema.ErrCodeTransientExecution, message(err)).WithNode(s.id).WithAttempts(n),
			})
			return err
		}
		result = out
		return nil
	}, func(n int, err error, delay time.Duration) {
		args := []any{"attempt", n, "max_attempts", policy.MaxAttempts, "delay", delay, "error", err}
		if item != nil {
			args = append(args, "item_index", *item)
		}
		r.logger.WarnContext(ctx, "attempt failed, retrying", args...)
	})
	return result, attempts, err
}

func flowError(err error) *schema.FlowError {
	if err == nil {
		return nil
	}
	if fe, ok := schema.AsFlowError(err); ok {
		return fe
	}
	return schema.NewError(schema.ErrCodeExecution, err.Error())
}

func (s *Step) String() string {
	return fmt.Sprintf("%s(%s)", s.kind, s.id)
}
