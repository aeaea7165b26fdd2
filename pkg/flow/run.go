package flow

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/pkg/schema"
)

// dispatchFunc runs one Execute attempt. The sync engine calls it inline;
// the async engine hands it to a worker pool.
type dispatchFunc func(ctx context.Context, fn func(context.Context) error) error

func directDispatch(ctx context.Context, fn func(context.Context) error) error {
	return fn(ctx)
}

// run is the state of one execution of a flow.
type run struct {
	flow     *Flow
	id       string
	shared   *Shared
	fsm      *engine.RunFSM
	dispatch dispatchFunc
	events   *emitter
	logger   *slog.Logger
}

// RunID returns the ID of the run executing on ctx, or "".
func RunID(ctx context.Context) string {
	return logging.RunID(ctx)
}

func (f *Flow) newRun(shared *Shared, dispatch dispatchFunc) (*run, error) {
	if shared == nil {
		shared = NewShared(nil)
	}
	r := &run{flow: f, id: uuid.NewString(), shared: shared, dispatch: dispatch}

	f.mu.RLock()
	entry := f.entry
	f.mu.RUnlock()
	if entry == nil {
		return r, schema.NewErrorf(schema.ErrCodeNoEntryNode, "flow %q has no entry step", f.name)
	}
	f.seal()

	r.fsm = engine.NewRunFSM(entry.id)
	r.logger = f.logger.With(slog.String(logging.AttrFlow, f.name), slog.String(logging.AttrRunID, r.id))
	r.events = &emitter{sink: f.sink, logger: r.logger, flow: f.name, runID: r.id}
	return r, nil
}

func (r *run) emit(ctx context.Context, ev *schema.Event) {
	r.events.emit(ctx, ev)
}

// exec drives the run's state machine to a terminal state and returns the
// last action label.
func (r *run) exec(ctx context.Context) (schema.Action, error) {
	f := r.flow
	ctx = logging.WithRun(ctx, f.name, r.id)
	ctx = ContextWithParams(ctx, f.params.Merge(ParamsFrom(ctx)))
	started := time.Now()

	cur, _ := f.Step(r.fsm.Node())
	r.emit(ctx, &schema.Event{Type: schema.EventFlowStarted, NodeID: cur.id})
	r.logger.DebugContext(ctx, "flow started", "entry", cur.id)

	for {
		if err := ctx.Err(); err != nil {
			return "", r.fail(ctx, started, schema.NewError(schema.ErrCodeCancelled, err.Error()).WithNode(cur.id).WithCause(err))
		}
		if err := r.fsm.Begin(); err != nil {
			return "", r.fail(ctx, started, err)
		}

		action, err := r.step(ctx, cur)
		if err != nil {
			return "", r.fail(ctx, started, err)
		}
		if err := r.fsm.Advance(action); err != nil {
			return "", r.fail(ctx, started, err)
		}

		next, ok := f.next(cur.id, action)
		if !ok {
			if f.declared(action) {
				r.logger.DebugContext(ctx, "no edge for label, flow ends", "node_id", cur.id, "action", string(action))
			} else {
				r.logger.WarnContext(ctx, "undeclared label returned, flow ends", "node_id", cur.id, "action", string(action))
			}
			if err := r.fsm.Succeed(); err != nil {
				return "", r.fail(ctx, started, err)
			}
			r.emit(ctx, &schema.Event{Type: schema.EventFlowCompleted, NodeID: cur.id, Action: action, DurationMs: since(started)})
			r.logger.InfoContext(ctx, "flow completed", "last_node", cur.id, "action", string(action), "duration", time.Since(started))
			return action, nil
		}

		payload, _ := jsonRaw(map[string]string{"to": next.id})
		r.emit(ctx, &schema.Event{Type: schema.EventTransition, NodeID: cur.id, Action: action, Payload: payload})
		if err := r.fsm.MoveTo(next.id); err != nil {
			return "", r.fail(ctx, started, err)
		}
		cur = next
	}
}

// step runs one node's full lifecycle.
func (r *run) step(ctx context.Context, s *Step) (schema.Action, error) {
	ctx = logging.WithNodeID(ctx, s.id)
	logger := r.logger.With(slog.String(logging.AttrNodeID, s.id))
	nr := *r
	nr.logger = logger

	started := time.Now()
	r.emit(ctx, &schema.Event{Type: schema.EventNodeStarted, NodeID: s.id})
	logger.DebugContext(ctx, "node started", "kind", s.Kind())

	action, err := s.exec(ctx, &nr)
	if err != nil {
		fe := flowError(err)
		r.emit(ctx, &schema.Event{Type: schema.EventNodeFailed, NodeID: s.id, Attempt: fe.Attempts, Error: fe, DurationMs: since(started)})
		logger.ErrorContext(ctx, "node failed", "error", err, "duration", time.Since(started))
		return "", err
	}

	r.emit(ctx, &schema.Event{Type: schema.EventNodeCompleted, NodeID: s.id, Action: action, DurationMs: since(started)})
	logger.InfoContext(ctx, "node completed", "action", string(action), "duration", time.Since(started))
	return action, nil
}

func (r *run) fail(ctx context.Context, started time.Time, err error) error {
	_ = r.fsm.Fail()
	fe := flowError(err)
	r.emit(ctx, &schema.Event{Type: schema.EventFlowFailed, NodeID: fe.NodeID, Error: fe, DurationMs: since(started)})
	r.logger.ErrorContext(ctx, "flow failed", "error", err, "duration", time.Since(started))
	return err
}

func since(t time.Time) int64 {
	return time.Since(t).Milliseconds()
}
