package flow

import (
	"context"

	"github.com/rendis/nodeflow/internal/engine"
	"github.com/rendis/nodeflow/pkg/schema"
)

// NewSubflow wraps child as a step. The child runs on the parent's shared
// context and its last action becomes the step's label. Retry options do not
// apply; the child's own steps carry their policies.
func NewSubflow(id string, child *Flow) *Step {
	s := newStep(id, kindSubflow, nil)
	if child == nil {
		s.err = schema.NewError(schema.ErrCodeValidation, "subflow must not be nil").WithNode(id)
		return s
	}
	s.exec = func(ctx context.Context, r *run) (schema.Action, error) {
		cr, err := child.newRun(r.shared, r.dispatch)
		if err != nil {
			return "", err
		}
		r.logger.DebugContext(ctx, "subflow started", "subflow", child.name, "subflow_run_id", cr.id)
		return cr.exec(ctx)
	}
	return s
}

// BatchPrepareFunc yields one Params set per iteration of a BatchFlow.
type BatchPrepareFunc func(ctx context.Context, s *Shared) ([]Params, error)

// NewBatchFlow runs child once per Params set returned by prepare, in
// order, on the parent's shared context. Each set is layered over the
// parent's params. The step's label is always schema.DefaultAction.
func NewBatchFlow(id string, child *Flow, prepare BatchPrepareFunc) *Step {
	s := newStep(id, kindBatchFlow, nil)
	if child == nil || prepare == nil {
		s.err = schema.NewError(schema.ErrCodeValidation, "batch flow needs a child flow and a prepare func").WithNode(id)
		return s
	}
	s.exec = func(ctx context.Context, r *run) (schema.Action, error) {
		var sets []Params
		if err := engine.SafeCall(func() (err error) {
			sets, err = prepare(ctx, r.shared)
			return err
		}); err != nil {
			return "", prepareError(s.id, err)
		}

		parent := ParamsFrom(ctx)
		for i, p := range sets {
			cr, err := child.newRun(r.shared, r.dispatch)
			if err != nil {
				return "", err
			}
			r.logger.DebugContext(ctx, "batch flow iteration", "iteration", i, "of", len(sets), "subflow_run_id", cr.id)
			if _, err := cr.exec(ContextWithParams(ctx, parent.Merge(p))); err != nil {
				return "", err
			}
		}
		return schema.DefaultAction, nil
	}
	return s
}
