package flow

import (
	"context"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Node is the unit of work of a flow. P is the prepared input and R the
// execution result.
//
// Prepare reads the shared context and validates it; a missing key should be
// reported with schema.MissingKey and is never retried. Execute is the only
// retried phase and may be invoked several times with the same input.
// Finalize commits R into the shared context and returns the label that
// selects the next node. An empty label means schema.DefaultAction.
type Node[P, R any] interface {
	Prepare(ctx context.Context, s *Shared) (P, error)
	Execute(ctx context.Context, in P) (R, error)
	Finalize(ctx context.Context, s *Shared, in P, out R) (schema.Action, error)
}

// Fallbacker is implemented by nodes that can produce a result after Execute
// has exhausted its attempts. A nil error makes the fallback value the
// execution result; otherwise the returned error fails the node.
type Fallbacker[P, R any] interface {
	Fallback(ctx context.Context, in P, err error) (R, error)
}

// Funcs builds a Node from closures. A nil PrepareFunc yields the zero P, a
// nil ExecuteFunc the zero R and a nil FinalizeFunc the default label.
type Funcs[P, R any] struct {
	PrepareFunc  func(ctx context.Context, s *Shared) (P, error)
	ExecuteFunc  func(ctx context.Context, in P) (R, error)
	FinalizeFunc func(ctx context.Context, s *Shared, in P, out R) (schema.Action, error)
	FallbackFunc func(ctx context.Context, in P, err error) (R, error)
}

func (f Funcs[P, R]) Prepare(ctx context.Context, s *Shared) (P, error) {
	if f.PrepareFunc == nil {
		var zero P
		return zero, nil
	}
	return f.PrepareFunc(ctx, s)
}

func (f Funcs[P, R]) Execute(ctx context.Context, in P) (R, error) {
	if f.ExecuteFunc == nil {
		var zero R
		return zero, nil
	}
	return f.ExecuteFunc(ctx, in)
}

func (f Funcs[P, R]) Finalize(ctx context.Context, s *Shared, in P, out R) (schema.Action, error) {
	if f.FinalizeFunc == nil {
		return schema.DefaultAction, nil
	}
	return f.FinalizeFunc(ctx, s, in, out)
}

// Fallback returns err unchanged when FallbackFunc is nil.
func (f Funcs[P, R]) Fallback(ctx context.Context, in P, err error) (R, error) {
	if f.FallbackFunc == nil {
		var zero R
		return zero, err
	}
	return f.FallbackFunc(ctx, in, err)
}
