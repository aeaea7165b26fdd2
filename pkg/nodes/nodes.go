// Package nodes provides built-in nodes driven by expressions: routing on
// CEL conditions, reshaping with jq, computing values with expr and
// assigning constants. They are the node types available to declarative
// flow definitions.
package nodes

import (
	"context"
	"fmt"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/flow"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Route pairs a CEL condition with the label returned when it holds.
type Route struct {
	When  string        `json:"when"`
	Label schema.Action `json:"label"`
}

// Router picks the label of the first route whose condition is true, or
// Fallback when none is. Conditions see the shared context as shared and
// the run's params as params.
type Router struct {
	Engine   *expressions.CELEngine
	Routes   []Route
	Fallback schema.Action
}

func (n *Router) Prepare(ctx context.Context, s *flow.Shared) (map[string]any, error) {
	if n.Engine == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "router has no CEL engine")
	}
	return map[string]any{
		expressions.VarShared: s.Snapshot(),
		expressions.VarParams: map[string]any(flow.ParamsFrom(ctx)),
	}, nil
}

func (n *Router) Execute(ctx context.Context, data map[string]any) (schema.Action, error) {
	for i, r := range n.Routes {
		ok, err := n.Engine.EvaluateBool(ctx, r.When, data)
		if err != nil {
			return "", schema.Permanent(fmt.Errorf("route %d: %w", i, err))
		}
		if ok {
			return r.Label.OrDefault(), nil
		}
	}
	return n.Fallback.OrDefault(), nil
}

func (n *Router) Finalize(ctx context.Context, s *flow.Shared, _ map[string]any, label schema.Action) (schema.Action, error) {
	return label, nil
}

// Labels returns every label the router can produce, fallback included.
func (n *Router) Labels() []schema.Action {
	out := make([]schema.Action, 0, len(n.Routes)+1)
	for _, r := range n.Routes {
		out = append(out, r.Label.OrDefault())
	}
	return append(out, n.Fallback.OrDefault())
}

// Transform runs a jq query over the shared context and stores the result
// under Target. Every key in Sources must be present before the query runs.
type Transform struct {
	Engine  *expressions.GoJQEngine
	Query   string
	Target  string
	Sources []string
}

func (n *Transform) Prepare(ctx context.Context, s *flow.Shared) (map[string]any, error) {
	if n.Engine == nil || n.Target == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "transform needs an engine and a target key")
	}
	if err := requireAll(s, n.Sources); err != nil {
		return nil, err
	}
	return s.Snapshot(), nil
}

func (n *Transform) Execute(ctx context.Context, data map[string]any) (any, error) {
	out, err := n.Engine.Evaluate(ctx, n.Query, data)
	if err != nil {
		return nil, schema.Permanent(err)
	}
	return out, nil
}

func (n *Transform) Finalize(ctx context.Context, s *flow.Shared, _ map[string]any, out any) (schema.Action, error) {
	s.Set(n.Target, out)
	return schema.DefaultAction, nil
}

// Compute evaluates an expr expression and stores the result under Target.
// The shared context's keys are top-level variables; params is reserved
// for the run's params.
type Compute struct {
	Engine     *expressions.ExprEngine
	Expression string
	Target     string
	Sources    []string
}

func (n *Compute) Prepare(ctx context.Context, s *flow.Shared) (map[string]any, error) {
	if n.Engine == nil || n.Target == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "compute needs an engine and a target key")
	}
	if err := requireAll(s, n.Sources); err != nil {
		return nil, err
	}
	env := s.Snapshot()
	env[expressions.VarParams] = map[string]any(flow.ParamsFrom(ctx))
	return env, nil
}

func (n *Compute) Execute(ctx context.Context, env map[string]any) (any, error) {
	out, err := n.Engine.Evaluate(ctx, n.Expression, env)
	if err != nil {
		return nil, schema.Permanent(err)
	}
	return out, nil
}

func (n *Compute) Finalize(ctx context.Context, s *flow.Shared, _ map[string]any, out any) (schema.Action, error) {
	s.Set(n.Target, out)
	return schema.DefaultAction, nil
}

// Assign writes constant values into the shared context.
type Assign struct {
	Values map[string]any
	Label  schema.Action
}

func (n *Assign) Prepare(ctx context.Context, s *flow.Shared) (struct{}, error) {
	return struct{}{}, nil
}

func (n *Assign) Execute(ctx context.Context, _ struct{}) (struct{}, error) {
	return struct{}{}, nil
}

func (n *Assign) Finalize(ctx context.Context, s *flow.Shared, _ struct{}, _ struct{}) (schema.Action, error) {
	for k, v := range n.Values {
		s.Set(k, v)
	}
	return n.Label.OrDefault(), nil
}

func requireAll(s *flow.Shared, keys []string) error {
	for _, k := range keys {
		if !s.Has(k) {
			return schema.MissingKey(k)
		}
	}
	return nil
}

var (
	_ flow.Node[map[string]any, schema.Action] = (*Router)(nil)
	_ flow.Node[map[string]any, any]           = (*Transform)(nil)
	_ flow.Node[map[string]any, any]           = (*Compute)(nil)
	_ flow.Node[struct{}, struct{}]            = (*Assign)(nil)
)
