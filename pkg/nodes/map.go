package nodes

import (
	"context"
	"encoding/json"

	"github.com/rendis/nodeflow/internal/expressions"
	"github.com/rendis/nodeflow/pkg/flow"
	"github.com/rendis/nodeflow/pkg/schema"
)

// Map is a batch node: it evaluates an expr expression once per element of
// the list under Source and stores the results, in source order, under
// Target. The expression sees item, index and params. Elements skipped
// after failing leave nil in their slot.
type Map struct {
	Engine     *expressions.ExprEngine
	Source     string
	Expression string
	Target     string
}

// MapItem is one element handed to Execute.
type MapItem struct {
	Index  int
	Value  any
	params map[string]any
}

func (n *Map) Prepare(ctx context.Context, s *flow.Shared) ([]MapItem, error) {
	if n.Engine == nil || n.Source == "" || n.Target == "" {
		return nil, schema.NewError(schema.ErrCodeValidation, "map needs an engine, a source and a target key")
	}
	raw, ok := s.Get(n.Source)
	if !ok {
		return nil, schema.MissingKey(n.Source)
	}
	list, err := asList(raw)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeContextKeyType, "context key %q holds %T, want a list", n.Source, raw).
			WithDetails(map[string]any{"key": n.Source})
	}

	params := map[string]any(flow.ParamsFrom(ctx))
	items := make([]MapItem, len(list))
	for i, v := range list {
		items[i] = MapItem{Index: i, Value: v, params: params}
	}
	return items, nil
}

func (n *Map) Execute(ctx context.Context, it MapItem) (any, error) {
	return n.Engine.Evaluate(ctx, n.Expression, map[string]any{
		"item":                it.Value,
		"index":               it.Index,
		expressions.VarParams: it.params,
	})
}

func (n *Map) Finalize(ctx context.Context, s *flow.Shared, _ []MapItem, results []flow.ItemResult[any]) (schema.Action, error) {
	out := make([]any, len(results))
	for i, r := range results {
		if !r.Failed() {
			out[i] = r.Value
		}
	}
	s.Set(n.Target, out)
	return schema.DefaultAction, nil
}

// asList accepts []any directly and converts other slices through JSON.
func asList(v any) ([]any, error) {
	if l, ok := v.([]any); ok {
		return l, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var l []any
	if err := json.Unmarshal(b, &l); err != nil {
		return nil, err
	}
	return l, nil
}

var _ flow.BatchNode[MapItem, any] = (*Map)(nil)
