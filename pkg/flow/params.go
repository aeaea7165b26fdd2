package flow

import (
	"context"
	"maps"
)

// Params are per-run parameters carried on the context. Flows contribute
// defaults with WithParams and BatchFlow layers one parameter set per
// iteration on top of them. Nodes read them with ParamsFrom.
type Params map[string]any

type paramsKey struct{}

// ContextWithParams returns a context carrying p.
func ContextWithParams(ctx context.Context, p Params) context.Context {
	return context.WithValue(ctx, paramsKey{}, p)
}

// ParamsFrom returns the params carried on ctx. The result is never nil and
// must not be modified.
func ParamsFrom(ctx context.Context) Params {
	if p, ok := ctx.Value(paramsKey{}).(Params); ok && p != nil {
		return p
	}
	return Params{}
}

// Merge returns a new Params with other's entries layered over p's.
func (p Params) Merge(other Params) Params {
	out := make(Params, len(p)+len(other))
	maps.Copy(out, p)
	maps.Copy(out, other)
	return out
}

// String returns the string value of key, or "".
func (p Params) String(key string) string {
	s, _ := p[key].(string)
	return s
}
