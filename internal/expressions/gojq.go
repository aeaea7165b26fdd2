package expressions

import (
	"context"
	"encoding/json"

	"github.com/itchyny/gojq"
)

// GoJQEngine evaluates jq queries with the data map as input.
type GoJQEngine struct {
	cache *programCache[*gojq.Code]
}

func NewGoJQEngine() *GoJQEngine {
	return &GoJQEngine{cache: newProgramCache[*gojq.Code]()}
}

func (e *GoJQEngine) Name() string { return "jq" }

// Evaluate runs query over data after normalizing it to plain JSON values.
// A single output is returned as is, several are collected into []any and
// no output yields nil.
func (e *GoJQEngine) Evaluate(ctx context.Context, query string, data map[string]any) (any, error) {
	out, err := e.EvaluateAll(ctx, query, data)
	if err != nil {
		return nil, err
	}
	switch len(out) {
	case 0:
		return nil, nil
	case 1:
		return out[0], nil
	default:
		return out, nil
	}
}

// EvaluateAll is Evaluate without collapsing the outputs.
func (e *GoJQEngine) EvaluateAll(ctx context.Context, query string, data map[string]any) ([]any, error) {
	code, err := e.compile(query)
	if err != nil {
		return nil, err
	}
	input, err := normalize(data)
	if err != nil {
		return nil, evalError(e.Name(), query, err)
	}

	var results []any
	iter := code.RunWithContext(ctx, input)
	for {
		v, ok := iter.Next()
		if !ok {
			break
		}
		if err, isErr := v.(error); isErr {
			return nil, evalError(e.Name(), query, err)
		}
		results = append(results, v)
	}
	return results, nil
}

func (e *GoJQEngine) compile(query string) (*gojq.Code, error) {
	if query == "" {
		return nil, emptyExpression(e.Name())
	}
	return e.cache.get(query, func(src string) (*gojq.Code, error) {
		q, err := gojq.Parse(src)
		if err != nil {
			return nil, compileError(e.Name(), src, err)
		}
		// $ENV stays empty.
		code, err := gojq.Compile(q, gojq.WithEnvironLoader(func() []string { return nil }))
		if err != nil {
			return nil, compileError(e.Name(), src, err)
		}
		return code, nil
	})
}

// normalize converts data into the value space gojq accepts: maps, slices,
// strings, bools and float64 numbers. Shared contexts hold arbitrary Go
// values (typed slices, structs) so a JSON round trip is the general path.
func normalize(data map[string]any) (any, error) {
	if data == nil {
		return map[string]any{}, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	var out any
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	return out, nil
}

var _ Engine = (*GoJQEngine)(nil)
