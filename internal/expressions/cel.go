package expressions

import (
	"context"
	"fmt"

	"github.com/google/cel-go/cel"
)

// CEL variable names. Routing conditions see the shared context and the
// run's params:
//
//	shared.score > 0.8 && params.mode == "strict"
const (
	VarShared = "shared"
	VarParams = "params"
)

// CELEngine evaluates CEL expressions over the shared context and params.
type CELEngine struct {
	env   *cel.Env
	cache *programCache[cel.Program]
}

// NewCELEngine creates a CEL engine with only the shared and params variables
// declared.
func NewCELEngine() (*CELEngine, error) {
	m := cel.MapType(cel.StringType, cel.DynType)
	env, err := cel.NewEnv(
		cel.Variable(VarShared, m),
		cel.Variable(VarParams, m),
	)
	if err != nil {
		return nil, fmt.Errorf("create CEL environment: %w", err)
	}
	return &CELEngine{env: env, cache: newProgramCache[cel.Program]()}, nil
}

func (e *CELEngine) Name() string { return "cel" }

// Evaluate runs expression with data's shared and params entries bound to the
// like-named variables. Missing entries bind to empty maps.
func (e *CELEngine) Evaluate(ctx context.Context, expression string, data map[string]any) (any, error) {
	prg, err := e.compile(expression)
	if err != nil {
		return nil, err
	}
	out, _, err := prg.ContextEval(ctx, activation(data))
	if err != nil {
		return nil, evalError(e.Name(), expression, err)
	}
	return out.Value(), nil
}

// EvaluateBool runs expression and requires a boolean result.
func (e *CELEngine) EvaluateBool(ctx context.Context, expression string, data map[string]any) (bool, error) {
	v, err := e.Evaluate(ctx, expression, data)
	if err != nil {
		return false, err
	}
	b, ok := v.(bool)
	if !ok {
		return false, evalError(e.Name(), expression, fmt.Errorf("result is %T, want bool", v))
	}
	return b, nil
}

func (e *CELEngine) compile(expression string) (cel.Program, error) {
	if expression == "" {
		return nil, emptyExpression(e.Name())
	}
	return e.cache.get(expression, func(src string) (cel.Program, error) {
		ast, iss := e.env.Compile(src)
		if iss != nil && iss.Err() != nil {
			return nil, compileError(e.Name(), src, iss.Err())
		}
		prg, err := e.env.Program(ast)
		if err != nil {
			return nil, compileError(e.Name(), src, err)
		}
		return prg, nil
	})
}

func activation(data map[string]any) map[string]any {
	act := make(map[string]any, 2)
	for _, k := range []string{VarShared, VarParams} {
		if v, ok := data[k]; ok && v != nil {
			act[k] = v
		} else {
			act[k] = map[string]any{}
		}
	}
	return act
}

var _ Engine = (*CELEngine)(nil)
