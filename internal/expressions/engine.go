package expressions

import (
	"context"
	"sync"

	"github.com/rendis/nodeflow/pkg/schema"
)

// Engine evaluates one expression language against a data map.
// CEL drives routing conditions, expr computes values and jq reshapes data.
type Engine interface {
	Name() string
	Evaluate(ctx context.Context, expression string, data map[string]any) (any, error)
}

// Engines bundles one instance of each built-in engine. All of them are safe
// for concurrent use, so a single set can serve every flow in a process.
type Engines struct {
	CEL  *CELEngine
	Expr *ExprEngine
	JQ   *GoJQEngine
}

// NewEngines builds the built-in engine set.
func NewEngines() (*Engines, error) {
	c, err := NewCELEngine()
	if err != nil {
		return nil, err
	}
	return &Engines{CEL: c, Expr: NewExprEngine(), JQ: NewGoJQEngine()}, nil
}

// Compile checks that expression compiles under the named engine without
// evaluating it. Unknown engine names are a validation error.
func (e *Engines) Compile(engine, expression string) error {
	switch engine {
	case "cel":
		_, err := e.CEL.compile(expression)
		return err
	case "expr":
		_, err := e.Expr.compile(expression)
		return err
	case "jq":
		_, err := e.JQ.compile(expression)
		return err
	default:
		return schema.NewErrorf(schema.ErrCodeValidation, "unknown expression engine %q", engine)
	}
}

// programCache memoizes compiled programs by source text.
type programCache[P any] struct {
	mu    sync.RWMutex
	progs map[string]P
}

func newProgramCache[P any]() *programCache[P] {
	return &programCache[P]{progs: make(map[string]P)}
}

// get returns the cached program for src, compiling it once on a miss.
func (c *programCache[P]) get(src string, compile func(string) (P, error)) (P, error) {
	c.mu.RLock()
	p, ok := c.progs[src]
	c.mu.RUnlock()
	if ok {
		return p, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if p, ok := c.progs[src]; ok {
		return p, nil
	}
	p, err := compile(src)
	if err != nil {
		return p, err
	}
	c.progs[src] = p
	return p, nil
}

func (c *programCache[P]) len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.progs)
}

func emptyExpression(engine string) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "empty %s expression", engine)
}

func compileError(engine, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeValidation, "%s compile error in %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "engine": engine})
}

func evalError(engine, expression string, err error) error {
	return schema.NewErrorf(schema.ErrCodeExecution, "%s evaluation failed for %q: %s", engine, expression, err.Error()).
		WithCause(err).
		WithDetails(map[string]any{"expression": expression, "engine": engine})
}
