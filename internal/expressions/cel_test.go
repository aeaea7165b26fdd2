package expressions

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

func newCEL(t *testing.T) *CELEngine {
	t.Helper()
	e, err := NewCELEngine()
	require.NoError(t, err)
	return e
}

func TestCEL_Routing(t *testing.T) {
	e := newCEL(t)
	data := map[string]any{
		VarShared: map[string]any{"score": 0.92, "tags": []any{"go", "infra"}, "status": "ready"},
		VarParams: map[string]any{"mode": "strict"},
	}

	tests := []struct {
		expr string
		want any
	}{
		{`shared.score > 0.8`, true},
		{`shared.score > 0.8 && params.mode == "lax"`, false},
		{`"go" in shared.tags`, true},
		{`size(shared.tags)`, int64(2)},
		{`shared.status.startsWith("rea")`, true},
		{`has(shared.missing) ? "yes" : "no"`, "no"},
		{`1 + 2`, int64(3)},
	}
	for _, tt := range tests {
		t.Run(tt.expr, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.expr, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestCEL_MissingVariablesBindEmpty(t *testing.T) {
	e := newCEL(t)
	out, err := e.Evaluate(context.Background(), `size(shared) == 0 && size(params) == 0`, nil)
	require.NoError(t, err)
	assert.Equal(t, true, out)
}

func TestCEL_Errors(t *testing.T) {
	e := newCEL(t)

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.ErrorIs(t, err, schema.ErrValidation)

	_, err = e.Evaluate(context.Background(), `shared.score >`, nil)
	assert.ErrorIs(t, err, schema.ErrValidation)

	_, err = e.Evaluate(context.Background(), `inputs.x == 1`, nil)
	assert.ErrorIs(t, err, schema.ErrValidation, "only shared and params are declared")

	_, err = e.Evaluate(context.Background(), `shared.nope == 1`, map[string]any{VarShared: map[string]any{}})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestCEL_EvaluateBool(t *testing.T) {
	e := newCEL(t)
	ok, err := e.EvaluateBool(context.Background(), `params.n >= 2`, map[string]any{VarParams: map[string]any{"n": 3}})
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = e.EvaluateBool(context.Background(), `"text"`, nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestCEL_ProgramsAreCached(t *testing.T) {
	e := newCEL(t)
	for range 3 {
		_, err := e.Evaluate(context.Background(), `params.a == 1`, nil)
		require.NoError(t, err)
	}
	_, err := e.Evaluate(context.Background(), `params.b == 1`, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, e.cache.len())
}

func TestCEL_Concurrent(t *testing.T) {
	e := newCEL(t)
	var wg sync.WaitGroup
	errs := make(chan error, 50)
	for i := range 50 {
		wg.Add(1)
		go func(n int) {
			defer wg.Done()
			out, err := e.Evaluate(context.Background(), `shared.n * 2`, map[string]any{VarShared: map[string]any{"n": n}})
			if err != nil {
				errs <- err
				return
			}
			if out != int64(n*2) {
				errs <- assert.AnError
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}
