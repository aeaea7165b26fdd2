package expressions

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/schema"
)

type chapter struct {
	Title string `json:"title"`
	Pages int    `json:"pages"`
}

func TestGoJQ_Evaluate(t *testing.T) {
	e := NewGoJQEngine()
	data := map[string]any{
		"chapters": []chapter{{"Intro", 3}, {"Design", 12}, {"Ops", 5}},
		"count":    int64(3),
	}

	tests := []struct {
		name  string
		query string
		want  any
	}{
		{"field", `.count`, float64(3)},
		{"map titles", `[.chapters[].title]`, []any{"Intro", "Design", "Ops"}},
		{"sum", `[.chapters[].pages] | add`, float64(20)},
		{"select", `[.chapters[] | select(.pages > 4) | .title]`, []any{"Design", "Ops"}},
		{"multiple outputs", `.chapters[].pages`, []any{float64(3), float64(12), float64(5)}},
		{"no output", `empty`, nil},
		{"env is empty", `$ENV | length`, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := e.Evaluate(context.Background(), tt.query, data)
			require.NoError(t, err)
			assert.Equal(t, tt.want, out)
		})
	}
}

func TestGoJQ_EvaluateAll(t *testing.T) {
	e := NewGoJQEngine()
	out, err := e.EvaluateAll(context.Background(), `.a`, map[string]any{"a": "x"})
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, out)

	out, err = e.EvaluateAll(context.Background(), `empty`, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}

func TestGoJQ_Errors(t *testing.T) {
	e := NewGoJQEngine()

	_, err := e.Evaluate(context.Background(), "", nil)
	assert.ErrorIs(t, err, schema.ErrValidation)

	_, err = e.Evaluate(context.Background(), `.[`, nil)
	assert.ErrorIs(t, err, schema.ErrValidation)

	_, err = e.Evaluate(context.Background(), `.a | keys`, map[string]any{"a": "str"})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))

	_, err = e.Evaluate(context.Background(), `.`, map[string]any{"c": make(chan int)})
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodeExecution, schema.CodeOf(err))
}

func TestEngines_Compile(t *testing.T) {
	e, err := NewEngines()
	require.NoError(t, err)

	assert.NoError(t, e.Compile("cel", `shared.x > 1`))
	assert.NoError(t, e.Compile("expr", `x + 1`))
	assert.NoError(t, e.Compile("jq", `.x`))
	assert.ErrorIs(t, e.Compile("cel", `shared.x >`), schema.ErrValidation)
	assert.ErrorIs(t, e.Compile("lua", `x`), schema.ErrValidation)
}
