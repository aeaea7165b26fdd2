package definition

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/pkg/flow"
	"github.com/rendis/nodeflow/pkg/schema"
)

func newBuilder(t *testing.T) *Builder {
	t.Helper()
	b, err := NewBuilder(nil, flow.WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	require.NoError(t, err)
	return b
}

func TestLoad(t *testing.T) {
	def, err := Load("testdata/grade.yaml")
	require.NoError(t, err)
	assert.Equal(t, "grade", def.Name)
	assert.Equal(t, schema.FlowModeSync, def.EffectiveMode())
	assert.Len(t, def.Nodes, 4)
	assert.Equal(t, 2, def.Nodes[0].Retry.MaxAttempts)

	def, err = Load("testdata/shout.json")
	require.NoError(t, err)
	assert.Equal(t, schema.FlowModeAsync, def.EffectiveMode())
	assert.Equal(t, "skip", def.Nodes[0].Batch.OnItemError)
}

func TestLoad_Errors(t *testing.T) {
	_, err := Load("testdata/README.txt")
	assert.ErrorIs(t, err, schema.ErrValidation)

	_, err = Load("testdata/missing.yaml")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	_, err = Parse([]byte("name: x\nentry: a\nsteps: []\n"), FormatYAML)
	assert.ErrorIs(t, err, schema.ErrValidation, "unknown fields are rejected")

	_, err = Parse([]byte(`{"name": "x", "nodez": []}`), FormatJSON)
	assert.ErrorIs(t, err, schema.ErrValidation)

	_, err = Parse(nil, FormatYAML)
	assert.ErrorIs(t, err, schema.ErrValidation)
}

func TestBuild_SyncFlowRuns(t *testing.T) {
	def, err := Load("testdata/grade.yaml")
	require.NoError(t, err)
	built, err := newBuilder(t).Build(def)
	require.NoError(t, err)
	defer built.Close()

	assert.Equal(t, "score", built.Flow().Entry())
	assert.ElementsMatch(t, []schema.Action{"default", "pass", "fail"}, built.Flow().Labels())

	ex := built.Run(context.Background(), map[string]any{"marks": []any{0.9, 0.7}})
	require.NoError(t, ex.Err())
	v, _ := ex.Shared().Get("verdict")
	assert.Equal(t, "passed", v)
	assert.True(t, ex.Shared().Has("weights"), "definition input seeds the context")

	ex = built.Run(context.Background(), map[string]any{"marks": []any{0.1, 0.2}})
	require.NoError(t, ex.Err())
	v, _ = ex.Shared().Get("verdict")
	assert.Equal(t, "failed", v)
}

func TestBuild_MissingInputFailsFast(t *testing.T) {
	def, err := Load("testdata/grade.yaml")
	require.NoError(t, err)
	built, err := newBuilder(t).Build(def)
	require.NoError(t, err)

	ex := built.Run(context.Background(), nil)
	assert.ErrorIs(t, ex.Err(), schema.ErrMissingContextKey)
	fe, _ := schema.AsFlowError(ex.Err())
	assert.Equal(t, "score", fe.NodeID)
}

func TestBuild_AsyncFlowRuns(t *testing.T) {
	def, err := Load("testdata/shout.json")
	require.NoError(t, err)
	built, err := newBuilder(t).Build(def)
	require.NoError(t, err)
	defer built.Close()

	ex := built.Run(context.Background(), map[string]any{"words": []string{"a", "b", "c"}})
	require.NoError(t, ex.Err())
	loud, _ := ex.Shared().Get("loud")
	assert.Equal(t, []any{"A", "B", "C"}, loud)
	n, _ := ex.Shared().Get("count")
	assert.Equal(t, 3, n)
}

func TestBuild_RejectsInvalid(t *testing.T) {
	b := newBuilder(t)
	tests := []struct {
		name string
		def  *schema.FlowDefinition
		code string
	}{
		{"unknown type", &schema.FlowDefinition{
			Name: "x", Entry: "a",
			Nodes: []schema.NodeDefinition{{ID: "a", Type: "llm"}},
		}, schema.ErrCodeValidation},
		{"bad config field", &schema.FlowDefinition{
			Name: "x", Entry: "a",
			Nodes: []schema.NodeDefinition{{ID: "a", Type: "assign", Config: map[string]any{"valuez": 1}}},
		}, schema.ErrCodeValidation},
		{"bad cel", &schema.FlowDefinition{
			Name: "x", Entry: "a",
			Nodes: []schema.NodeDefinition{{ID: "a", Type: "router", Config: map[string]any{
				"routes": []any{map[string]any{"when": "shared.x >", "label": "default"}},
			}}},
		}, schema.ErrCodeValidation},
		{"missing target", &schema.FlowDefinition{
			Name: "x", Entry: "a",
			Nodes: []schema.NodeDefinition{{ID: "a", Type: "transform", Config: map[string]any{"query": "."}}},
		}, schema.ErrCodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := b.Build(tt.def)
			require.Error(t, err)
			assert.Equal(t, tt.code, schema.CodeOf(err))
		})
	}
}

func TestBuild_ConfigErrorNamesField(t *testing.T) {
	_, err := newBuilder(t).Build(&schema.FlowDefinition{
		Name: "x", Entry: "a",
		Nodes: []schema.NodeDefinition{{ID: "a", Type: "compute", Config: map[string]any{"expression": "1 +", "target": "t"}}},
	})
	fe, ok := schema.AsFlowError(err)
	require.True(t, ok)
	assert.Equal(t, "a", fe.NodeID)
	assert.Equal(t, "config.expression", fe.Details["field"])
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	assert.Equal(t, []string{"assign", "compute", "map", "router", "transform"}, r.Types())
	assert.True(t, r.Has("router"))
	assert.False(t, r.Has("llm"))

	assert.ErrorIs(t, r.Register("assign", buildAssign), schema.ErrValidation)
	assert.ErrorIs(t, r.Register("", buildAssign), schema.ErrValidation)
	assert.Panics(t, func() { r.MustRegister("assign", buildAssign) })

	require.NoError(t, r.Register("echo", func(spec NodeSpec) (*flow.Step, error) {
		return flow.NewStep(spec.ID, flow.Funcs[struct{}, struct{}]{
			FinalizeFunc: func(ctx context.Context, s *flow.Shared, _ struct{}, _ struct{}) (schema.Action, error) {
				s.Set("echo", spec.Config["say"])
				return "", nil
			},
		}, spec.Options...), nil
	}))

	b, err := NewBuilder(r)
	require.NoError(t, err)
	built, err := b.Build(&schema.FlowDefinition{
		Name: "custom", Entry: "e",
		Nodes: []schema.NodeDefinition{{ID: "e", Type: "echo", Config: map[string]any{"say": "hi"}}},
	})
	require.NoError(t, err)
	ex := built.Run(context.Background(), nil)
	require.NoError(t, ex.Err())
	v, _ := ex.Shared().Get("echo")
	assert.Equal(t, "hi", v)
}

func TestCatalog(t *testing.T) {
	c := NewCatalog(newBuilder(t))
	defer c.Close()

	names, err := c.LoadDir("testdata")
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{"grade", "shout"}, names)

	list := c.List()
	require.Len(t, list, 2)
	assert.Equal(t, "grade", list[0].Name())
	assert.Equal(t, "shout", list[1].Name())

	_, err = c.Get("nope")
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))

	ex, err := c.Run(context.Background(), "shout", map[string]any{"words": []any{"x"}})
	require.NoError(t, err)
	require.NoError(t, ex.Err())

	_, err = c.LoadFile("testdata/grade.yaml")
	assert.ErrorIs(t, err, schema.ErrValidation, "names are unique")
}

func TestCatalog_LoadDirKeepsGoodFiles(t *testing.T) {
	dir := t.TempDir()
	good, err := os.ReadFile("testdata/grade.yaml")
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), good, 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yml"), []byte("name: broken\nentry: nope\nnodes: []\n"), 0o600))

	c := NewCatalog(newBuilder(t))
	names, err := c.LoadDir(dir)
	assert.Equal(t, []string{"grade"}, names)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "b.yml")
	assert.ErrorIs(t, err, schema.ErrValidation)

	_, err = c.LoadDir(filepath.Join(dir, "missing"))
	assert.Equal(t, schema.ErrCodeNotFound, schema.CodeOf(err))
}
