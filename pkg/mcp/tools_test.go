package mcp

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"path/filepath"
	"testing"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/definition"
	"github.com/rendis/nodeflow/pkg/flow"
	"github.com/rendis/nodeflow/pkg/schema"
)

// --- Helpers ---

func discard() *slog.Logger { return slog.New(slog.NewTextHandler(io.Discard, nil)) }

func doubleDef() *schema.FlowDefinition {
	return &schema.FlowDefinition{
		Name:        "double",
		Description: "Doubles x into y.",
		Entry:       "calc",
		Input:       map[string]any{"x": 2},
		Nodes: []schema.NodeDefinition{{
			ID:   "calc",
			Type: "compute",
			Config: map[string]any{
				"expression": "x * 2",
				"target":     "y",
				"sources":    []any{"x"},
			},
		}},
	}
}

// newTestServer builds a server over a catalog holding the double flow. The
// journal, when requested, is also the flows' event sink.
func newTestServer(t *testing.T, withJournal bool) (*Server, store.Journal) {
	t.Helper()
	opts := []flow.Option{flow.WithLogger(discard())}
	var journal store.Journal
	if withJournal {
		j, err := store.OpenLibSQL(context.Background(), "file:"+filepath.Join(t.TempDir(), "journal.db"))
		require.NoError(t, err)
		t.Cleanup(func() { _ = j.Close() })
		journal = j
		opts = append(opts, flow.WithEventSink(j))
	}
	b, err := definition.NewBuilder(nil, opts...)
	require.NoError(t, err)
	cat := definition.NewCatalog(b)
	t.Cleanup(cat.Close)
	_, err = cat.Add(doubleDef())
	require.NoError(t, err)
	return NewServer(Deps{Catalog: cat, Journal: journal, Logger: discard()}), journal
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func extractText(t *testing.T, result *mcp.CallToolResult) string {
	t.Helper()
	require.NotEmpty(t, result.Content)
	return mcp.GetTextFromContent(result.Content[0])
}

func unmarshalResult(t *testing.T, result *mcp.CallToolResult, target any) {
	t.Helper()
	text := extractText(t, result)
	require.NoError(t, json.Unmarshal([]byte(text), target))
}

func asMap(v any) map[string]any {
	data, _ := json.Marshal(v)
	var m map[string]any
	_ = json.Unmarshal(data, &m)
	return m
}

// --- Tests ---

func TestListTool(t *testing.T) {
	s, _ := newTestServer(t, false)

	result, err := s.handleList(context.Background(), buildRequest("nodeflow.list", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out struct {
		Flows []flowSummary `json:"flows"`
	}
	unmarshalResult(t, result, &out)
	require.Len(t, out.Flows, 1)
	assert.Equal(t, "double", out.Flows[0].Name)
	assert.Equal(t, schema.FlowModeSync, out.Flows[0].Mode)
	assert.Equal(t, []string{"calc"}, out.Flows[0].Nodes)
}

func TestRunTool(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := buildRequest("nodeflow.run", map[string]any{
		"flow":  "double",
		"input": map[string]any{"x": 21},
	})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	var out runResult
	unmarshalResult(t, result, &out)
	assert.NotEmpty(t, out.RunID)
	assert.Equal(t, schema.RunStateSucceeded, out.Status)
	assert.EqualValues(t, 42, out.Context["y"])
	assert.Nil(t, out.Error)
}

func TestRunToolDefaultInput(t *testing.T) {
	s, _ := newTestServer(t, false)

	result, err := s.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{"flow": "double"}))
	require.NoError(t, err)

	var out runResult
	unmarshalResult(t, result, &out)
	assert.EqualValues(t, 4, out.Context["y"])
}

func TestRunToolFailedRun(t *testing.T) {
	s, _ := newTestServer(t, false)

	req := buildRequest("nodeflow.run", map[string]any{
		"flow":  "double",
		"input": map[string]any{"x": "two"},
	})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)

	var out runResult
	unmarshalResult(t, result, &out)
	assert.Equal(t, schema.RunStateFailed, out.Status)
	require.NotNil(t, out.Error)
	assert.Equal(t, "calc", out.Error.NodeID)
	assert.NotEmpty(t, out.Error.Code)
}

func TestRunToolErrors(t *testing.T) {
	s, _ := newTestServer(t, false)

	result, err := s.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleRun(context.Background(), buildRequest("nodeflow.run", map[string]any{"flow": "nope"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "nope")
}

func TestValidateTool(t *testing.T) {
	s, _ := newTestServer(t, false)

	valid := asMap(doubleDef())
	result, err := s.handleValidate(context.Background(), buildRequest("nodeflow.validate", map[string]any{"definition": valid}))
	require.NoError(t, err)
	var out validateResult
	unmarshalResult(t, result, &out)
	assert.True(t, out.Valid)

	broken := asMap(doubleDef())
	broken["entry"] = "ghost"
	result, err = s.handleValidate(context.Background(), buildRequest("nodeflow.validate", map[string]any{"definition": broken}))
	require.NoError(t, err)
	out = validateResult{}
	unmarshalResult(t, result, &out)
	assert.False(t, out.Valid)
	require.NotEmpty(t, out.Errors)
	assert.Equal(t, schema.ErrCodeNoEntryNode, out.Errors[0].Code)
}

func TestValidateToolMissingDefinition(t *testing.T) {
	s, _ := newTestServer(t, false)
	result, err := s.handleValidate(context.Background(), buildRequest("nodeflow.validate", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDefineTool(t *testing.T) {
	s, _ := newTestServer(t, false)

	def := asMap(doubleDef())
	def["name"] = "double-again"
	result, err := s.handleDefine(context.Background(), buildRequest("nodeflow.define", map[string]any{"definition": def}))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	_, err = s.catalog.Get("double-again")
	assert.NoError(t, err)

	// same name again
	result, err = s.handleDefine(context.Background(), buildRequest("nodeflow.define", map[string]any{"definition": def}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestDefineToolInvalid(t *testing.T) {
	s, _ := newTestServer(t, false)

	def := asMap(doubleDef())
	def["nodes"] = []any{}
	result, err := s.handleDefine(context.Background(), buildRequest("nodeflow.define", map[string]any{"definition": def}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Len(t, s.catalog.List(), 1)
}

func TestHistoryToolWithoutJournal(t *testing.T) {
	s, _ := newTestServer(t, false)
	result, err := s.handleHistory(context.Background(), buildRequest("nodeflow.history", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
	assert.Contains(t, extractText(t, result), "journal")
}

func TestHistoryTool(t *testing.T) {
	s, _ := newTestServer(t, true)
	ctx := context.Background()

	var ran runResult
	result, err := s.handleRun(ctx, buildRequest("nodeflow.run", map[string]any{"flow": "double"}))
	require.NoError(t, err)
	unmarshalResult(t, result, &ran)

	result, err = s.handleHistory(ctx, buildRequest("nodeflow.history", map[string]any{"flow": "double", "limit": 10}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	var list struct {
		Runs []store.Run `json:"runs"`
	}
	unmarshalResult(t, result, &list)
	require.Len(t, list.Runs, 1)
	assert.Equal(t, ran.RunID, list.Runs[0].ID)
	assert.Equal(t, schema.RunStateSucceeded, list.Runs[0].Status)

	result, err = s.handleHistory(ctx, buildRequest("nodeflow.history", map[string]any{"run_id": ran.RunID}))
	require.NoError(t, err)
	var one struct {
		Run    store.Run       `json:"run"`
		Events []*schema.Event `json:"events"`
	}
	unmarshalResult(t, result, &one)
	assert.Equal(t, "double", one.Run.Flow)
	require.NotEmpty(t, one.Events)
	assert.Equal(t, schema.EventFlowStarted, one.Events[0].Type)
	assert.Equal(t, schema.EventFlowCompleted, one.Events[len(one.Events)-1].Type)

	result, err = s.handleHistory(ctx, buildRequest("nodeflow.history", map[string]any{"run_id": "missing"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)

	result, err = s.handleHistory(ctx, buildRequest("nodeflow.history", map[string]any{"since": "yesterday"}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestExtractInt(t *testing.T) {
	args := map[string]any{"a": float64(3), "b": 4, "c": "5", "d": "x"}
	assert.Equal(t, 3, extractInt(args, "a", 0))
	assert.Equal(t, 4, extractInt(args, "b", 0))
	assert.Equal(t, 5, extractInt(args, "c", 0))
	assert.Equal(t, 7, extractInt(args, "d", 7))
	assert.Equal(t, 7, extractInt(nil, "a", 7))
}

func TestDiagramTool(t *testing.T) {
	s, _ := newTestServer(t, true)
	ctx := context.Background()

	result, err := s.handleDiagram(ctx, buildRequest("nodeflow.diagram", map[string]any{"flow": "double", "format": "mermaid"}))
	require.NoError(t, err)
	assert.False(t, result.IsError)
	assert.Contains(t, extractText(t, result), "__start__ --> calc")

	var ran runResult
	result, err = s.handleRun(ctx, buildRequest("nodeflow.run", map[string]any{"flow": "double"}))
	require.NoError(t, err)
	unmarshalResult(t, result, &ran)

	result, err = s.handleDiagram(ctx, buildRequest("nodeflow.diagram", map[string]any{
		"flow": "double", "format": "ascii", "run_id": ran.RunID,
	}))
	require.NoError(t, err)
	assert.Contains(t, extractText(t, result), "[OK]")

	result, err = s.handleDiagram(ctx, buildRequest("nodeflow.diagram", map[string]any{"flow": "double", "format": "png"}))
	require.NoError(t, err)
	require.False(t, result.IsError)
	var img *mcp.ImageContent
	for _, c := range result.Content {
		if ic, ok := c.(mcp.ImageContent); ok {
			img = &ic
		}
	}
	require.NotNil(t, img)
	assert.Equal(t, "image/png", img.MIMEType)
	assert.NotEmpty(t, img.Data)
}

func TestDiagramToolErrors(t *testing.T) {
	s, _ := newTestServer(t, false)
	ctx := context.Background()

	for _, args := range []map[string]any{
		{"format": "ascii"},
		{"flow": "double"},
		{"flow": "ghost", "format": "ascii"},
		{"flow": "double", "format": "gif"},
		{"flow": "double", "format": "ascii", "run_id": "r1"},
	} {
		result, err := s.handleDiagram(ctx, buildRequest("nodeflow.diagram", args))
		require.NoError(t, err)
		assert.True(t, result.IsError, "%v", args)
	}
}
