package mcp

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/rendis/nodeflow/internal/diagram"
	"github.com/rendis/nodeflow/internal/logging"
	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/schema"
)

type flowSummary struct {
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Mode        schema.FlowMode `json:"mode"`
	Entry       string          `json:"entry"`
	Nodes       []string        `json:"nodes"`
	Labels      []string        `json:"labels,omitempty"`
	Schedule    string          `json:"schedule,omitempty"`
}

type runResult struct {
	RunID   string            `json:"run_id"`
	Flow    string            `json:"flow"`
	Status  schema.RunState   `json:"status"`
	Context map[string]any    `json:"context,omitempty"`
	Error   *schema.FlowError `json:"error,omitempty"`
}

type validateResult struct {
	Valid    bool                     `json:"valid"`
	Errors   []schema.ValidationIssue `json:"errors,omitempty"`
	Warnings []schema.ValidationIssue `json:"warnings,omitempty"`
}

// handleList describes every flow in the catalog.
func (s *Server) handleList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.catalog == nil {
		return mcp.NewToolResultError("no flow catalog configured"), nil
	}
	flows := make([]flowSummary, 0)
	for _, b := range s.catalog.List() {
		def := b.Definition()
		mode := def.Mode
		if mode == "" {
			mode = schema.FlowModeSync
		}
		nodes := make([]string, 0, len(def.Nodes))
		for _, n := range def.Nodes {
			nodes = append(nodes, n.ID)
		}
		flows = append(flows, flowSummary{
			Name:        def.Name,
			Description: def.Description,
			Mode:        mode,
			Entry:       def.Entry,
			Nodes:       nodes,
			Labels:      def.Labels,
			Schedule:    def.Schedule,
		})
	}
	return marshalResult(map[string]any{"flows": flows})
}

// handleRun runs a catalog flow and reports its final context or error.
func (s *Server) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("flow")
	if err != nil {
		return mcp.NewToolResultError("flow is required"), nil
	}
	if s.catalog == nil {
		return mcp.NewToolResultError("no flow catalog configured"), nil
	}
	input := mcp.ParseStringMap(req, "input", nil)

	ex, runErr := s.catalog.Run(ctx, name, input)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}
	<-ex.Done()

	res := runResult{RunID: ex.RunID(), Flow: name, Status: ex.State()}
	logger := logging.LogWith(logging.WithRun(ctx, name, res.RunID), s.logger)
	if err := ex.Err(); err != nil {
		fe, ok := schema.AsFlowError(err)
		if !ok {
			fe = schema.NewError(schema.ErrCodeExecution, err.Error())
		}
		res.Error = fe
		logger.Warn("run failed", slog.String("code", fe.Code), slog.String("error", fe.Message))
	} else {
		res.Context = ex.Shared().Snapshot()
		logger.Info("run succeeded")
	}

	out, mErr := marshalResult(res)
	if mErr == nil && res.Error != nil {
		out.IsError = true
	}
	return out, mErr
}

// handleValidate runs the full validation pipeline on a raw definition.
func (s *Server) handleValidate(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := mcp.ParseStringMap(req, "definition", nil)
	if doc == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}
	if s.catalog == nil {
		return mcp.NewToolResultError("no flow catalog configured"), nil
	}
	_, result := s.catalog.Builder().ValidateRaw(doc)
	return marshalResult(validateResult{
		Valid:    result.Valid(),
		Errors:   result.Errors,
		Warnings: result.Warnings,
	})
}

// handleDefine validates a raw definition and adds it to the catalog.
func (s *Server) handleDefine(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	doc := mcp.ParseStringMap(req, "definition", nil)
	if doc == nil {
		return mcp.NewToolResultError("definition is required"), nil
	}
	if s.catalog == nil {
		return mcp.NewToolResultError("no flow catalog configured"), nil
	}
	def, result := s.catalog.Builder().ValidateRaw(doc)
	if !result.Valid() {
		out, err := marshalResult(validateResult{Errors: result.Errors, Warnings: result.Warnings})
		if err == nil {
			out.IsError = true
		}
		return out, err
	}
	if _, err := s.catalog.Add(def); err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("define failed: %v", err)), nil
	}
	s.logger.Info("flow defined", slog.String(logging.AttrFlow, def.Name))
	return marshalResult(map[string]any{
		"ok":       true,
		"flow":     def.Name,
		"warnings": result.Warnings,
	})
}

// handleHistory returns one run with its events, or a filtered run list.
func (s *Server) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.journal == nil {
		return mcp.NewToolResultError("no run journal configured"), nil
	}

	if runID := req.GetString("run_id", ""); runID != "" {
		run, err := s.journal.GetRun(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("run lookup failed: %v", err)), nil
		}
		events, err := s.journal.ListEvents(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("event query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"run": run, "events": events})
	}

	filter := store.RunFilter{
		Flow:   req.GetString("flow", ""),
		Status: schema.RunState(req.GetString("status", "")),
		Limit:  extractInt(req.GetArguments(), "limit", store.DefaultRunLimit),
	}
	if since := req.GetString("since", ""); since != "" {
		t, err := time.Parse(time.RFC3339, since)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("since must be an RFC 3339 time: %v", err)), nil
		}
		filter.Since = t
	}

	runs, err := s.journal.ListRuns(ctx, filter)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("query failed: %v", err)), nil
	}
	if runs == nil {
		runs = []*store.Run{}
	}
	return marshalResult(map[string]any{"runs": runs})
}

// handleDiagram renders a catalog flow, optionally colored by one run.
func (s *Server) handleDiagram(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	name, err := req.RequireString("flow")
	if err != nil {
		return mcp.NewToolResultError("flow is required"), nil
	}
	format, err := req.RequireString("format")
	if err != nil {
		return mcp.NewToolResultError("format is required"), nil
	}
	if s.catalog == nil {
		return mcp.NewToolResultError("no flow catalog configured"), nil
	}
	built, err := s.catalog.Get(name)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("flow lookup failed: %v", err)), nil
	}

	var events []*schema.Event
	if runID := req.GetString("run_id", ""); runID != "" {
		if s.journal == nil {
			return mcp.NewToolResultError("no run journal configured"), nil
		}
		if events, err = s.journal.ListEvents(ctx, runID); err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("event query failed: %v", err)), nil
		}
	}
	model := diagram.Build(built.Definition(), events)

	switch format {
	case "ascii":
		return mcp.NewToolResultText(diagram.RenderASCII(model)), nil
	case "mermaid":
		return mcp.NewToolResultText(diagram.RenderMermaid(model)), nil
	case diagram.FormatSVG, diagram.FormatPNG:
		img, err := diagram.RenderImage(ctx, model, format)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("image render failed: %v", err)), nil
		}
		if format == diagram.FormatSVG {
			return mcp.NewToolResultText(string(img)), nil
		}
		return mcp.NewToolResultImage(name, base64.StdEncoding.EncodeToString(img), "image/png"), nil
	default:
		return mcp.NewToolResultError("format must be ascii, mermaid, svg or png"), nil
	}
}

// --- Helpers ---

// extractInt reads an integer argument that may arrive as a JSON number or
// a numeric string.
func extractInt(args map[string]any, key string, defaultVal int) int {
	if args == nil {
		return defaultVal
	}
	v, ok := args[key]
	if !ok {
		return defaultVal
	}
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return defaultVal
}

func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultJSON(json.RawMessage(data))
}
