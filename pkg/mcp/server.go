// Package mcp exposes a flow catalog and its run journal as MCP tools.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rendis/nodeflow/internal/store"
	"github.com/rendis/nodeflow/pkg/definition"
)

// Deps holds the dependencies of a Server. Journal is optional; without it
// the history tool reports an error.
type Deps struct {
	Catalog *definition.Catalog
	Journal store.Journal
	Logger  *slog.Logger
	Version string
}

// Server wraps an MCP server with nodeflow tool handlers.
type Server struct {
	catalog   *definition.Catalog
	journal   store.Journal
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewServer creates a Server with all tools registered.
func NewServer(deps Deps) *Server {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	version := deps.Version
	if version == "" {
		version = "dev"
	}

	s := &Server{
		catalog: deps.Catalog,
		journal: deps.Journal,
		logger:  logger,
	}

	mcpSrv := server.NewMCPServer(
		"nodeflow",
		version,
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("nodeflow runs declarative node flows. Use nodeflow.list to see loaded flows, nodeflow.run to execute one, nodeflow.validate to check a definition, nodeflow.define to load a new one, nodeflow.history to inspect past runs and nodeflow.diagram to draw a flow."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *Server) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcpServer
}

func (s *Server) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: listTool(), Handler: s.handleList},
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: validateTool(), Handler: s.handleValidate},
		{Tool: defineTool(), Handler: s.handleDefine},
		{Tool: historyTool(), Handler: s.handleHistory},
		{Tool: diagramTool(), Handler: s.handleDiagram},
	}
}

// --- Tool definitions ---

func listTool() mcp.Tool {
	return mcp.NewTool("nodeflow.list",
		mcp.WithDescription("List the flows loaded in the catalog"),
	)
}

func runTool() mcp.Tool {
	return mcp.NewTool("nodeflow.run",
		mcp.WithDescription("Run a flow and wait for it to finish"),
		mcp.WithString("flow", mcp.Required(), mcp.Description("Name of the flow to run")),
		mcp.WithObject("input", mcp.Description("Initial shared context, layered over the flow's default input")),
	)
}

func validateTool() mcp.Tool {
	return mcp.NewTool("nodeflow.validate",
		mcp.WithDescription("Validate a flow definition without loading it"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Flow definition object")),
	)
}

func defineTool() mcp.Tool {
	return mcp.NewTool("nodeflow.define",
		mcp.WithDescription("Validate a flow definition and add it to the catalog"),
		mcp.WithObject("definition", mcp.Required(), mcp.Description("Flow definition object")),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("nodeflow.history",
		mcp.WithDescription("Query the run journal"),
		mcp.WithString("run_id", mcp.Description("Return this run and its events")),
		mcp.WithString("flow", mcp.Description("Only runs of this flow")),
		mcp.WithString("status", mcp.Enum("running", "succeeded", "failed"), mcp.Description("Only runs in this state")),
		mcp.WithString("since", mcp.Description("Only runs started at or after this RFC 3339 time")),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs (default 50)")),
	)
}

func diagramTool() mcp.Tool {
	return mcp.NewTool("nodeflow.diagram",
		mcp.WithDescription("Draw a flow as ASCII art, a Mermaid flowchart, SVG or a PNG image"),
		mcp.WithString("flow", mcp.Required(), mcp.Description("Name of the flow to draw")),
		mcp.WithString("format", mcp.Required(),
			mcp.Enum("ascii", "mermaid", "svg", "png"),
			mcp.Description("Output format"),
		),
		mcp.WithString("run_id", mcp.Description("Overlay the status of this journaled run")),
	)
}
