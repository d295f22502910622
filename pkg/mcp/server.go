// Package mcp exposes the engine to agents over the Model Context Protocol:
// run a phase, render its translated plan, list the action vocabulary, and
// query the run journal.
package mcp

import (
	"context"
	"log/slog"
	"os"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/digideskio/pallet/internal/actions"
	"github.com/digideskio/pallet/internal/planfile"
	"github.com/digideskio/pallet/internal/runner"
	"github.com/digideskio/pallet/internal/store"
)

// PalletServerDeps holds the dependencies for creating a PalletServer.
type PalletServerDeps struct {
	Runner   *runner.Runner
	Registry *actions.Registry
	Store    store.Store
	File     *planfile.File
	Logger   *slog.Logger
}

// PalletServer wraps an MCP server with pallet-specific tool handlers.
type PalletServer struct {
	runner    *runner.Runner
	registry  *actions.Registry
	store     store.Store
	file      *planfile.File
	logger    *slog.Logger
	mcpServer *server.MCPServer
}

// NewPalletServer creates a new PalletServer with all 4 tools registered.
func NewPalletServer(deps PalletServerDeps) *PalletServer {
	logger := deps.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}

	s := &PalletServer{
		runner:   deps.Runner,
		registry: deps.Registry,
		store:    deps.Store,
		file:     deps.File,
		logger:   logger,
	}

	mcpSrv := server.NewMCPServer(
		"pallet",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithRecovery(),
		server.WithInstructions("Pallet applies declarative infrastructure phases. Use pallet.run to converge a phase, pallet.plan to preview its translated action plan without executing, pallet.actions to list the action vocabulary, and pallet.history to query past runs."),
	)

	mcpSrv.AddTools(s.tools()...)
	s.mcpServer = mcpSrv
	return s
}

// Serve starts the stdio transport and blocks until ctx is cancelled or stdin closes.
func (s *PalletServer) Serve(ctx context.Context) error {
	stdio := server.NewStdioServer(s.mcpServer)
	return stdio.Listen(ctx, os.Stdin, os.Stdout)
}

// MCPServer returns the underlying MCPServer for testing or custom transports.
func (s *PalletServer) MCPServer() *server.MCPServer {
	return s.mcpServer
}

// tools returns the 4 registered MCP tools as ServerTool entries.
func (s *PalletServer) tools() []server.ServerTool {
	return []server.ServerTool{
		{Tool: runTool(), Handler: s.handleRun},
		{Tool: planTool(), Handler: s.handlePlan},
		{Tool: actionsTool(), Handler: s.handleActions},
		{Tool: historyTool(), Handler: s.handleHistory},
	}
}

// --- Tool definitions ---

func runTool() mcp.Tool {
	return mcp.NewTool("pallet.run",
		mcp.WithDescription("Converge a phase from the loaded plan file"),
		mcp.WithString("phase", mcp.Required(), mcp.Description("Name of the phase to run")),
		mcp.WithObject("values", mcp.Description("Session values overriding the plan file's values")),
		mcp.WithBoolean("continue_on_error", mcp.Description("Collect action errors instead of stopping at the first")),
	)
}

func planTool() mcp.Tool {
	return mcp.NewTool("pallet.plan",
		mcp.WithDescription("Translate a phase and render the resulting action plan without executing it"),
		mcp.WithString("phase", mcp.Required(), mcp.Description("Name of the phase to translate")),
		mcp.WithObject("values", mcp.Description("Session values overriding the plan file's values")),
		mcp.WithString("format", mcp.Description("Add a rendered \"mermaid\" flowchart to the result"),
			mcp.Enum("text", "mermaid"),
		),
	)
}

func actionsTool() mcp.Tool {
	return mcp.NewTool("pallet.actions",
		mcp.WithDescription("List the registered action vocabulary"),
	)
}

func historyTool() mcp.Tool {
	return mcp.NewTool("pallet.history",
		mcp.WithDescription("Query past runs and their per-action events"),
		mcp.WithString("run_id", mcp.Description("Return one run with its action events")),
		mcp.WithString("phase", mcp.Description("Filter runs by phase name")),
		mcp.WithString("status", mcp.Description("Filter runs by status"),
			mcp.Enum(store.RunStatusRunning, store.RunStatusCompleted, store.RunStatusFailed),
		),
		mcp.WithNumber("limit", mcp.Description("Maximum number of runs to return (default 20)")),
	)
}
