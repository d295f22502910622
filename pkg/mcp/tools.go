package mcp

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"

	"github.com/digideskio/pallet/internal/diagram"
	"github.com/digideskio/pallet/internal/engine"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/internal/store"
)

// handleRun converges a phase from the loaded plan file.
func (s *PalletServer) handleRun(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phaseName, err := req.RequireString("phase")
	if err != nil {
		return mcp.NewToolResultError("phase is required"), nil
	}

	phase, perr := s.file.PhaseFn(phaseName, s.registry)
	if perr != nil {
		return mcp.NewToolResultError(perr.Error()), nil
	}
	sess := s.session(mcp.ParseStringMap(req, "values", nil))

	statusFn := engine.StatusFn(nil)
	var collector *engine.ErrorCollector
	if req.GetBool("continue_on_error", false) {
		collector = engine.NewErrorCollector()
		statusFn = collector.Status
	}

	run, res, _, runErr := s.runner.Converge(ctx, phaseName, phase, sess, engine.DefaultExecutor(), statusFn)
	if runErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("run failed: %v", runErr)), nil
	}

	out := map[string]any{
		"run_id": run.ID,
		"phase":  phaseName,
		"status": run.Status,
		"value":  res.Value,
	}
	if res.Err != nil {
		out["error"] = res.Err
	}
	if collector != nil && len(collector.Errors()) > 0 {
		out["errors"] = collector.Errors()
	}
	return marshalResult(out)
}

// handlePlan translates a phase and renders the plan without executing it.
func (s *PalletServer) handlePlan(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	phaseName, err := req.RequireString("phase")
	if err != nil {
		return mcp.NewToolResultError("phase is required"), nil
	}

	phase, perr := s.file.PhaseFn(phaseName, s.registry)
	if perr != nil {
		return mcp.NewToolResultError(perr.Error()), nil
	}
	sess := s.session(mcp.ParseStringMap(req, "values", nil))

	p, _, buildErr := s.runner.Engine().BuildPlan(ctx, phase, sess)
	if buildErr != nil {
		return mcp.NewToolResultError(fmt.Sprintf("plan failed: %v", buildErr)), nil
	}

	out := map[string]any{
		"phase":   phaseName,
		"actions": len(p.Actions()),
		"plan":    p.String(),
	}
	if req.GetString("format", "") == "mermaid" {
		model, derr := diagram.FromPlan(phaseName, p)
		if derr != nil {
			return mcp.NewToolResultError(derr.Error()), nil
		}
		out["mermaid"] = diagram.RenderMermaid(model)
	}
	return marshalResult(out)
}

// handleActions lists the registered action vocabulary.
func (s *PalletServer) handleActions(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return marshalResult(map[string]any{
		"actions": s.registry.List(),
		"phases":  s.file.PhaseNames(),
	})
}

// handleHistory queries the run journal.
func (s *PalletServer) handleHistory(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	if s.store == nil {
		return mcp.NewToolResultError("no run journal configured"), nil
	}

	if runID := req.GetString("run_id", ""); runID != "" {
		run, err := s.store.GetRun(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("history query failed: %v", err)), nil
		}
		if run == nil {
			return mcp.NewToolResultError(fmt.Sprintf("run not found: %s", runID)), nil
		}
		events, err := s.store.ListActionEvents(ctx, runID)
		if err != nil {
			return mcp.NewToolResultError(fmt.Sprintf("history query failed: %v", err)), nil
		}
		return marshalResult(map[string]any{"run": run, "events": events})
	}

	limit := int(req.GetFloat("limit", 20))
	runs, err := s.store.ListRuns(ctx, store.RunFilter{
		Phase:  req.GetString("phase", ""),
		Status: req.GetString("status", ""),
		Limit:  limit,
	})
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("history query failed: %v", err)), nil
	}
	return marshalResult(map[string]any{"runs": runs, "count": len(runs)})
}

// session seeds a run session from the plan file's values plus per-call
// overrides.
func (s *PalletServer) session(overrides map[string]any) *session.Session {
	sess := s.file.Session()
	for k, v := range overrides {
		sess = sess.With(k, v)
	}
	return sess
}

// marshalResult renders a handler's payload as a JSON text result.
func marshalResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to marshal result: %v", err)), nil
	}
	return mcp.NewToolResultText(string(data)), nil
}
