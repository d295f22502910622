package mcp

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digideskio/pallet/internal/actions"
	"github.com/digideskio/pallet/internal/engine"
	"github.com/digideskio/pallet/internal/planfile"
	"github.com/digideskio/pallet/internal/runner"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/internal/store"
	"github.com/digideskio/pallet/pkg/schema"
)

// --- Mock Store ---

type mockStore struct {
	store.Store // embed for unimplemented methods

	runs   map[string]*store.Run
	events []*store.ActionEvent
}

func newMockStore() *mockStore {
	return &mockStore{runs: make(map[string]*store.Run)}
}

func (m *mockStore) CreateRun(_ context.Context, run *store.Run) error {
	cp := *run
	m.runs[run.ID] = &cp
	return nil
}

func (m *mockStore) FinishRun(_ context.Context, id string, update store.RunUpdate) error {
	run, ok := m.runs[id]
	if !ok {
		return fmt.Errorf("run %q not found", id)
	}
	run.Status = update.Status
	run.Error = update.Error
	completed := update.CompletedAt
	run.CompletedAt = &completed
	return nil
}

func (m *mockStore) GetRun(_ context.Context, id string) (*store.Run, error) {
	run, ok := m.runs[id]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "run not found: %s", id)
	}
	return run, nil
}

func (m *mockStore) ListRuns(_ context.Context, filter store.RunFilter) ([]*store.Run, error) {
	result := make([]*store.Run, 0)
	for _, run := range m.runs {
		if filter.Phase != "" && run.Phase != filter.Phase {
			continue
		}
		if filter.Status != "" && run.Status != filter.Status {
			continue
		}
		result = append(result, run)
	}
	if filter.Limit > 0 && len(result) > filter.Limit {
		result = result[:filter.Limit]
	}
	return result, nil
}

func (m *mockStore) AppendActionEvent(_ context.Context, event *store.ActionEvent) error {
	cp := *event
	cp.Sequence = int64(len(m.events) + 1)
	m.events = append(m.events, &cp)
	return nil
}

func (m *mockStore) ListActionEvents(_ context.Context, runID string) ([]*store.ActionEvent, error) {
	var out []*store.ActionEvent
	for _, ev := range m.events {
		if ev.RunID == runID {
			out = append(out, ev)
		}
	}
	return out, nil
}

// --- Helpers ---

const testPlanJSON = `{
  "values": {"greeting": "hello"},
  "phases": {
    "configure": [
      {"action": "note", "args": ["one"]},
      {"action": "note", "args": [{"$expr": "values.greeting"}]}
    ]
  }
}`

func newTestServer(t *testing.T, ms store.Store) *PalletServer {
	t.Helper()

	reg := actions.NewRegistry()
	_, err := reg.Register(actions.RefSpec{
		Name: "note", Kind: actions.InSequence,
		Impls: map[string]actions.ImplFn{
			actions.DefaultImpl: func(ctx context.Context, sess *session.Session, args []any) (any, *session.Session, error) {
				if len(args) > 0 {
					return args[0], sess, nil
				}
				return nil, sess, nil
			},
		},
	})
	require.NoError(t, err)

	file, err := planfile.Parse([]byte(testPlanJSON))
	require.NoError(t, err)

	eng, err := engine.New(nil)
	require.NoError(t, err)

	return NewPalletServer(PalletServerDeps{
		Runner:   runner.New(eng, ms, nil),
		Registry: reg,
		Store:    ms,
		File:     file,
	})
}

func buildRequest(toolName string, args map[string]any) mcp.CallToolRequest {
	return mcp.CallToolRequest{
		Params: mcp.CallToolParams{
			Name:      toolName,
			Arguments: args,
		},
	}
}

func resultJSON(t *testing.T, result *mcp.CallToolResult) map[string]any {
	t.Helper()
	require.NotEmpty(t, result.Content)
	text, ok := result.Content[0].(mcp.TextContent)
	require.True(t, ok)
	var out map[string]any
	require.NoError(t, json.Unmarshal([]byte(text.Text), &out))
	return out
}

// --- Tests ---

func TestRunTool(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms)

	req := buildRequest("pallet.run", map[string]any{"phase": "configure"})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	out := resultJSON(t, result)
	assert.Equal(t, "configure", out["phase"])
	assert.Equal(t, store.RunStatusCompleted, out["status"])
	assert.Equal(t, "hello", out["value"], "last action's value, the plan-file greeting")

	// Run and its events were journaled.
	runID, _ := out["run_id"].(string)
	require.NotEmpty(t, runID)
	require.Contains(t, ms.runs, runID)
	assert.Equal(t, store.RunStatusCompleted, ms.runs[runID].Status)
	assert.Len(t, ms.events, 2)
}

func TestRunToolValueOverride(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("pallet.run", map[string]any{
		"phase":  "configure",
		"values": map[string]any{"greeting": "bonjour"},
	})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	out := resultJSON(t, result)
	assert.Equal(t, "bonjour", out["value"])
}

func TestRunToolMissingPhase(t *testing.T) {
	s := newTestServer(t, newMockStore())

	result, err := s.handleRun(context.Background(), buildRequest("pallet.run", map[string]any{}))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestRunToolUnknownPhase(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("pallet.run", map[string]any{"phase": "ghost"})
	result, err := s.handleRun(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestPlanTool(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("pallet.plan", map[string]any{"phase": "configure"})
	result, err := s.handlePlan(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	out := resultJSON(t, result)
	assert.Equal(t, float64(2), out["actions"])
	assert.NotEmpty(t, out["plan"])
	assert.NotContains(t, out, "mermaid")
}

func TestPlanToolMermaid(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("pallet.plan", map[string]any{
		"phase":  "configure",
		"format": "mermaid",
	})
	result, err := s.handlePlan(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	out := resultJSON(t, result)
	mermaid, _ := out["mermaid"].(string)
	assert.Contains(t, mermaid, "graph TD")
	assert.Contains(t, mermaid, "note")
}

func TestPlanToolDoesNotExecute(t *testing.T) {
	ms := newMockStore()
	s := newTestServer(t, ms)

	req := buildRequest("pallet.plan", map[string]any{"phase": "configure"})
	_, err := s.handlePlan(context.Background(), req)
	require.NoError(t, err)

	assert.Empty(t, ms.runs, "planning must not journal a run")
	assert.Empty(t, ms.events)
}

func TestActionsTool(t *testing.T) {
	s := newTestServer(t, newMockStore())

	result, err := s.handleActions(context.Background(), buildRequest("pallet.actions", nil))
	require.NoError(t, err)
	assert.False(t, result.IsError)

	out := resultJSON(t, result)
	phases, _ := out["phases"].([]any)
	assert.Contains(t, phases, "configure")

	data, merr := json.Marshal(out["actions"])
	require.NoError(t, merr)
	assert.Contains(t, string(data), "note")
}

func TestHistoryToolByRunID(t *testing.T) {
	ms := newMockStore()
	now := time.Now().UTC()
	require.NoError(t, ms.CreateRun(context.Background(), &store.Run{
		ID: "r1", Phase: "configure", Status: store.RunStatusCompleted, StartedAt: now,
	}))
	require.NoError(t, ms.AppendActionEvent(context.Background(), &store.ActionEvent{
		RunID: "r1", Action: "note", Status: store.ActionStatusCompleted, Timestamp: now,
	}))

	s := newTestServer(t, ms)
	req := buildRequest("pallet.history", map[string]any{"run_id": "r1"})
	result, err := s.handleHistory(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, result.IsError)

	out := resultJSON(t, result)
	run, _ := out["run"].(map[string]any)
	assert.Equal(t, "r1", run["id"])
	events, _ := out["events"].([]any)
	assert.Len(t, events, 1)
}

func TestHistoryToolList(t *testing.T) {
	ms := newMockStore()
	now := time.Now().UTC()
	for i := 0; i < 3; i++ {
		require.NoError(t, ms.CreateRun(context.Background(), &store.Run{
			ID: fmt.Sprintf("r%d", i), Phase: "configure",
			Status: store.RunStatusCompleted, StartedAt: now,
		}))
	}

	s := newTestServer(t, ms)
	req := buildRequest("pallet.history", map[string]any{"limit": float64(2)})
	result, err := s.handleHistory(context.Background(), req)
	require.NoError(t, err)

	out := resultJSON(t, result)
	assert.Equal(t, float64(2), out["count"])
}

func TestHistoryToolUnknownRun(t *testing.T) {
	s := newTestServer(t, newMockStore())

	req := buildRequest("pallet.history", map[string]any{"run_id": "ghost"})
	result, err := s.handleHistory(context.Background(), req)
	require.NoError(t, err)
	assert.True(t, result.IsError)
}

func TestHistoryToolWithoutStore(t *testing.T) {
	s := newTestServer(t, newMockStore())
	s.store = nil

	result, err := s.handleHistory(context.Background(), buildRequest("pallet.history", nil))
	require.NoError(t, err)
	assert.True(t, result.IsError)
}
