package store

import (
	"encoding/json"
	"time"
)

// Run statuses.
const (
	RunStatusRunning   = "running"
	RunStatusCompleted = "completed"
	RunStatusFailed    = "failed"
)

// Run is the persisted record of one phase run.
type Run struct {
	ID          string          `json:"id"`
	Phase       string          `json:"phase"`
	Status      string          `json:"status"`
	Error       json.RawMessage `json:"error,omitempty"`
	StartedAt   time.Time       `json:"started_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

// RunUpdate carries the fields FinishRun writes.
type RunUpdate struct {
	Status      string
	Error       json.RawMessage
	CompletedAt time.Time
}

// RunFilter narrows ListRuns.
type RunFilter struct {
	Phase  string
	Status string
	Limit  int
}

// ActionEvent is one journal entry: an action map's outcome within a run.
type ActionEvent struct {
	ID         int64           `json:"id"`
	RunID      string          `json:"run_id"`
	Action     string          `json:"action"`
	Context    string          `json:"context,omitempty"`
	Status     string          `json:"status"`
	Error      json.RawMessage `json:"error,omitempty"`
	DurationMs int64           `json:"duration_ms,omitempty"`
	Timestamp  time.Time       `json:"timestamp"`
	Sequence   int64           `json:"sequence"`
}

// Action event statuses.
const (
	ActionStatusCompleted = "completed"
	ActionStatusFailed    = "failed"
	ActionStatusSkipped   = "skipped"
)
