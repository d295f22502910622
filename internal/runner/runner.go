// Package runner wraps the engine with run journaling: every converge is
// recorded as a run in the store, and every dispatched action as an event.
package runner

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/digideskio/pallet/internal/actions"
	"github.com/digideskio/pallet/internal/engine"
	"github.com/digideskio/pallet/internal/logging"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/internal/store"
	"github.com/digideskio/pallet/pkg/schema"
)

// Runner pairs the engine with a journal store.
type Runner struct {
	engine *engine.Engine
	store  store.Store
	logger *slog.Logger
}

// New creates a Runner. The store may be nil, in which case runs are not
// journaled.
func New(eng *engine.Engine, st store.Store, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{engine: eng, store: st, logger: logger}
}

// Engine exposes the underlying engine, for plan rendering without a journal.
func (r *Runner) Engine() *engine.Engine { return r.engine }

// Converge runs a named phase end to end and journals the outcome. The
// returned run record carries the final status; the execution result and
// session are returned alongside it.
func (r *Runner) Converge(ctx context.Context, phaseName string, phase engine.PhaseFn, sess *session.Session, executor engine.ExecuteFn, statusFn engine.StatusFn) (*store.Run, engine.Result, *session.Session, error) {
	runID := uuid.NewString()
	ctx = logging.WithRunID(ctx, runID)

	run := &store.Run{
		ID:        runID,
		Phase:     phaseName,
		Status:    store.RunStatusRunning,
		StartedAt: time.Now().UTC(),
	}
	if r.store != nil {
		if err := r.store.CreateRun(ctx, run); err != nil {
			return nil, engine.Result{}, sess, err
		}
		executor = r.journaled(runID, executor)
	}

	res, outSess, err := r.engine.RunPhase(ctx, phase, sess, executor, statusFn)

	run.Status = store.RunStatusCompleted
	switch {
	case err != nil:
		run.Status = store.RunStatusFailed
		run.Error = errorJSON(err)
	case res.Err != nil:
		run.Status = store.RunStatusFailed
		run.Error = errorJSON(res.Err)
	}

	if r.store != nil {
		update := store.RunUpdate{Status: run.Status, Error: run.Error, CompletedAt: time.Now().UTC()}
		if ferr := r.store.FinishRun(ctx, runID, update); ferr != nil {
			logging.LogWith(ctx, r.logger).Error("failed to finish run record",
				slog.String("error", ferr.Error()))
		}
	}

	return run, res, outSess, err
}

// RunConverge is Converge collapsed to a single error, the shape the
// scheduler drives jobs through. An error result counts as a failed run.
func (r *Runner) RunConverge(ctx context.Context, phaseName string, phase engine.PhaseFn, sess *session.Session, executor engine.ExecuteFn, statusFn engine.StatusFn) error {
	_, res, _, err := r.Converge(ctx, phaseName, phase, sess, executor, statusFn)
	if err != nil {
		return err
	}
	if res.Err != nil {
		return res.Err
	}
	return nil
}

// journaled decorates an executor so each dispatched action appends an event.
// Journal failures are logged, never surfaced into the run.
func (r *Runner) journaled(runID string, executor engine.ExecuteFn) engine.ExecuteFn {
	return func(ctx context.Context, sess *session.Session, ref *actions.Ref, args []any) (any, *session.Session, error) {
		start := time.Now()
		value, nextSess, err := executor(ctx, sess, ref, args)

		ev := &store.ActionEvent{
			RunID:      runID,
			Action:     ref.Name(),
			Context:    renderPhase(logging.Phase(ctx)),
			Status:     store.ActionStatusCompleted,
			DurationMs: time.Since(start).Milliseconds(),
			Timestamp:  start.UTC(),
		}
		if err != nil {
			ev.Status = store.ActionStatusFailed
			ev.Error = errorJSON(err)
		}
		if aerr := r.store.AppendActionEvent(ctx, ev); aerr != nil {
			logging.LogWith(ctx, r.logger).Error("failed to journal action event",
				slog.String("action", ref.Name()), slog.String("error", aerr.Error()))
		}

		return value, nextSess, err
	}
}

func renderPhase(path []string) string {
	out := ""
	for i, p := range path {
		if i > 0 {
			out += ": "
		}
		out += p
	}
	return out
}

func errorJSON(err error) json.RawMessage {
	var payload any
	if se, ok := err.(*schema.Error); ok {
		payload = se
	} else {
		payload = map[string]string{"message": err.Error()}
	}
	b, merr := json.Marshal(payload)
	if merr != nil {
		b, _ = json.Marshal(map[string]string{"message": err.Error()})
	}
	return b
}
