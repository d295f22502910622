// Package logging carries run/action correlation IDs on the context and
// injects them into slog records.
package logging

import (
	"context"
	"log/slog"
	"strings"
)

type ctxKey int

const (
	runIDKey ctxKey = iota
	phaseKey
	actionKey
)

// WithRunID returns a context with the run ID set.
func WithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey, id)
}

// WithPhase returns a context with the phase-context path set.
func WithPhase(ctx context.Context, path []string) context.Context {
	return context.WithValue(ctx, phaseKey, append([]string(nil), path...))
}

// WithAction returns a context with the current action name set.
func WithAction(ctx context.Context, name string) context.Context {
	return context.WithValue(ctx, actionKey, name)
}

// RunID extracts the run ID from the context, or "" if absent.
func RunID(ctx context.Context) string {
	v, _ := ctx.Value(runIDKey).(string)
	return v
}

// Phase extracts the phase-context path from the context, or nil if absent.
func Phase(ctx context.Context) []string {
	v, _ := ctx.Value(phaseKey).([]string)
	return v
}

// Action extracts the current action name from the context, or "" if absent.
func Action(ctx context.Context) string {
	v, _ := ctx.Value(actionKey).(string)
	return v
}

// LogWith returns a logger enriched with correlation IDs from the context.
// Only non-empty values are added as attributes.
func LogWith(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := RunID(ctx); id != "" {
		logger = logger.With(slog.String("run_id", id))
	}
	if p := Phase(ctx); len(p) > 0 {
		logger = logger.With(slog.String("phase", strings.Join(p, ": ")))
	}
	if a := Action(ctx); a != "" {
		logger = logger.With(slog.String("action", a))
	}
	return logger
}

// CorrelationHandler wraps an slog.Handler, automatically injecting
// correlation IDs from the context into every log record, so callers can use
// logger.InfoContext(ctx, ...) and IDs appear without plumbing.
type CorrelationHandler struct {
	inner slog.Handler
}

// NewCorrelationHandler wraps the given handler.
func NewCorrelationHandler(inner slog.Handler) *CorrelationHandler {
	return &CorrelationHandler{inner: inner}
}

func (h *CorrelationHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.inner.Enabled(ctx, level)
}

func (h *CorrelationHandler) Handle(ctx context.Context, r slog.Record) error {
	if v := RunID(ctx); v != "" {
		r.AddAttrs(slog.String("run_id", v))
	}
	if v := Phase(ctx); len(v) > 0 {
		r.AddAttrs(slog.String("phase", strings.Join(v, ": ")))
	}
	if v := Action(ctx); v != "" {
		r.AddAttrs(slog.String("action", v))
	}
	return h.inner.Handle(ctx, r)
}

func (h *CorrelationHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithAttrs(attrs)}
}

func (h *CorrelationHandler) WithGroup(name string) slog.Handler {
	return &CorrelationHandler{inner: h.inner.WithGroup(name)}
}
