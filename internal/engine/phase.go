package engine

import (
	"context"

	"github.com/google/uuid"

	"github.com/digideskio/pallet/internal/logging"
	"github.com/digideskio/pallet/internal/plan"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/internal/translate"
)

// PhaseFn is a phase-definition routine: it schedules actions against the
// session's in-progress plan (via plan.Schedule and friends) and returns the
// session it finished with.
type PhaseFn func(ctx context.Context, sess *session.Session) (*session.Session, error)

// RunPhase is the top-level operation: seed a fresh plan into the session,
// run the phase routine to build the raw tree, translate it, and execute the
// result. Build and translate faults abort before any action runs.
func (e *Engine) RunPhase(ctx context.Context, phase PhaseFn, sess *session.Session, executor ExecuteFn, statusFn StatusFn) (Result, *session.Session, error) {
	if logging.RunID(ctx) == "" {
		ctx = logging.WithRunID(ctx, uuid.NewString())
	}

	p := plan.New()
	sess = sess.WithPlan(p)

	sess, err := phase(ctx, sess)
	if err != nil {
		return Result{}, sess, err
	}

	p, sess, err = translate.Translate(ctx, p, sess)
	if err != nil {
		return Result{}, sess, err
	}

	return e.Execute(ctx, p, sess, executor, statusFn)
}

// BuildPlan runs a phase routine and translates the resulting plan without
// executing it. Used for dry runs and plan rendering.
func (e *Engine) BuildPlan(ctx context.Context, phase PhaseFn, sess *session.Session) (*plan.Plan, *session.Session, error) {
	p := plan.New()
	sess = sess.WithPlan(p)

	sess, err := phase(ctx, sess)
	if err != nil {
		return nil, sess, err
	}

	return translate.Translate(ctx, p, sess)
}
