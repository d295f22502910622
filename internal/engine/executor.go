// Package engine runs translated action plans: a strict left-to-right fold
// threading a (result, session) pair through every action map, with
// per-action fault capture, short-circuit on stop, and conditional branches.
package engine

import (
	"context"
	"log/slog"
	"os"

	"github.com/digideskio/pallet/internal/actions"
	"github.com/digideskio/pallet/internal/expressions"
	"github.com/digideskio/pallet/internal/logging"
	"github.com/digideskio/pallet/internal/plan"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/pkg/schema"
)

// ExecuteFn invokes one action: it alone chooses which named implementation
// of ref runs. It returns the action's value and the next session.
type ExecuteFn func(ctx context.Context, sess *session.Session, ref *actions.Ref, args []any) (any, *session.Session, error)

// Result is the value threaded through the execution fold.
type Result struct {
	// Value is the last executed action's return value.
	Value any
	// Err is set when the last action was downgraded to an error result.
	Err *schema.Error
	// Stop freezes the fold: every remaining action in this and any
	// enclosing fold is skipped and the pair propagates unchanged.
	Stop bool
}

// StatusFn inspects the (result, session) pair after each action and decides
// whether execution continues.
type StatusFn func(res Result, sess *session.Session) (Result, *session.Session)

// Engine executes translated plans. It owns the argument evaluator and the
// logger; the executor and status function arrive per run.
type Engine struct {
	eval   *expressions.Evaluator
	logger *slog.Logger
}

// New creates an Engine. A nil logger falls back to a text handler on stderr.
func New(logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))
	}
	eval, err := expressions.NewEvaluator()
	if err != nil {
		return nil, err
	}
	return &Engine{eval: eval, logger: logger}, nil
}

// Evaluator exposes the engine's argument evaluator.
func (e *Engine) Evaluator() *expressions.Evaluator { return e.eval }

// Execute runs a translated plan. Passing an untranslated plan is a
// programming error, reported synchronously before any action runs. A nil
// statusFn defaults to StopOnError.
func (e *Engine) Execute(ctx context.Context, p *plan.Plan, sess *session.Session, executor ExecuteFn, statusFn StatusFn) (Result, *session.Session, error) {
	if p == nil {
		return Result{}, sess, schema.NewError(schema.ErrCodePlanNotTranslated, "execute: nil plan")
	}
	if !p.Translated() {
		return Result{}, sess, schema.NewError(schema.ErrCodePlanNotTranslated,
			"execute: plan has not been translated")
	}
	if executor == nil {
		return Result{}, sess, schema.NewError(schema.ErrCodeValidation, "execute: nil executor")
	}
	if statusFn == nil {
		statusFn = StopOnError
	}

	// Carry the pair on the session so nested block folds compose with the
	// enclosing run.
	sess = sess.WithExec(&session.ExecSettings{Executor: executor, StatusFn: statusFn})

	res, sess := e.fold(ctx, p.Actions(), Result{}, sess)
	return res, sess, nil
}

// fold executes a sequence of action maps left to right. Once the result
// carries Stop, remaining maps are skipped and the frozen pair propagates.
func (e *Engine) fold(ctx context.Context, maps []*plan.ActionMap, res Result, sess *session.Session) (Result, *session.Session) {
	for _, m := range maps {
		if res.Stop {
			break
		}
		res, sess = e.step(ctx, m, res, sess)
	}
	return res, sess
}

// step executes one action map: bind diagnostic context, evaluate arguments,
// invoke the executor (or fold a conditional branch), record the node value,
// and pass the pair through the status function. Any fault inside the step
// is caught at this boundary and becomes a structured error result paired
// with the session as it was before the action.
func (e *Engine) step(ctx context.Context, m *plan.ActionMap, res Result, sess *session.Session) (Result, *session.Session) {
	ctx = logging.WithAction(logging.WithPhase(ctx, m.Context), m.Ref.Name())
	log := logging.LogWith(ctx, e.logger)

	before := sess
	next, nextSess, fault := e.guardedStep(ctx, m, res, sess)
	if fault != nil {
		log.ErrorContext(ctx, "action failed", slog.String("error", fault.Message))
		next = Result{Err: fault}
		nextSess = before
	} else if next.Err == nil {
		log.DebugContext(ctx, "action completed")
	}

	statusFn := StatusFn(StopOnError)
	if exec := nextSess.Exec(); exec != nil {
		if fn, ok := exec.StatusFn.(StatusFn); ok && fn != nil {
			statusFn = fn
		}
	}
	return statusFn(next, nextSess)
}

// guardedStep runs the fallible part of a step, converting panics and errors
// into a structured fault.
func (e *Engine) guardedStep(ctx context.Context, m *plan.ActionMap, res Result, sess *session.Session) (out Result, outSess *session.Session, fault *schema.Error) {
	defer func() {
		if r := recover(); r != nil {
			fault = schema.NewErrorf(schema.ErrCodeActionFailed,
				"action %s panicked: %v", m.Ref.Name(), r).WithContext(m.Context)
			outSess = sess
		}
	}()

	if len(m.Blocks) > 0 {
		return e.stepConditional(ctx, m, res, sess)
	}

	args, err := e.evaluateArgs(ctx, m, sess)
	if err != nil {
		return res, sess, asFault(err, m)
	}

	var executor ExecuteFn
	if exec := sess.Exec(); exec != nil {
		executor, _ = exec.Executor.(ExecuteFn)
	}
	if executor == nil {
		return res, sess, schema.NewError(schema.ErrCodeExecution,
			"no executor carried by the session").WithContext(m.Context)
	}

	value, nextSess, err := executor(ctx, sess, m.Ref, args)
	if err != nil {
		return res, sess, asFault(err, m)
	}

	nextSess = nextSess.WithNodeValue(m.NodeValuePath, value)
	return Result{Value: value}, nextSess, nil
}

// stepConditional evaluates the boolean-valued first argument and folds the
// then-branch when true, the else-branch when present and false, and nothing
// otherwise. The branch fold uses the executor/status pair carried by the
// session, so nested short-circuiting composes with the enclosing fold.
func (e *Engine) stepConditional(ctx context.Context, m *plan.ActionMap, res Result, sess *session.Session) (Result, *session.Session, *schema.Error) {
	if len(m.Args) == 0 {
		return res, sess, schema.NewErrorf(schema.ErrCodeValidation,
			"conditional action %s has no predicate argument", m.Ref.Name()).WithContext(m.Context)
	}

	predVal, err := e.eval.Evaluate(ctx, m.Args[0], sess)
	if err != nil {
		return res, sess, asFault(err, m)
	}

	pred, err := asBool(predVal)
	if err != nil {
		return res, sess, asFault(err, m)
	}

	var branch []*plan.ActionMap
	switch {
	case pred:
		branch = m.Blocks[0]
	case len(m.Blocks) > 1:
		branch = m.Blocks[1]
	}

	out, outSess := e.fold(ctx, branch, res, sess)
	outSess = outSess.WithNodeValue(m.NodeValuePath, out.Value)
	return out, outSess, nil
}

// evaluateArgs resolves the map's arguments: each tuple of a merged sequence
// is evaluated independently; a plain tuple is evaluated element-wise.
func (e *Engine) evaluateArgs(ctx context.Context, m *plan.ActionMap, sess *session.Session) ([]any, error) {
	if m.ArgSeq != nil {
		out := make([]any, len(m.ArgSeq))
		for i, tuple := range m.ArgSeq {
			evaluated, err := e.eval.EvaluateTuple(ctx, tuple, sess)
			if err != nil {
				return nil, err
			}
			out[i] = evaluated
		}
		return out, nil
	}
	return e.eval.EvaluateTuple(ctx, m.Args, sess)
}

// asFault normalizes an error into the structured form carried by an error
// result, attaching the action's context path.
func asFault(err error, m *plan.ActionMap) *schema.Error {
	if se, ok := err.(*schema.Error); ok {
		if len(se.ContextPath) == 0 {
			se.ContextPath = m.Context
		}
		return se
	}
	return schema.NewErrorf(schema.ErrCodeActionFailed,
		"action %s: %s", m.Ref.Name(), err.Error()).
		WithContext(m.Context).WithCause(err)
}

func asBool(v any) (bool, error) {
	switch val := v.(type) {
	case nil:
		return false, nil
	case bool:
		return val, nil
	default:
		return false, schema.NewErrorf(schema.ErrCodeValidation,
			"conditional predicate evaluated to %T, want bool", v)
	}
}

// ImplExecutor returns an ExecuteFn that dispatches to the named
// implementation of each action, falling back to the default implementation
// when the name is absent.
func ImplExecutor(name string) ExecuteFn {
	return func(ctx context.Context, sess *session.Session, ref *actions.Ref, args []any) (any, *session.Session, error) {
		impl := ref.Impl(name)
		if impl == nil {
			impl = ref.Impl(actions.DefaultImpl)
		}
		if impl == nil {
			return nil, sess, schema.NewErrorf(schema.ErrCodeNotFound,
				"action %q has no %q implementation (have %v)",
				ref.Name(), name, ref.ImplNames())
		}
		return impl(ctx, sess, args)
	}
}

// DefaultExecutor dispatches every action to its default implementation.
func DefaultExecutor() ExecuteFn {
	return ImplExecutor(actions.DefaultImpl)
}
