// Package translate turns a raw builder-shaped action plan into the linear,
// conflict-resolved form the executor consumes: execution-kind grouping and
// aggregation, deferred-action expansion against the live session, then
// precedence resolution, each applied per scope.
package translate

import (
	"context"

	"github.com/digideskio/pallet/internal/plan"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/pkg/schema"
)

// Translate closes the plan's implicit root scope and runs the pipeline:
// classify/aggregate, expand deferred actions, resolve precedence. It returns
// the translated plan and the session with its in-progress plan slot cleared.
// Translating an already-translated plan is a shape no-op. An unclosed nested
// scope is a precondition failure; generator faults abort translation.
func Translate(ctx context.Context, p *plan.Plan, sess *session.Session) (*plan.Plan, *session.Session, error) {
	if p == nil {
		return nil, sess, schema.NewError(schema.ErrCodeValidation, "translate: nil plan")
	}
	if p.Translated() {
		return p, sess.WithPlan(nil), nil
	}

	root, err := p.CloseRoot()
	if err != nil {
		return nil, sess, err
	}

	root = classifyScope(root)

	root, sess, err = expandScope(ctx, sess, root)
	if err != nil {
		return nil, sess, err
	}

	root = resolveScope(root)

	p.MarkTranslated(root)
	return p, sess.WithPlan(nil), nil
}
