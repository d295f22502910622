package translate

import (
	"context"

	"github.com/digideskio/pallet/internal/plan"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/pkg/schema"
)

// expandScope replaces every deferred leaf in the scope with the sub-plan its
// generator produces, order-preserving, recursing until no deferred leaves
// remain. Generator faults propagate uncaught: translation aborts rather than
// flowing through the execution-time error machinery.
func expandScope(ctx context.Context, sess *session.Session, maps []*plan.ActionMap) ([]*plan.ActionMap, *session.Session, error) {
	out := make([]*plan.ActionMap, 0, len(maps))
	for _, m := range maps {
		if m.Ref.Kind().Deferred() {
			sub, next, err := expandLeaf(ctx, sess, m)
			if err != nil {
				return nil, sess, err
			}
			sess = next
			// A generated action may itself be deferred.
			sub, sess, err = expandScope(ctx, sess, sub)
			if err != nil {
				return nil, sess, err
			}
			out = append(out, sub...)
			continue
		}

		for i, blk := range m.Blocks {
			expanded, next, err := expandScope(ctx, sess, blk)
			if err != nil {
				return nil, sess, err
			}
			m.Blocks[i] = expanded
			sess = next
		}
		out = append(out, m)
	}
	return out, sess, nil
}

// expandLeaf invokes the deferred instance's generator against the live
// session: the recorded phase context is bound, a fresh nested scope is
// opened in the session's plan slot, the stored arguments are applied, and
// the scope is closed to obtain the generated sub-plan.
func expandLeaf(ctx context.Context, sess *session.Session, m *plan.ActionMap) ([]*plan.ActionMap, *session.Session, error) {
	gen := m.Ref.Generator()
	if gen == nil {
		return nil, sess, schema.NewErrorf(schema.ErrCodeExpansion,
			"deferred action %q has no generator", m.Ref.Name()).WithContext(m.Context)
	}

	prevPlan := sess.Plan()
	prevPhase := sess.Phase()

	nested := plan.New()
	scoped := sess.WithPhase(m.Context).WithPlan(nested)

	args := m.Args
	if m.ArgSeq != nil {
		args = make([]any, len(m.ArgSeq))
		for i, tuple := range m.ArgSeq {
			args[i] = tuple
		}
	}

	after, err := gen(ctx, scoped, args)
	if err != nil {
		return nil, sess, err
	}

	sub, err := nested.CloseRoot()
	if err != nil {
		return nil, sess, schema.NewErrorf(schema.ErrCodeExpansion,
			"deferred action %q left its scope unbalanced: %s", m.Ref.Name(), err.Error()).
			WithContext(m.Context).WithCause(err)
	}

	restored := after.WithPhase(prevPhase).WithPlan(prevPlan)
	return sub, restored, nil
}
