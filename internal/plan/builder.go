package plan

import (
	"github.com/google/uuid"

	"github.com/digideskio/pallet/internal/actions"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/pkg/schema"
)

// ScheduleOpts are the per-instance options accepted by Schedule.
type ScheduleOpts struct {
	// ActionID labels the instance for precedence targeting and for merge
	// identity of aggregated/collected kinds.
	ActionID string
	// Before lists targets this instance must precede.
	Before []Target
	// After lists targets this instance must follow.
	After []Target
}

func (o ScheduleOpts) hasPrecedence() bool {
	return len(o.Before) > 0 || len(o.After) > 0
}

// BeginScope opens a nested scope. Used when scheduling the branches of a
// conditional action.
func (p *Plan) BeginScope() {
	p.scopes = append(p.scopes, nil)
}

// EndScope closes the current nested scope: its sequence becomes the next
// blocks entry of the most recently appended action map in the parent scope.
// The root scope cannot be closed this way; translation closes it.
func (p *Plan) EndScope() error {
	if len(p.scopes) < 2 {
		return schema.NewError(schema.ErrCodeUnbalancedScope, "no nested scope open")
	}
	top := len(p.scopes) - 1
	closed := p.scopes[top]
	p.scopes = p.scopes[:top]

	parent := p.scopes[top-1]
	if len(parent) == 0 {
		return schema.NewError(schema.ErrCodeUnbalancedScope,
			"closing a scope with no action in the parent scope to attach it to")
	}
	owner := parent[len(parent)-1]
	owner.Blocks = append(owner.Blocks, closed)
	return nil
}

// Schedule appends an instance of ref with args to the currently open scope
// and returns its forward-reference handle. The phase-context path is read
// from sess; deferred kinds record it minus the deepest label. Setting any
// precedence option forces an action-id (generated when absent) so that
// adding precedence never silently changes the default ordering of unrelated
// actions.
func (p *Plan) Schedule(sess *session.Session, ref *actions.Ref, args []any, opts ScheduleOpts) (*NodeValue, error) {
	if ref == nil {
		return nil, schema.NewError(schema.ErrCodeValidation, "schedule: nil action reference")
	}
	if err := ref.ValidateArgs(args); err != nil {
		return nil, err
	}

	actionID := opts.ActionID
	if actionID == "" && opts.hasPrecedence() {
		actionID = uuid.NewString()
	}

	ctx := append([]string(nil), sess.Phase()...)
	if ref.Kind().Deferred() && len(ctx) > 0 {
		ctx = ctx[:len(ctx)-1]
	}

	path := p.nodeValuePathFor(ref, actionID)

	m := &ActionMap{
		Ref:           ref,
		Args:          args,
		Context:       ctx,
		ActionID:      actionID,
		Before:        opts.Before,
		After:         opts.After,
		NodeValuePath: path,
	}
	if err := p.appendToOpen(m); err != nil {
		return nil, err
	}
	return &NodeValue{Path: path}, nil
}

// --- session-threaded conveniences ---
//
// Phase routines and deferred generators operate on the plan carried in the
// session's plan slot. These helpers fetch it, apply the operation, and
// return the session (creating the plan on first use).

// FromSession returns the in-progress plan carried by sess, or nil.
func FromSession(sess *session.Session) *Plan {
	p, _ := sess.Plan().(*Plan)
	return p
}

// Ensure returns sess guaranteed to carry an in-progress plan.
func Ensure(sess *session.Session) (*Plan, *session.Session) {
	if p := FromSession(sess); p != nil {
		return p, sess
	}
	p := New()
	return p, sess.WithPlan(p)
}

// Schedule schedules against the session's in-progress plan.
func Schedule(sess *session.Session, ref *actions.Ref, args []any, opts ScheduleOpts) (*NodeValue, *session.Session, error) {
	p, sess := Ensure(sess)
	nv, err := p.Schedule(sess, ref, args, opts)
	return nv, sess, err
}

// BeginScope opens a nested scope on the session's in-progress plan.
func BeginScope(sess *session.Session) *session.Session {
	p, sess := Ensure(sess)
	p.BeginScope()
	return sess
}

// EndScope closes the current nested scope on the session's in-progress plan.
func EndScope(sess *session.Session) (*session.Session, error) {
	p := FromSession(sess)
	if p == nil {
		return sess, schema.NewError(schema.ErrCodeUnbalancedScope, "no plan in progress")
	}
	return sess, p.EndScope()
}
