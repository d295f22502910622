package actions

import (
	"context"

	"github.com/digideskio/pallet/internal/session"
)

// Kind is the fixed execution kind of a registered action. It determines how
// scheduled instances are grouped and ordered during plan translation.
type Kind int

const (
	// InSequence instances run one by one in scheduled order.
	InSequence Kind = iota
	// Aggregated instances sharing (ref, action-id) within a scope collapse
	// into one merged instance, emitted before the in-sequence group.
	Aggregated
	// Collected instances merge like Aggregated but are emitted after the
	// in-sequence group.
	Collected
	// Deferred kinds stand for actions generated at translation time; the
	// base kind governs grouping, deferredness governs expansion.
	DeferredInSequence
	DeferredAggregated
	DeferredCollected
)

// Base strips deferredness, mapping each deferred kind to its base kind.
func (k Kind) Base() Kind {
	switch k {
	case DeferredInSequence:
		return InSequence
	case DeferredAggregated:
		return Aggregated
	case DeferredCollected:
		return Collected
	default:
		return k
	}
}

// Deferred reports whether instances of this kind are expanded at translation
// time rather than executed directly.
func (k Kind) Deferred() bool {
	return k >= DeferredInSequence
}

// Merged reports whether instances of this kind are merged per scope.
func (k Kind) Merged() bool {
	b := k.Base()
	return b == Aggregated || b == Collected
}

func (k Kind) String() string {
	switch k {
	case InSequence:
		return "in-sequence"
	case Aggregated:
		return "aggregated"
	case Collected:
		return "collected"
	case DeferredInSequence:
		return "deferred-in-sequence"
	case DeferredAggregated:
		return "deferred-aggregated"
	case DeferredCollected:
		return "deferred-collected"
	default:
		return "unknown"
	}
}

// ImplFn is one named implementation of an action. It receives the session as
// of this step and the evaluated arguments, and returns the action's value
// plus the next session. For aggregated/collected actions each element of
// args is itself one evaluated argument tuple ([]any), in first-seen order.
type ImplFn func(ctx context.Context, sess *session.Session, args []any) (any, *session.Session, error)

// GeneratorFn is the translation-time implementation of a deferred action.
// It runs against the live session with the recorded phase context bound and
// an open nested scope in the session's plan slot, scheduling the actions the
// deferred instance stands for. It returns the session it finished with.
type GeneratorFn func(ctx context.Context, sess *session.Session, args []any) (*session.Session, error)

// DefaultImpl is the implementation name executors fall back to when no
// other selection applies.
const DefaultImpl = "default"

// Ref is the identity of a registered action: a name, a fixed execution
// kind, and the named implementations resolved at execution time. Deferred
// refs carry a Generate function instead of (or in addition to) Impls.
type Ref struct {
	name      string
	kind      Kind
	impls     map[string]ImplFn
	generate  GeneratorFn
	argSchema *argSchema
}

// Name returns the action's registered name.
func (r *Ref) Name() string { return r.name }

// Kind returns the action's fixed execution kind.
func (r *Ref) Kind() Kind { return r.kind }

// Impl returns the named implementation, or nil when absent.
func (r *Ref) Impl(name string) ImplFn {
	return r.impls[name]
}

// ImplNames returns the registered implementation names.
func (r *Ref) ImplNames() []string {
	names := make([]string, 0, len(r.impls))
	for n := range r.impls {
		names = append(names, n)
	}
	return names
}

// Generator returns the deferred generator fn, or nil for direct actions.
func (r *Ref) Generator() GeneratorFn { return r.generate }
