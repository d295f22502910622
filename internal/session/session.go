// Package session holds the state value threaded through plan building,
// translation, and execution. A Session is never mutated in place: every
// write returns a new Session sharing unchanged state, so a fold can carry
// "the session as of this step" without locking.
package session

// PlanKey is the well-known key under which the in-progress action plan is
// carried while a phase routine runs.
const PlanKey = "pallet/action-plan"

// Session is the externally-owned state threaded through every step of a
// phase run. The zero value is not usable; use New.
type Session struct {
	values     map[string]any
	nodeValues map[string]any
	phase      []string
	exec       *ExecSettings
}

// ExecSettings carries the executor / status-function pair established for a
// top-level run, so nested block execution uses the same pair.
type ExecSettings struct {
	Executor any
	StatusFn any
}

// New creates an empty Session.
func New() *Session {
	return &Session{
		values:     map[string]any{},
		nodeValues: map[string]any{},
	}
}

// clone returns a shallow copy with freshly copied maps. O(n) in the number
// of keys; sessions stay small (a handful of keys plus node values).
func (s *Session) clone() *Session {
	next := &Session{
		values:     make(map[string]any, len(s.values)),
		nodeValues: make(map[string]any, len(s.nodeValues)),
		phase:      s.phase,
		exec:       s.exec,
	}
	for k, v := range s.values {
		next.values[k] = v
	}
	for k, v := range s.nodeValues {
		next.nodeValues[k] = v
	}
	return next
}

// Get reads a value from the general store.
func (s *Session) Get(key string) (any, bool) {
	v, ok := s.values[key]
	return v, ok
}

// With returns a new Session with key set in the general store.
func (s *Session) With(key string, value any) *Session {
	next := s.clone()
	next.values[key] = value
	return next
}

// Without returns a new Session with key removed from the general store.
func (s *Session) Without(key string) *Session {
	next := s.clone()
	delete(next.values, key)
	return next
}

// Values returns a copy of the general store.
func (s *Session) Values() map[string]any {
	out := make(map[string]any, len(s.values))
	for k, v := range s.values {
		out[k] = v
	}
	return out
}

// Plan returns the in-progress action plan, or nil when none is open.
// The plan is stored as any to keep this package free of plan imports; the
// plan package owns the concrete type.
func (s *Session) Plan() any {
	return s.values[PlanKey]
}

// WithPlan returns a new Session carrying p as the in-progress plan.
// A nil p clears the slot.
func (s *Session) WithPlan(p any) *Session {
	if p == nil {
		return s.Without(PlanKey)
	}
	return s.With(PlanKey, p)
}

// NodeValue reads a value from the node-value store by path.
func (s *Session) NodeValue(path string) (any, bool) {
	v, ok := s.nodeValues[path]
	return v, ok
}

// NodeValues returns a copy of the node-value store.
func (s *Session) NodeValues() map[string]any {
	out := make(map[string]any, len(s.nodeValues))
	for k, v := range s.nodeValues {
		out[k] = v
	}
	return out
}

// WithNodeValue returns a new Session with the node value at path set.
func (s *Session) WithNodeValue(path string, value any) *Session {
	next := s.clone()
	next.nodeValues[path] = value
	return next
}

// Phase returns the current phase-context path. Callers must not mutate the
// returned slice.
func (s *Session) Phase() []string {
	return s.phase
}

// InPhase returns a new Session with label appended to the phase context.
func (s *Session) InPhase(label string) *Session {
	next := s.clone()
	next.phase = append(append([]string(nil), s.phase...), label)
	return next
}

// WithPhase returns a new Session with the phase context replaced.
func (s *Session) WithPhase(path []string) *Session {
	next := s.clone()
	next.phase = append([]string(nil), path...)
	return next
}

// Exec returns the ambient executor settings, or nil when none are set.
func (s *Session) Exec() *ExecSettings {
	return s.exec
}

// WithExec returns a new Session carrying the executor settings for this run.
func (s *Session) WithExec(es *ExecSettings) *Session {
	next := s.clone()
	next.exec = es
	return next
}
