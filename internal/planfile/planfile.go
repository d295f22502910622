// Package planfile loads declarative plan files: named phases whose steps are
// scheduled against the plan builder when the phase runs. It is the file
// front end the CLI and the MCP surface drive phases through; programmatic
// callers write phase routines directly.
package planfile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sort"

	"github.com/digideskio/pallet/internal/actions"
	"github.com/digideskio/pallet/internal/engine"
	"github.com/digideskio/pallet/internal/expressions"
	"github.com/digideskio/pallet/internal/plan"
	"github.com/digideskio/pallet/internal/secrets"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/pkg/schema"
)

// File is a parsed plan file.
type File struct {
	// Values seed the session's general value map.
	Values map[string]any `json:"values,omitempty"`
	// Phases maps phase names to step sequences.
	Phases map[string][]Step `json:"phases"`
}

// Step is one entry of a phase: either an action invocation or a conditional
// block (When set) whose branches are themselves step sequences.
type Step struct {
	Action string `json:"action,omitempty"`
	Args   []any  `json:"args,omitempty"`

	// ID labels the step for precedence targeting and merge identity.
	ID string `json:"id,omitempty"`
	// Before/After name the action or step ID this step must precede/follow.
	Before []string `json:"before,omitempty"`
	After  []string `json:"after,omitempty"`

	// When holds a predicate expression; Then/Else are the branches.
	When string `json:"when,omitempty"`
	Then []Step `json:"then,omitempty"`
	Else []Step `json:"else,omitempty"`
}

// Load reads and parses a plan file from disk.
func Load(path string) (*File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"read plan file %s: %s", path, err.Error()).WithCause(err)
	}
	return Parse(data)
}

// Parse parses plan-file JSON.
func Parse(data []byte) (*File, error) {
	var f File
	if err := json.Unmarshal(data, &f); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeValidation,
			"parse plan file: %s", err.Error()).WithCause(err)
	}
	if len(f.Phases) == 0 {
		return nil, schema.NewError(schema.ErrCodeValidation, "plan file defines no phases")
	}
	for name, steps := range f.Phases {
		if err := validateSteps(name, steps); err != nil {
			return nil, err
		}
	}
	return &f, nil
}

func validateSteps(phase string, steps []Step) error {
	for i, st := range steps {
		switch {
		case st.When != "":
			if st.Action != "" {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"phase %q step %d: action and when are mutually exclusive", phase, i)
			}
			if len(st.Then) == 0 {
				return schema.NewErrorf(schema.ErrCodeValidation,
					"phase %q step %d: when without a then branch", phase, i)
			}
			if err := validateSteps(phase, st.Then); err != nil {
				return err
			}
			if err := validateSteps(phase, st.Else); err != nil {
				return err
			}
		case st.Action == "":
			return schema.NewErrorf(schema.ErrCodeValidation,
				"phase %q step %d: missing action", phase, i)
		}
	}
	return nil
}

// PhaseNames returns the defined phase names, sorted.
func (f *File) PhaseNames() []string {
	names := make([]string, 0, len(f.Phases))
	for name := range f.Phases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Session returns a fresh session seeded with the file's values. Secret
// markers are left unresolved; use SessionWithSecrets when a vault is
// configured.
func (f *File) Session() *session.Session {
	sess := session.New()
	for k, v := range f.Values {
		sess = sess.With(k, v)
	}
	return sess
}

// SessionWithSecrets seeds a session with the file's values, resolving
// {"$secret": "KEY"} markers through the vault. Secret payloads enter the
// session as strings; steps reach them like any other value.
func (f *File) SessionWithSecrets(ctx context.Context, vault secrets.Vault) (*session.Session, error) {
	sess := session.New()
	for k, v := range f.Values {
		resolved, err := resolveSecrets(ctx, vault, v)
		if err != nil {
			return nil, err
		}
		sess = sess.With(k, resolved)
	}
	return sess, nil
}

func resolveSecrets(ctx context.Context, vault secrets.Vault, v any) (any, error) {
	switch val := v.(type) {
	case map[string]any:
		if key, ok := val["$secret"].(string); ok && len(val) == 1 {
			if vault == nil {
				return nil, schema.NewErrorf(schema.ErrCodeVault,
					"value references secret %q but no vault is configured", key)
			}
			plaintext, err := vault.Resolve(ctx, key)
			if err != nil {
				return nil, err
			}
			return string(plaintext), nil
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			r, err := resolveSecrets(ctx, vault, inner)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		return out, nil
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			r, err := resolveSecrets(ctx, vault, inner)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	default:
		return v, nil
	}
}

// PhaseFn compiles the named phase into a routine that schedules its steps.
// Action names are resolved against reg when the routine runs, so actions
// registered after compilation are still found.
func (f *File) PhaseFn(name string, reg *actions.Registry) (engine.PhaseFn, error) {
	steps, ok := f.Phases[name]
	if !ok {
		return nil, schema.NewErrorf(schema.ErrCodeNotFound, "phase %q not defined", name)
	}
	return func(ctx context.Context, sess *session.Session) (*session.Session, error) {
		return scheduleSteps(sess, reg, steps)
	}, nil
}

func scheduleSteps(sess *session.Session, reg *actions.Registry, steps []Step) (*session.Session, error) {
	var err error
	for _, st := range steps {
		if st.When != "" {
			sess, err = scheduleConditional(sess, reg, st)
		} else {
			sess, err = scheduleAction(sess, reg, st)
		}
		if err != nil {
			return sess, err
		}
	}
	return sess, nil
}

func scheduleAction(sess *session.Session, reg *actions.Registry, st Step) (*session.Session, error) {
	ref, err := reg.Get(st.Action)
	if err != nil {
		return sess, err
	}
	opts := plan.ScheduleOpts{
		ActionID: st.ID,
		Before:   targets(reg, st.Before),
		After:    targets(reg, st.After),
	}
	_, sess, err = plan.Schedule(sess, ref, decodeArgs(st.Args), opts)
	return sess, err
}

func scheduleConditional(sess *session.Session, reg *actions.Registry, st Step) (*session.Session, error) {
	ref, err := reg.Get("control.when")
	if err != nil {
		return sess, err
	}
	pred := expressions.Predicate(st.When)
	_, sess, err = plan.Schedule(sess, ref, []any{pred}, plan.ScheduleOpts{ActionID: st.ID})
	if err != nil {
		return sess, err
	}

	sess = plan.BeginScope(sess)
	sess, err = scheduleSteps(sess, reg, st.Then)
	if err != nil {
		return sess, err
	}
	if sess, err = plan.EndScope(sess); err != nil {
		return sess, err
	}

	if len(st.Else) > 0 {
		sess = plan.BeginScope(sess)
		sess, err = scheduleSteps(sess, reg, st.Else)
		if err != nil {
			return sess, err
		}
		if sess, err = plan.EndScope(sess); err != nil {
			return sess, err
		}
	}
	return sess, nil
}

// targets resolves precedence names: a registered action name targets every
// instance of that action, anything else targets a step ID.
func targets(reg *actions.Registry, names []string) []plan.Target {
	out := make([]plan.Target, 0, len(names))
	for _, n := range names {
		if reg.Has(n) {
			ref, _ := reg.Get(n)
			out = append(out, plan.ByRef(ref))
			continue
		}
		out = append(out, plan.ByID(n))
	}
	return out
}

// decodeArgs rewrites expression markers into their typed form. A JSON object
// with a single "$expr", "$cel", or "$jq" key becomes a computed argument;
// plain strings pass through untouched (interpolation happens at execution).
func decodeArgs(args []any) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = decodeValue(a)
	}
	return out
}

func decodeValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		if len(val) == 1 {
			for _, lang := range []string{"expr", "cel", "jq"} {
				if src, ok := val["$"+lang].(string); ok {
					return expressions.Expr{Lang: lang, Src: src}
				}
			}
		}
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = decodeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = decodeValue(inner)
		}
		return out
	default:
		return v
	}
}

// String renders a one-line summary, for logs.
func (f *File) String() string {
	return fmt.Sprintf("planfile(%d phases)", len(f.Phases))
}
