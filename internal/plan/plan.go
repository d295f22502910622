// Package plan holds the action-plan tree: the raw scoped tree built while a
// phase routine runs, and the flat translated form the executor consumes.
package plan

import (
	"fmt"
	"strings"

	"github.com/digideskio/pallet/internal/actions"
	"github.com/digideskio/pallet/pkg/schema"
)

// Target names the other end of a precedence constraint: either a labeled
// instance (by action-id) or every in-scope instance of an action reference.
type Target struct {
	ID  string
	Ref *actions.Ref
}

// ByID builds a Target naming a labeled instance.
func ByID(id string) Target { return Target{ID: id} }

// ByRef builds a Target naming instances of an action reference.
func ByRef(ref *actions.Ref) Target { return Target{Ref: ref} }

// ActionMap is one scheduled occurrence of an action in the plan.
type ActionMap struct {
	Ref  *actions.Ref
	Args []any

	// ArgSeq is set by aggregation: the argument tuples of every merged
	// instance in first-seen order. When set it supersedes Args.
	ArgSeq [][]any

	// Context is the phase-context path recorded at schedule time. For
	// deferred kinds it excludes its own deepest label, which is supplied
	// again when the instance is expanded.
	Context []string

	// ContextLabel is the composed label produced by merging instances with
	// differing contexts; empty until a merge composes one.
	ContextLabel string

	// ActionID labels this instance for precedence constraints. Generated
	// automatically when any precedence option is set.
	ActionID string

	Before []Target
	After  []Target

	// NodeValuePath is where the executor stores this action's return value.
	NodeValuePath string

	// Blocks carries the nested then/else sub-plans of a conditional action.
	Blocks [][]*ActionMap
}

// Label renders the instance's diagnostic context: the composed label when a
// merge produced one, else the bracketed colon-joined phase path.
func (m *ActionMap) Label() string {
	if m.ContextLabel != "" {
		return m.ContextLabel
	}
	return RenderContext(m.Context)
}

// RenderContext renders a phase-context path as "[a: b: c]". Empty paths
// render as "".
func RenderContext(path []string) string {
	if len(path) == 0 {
		return ""
	}
	return "[" + strings.Join(path, ": ") + "]"
}

// Plan is an action plan. While a phase routine runs it is a stack of open
// scopes; after translation it is a flat ordered sequence of action maps with
// nested blocks. Single-threaded use only.
type Plan struct {
	scopes     [][]*ActionMap
	actions    []*ActionMap
	translated bool
}

// New creates an empty plan with the implicit root scope open.
func New() *Plan {
	return &Plan{scopes: [][]*ActionMap{nil}}
}

// NewTranslated builds an already-translated plan from a flat sequence.
// Used by the translator and by tests.
func NewTranslated(maps []*ActionMap) *Plan {
	return &Plan{actions: maps, translated: true}
}

// Translated reports whether the plan has left builder shape.
func (p *Plan) Translated() bool { return p.translated }

// Actions returns the translated flat sequence. Calling this on an
// untranslated plan is a programming error; it returns nil.
func (p *Plan) Actions() []*ActionMap {
	return p.actions
}

// Depth returns the number of open scopes (diagnostics only).
func (p *Plan) Depth() int { return len(p.scopes) }

// appendToOpen appends the map to the innermost open scope. Scheduling into
// a translated plan is a conflict.
func (p *Plan) appendToOpen(m *ActionMap) error {
	if p.translated {
		return schema.NewError(schema.ErrCodeConflict, "cannot schedule into a translated plan")
	}
	if len(p.scopes) == 0 {
		return schema.NewError(schema.ErrCodeUnbalancedScope, "no open scope")
	}
	top := len(p.scopes) - 1
	p.scopes[top] = append(p.scopes[top], m)
	return nil
}

// CloseRoot closes the implicit root scope, yielding the raw flat sequence.
// Exactly one scope must remain open: an unclosed nested scope is a
// precondition failure.
func (p *Plan) CloseRoot() ([]*ActionMap, error) {
	if p.translated {
		return p.actions, nil
	}
	if len(p.scopes) != 1 {
		return nil, schema.NewErrorf(schema.ErrCodeUnbalancedScope,
			"%d scopes still open at translation", len(p.scopes))
	}
	root := p.scopes[0]
	p.scopes = nil
	return root, nil
}

// MarkTranslated installs the final flat sequence produced by translation.
func (p *Plan) MarkTranslated(maps []*ActionMap) {
	p.actions = maps
	p.scopes = nil
	p.translated = true
}

// String renders a compact one-line-per-action view for diagnostics.
func (p *Plan) String() string {
	var b strings.Builder
	if !p.translated {
		fmt.Fprintf(&b, "plan (building, %d open scopes)", len(p.scopes))
		return b.String()
	}
	renderMaps(&b, p.actions, 0)
	return b.String()
}

func renderMaps(b *strings.Builder, maps []*ActionMap, depth int) {
	indent := strings.Repeat("  ", depth)
	for _, m := range maps {
		fmt.Fprintf(b, "%s%s", indent, m.Ref.Name())
		if m.ActionID != "" {
			fmt.Fprintf(b, " #%s", m.ActionID)
		}
		if lbl := m.Label(); lbl != "" {
			fmt.Fprintf(b, " %s", lbl)
		}
		b.WriteByte('\n')
		for _, blk := range m.Blocks {
			renderMaps(b, blk, depth+1)
		}
	}
}
