package diagram

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/digideskio/pallet/internal/actions"
	"github.com/digideskio/pallet/internal/plan"
	"github.com/digideskio/pallet/internal/session"
	"github.com/digideskio/pallet/pkg/schema"
)

func diagramRef(t *testing.T, name string) *actions.Ref {
	t.Helper()
	reg := actions.NewRegistry()
	ref, err := reg.Register(actions.RefSpec{
		Name: name, Kind: actions.InSequence,
		Impls: map[string]actions.ImplFn{
			actions.DefaultImpl: func(ctx context.Context, sess *session.Session, args []any) (any, *session.Session, error) {
				return nil, sess, nil
			},
		},
	})
	require.NoError(t, err)
	return ref
}

func TestFromPlanRejectsUntranslated(t *testing.T) {
	_, err := FromPlan("t", nil)
	require.Error(t, err)
	assert.Equal(t, schema.ErrCodePlanNotTranslated, err.(*schema.Error).Code)

	_, err = FromPlan("t", plan.New())
	require.Error(t, err)
}

func TestFromPlanLinearSequence(t *testing.T) {
	install := diagramRef(t, "pkg.install")
	restart := diagramRef(t, "svc.restart")
	p := plan.NewTranslated([]*plan.ActionMap{
		{Ref: install, Context: []string{"configure"}},
		{Ref: restart, ActionID: "r1"},
	})

	model, err := FromPlan("configure", p)
	require.NoError(t, err)

	assert.Equal(t, "configure", model.Title)
	require.Len(t, model.Nodes, 4) // start, two actions, end
	assert.Equal(t, NodeKindStart, model.Nodes[0].Kind)
	assert.Equal(t, "pkg.install [configure]", model.Nodes[1].Label)
	assert.Equal(t, NodeKindAction, model.Nodes[1].Kind)
	assert.Equal(t, "svc.restart #r1", model.Nodes[2].Label)
	assert.Equal(t, NodeKindEnd, model.Nodes[3].Kind)

	// start -> a1 -> a2 -> end
	require.Len(t, model.Edges, 3)
	assert.Equal(t, Edge{From: "start", To: "a1"}, model.Edges[0])
	assert.Equal(t, Edge{From: "a1", To: "a2"}, model.Edges[1])
	assert.Equal(t, Edge{From: "a2", To: "end"}, model.Edges[2])
}

func TestFromPlanConditionalBranches(t *testing.T) {
	when := diagramRef(t, "control.when")
	thenRef := diagramRef(t, "pkg.install")
	elseRef := diagramRef(t, "pkg.remove")

	p := plan.NewTranslated([]*plan.ActionMap{
		{
			Ref: when,
			Blocks: [][]*plan.ActionMap{
				{{Ref: thenRef}, {Ref: elseRef}},
				{{Ref: elseRef}},
			},
		},
	})

	model, err := FromPlan("conditional", p)
	require.NoError(t, err)

	cond := model.Nodes[1]
	assert.Equal(t, NodeKindCondition, cond.Kind)
	require.Len(t, cond.Children, 2)
	assert.Equal(t, "then", cond.Children[0].Label)
	assert.Equal(t, "else", cond.Children[1].Label)
	require.Len(t, cond.Children[0].Nodes, 2)
	require.Len(t, cond.Children[0].Edges, 1, "branch nodes chain in order")
	require.Len(t, cond.Children[1].Nodes, 1)
	assert.Empty(t, cond.Children[1].Edges)
}

func TestRenderMermaid(t *testing.T) {
	install := diagramRef(t, "pkg.install")
	p := plan.NewTranslated([]*plan.ActionMap{{Ref: install}})

	model, err := FromPlan("configure", p)
	require.NoError(t, err)
	out := RenderMermaid(model)

	assert.Contains(t, out, "graph TD\n")
	assert.Contains(t, out, "%% configure")
	assert.Contains(t, out, `start(("start"))`)
	assert.Contains(t, out, `a1["pkg.install"]`)
	assert.Contains(t, out, "start --> a1")
	assert.Contains(t, out, "a1 --> end")
}

func TestRenderMermaidConditional(t *testing.T) {
	when := diagramRef(t, "control.when")
	inner := diagramRef(t, "pkg.install")
	p := plan.NewTranslated([]*plan.ActionMap{
		{Ref: when, Blocks: [][]*plan.ActionMap{{{Ref: inner}}}},
	})

	model, err := FromPlan("", p)
	require.NoError(t, err)
	out := RenderMermaid(model)

	assert.Contains(t, out, `a1{"control.when"}`)
	assert.Contains(t, out, `subgraph a1_then["then"]`)
	assert.Contains(t, out, "a1 --> a1_then")
}

func TestMermaidSafeID(t *testing.T) {
	assert.Equal(t, "pkg_install", mermaidSafeID("pkg.install"))
	assert.Equal(t, "a_b_c", mermaidSafeID("a-b c"))
}
