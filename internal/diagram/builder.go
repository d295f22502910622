package diagram

import (
	"fmt"

	"github.com/digideskio/pallet/internal/plan"
	"github.com/digideskio/pallet/pkg/schema"
)

// FromPlan builds a diagram model from a translated plan: a start node, the
// action sequence in execution order, and an end node. Conditional actions
// become decision nodes whose branches render as subgraphs.
func FromPlan(title string, p *plan.Plan) (*Model, error) {
	if p == nil || !p.Translated() {
		return nil, schema.NewError(schema.ErrCodePlanNotTranslated,
			"diagram: plan has not been translated")
	}

	b := &builder{}
	model := &Model{Title: title}

	start := &Node{ID: "start", Label: "start", Kind: NodeKindStart}
	model.Nodes = append(model.Nodes, start)

	prev := start.ID
	for _, m := range p.Actions() {
		node := b.node(m)
		model.Nodes = append(model.Nodes, node)
		model.Edges = append(model.Edges, Edge{From: prev, To: node.ID})
		prev = node.ID
	}

	end := &Node{ID: "end", Label: "end", Kind: NodeKindEnd}
	model.Nodes = append(model.Nodes, end)
	model.Edges = append(model.Edges, Edge{From: prev, To: end.ID})

	return model, nil
}

type builder struct {
	seq int
}

func (b *builder) nextID() string {
	b.seq++
	return fmt.Sprintf("a%d", b.seq)
}

func (b *builder) node(m *plan.ActionMap) *Node {
	node := &Node{
		ID:    b.nextID(),
		Label: nodeLabel(m),
		Kind:  NodeKindAction,
	}
	if len(m.Blocks) == 0 {
		return node
	}

	node.Kind = NodeKindCondition
	labels := []string{"then", "else"}
	for i, blk := range m.Blocks {
		label := "block"
		if i < len(labels) {
			label = labels[i]
		}
		node.Children = append(node.Children, b.subgraph(label, blk))
	}
	return node
}

func (b *builder) subgraph(label string, maps []*plan.ActionMap) *SubGraph {
	sg := &SubGraph{Label: label}
	prev := ""
	for _, m := range maps {
		node := b.node(m)
		sg.Nodes = append(sg.Nodes, node)
		if prev != "" {
			sg.Edges = append(sg.Edges, Edge{From: prev, To: node.ID})
		}
		prev = node.ID
	}
	return sg
}

func nodeLabel(m *plan.ActionMap) string {
	label := m.Ref.Name()
	if m.ActionID != "" {
		label += " #" + m.ActionID
	}
	if lbl := m.Label(); lbl != "" {
		label += " " + lbl
	}
	return label
}
