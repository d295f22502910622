// Package diagram renders translated action plans as Mermaid flowcharts, for
// plan previews in docs and pull requests.
package diagram

// NodeKind classifies a diagram node.
type NodeKind string

const (
	NodeKindAction    NodeKind = "action"
	NodeKindCondition NodeKind = "condition"
	NodeKindStart     NodeKind = "start"
	NodeKindEnd       NodeKind = "end"
)

// Model is the intermediate representation the renderer consumes.
type Model struct {
	Title string
	Nodes []*Node
	Edges []Edge
}

// Node represents one action map in the flow.
type Node struct {
	ID       string
	Label    string
	Kind     NodeKind
	Children []*SubGraph // conditional branches
}

// SubGraph holds the nested sequence of a conditional branch.
type SubGraph struct {
	Label string
	Nodes []*Node
	Edges []Edge
}

// Edge represents execution order between two nodes.
type Edge struct {
	From  string
	To    string
	Label string
}
