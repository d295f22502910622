package diagram

import (
	"fmt"
	"strings"
)

// RenderMermaid renders a Model as a Mermaid flowchart string.
func RenderMermaid(model *Model) string {
	var b strings.Builder

	b.WriteString("graph TD\n")

	// Title as comment.
	if model.Title != "" {
		b.WriteString(fmt.Sprintf("    %%%% %s\n", model.Title))
	}

	for _, node := range model.Nodes {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidNodeDef(node)))

		// Subgraphs for conditional branches.
		for _, sg := range node.Children {
			b.WriteString(fmt.Sprintf("    subgraph %s[\"%s\"]\n",
				mermaidSafeID(node.ID+"_"+sg.Label), sg.Label))
			for _, subNode := range sg.Nodes {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidNodeDef(subNode)))
			}
			for _, edge := range sg.Edges {
				b.WriteString(fmt.Sprintf("        %s\n", mermaidEdge(edge)))
			}
			b.WriteString("    end\n")
			b.WriteString(fmt.Sprintf("    %s --> %s\n",
				mermaidSafeID(node.ID), mermaidSafeID(node.ID+"_"+sg.Label)))
		}
	}

	for _, edge := range model.Edges {
		b.WriteString(fmt.Sprintf("    %s\n", mermaidEdge(edge)))
	}

	return b.String()
}

func mermaidEdge(edge Edge) string {
	label := ""
	if edge.Label != "" {
		label = fmt.Sprintf("|%s|", edge.Label)
	}
	return fmt.Sprintf("%s -->%s %s", mermaidSafeID(edge.From), label, mermaidSafeID(edge.To))
}

// mermaidNodeDef returns a Mermaid node definition with the appropriate shape.
func mermaidNodeDef(node *Node) string {
	id := mermaidSafeID(node.ID)
	label := firstLine(node.Label)

	switch node.Kind {
	case NodeKindCondition:
		return fmt.Sprintf("%s{%q}", id, label)
	case NodeKindStart, NodeKindEnd:
		return fmt.Sprintf("%s((%q))", id, label)
	default: // action
		return fmt.Sprintf("%s[%q]", id, label)
	}
}

// mermaidSafeID converts a node ID to a Mermaid-safe identifier.
// Replaces dots, dashes, and spaces with underscores.
func mermaidSafeID(id string) string {
	r := strings.NewReplacer(".", "_", "-", "_", " ", "_")
	return r.Replace(id)
}

func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}
