package translate

import (
	"strings"

	"github.com/digideskio/pallet/internal/actions"
	"github.com/digideskio/pallet/internal/plan"
)

// classifyScope groups one scope's instances by base execution kind and
// re-emits them in the fixed order [aggregated, in-sequence, collected].
// Aggregated and collected instances sharing (ref, action-id) collapse into a
// single merged instance. Deferredness is ignored here; only the base kind
// matters. Nested blocks are classified independently.
func classifyScope(maps []*plan.ActionMap) []*plan.ActionMap {
	var inSeq []*plan.ActionMap
	var aggOrder, collOrder []mergeKey
	agg := make(map[mergeKey]*mergeGroup)
	coll := make(map[mergeKey]*mergeGroup)

	for _, m := range maps {
		for i, blk := range m.Blocks {
			m.Blocks[i] = classifyScope(blk)
		}

		switch m.Ref.Kind().Base() {
		case actions.Aggregated:
			key := mergeKey{ref: m.Ref, id: m.ActionID}
			g, ok := agg[key]
			if !ok {
				g = &mergeGroup{}
				agg[key] = g
				aggOrder = append(aggOrder, key)
			}
			g.add(m)
		case actions.Collected:
			key := mergeKey{ref: m.Ref, id: m.ActionID}
			g, ok := coll[key]
			if !ok {
				g = &mergeGroup{}
				coll[key] = g
				collOrder = append(collOrder, key)
			}
			g.add(m)
		default:
			inSeq = append(inSeq, m)
		}
	}

	out := make([]*plan.ActionMap, 0, len(maps))
	for _, key := range aggOrder {
		out = append(out, agg[key].merge())
	}
	out = append(out, inSeq...)
	for _, key := range collOrder {
		out = append(out, coll[key].merge())
	}
	return out
}

type mergeKey struct {
	ref *actions.Ref
	id  string
}

// mergeGroup accumulates the instances of one (ref, action-id) group in
// first-seen order.
type mergeGroup struct {
	instances []*plan.ActionMap
}

func (g *mergeGroup) add(m *plan.ActionMap) {
	g.instances = append(g.instances, m)
}

// merge collapses the group into one instance carried by the first-scheduled
// map: the merged argument is the ordered sequence of every instance's
// argument tuple, the node-value path of the first instance wins, and the
// context label becomes the distinct order-preserving union of each
// instance's rendered label when the contexts differ.
func (g *mergeGroup) merge() *plan.ActionMap {
	first := g.instances[0]

	var argSeq [][]any
	var labels []string
	seenLabel := make(map[string]bool)
	composed := false

	for _, m := range g.instances {
		if m.ArgSeq != nil {
			argSeq = append(argSeq, m.ArgSeq...)
		} else {
			argSeq = append(argSeq, m.Args)
		}
		if m.ContextLabel != "" {
			composed = true
		}
		if lbl := m.Label(); lbl != "" && !seenLabel[lbl] {
			seenLabel[lbl] = true
			labels = append(labels, lbl)
		}
		if m != first {
			first.Before = append(first.Before, m.Before...)
			first.After = append(first.After, m.After...)
			first.Blocks = append(first.Blocks, m.Blocks...)
		}
	}

	first.ArgSeq = argSeq
	if composed || len(labels) > 1 {
		first.ContextLabel = strings.Join(labels, ", ")
	} else if len(first.Context) == 0 {
		// First instance had no context; adopt the first non-empty raw path.
		for _, m := range g.instances {
			if len(m.Context) > 0 {
				first.Context = m.Context
				break
			}
		}
	}
	return first
}
