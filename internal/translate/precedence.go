package translate

import (
	"github.com/digideskio/pallet/internal/plan"
)

// resolveScope reorders one scope so every always-before target appears later
// than its source and every always-after target earlier, resolving targets by
// action-id or by direct action-reference match within the scope. Constraints
// naming an absent target are no-ops. The dependency relation is an explicit
// adjacency mapping walked by a memoized depth-first emission: instances are
// processed in original order, each emitting its unseen prerequisites first.
// Marking an instance seen before recursing makes declared cycles terminate
// in first-discovered order rather than recursing forever. Nested blocks are
// resolved independently.
func resolveScope(maps []*plan.ActionMap) []*plan.ActionMap {
	for _, m := range maps {
		for i, blk := range m.Blocks {
			m.Blocks[i] = resolveScope(blk)
		}
	}

	if !hasConstraints(maps) {
		return maps
	}

	// requiredBefore[i] lists the indices that must be emitted before i.
	requiredBefore := make(map[int][]int, len(maps))
	for i, m := range maps {
		// m always-before t: every instance t names requires m first.
		for _, t := range m.Before {
			for _, j := range resolveTarget(maps, t) {
				if j != i {
					requiredBefore[j] = append(requiredBefore[j], i)
				}
			}
		}
		// m always-after t: m requires every instance t names first.
		for _, t := range m.After {
			for _, j := range resolveTarget(maps, t) {
				if j != i {
					requiredBefore[i] = append(requiredBefore[i], j)
				}
			}
		}
	}

	seen := make([]bool, len(maps))
	out := make([]*plan.ActionMap, 0, len(maps))

	var emit func(i int)
	emit = func(i int) {
		if seen[i] {
			return
		}
		seen[i] = true
		for _, j := range requiredBefore[i] {
			emit(j)
		}
		out = append(out, maps[i])
	}

	for i := range maps {
		emit(i)
	}
	return out
}

func hasConstraints(maps []*plan.ActionMap) bool {
	for _, m := range maps {
		if len(m.Before) > 0 || len(m.After) > 0 {
			return true
		}
	}
	return false
}

// resolveTarget returns the indices of the in-scope instances a constraint
// target names: the instance labeled with its action-id, or every instance
// of its action reference.
func resolveTarget(maps []*plan.ActionMap, t plan.Target) []int {
	var out []int
	for i, m := range maps {
		if t.ID != "" && m.ActionID == t.ID {
			out = append(out, i)
		} else if t.Ref != nil && m.Ref == t.Ref {
			out = append(out, i)
		}
	}
	return out
}
