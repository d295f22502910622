package plan

import (
	"github.com/google/uuid"

	"github.com/digideskio/pallet/internal/actions"
)

// NodeValue is an opaque forward handle to an action's not-yet-computed
// result. It is usable as an argument to later-scheduled actions immediately;
// the value is resolved against the session node-value store at execution
// time.
type NodeValue struct {
	Path string
}

// mintPath mints a fresh opaque node-value path.
func mintPath() string {
	return "nv-" + uuid.NewString()
}

// nodeValuePathFor returns the node-value path to assign to a new instance of
// ref labeled actionID. Aggregated and collected kinds reuse the path of an
// existing instance of the same (ref, action-id) anywhere in the pre-
// translation tree, so every occurrence shares one result slot. In-sequence
// and deferred kinds always mint.
func (p *Plan) nodeValuePathFor(ref *actions.Ref, actionID string) string {
	if ref.Kind().Deferred() || !ref.Kind().Merged() {
		return mintPath()
	}
	if existing := p.findInstance(ref, actionID); existing != nil {
		return existing.NodeValuePath
	}
	return mintPath()
}

// findInstance searches the whole in-progress tree, open scopes and nested
// blocks included, for an instance of (ref, actionID).
func (p *Plan) findInstance(ref *actions.Ref, actionID string) *ActionMap {
	for _, scope := range p.scopes {
		if m := findInMaps(scope, ref, actionID); m != nil {
			return m
		}
	}
	return findInMaps(p.actions, ref, actionID)
}

func findInMaps(maps []*ActionMap, ref *actions.Ref, actionID string) *ActionMap {
	for _, m := range maps {
		if m.Ref == ref && m.ActionID == actionID {
			return m
		}
		for _, blk := range m.Blocks {
			if found := findInMaps(blk, ref, actionID); found != nil {
				return found
			}
		}
	}
	return nil
}
