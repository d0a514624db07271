package service

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// CheckConnection decides whether e may be added to g. The target handle must
// be one the target kind exposes and must consume the media type the source
// produces, and the edge must not close a cycle. Handle aliases are accepted.
func CheckConnection(g core.Graph, e core.Edge) error {
	idx := g.Index()
	source, ok := idx[e.Source]
	if !ok {
		return core.ErrValidation(core.CodeDanglingEdge, fmt.Sprintf("source node %s not found", e.Source))
	}
	target, ok := idx[e.Target]
	if !ok {
		return core.ErrValidation(core.CodeDanglingEdge, fmt.Sprintf("target node %s not found", e.Target))
	}

	handle := core.NormalizeHandle(target.Type, e.TargetHandle)
	if handle == core.HandleNone || handle == core.HandleOutput {
		return core.ErrValidation(core.CodeIncompatibleHandle, "connection must name a target input")
	}
	exposed := false
	for _, h := range core.InputHandles[target.Type] {
		if h == handle {
			exposed = true
			break
		}
	}
	if !exposed {
		return core.ErrValidation(core.CodeIncompatibleHandle,
			fmt.Sprintf("%s nodes have no %q input", target.Type, e.TargetHandle))
	}

	if produced, accepted := source.Type.Produces(), handle.Accepts(); produced != accepted {
		return core.ErrValidation(core.CodeIncompatibleHandle,
			fmt.Sprintf("cannot connect %s output to %s input %q", produced, accepted, handle))
	}

	if WouldCreateCycle(g.Edges, e.Source, e.Target) {
		return core.ErrStructural(core.CodeDAGCycle, "connection would create a cycle")
	}
	return nil
}
