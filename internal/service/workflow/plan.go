package workflow

import (
	"fmt"
	"sort"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service"
)

// Plan is the resolved execution scope of one run.
type Plan struct {
	RunType core.RunType
	// Graph is the validated submission with dangling edges removed.
	Graph core.Graph
	// Nodes indexes every submitted node, including those outside the run.
	Nodes map[core.NodeID]core.Node
	// Execute lists the nodes this run schedules, in topological order.
	Execute []core.NodeID
	// Edges are the submitted edges restricted to the execution set.
	Edges []core.Edge
	// Preloaded holds outputs available before the first wave: outputs of
	// nodes outside the execution set and cached single-mode dependencies.
	Preloaded map[core.NodeID]string
	// Cached lists scheduled nodes completed from Preloaded without running.
	Cached []core.NodeID
	// Dropped lists edges ignored because an endpoint does not exist.
	Dropped []core.Edge
}

// NewPlan validates the request graph and selects the nodes to run.
func NewPlan(req core.RunRequest) (*Plan, error) {
	runType, err := core.ParseRunType(string(req.RunType))
	if err != nil {
		return nil, err
	}

	report, err := service.ValidateGraph(req.Graph)
	if err != nil {
		return nil, err
	}

	p := &Plan{
		RunType:   runType,
		Graph:     core.Graph{Nodes: req.Nodes, Edges: report.Edges},
		Nodes:     req.Graph.Index(),
		Preloaded: make(map[core.NodeID]string),
		Dropped:   report.Dropped,
	}

	var selected map[core.NodeID]bool
	switch runType {
	case core.RunTypeFull:
		selected = make(map[core.NodeID]bool, len(p.Nodes))
		for id := range p.Nodes {
			selected[id] = true
		}

	case core.RunTypePartial:
		if len(req.SelectedNodeIDs) == 0 {
			return nil, core.ErrValidation(core.CodeInvalidRequest, "partial run requires selected node IDs")
		}
		selected = make(map[core.NodeID]bool, len(req.SelectedNodeIDs))
		for _, id := range req.SelectedNodeIDs {
			if _, ok := p.Nodes[id]; !ok {
				return nil, core.ErrValidation(core.CodeNodeNotFound, fmt.Sprintf("selected node %s not found", id))
			}
			selected[id] = true
		}

	case core.RunTypeSingle:
		if req.TargetNodeID == "" {
			return nil, core.ErrStructural(core.CodeMissingTarget, "single run requires a target node")
		}
		if _, ok := p.Nodes[req.TargetNodeID]; !ok {
			return nil, core.ErrStructural(core.CodeMissingTarget, fmt.Sprintf("target node %s not found", req.TargetNodeID))
		}
		selected = p.singleScope(req)
	}

	// External sources feed the run from cached data.
	for _, e := range p.Graph.Edges {
		if !selected[e.Target] || selected[e.Source] {
			continue
		}
		if out, ok := cachedOutput(e.Source, p.Nodes, req.Snapshot); ok {
			p.Preloaded[e.Source] = out
		}
	}

	for _, e := range p.Graph.Edges {
		if selected[e.Source] && selected[e.Target] {
			p.Edges = append(p.Edges, e)
		}
	}
	for _, id := range report.State.Order {
		if selected[id] {
			p.Execute = append(p.Execute, id)
		}
	}
	sort.Slice(p.Cached, func(i, j int) bool { return p.Cached[i] < p.Cached[j] })

	return p, nil
}

// singleScope selects the target and its upstream dependencies.
// Dependencies with a cached output are scheduled as pre-completed and their
// own ancestors are not visited.
func (p *Plan) singleScope(req core.RunRequest) map[core.NodeID]bool {
	cached := func(id core.NodeID) bool {
		out, ok := cachedOutput(id, p.Nodes, req.Snapshot)
		if ok {
			p.Preloaded[id] = out
			p.Cached = append(p.Cached, id)
		}
		return ok
	}

	selected := map[core.NodeID]bool{req.TargetNodeID: true}
	for _, id := range service.TransitiveDependencies(req.TargetNodeID, p.Graph.Edges, cached) {
		selected[id] = true
	}
	return selected
}

func cachedOutput(id core.NodeID, nodes map[core.NodeID]core.Node, snapshot map[core.NodeID]string) (string, bool) {
	if out, ok := snapshot[id]; ok && out != "" {
		return out, true
	}
	n, ok := nodes[id]
	if !ok {
		return "", false
	}
	return n.CachedOutput()
}
