package service

import (
	"fmt"
	"slices"
	"sync"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// Dependencies is the adjacency view of a node set.
type Dependencies struct {
	Deps       map[core.NodeID][]core.NodeID // node -> direct predecessors
	Dependents map[core.NodeID][]core.NodeID // node -> direct successors
	InDegree   map[core.NodeID]int
}

// BuildDependencies converts a node list and edge list into dependency and
// in-degree maps. Edges with an endpoint outside the node set are ignored and
// repeated edges between the same pair count once.
func BuildDependencies(nodes []core.Node, edges []core.Edge) Dependencies {
	d := Dependencies{
		Deps:       make(map[core.NodeID][]core.NodeID, len(nodes)),
		Dependents: make(map[core.NodeID][]core.NodeID, len(nodes)),
		InDegree:   make(map[core.NodeID]int, len(nodes)),
	}
	for _, n := range nodes {
		d.Deps[n.ID] = []core.NodeID{}
		d.InDegree[n.ID] = 0
	}
	for _, e := range edges {
		if _, ok := d.Deps[e.Source]; !ok {
			continue
		}
		if _, ok := d.Deps[e.Target]; !ok {
			continue
		}
		if slices.Contains(d.Deps[e.Target], e.Source) {
			continue
		}
		d.Deps[e.Target] = append(d.Deps[e.Target], e.Source)
		d.Dependents[e.Source] = append(d.Dependents[e.Source], e.Target)
		d.InDegree[e.Target]++
	}
	return d
}

// DAGBuilder constructs and validates node dependency graphs.
type DAGBuilder struct {
	nodes   map[core.NodeID]core.Node
	edges   map[core.NodeID][]core.NodeID // node -> dependencies
	reverse map[core.NodeID][]core.NodeID // node -> dependents
	mu      sync.RWMutex
}

// NewDAGBuilder creates a new DAG builder.
func NewDAGBuilder() *DAGBuilder {
	return &DAGBuilder{
		nodes:   make(map[core.NodeID]core.Node),
		edges:   make(map[core.NodeID][]core.NodeID),
		reverse: make(map[core.NodeID][]core.NodeID),
	}
}

// AddNode adds a node to the DAG.
func (d *DAGBuilder) AddNode(node core.Node) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.nodes[node.ID]; exists {
		return core.ErrStructural(core.CodeDuplicateNode, fmt.Sprintf("duplicate node id: %s", node.ID))
	}

	d.nodes[node.ID] = node
	d.edges[node.ID] = make([]core.NodeID, 0)
	d.reverse[node.ID] = make([]core.NodeID, 0)

	return nil
}

// AddDependency adds a dependency: from depends on to.
func (d *DAGBuilder) AddDependency(from, to core.NodeID) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, exists := d.nodes[from]; !exists {
		return core.ErrStructural(core.CodeDanglingEdge, fmt.Sprintf("node %s not found", from))
	}
	if _, exists := d.nodes[to]; !exists {
		return core.ErrStructural(core.CodeDanglingEdge, fmt.Sprintf("node %s not found", to))
	}

	if slices.Contains(d.edges[from], to) {
		return nil
	}

	d.edges[from] = append(d.edges[from], to)
	d.reverse[to] = append(d.reverse[to], from)

	return nil
}

// DAGState represents a validated DAG.
type DAGState struct {
	Nodes        map[core.NodeID]core.Node
	Order        []core.NodeID
	Levels       [][]core.NodeID
	Dependencies map[core.NodeID][]core.NodeID
}

// Build validates the DAG and returns the state.
func (d *DAGBuilder) Build() (*DAGState, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	if cycle := d.detectCycle(); cycle != nil {
		return nil, core.ErrStructural(core.CodeDAGCycle,
			fmt.Sprintf("workflow graph contains a cycle through %v", cycle)).
			WithDetail("cycle", cycle)
	}

	order, err := d.topologicalSort()
	if err != nil {
		return nil, err
	}

	return &DAGState{
		Nodes:        d.copyNodes(),
		Order:        order,
		Levels:       d.calculateLevels(),
		Dependencies: d.copyEdges(),
	}, nil
}

// sortedIDs returns node IDs in a stable order so that builds are reproducible.
func (d *DAGBuilder) sortedIDs() []core.NodeID {
	ids := make([]core.NodeID, 0, len(d.nodes))
	for id := range d.nodes {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// topologicalSort returns nodes in dependency order using Kahn's algorithm.
func (d *DAGBuilder) topologicalSort() ([]core.NodeID, error) {
	inDegree := make(map[core.NodeID]int, len(d.nodes))
	for id := range d.nodes {
		inDegree[id] = len(d.edges[id])
	}

	queue := make([]core.NodeID, 0)
	for _, id := range d.sortedIDs() {
		if inDegree[id] == 0 {
			queue = append(queue, id)
		}
	}

	result := make([]core.NodeID, 0, len(d.nodes))
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		for _, dependent := range d.reverse[current] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
	}

	if len(result) != len(d.nodes) {
		return nil, core.ErrStructural(core.CodeDAGCycle, "workflow graph contains a cycle")
	}

	return result, nil
}

// detectCycle runs a DFS and returns the nodes on the first cycle found.
func (d *DAGBuilder) detectCycle() []core.NodeID {
	visited := make(map[core.NodeID]bool)
	recStack := make(map[core.NodeID]bool)
	var path []core.NodeID
	var cycle []core.NodeID

	var dfs func(id core.NodeID) bool
	dfs = func(id core.NodeID) bool {
		visited[id] = true
		recStack[id] = true
		path = append(path, id)

		for _, dep := range d.edges[id] {
			if !visited[dep] {
				if dfs(dep) {
					return true
				}
			} else if recStack[dep] {
				start := slices.Index(path, dep)
				cycle = append([]core.NodeID{}, path[start:]...)
				return true
			}
		}

		recStack[id] = false
		path = path[:len(path)-1]
		return false
	}

	for _, id := range d.sortedIDs() {
		if !visited[id] && dfs(id) {
			return cycle
		}
	}

	return nil
}

// calculateLevels groups nodes into parallel execution levels.
func (d *DAGBuilder) calculateLevels() [][]core.NodeID {
	if len(d.nodes) == 0 {
		return nil
	}

	ids := d.sortedIDs()
	levels := make([][]core.NodeID, 0)
	assigned := make(map[core.NodeID]bool)

	for len(assigned) < len(d.nodes) {
		level := make([]core.NodeID, 0)

		for _, id := range ids {
			if assigned[id] {
				continue
			}

			allDepsAssigned := true
			for _, dep := range d.edges[id] {
				if !assigned[dep] {
					allDepsAssigned = false
					break
				}
			}

			if allDepsAssigned {
				level = append(level, id)
			}
		}

		for _, id := range level {
			assigned[id] = true
		}

		levels = append(levels, level)
	}

	return levels
}

func (d *DAGBuilder) copyEdges() map[core.NodeID][]core.NodeID {
	result := make(map[core.NodeID][]core.NodeID, len(d.edges))
	for k, v := range d.edges {
		result[k] = slices.Clone(v)
	}
	return result
}

func (d *DAGBuilder) copyNodes() map[core.NodeID]core.Node {
	result := make(map[core.NodeID]core.Node, len(d.nodes))
	for k, v := range d.nodes {
		result[k] = v
	}
	return result
}

// GraphReport is the outcome of structural validation.
type GraphReport struct {
	State *DAGState
	// Dropped lists edges that reference nodes outside the graph.
	Dropped []core.Edge
	// Edges are the edges kept for execution.
	Edges []core.Edge
}

// ValidateGraph checks that a graph can be executed: node kinds are known,
// IDs are unique and the edges form a DAG. Edges pointing at unknown nodes are
// dropped and reported rather than rejected.
func ValidateGraph(g core.Graph) (*GraphReport, error) {
	if len(g.Nodes) == 0 {
		return nil, core.ErrStructural(core.CodeEmptyWorkflow, "workflow has no nodes")
	}

	dag := NewDAGBuilder()
	for _, n := range g.Nodes {
		if _, err := core.ParseNodeKind(string(n.Type)); err != nil {
			return nil, err
		}
		if err := dag.AddNode(n); err != nil {
			return nil, err
		}
	}

	report := &GraphReport{Edges: make([]core.Edge, 0, len(g.Edges))}
	for _, e := range g.Edges {
		if err := dag.AddDependency(e.Target, e.Source); err != nil {
			report.Dropped = append(report.Dropped, e)
			continue
		}
		report.Edges = append(report.Edges, e)
	}

	state, err := dag.Build()
	if err != nil {
		return nil, err
	}
	report.State = state
	return report, nil
}

// WouldCreateCycle reports whether adding source -> target to edges closes a
// cycle, i.e. whether source is reachable from target.
func WouldCreateCycle(edges []core.Edge, source, target core.NodeID) bool {
	if source == target {
		return true
	}
	out := make(map[core.NodeID][]core.NodeID)
	for _, e := range edges {
		out[e.Source] = append(out[e.Source], e.Target)
	}

	visited := map[core.NodeID]bool{target: true}
	queue := []core.NodeID{target}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, next := range out[current] {
			if next == source {
				return true
			}
			if !visited[next] {
				visited[next] = true
				queue = append(queue, next)
			}
		}
	}
	return false
}

// TransitiveDependencies returns every node target depends on, directly or
// transitively, in breadth-first order. The target itself is not included.
// A dependency for which stop returns true is included but its own
// dependencies are not visited. stop may be nil.
func TransitiveDependencies(target core.NodeID, edges []core.Edge, stop func(core.NodeID) bool) []core.NodeID {
	in := make(map[core.NodeID][]core.NodeID)
	for _, e := range edges {
		in[e.Target] = append(in[e.Target], e.Source)
	}

	visited := map[core.NodeID]bool{target: true}
	queue := []core.NodeID{target}
	result := make([]core.NodeID, 0)
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		for _, dep := range in[current] {
			if visited[dep] {
				continue
			}
			visited[dep] = true
			result = append(result, dep)
			if stop != nil && stop(dep) {
				continue
			}
			queue = append(queue, dep)
		}
	}
	return result
}
