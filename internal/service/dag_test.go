package service

import (
	"errors"
	"slices"
	"testing"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

func textNode(id string) core.Node {
	return core.Node{ID: core.NodeID(id), Type: core.NodeKindText, Data: core.NodeData{Text: id}}
}

func edge(source, target, handle string) core.Edge {
	return core.Edge{
		ID:           core.EdgeID(source + "-" + target),
		Source:       core.NodeID(source),
		Target:       core.NodeID(target),
		TargetHandle: handle,
	}
}

func TestBuildDependencies(t *testing.T) {
	nodes := []core.Node{textNode("a"), textNode("b"), textNode("c")}
	edges := []core.Edge{
		edge("a", "c", "user_message"),
		edge("b", "c", "system_prompt"),
		edge("a", "c", "images"), // same pair, counted once
		edge("x", "c", ""),       // outside the node set
	}

	deps := BuildDependencies(nodes, edges)

	if got := deps.InDegree["c"]; got != 2 {
		t.Errorf("InDegree[c] = %d, want 2", got)
	}
	if got := deps.InDegree["a"]; got != 0 {
		t.Errorf("InDegree[a] = %d, want 0", got)
	}
	if deps.Deps["a"] == nil || len(deps.Deps["a"]) != 0 {
		t.Errorf("Deps[a] = %v, want empty non-nil slice", deps.Deps["a"])
	}
	want := []core.NodeID{"a", "b"}
	if !slices.Equal(deps.Deps["c"], want) {
		t.Errorf("Deps[c] = %v, want %v", deps.Deps["c"], want)
	}
	if !slices.Equal(deps.Dependents["a"], []core.NodeID{"c"}) {
		t.Errorf("Dependents[a] = %v, want [c]", deps.Dependents["a"])
	}
}

func TestDAGBuilder_AddNode(t *testing.T) {
	dag := NewDAGBuilder()

	if err := dag.AddNode(textNode("n1")); err != nil {
		t.Fatalf("AddNode() error = %v", err)
	}

	err := dag.AddNode(textNode("n1"))
	if err == nil {
		t.Fatal("AddNode() should fail for duplicate node")
	}
	if core.GetCode(err) != core.CodeDuplicateNode {
		t.Errorf("code = %s, want %s", core.GetCode(err), core.CodeDuplicateNode)
	}
}

func TestDAGBuilder_AddDependency(t *testing.T) {
	dag := NewDAGBuilder()
	_ = dag.AddNode(textNode("n1"))
	_ = dag.AddNode(textNode("n2"))

	if err := dag.AddDependency("n2", "n1"); err != nil {
		t.Fatalf("AddDependency() error = %v", err)
	}
	_ = dag.AddDependency("n2", "n1")

	state, err := dag.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if deps := state.Dependencies["n2"]; len(deps) != 1 || deps[0] != "n1" {
		t.Errorf("Dependencies[n2] = %v, want [n1]", deps)
	}
	if !slices.Equal(state.Order, []core.NodeID{"n1", "n2"}) {
		t.Errorf("Order = %v, want [n1 n2]", state.Order)
	}

	if err := dag.AddDependency("n3", "n1"); err == nil {
		t.Error("AddDependency() should fail for unknown node")
	}
	if err := dag.AddDependency("n1", "n3"); err == nil {
		t.Error("AddDependency() should fail for unknown dependency")
	}
}

func TestDAGBuilder_CycleDetection(t *testing.T) {
	dag := NewDAGBuilder()
	for _, id := range []string{"a", "b", "c"} {
		_ = dag.AddNode(textNode(id))
	}
	_ = dag.AddDependency("b", "a")
	_ = dag.AddDependency("c", "b")
	_ = dag.AddDependency("a", "c")

	_, err := dag.Build()
	if err == nil {
		t.Fatal("Build() should fail with cycle detected")
	}

	var domErr *core.DomainError
	if !errors.As(err, &domErr) {
		t.Fatalf("error should be DomainError, got %T", err)
	}
	if domErr.Code != core.CodeDAGCycle {
		t.Errorf("error code = %s, want %s", domErr.Code, core.CodeDAGCycle)
	}
	if domErr.Category != core.ErrCatStructural {
		t.Errorf("category = %s, want structural", domErr.Category)
	}
	cycle, _ := domErr.Details["cycle"].([]core.NodeID)
	if len(cycle) != 3 {
		t.Errorf("cycle = %v, want 3 nodes", cycle)
	}
}

func TestDAGBuilder_Levels(t *testing.T) {
	dag := NewDAGBuilder()

	//     a
	//    / \
	//   b   c
	//    \ /
	//     d
	for _, id := range []string{"a", "b", "c", "d"} {
		_ = dag.AddNode(textNode(id))
	}
	_ = dag.AddDependency("b", "a")
	_ = dag.AddDependency("c", "a")
	_ = dag.AddDependency("d", "b")
	_ = dag.AddDependency("d", "c")

	state, err := dag.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}

	want := [][]core.NodeID{{"a"}, {"b", "c"}, {"d"}}
	if len(state.Levels) != len(want) {
		t.Fatalf("Levels = %v, want %v", state.Levels, want)
	}
	for i := range want {
		if !slices.Equal(state.Levels[i], want[i]) {
			t.Errorf("Levels[%d] = %v, want %v", i, state.Levels[i], want[i])
		}
	}
}

func TestDAGBuilder_ComplexGraphOrder(t *testing.T) {
	dag := NewDAGBuilder()

	//      A
	//     / \
	//    B   C
	//   / \ / \
	//  D   E   F
	//   \ / \ /
	//    G   H
	for _, id := range []string{"A", "B", "C", "D", "E", "F", "G", "H"} {
		_ = dag.AddNode(textNode(id))
	}
	dependencies := [][2]core.NodeID{
		{"B", "A"}, {"C", "A"}, {"D", "B"}, {"E", "B"}, {"E", "C"},
		{"F", "C"}, {"G", "D"}, {"G", "E"}, {"H", "E"}, {"H", "F"},
	}
	for _, dep := range dependencies {
		_ = dag.AddDependency(dep[0], dep[1])
	}

	state, err := dag.Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(state.Order) != 8 {
		t.Fatalf("Order = %v, want 8 nodes", state.Order)
	}
	for _, dep := range dependencies {
		if slices.Index(state.Order, dep[1]) > slices.Index(state.Order, dep[0]) {
			t.Errorf("%s should come before %s", dep[1], dep[0])
		}
	}
}

func TestDAGBuilder_EmptyDAG(t *testing.T) {
	state, err := NewDAGBuilder().Build()
	if err != nil {
		t.Fatalf("Build() error = %v", err)
	}
	if len(state.Order) != 0 || len(state.Nodes) != 0 {
		t.Errorf("expected empty state, got %+v", state)
	}
}

func TestValidateGraph(t *testing.T) {
	t.Run("valid graph drops dangling edges", func(t *testing.T) {
		g := core.Graph{
			Nodes: []core.Node{textNode("a"), textNode("b")},
			Edges: []core.Edge{edge("a", "b", "user_message"), edge("ghost", "b", "")},
		}
		report, err := ValidateGraph(g)
		if err != nil {
			t.Fatalf("ValidateGraph() error = %v", err)
		}
		if len(report.Dropped) != 1 || report.Dropped[0].Source != "ghost" {
			t.Errorf("Dropped = %v, want the ghost edge", report.Dropped)
		}
		if len(report.Edges) != 1 {
			t.Errorf("Edges = %v, want 1", report.Edges)
		}
	})

	tests := []struct {
		name string
		g    core.Graph
		code string
	}{
		{
			name: "empty",
			g:    core.Graph{},
			code: core.CodeEmptyWorkflow,
		},
		{
			name: "unknown kind",
			g:    core.Graph{Nodes: []core.Node{{ID: "a", Type: "audio"}}},
			code: core.CodeUnknownNodeKind,
		},
		{
			name: "duplicate id",
			g:    core.Graph{Nodes: []core.Node{textNode("a"), textNode("a")}},
			code: core.CodeDuplicateNode,
		},
		{
			name: "cycle",
			g: core.Graph{
				Nodes: []core.Node{textNode("a"), textNode("b")},
				Edges: []core.Edge{edge("a", "b", ""), edge("b", "a", "")},
			},
			code: core.CodeDAGCycle,
		},
		{
			name: "self loop",
			g: core.Graph{
				Nodes: []core.Node{textNode("a")},
				Edges: []core.Edge{edge("a", "a", "")},
			},
			code: core.CodeDAGCycle,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ValidateGraph(tt.g)
			if err == nil {
				t.Fatal("expected error")
			}
			if !core.IsCategory(err, core.ErrCatStructural) {
				t.Errorf("category = %s, want structural", core.GetCategory(err))
			}
			if core.GetCode(err) != tt.code {
				t.Errorf("code = %s, want %s", core.GetCode(err), tt.code)
			}
		})
	}
}

func TestWouldCreateCycle(t *testing.T) {
	edges := []core.Edge{edge("a", "b", ""), edge("b", "c", "")}

	tests := []struct {
		source, target core.NodeID
		want           bool
	}{
		{"c", "a", true},
		{"b", "a", true},
		{"a", "a", true},
		{"a", "c", false},
		{"d", "a", false},
	}
	for _, tt := range tests {
		if got := WouldCreateCycle(edges, tt.source, tt.target); got != tt.want {
			t.Errorf("WouldCreateCycle(%s -> %s) = %v, want %v", tt.source, tt.target, got, tt.want)
		}
	}
}

func TestTransitiveDependencies(t *testing.T) {
	edges := []core.Edge{
		edge("a", "b", ""),
		edge("b", "d", ""),
		edge("c", "d", ""),
		edge("d", "e", ""),
		edge("x", "y", ""),
	}

	got := TransitiveDependencies("d", edges, nil)
	slices.Sort(got)
	want := []core.NodeID{"a", "b", "c"}
	if !slices.Equal(got, want) {
		t.Errorf("TransitiveDependencies(d) = %v, want %v", got, want)
	}

	if got := TransitiveDependencies("a", edges, nil); len(got) != 0 {
		t.Errorf("TransitiveDependencies(a) = %v, want empty", got)
	}

	stopAtB := func(id core.NodeID) bool { return id == "b" }
	got = TransitiveDependencies("e", edges, stopAtB)
	slices.Sort(got)
	want = []core.NodeID{"b", "c", "d"}
	if !slices.Equal(got, want) {
		t.Errorf("TransitiveDependencies(e, stop at b) = %v, want %v", got, want)
	}
}
