package testutil

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// GraphBuilder assembles test graphs fluently.
type GraphBuilder struct {
	graph core.Graph
}

// NewGraph starts an empty graph.
func NewGraph() *GraphBuilder {
	return &GraphBuilder{}
}

// Node appends a node of kind with optional data overrides.
func (b *GraphBuilder) Node(id string, kind core.NodeKind, opts ...func(*core.NodeData)) *GraphBuilder {
	n := core.Node{ID: core.NodeID(id), Type: kind}
	for _, opt := range opts {
		opt(&n.Data)
	}
	b.graph.Nodes = append(b.graph.Nodes, n)
	return b
}

// Text appends a text node.
func (b *GraphBuilder) Text(id, text string) *GraphBuilder {
	return b.Node(id, core.NodeKindText, func(d *core.NodeData) { d.Text = text })
}

// Image appends an image node holding ref.
func (b *GraphBuilder) Image(id, ref string) *GraphBuilder {
	return b.Node(id, core.NodeKindImage, func(d *core.NodeData) { d.ImageURL = ref })
}

// Video appends a video node holding ref.
func (b *GraphBuilder) Video(id, ref string) *GraphBuilder {
	return b.Node(id, core.NodeKindVideo, func(d *core.NodeData) { d.VideoURL = ref })
}

// Edge connects source to the handle of target.
func (b *GraphBuilder) Edge(source, target, handle string) *GraphBuilder {
	b.graph.Edges = append(b.graph.Edges, core.Edge{
		ID:           core.EdgeID(fmt.Sprintf("e%d-%s-%s", len(b.graph.Edges)+1, source, target)),
		Source:       core.NodeID(source),
		Target:       core.NodeID(target),
		TargetHandle: handle,
	})
	return b
}

// Build returns the graph.
func (b *GraphBuilder) Build() core.Graph {
	return b.graph
}

// Request wraps the graph in a full-run request.
func (b *GraphBuilder) Request() core.RunRequest {
	return core.RunRequest{RunType: core.RunTypeFull, Graph: b.graph}
}

// PNGDataURL is a tiny embedded image usable as an llm input.
const PNGDataURL = "data:image/png;base64,iVBORw0KGgoAAAANSUhEUgAAAAEAAAABCAYAAAAfFcSJAAAADUlEQVR42mNk+M9QDwADhgGAWjR9awAAAABJRU5ErkJggg=="

// Float returns a pointer to v.
func Float(v float64) *float64 {
	return &v
}
