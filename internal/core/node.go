package core

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// NodeID uniquely identifies a node within a workflow graph.
type NodeID string

// EdgeID identifies an edge.
type EdgeID string

// NodeKind is the closed set of node types the engine can execute.
type NodeKind string

const (
	NodeKindText    NodeKind = "text"
	NodeKindImage   NodeKind = "image"
	NodeKindVideo   NodeKind = "video"
	NodeKindLLM     NodeKind = "llm"
	NodeKindCrop    NodeKind = "crop"
	NodeKindExtract NodeKind = "extract"
)

// NodeKinds lists every kind in a stable order.
var NodeKinds = []NodeKind{
	NodeKindText,
	NodeKindImage,
	NodeKindVideo,
	NodeKindLLM,
	NodeKindCrop,
	NodeKindExtract,
}

// ParseNodeKind validates a raw type tag.
func ParseNodeKind(s string) (NodeKind, error) {
	k := NodeKind(strings.TrimSpace(s))
	for _, known := range NodeKinds {
		if k == known {
			return k, nil
		}
	}
	return "", ErrStructural(CodeUnknownNodeKind, fmt.Sprintf("unknown node type: %q", s))
}

// MediaType describes what a node produces or a handle consumes.
type MediaType string

const (
	MediaText  MediaType = "text"
	MediaImage MediaType = "image"
	MediaVideo MediaType = "video"
)

// Produces returns the media type of the kind's output.
func (k NodeKind) Produces() MediaType {
	switch k {
	case NodeKindImage, NodeKindCrop, NodeKindExtract:
		return MediaImage
	case NodeKindVideo:
		return MediaVideo
	default:
		return MediaText
	}
}

// Handle names the semantic input slot an edge fills on its target.
type Handle string

const (
	HandleNone          Handle = ""
	HandleOutput        Handle = "output"
	HandleSystemPrompt  Handle = "system_prompt"
	HandleUserMessage   Handle = "user_message"
	HandleImages        Handle = "images"
	HandleImageURL      Handle = "image_url"
	HandleVideoURL      Handle = "video_url"
	HandleTimestamp     Handle = "timestamp"
	HandleXPercent      Handle = "x_percent"
	HandleYPercent      Handle = "y_percent"
	HandleWidthPercent  Handle = "width_percent"
	HandleHeightPercent Handle = "height_percent"
)

// InputHandles lists the handles each kind exposes.
var InputHandles = map[NodeKind][]Handle{
	NodeKindLLM:     {HandleSystemPrompt, HandleUserMessage, HandleImages},
	NodeKindCrop:    {HandleImageURL, HandleXPercent, HandleYPercent, HandleWidthPercent, HandleHeightPercent},
	NodeKindExtract: {HandleVideoURL, HandleTimestamp},
}

// Accepts returns the media type a handle consumes.
func (h Handle) Accepts() MediaType {
	switch h {
	case HandleImages, HandleImageURL:
		return MediaImage
	case HandleVideoURL:
		return MediaVideo
	default:
		return MediaText
	}
}

// NormalizeHandle maps legacy canvas handle names onto canonical handles.
// The "image" alias means the image set on llm nodes and the source image on
// crop nodes.
func NormalizeHandle(kind NodeKind, raw string) Handle {
	switch raw {
	case "systemPrompt":
		return HandleSystemPrompt
	case "userMessage", "prompt":
		return HandleUserMessage
	case "video":
		return HandleVideoURL
	case "image":
		if kind == NodeKindCrop {
			return HandleImageURL
		}
		return HandleImages
	case "xPercent":
		return HandleXPercent
	case "yPercent":
		return HandleYPercent
	case "widthPercent":
		return HandleWidthPercent
	case "heightPercent":
		return HandleHeightPercent
	}
	return Handle(raw)
}

// FlexString accepts either a JSON string or a JSON number. Timestamps arrive
// as "50%" or as a plain number of seconds.
type FlexString string

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexString) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*f = ""
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", string(b))
	}
	*f = FlexString(n.String())
	return nil
}

// NodeData holds the per-kind attributes edited on the canvas. It is treated
// as immutable while a run executes.
type NodeData struct {
	Label string `json:"label,omitempty" yaml:"label,omitempty"`

	// text
	Text string `json:"text,omitempty" yaml:"text,omitempty"`

	// image / video sources
	ImageURL  string `json:"imageUrl,omitempty" yaml:"imageUrl,omitempty"`
	ImageData string `json:"imageData,omitempty" yaml:"imageData,omitempty"`
	VideoURL  string `json:"videoUrl,omitempty" yaml:"videoUrl,omitempty"`
	VideoData string `json:"videoData,omitempty" yaml:"videoData,omitempty"`
	FileName  string `json:"fileName,omitempty" yaml:"fileName,omitempty"`

	// llm
	Model        string `json:"model,omitempty" yaml:"model,omitempty"`
	SystemPrompt string `json:"systemPrompt,omitempty" yaml:"systemPrompt,omitempty"`
	UserMessage  string `json:"userMessage,omitempty" yaml:"userMessage,omitempty"`

	// crop
	XPercent      *float64 `json:"xPercent,omitempty" yaml:"xPercent,omitempty"`
	YPercent      *float64 `json:"yPercent,omitempty" yaml:"yPercent,omitempty"`
	WidthPercent  *float64 `json:"widthPercent,omitempty" yaml:"widthPercent,omitempty"`
	HeightPercent *float64 `json:"heightPercent,omitempty" yaml:"heightPercent,omitempty"`
	CenterCrop    bool     `json:"centerCrop,omitempty" yaml:"centerCrop,omitempty"`

	// extract
	Timestamp FlexString `json:"timestamp,omitempty" yaml:"timestamp,omitempty"`

	// Result is the last output the canvas observed for this node.
	Result string `json:"result,omitempty" yaml:"result,omitempty"`
}

// Node is a typed unit of work in the workflow graph.
type Node struct {
	ID   NodeID   `json:"id" yaml:"id"`
	Type NodeKind `json:"type" yaml:"type" jsonschema:"enum=text,enum=image,enum=video,enum=llm,enum=crop,enum=extract"`
	Data NodeData `json:"data" yaml:"data"`
}

// MediaRef returns the stored media reference of an image or video node,
// preferring embedded data for images and URLs for videos.
func (n Node) MediaRef() string {
	switch n.Type {
	case NodeKindImage:
		return firstNonEmpty(n.Data.ImageData, n.Data.ImageURL)
	case NodeKindVideo:
		return firstNonEmpty(n.Data.VideoURL, n.Data.VideoData)
	}
	return ""
}

// CachedOutput returns the output already known for the node without
// executing it: a stored result, a media reference, or literal text.
func (n Node) CachedOutput() (string, bool) {
	switch {
	case n.Data.Result != "":
		return n.Data.Result, true
	case n.Data.ImageURL != "" || n.Data.ImageData != "":
		return firstNonEmpty(n.Data.ImageURL, n.Data.ImageData), true
	case n.Data.VideoURL != "" || n.Data.VideoData != "":
		return firstNonEmpty(n.Data.VideoURL, n.Data.VideoData), true
	case n.Data.Text != "":
		return n.Data.Text, true
	}
	return "", false
}

// Edge is a typed data dependency between two nodes.
type Edge struct {
	ID           EdgeID `json:"id,omitempty" yaml:"id,omitempty"`
	Source       NodeID `json:"source" yaml:"source"`
	Target       NodeID `json:"target" yaml:"target"`
	SourceHandle string `json:"sourceHandle,omitempty" yaml:"sourceHandle,omitempty"`
	TargetHandle string `json:"targetHandle,omitempty" yaml:"targetHandle,omitempty"`
}

// Graph is a node/edge set as submitted by the canvas.
type Graph struct {
	Nodes []Node `json:"nodes" yaml:"nodes"`
	Edges []Edge `json:"edges" yaml:"edges"`
}

// Index returns the nodes keyed by ID.
func (g Graph) Index() map[NodeID]Node {
	idx := make(map[NodeID]Node, len(g.Nodes))
	for _, n := range g.Nodes {
		idx[n.ID] = n
	}
	return idx
}

// ParsePercent parses a numeric parameter, returning ok=false on failure.
func ParsePercent(s string) (float64, bool) {
	v, err := strconv.ParseFloat(strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "%")), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
