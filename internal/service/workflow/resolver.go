package workflow

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// Inputs is the typed bundle handed to an executor. It is built fresh for
// every execution and passed by value.
type Inputs struct {
	SystemPrompt string             `json:"systemPrompt,omitempty"`
	UserMessage  string             `json:"userMessage,omitempty"`
	Images       []core.InlineImage `json:"images,omitempty"`

	ImageURL string `json:"imageUrl,omitempty"`
	VideoURL string `json:"videoUrl,omitempty"`

	XPercent      float64 `json:"xPercent"`
	YPercent      float64 `json:"yPercent"`
	WidthPercent  float64 `json:"widthPercent"`
	HeightPercent float64 `json:"heightPercent"`
	CenterCrop    bool    `json:"centerCrop,omitempty"`

	Timestamp string `json:"timestamp,omitempty"`

	// Ignored lists edges that lost first-match-wins resolution on a scalar
	// handle.
	Ignored []core.EdgeID `json:"-"`
}

// Resolver assembles executor inputs from incoming edges.
type Resolver struct {
	// Strict rejects more than one edge into a scalar handle instead of
	// keeping the first.
	Strict bool
}

var dataImagePattern = regexp.MustCompile(`^data:(image/[a-zA-Z0-9.+-]+)?[^,]*;base64,(.*)$`)

// scalarHandles accept at most one meaningful edge.
var scalarHandles = map[core.Handle]bool{
	core.HandleSystemPrompt:  true,
	core.HandleUserMessage:   true,
	core.HandleImageURL:      true,
	core.HandleVideoURL:      true,
	core.HandleTimestamp:     true,
	core.HandleXPercent:      true,
	core.HandleYPercent:      true,
	core.HandleWidthPercent:  true,
	core.HandleHeightPercent: true,
}

// Resolve builds the input bundle of node from the edges targeting it, the
// graph's nodes and the outputs computed so far. It never mutates its
// arguments, so resolving twice against the same cache yields equal bundles.
func (r Resolver) Resolve(node core.Node, edges []core.Edge, nodes map[core.NodeID]core.Node, outputs map[core.NodeID]string) (Inputs, error) {
	grouped, order, err := r.group(node, edges, nodes)
	if err != nil {
		return Inputs{}, err
	}

	in := Inputs{CenterCrop: node.Data.CenterCrop}
	for _, h := range order {
		group := grouped[h]
		if scalarHandles[h] && len(group) > 1 {
			for _, e := range group[1:] {
				in.Ignored = append(in.Ignored, e.ID)
			}
		}
	}

	first := func(h core.Handle) (core.Edge, bool) {
		if g := grouped[h]; len(g) > 0 {
			return g[0], true
		}
		return core.Edge{}, false
	}
	// connected yields the computed output behind a scalar handle. Sources
	// without an output leave the node's own value in place.
	connected := func(h core.Handle) (string, bool) {
		e, ok := first(h)
		if !ok {
			return "", false
		}
		out, ok := outputs[e.Source]
		return out, ok
	}

	switch node.Type {
	case core.NodeKindLLM:
		in.SystemPrompt = node.Data.SystemPrompt
		if out, ok := connected(core.HandleSystemPrompt); ok {
			in.SystemPrompt = out
		}
		in.UserMessage = node.Data.UserMessage
		if out, ok := connected(core.HandleUserMessage); ok {
			in.UserMessage = out
		}
		for _, e := range grouped[core.HandleImages] {
			if img, ok := decodeDataImage(outputs[e.Source]); ok {
				in.Images = append(in.Images, img)
			}
		}
		if strings.TrimSpace(in.UserMessage) == "" {
			return Inputs{}, core.ErrValidation(core.CodeUserMessageRequired, "user message required for llm node")
		}

	case core.NodeKindCrop:
		e, ok := first(core.HandleImageURL)
		if !ok {
			return Inputs{}, core.ErrValidation(core.CodeMissingConnection, "no image connected to crop node")
		}
		in.ImageURL = sourceMedia(e.Source, nodes, outputs)
		if in.ImageURL == "" {
			return Inputs{}, core.ErrValidation(core.CodeNoMedia, fmt.Sprintf("no image data available from node %s", e.Source))
		}
		in.XPercent = r.percent(grouped, outputs, core.HandleXPercent, node.Data.XPercent, 0)
		in.YPercent = r.percent(grouped, outputs, core.HandleYPercent, node.Data.YPercent, 0)
		in.WidthPercent = r.percent(grouped, outputs, core.HandleWidthPercent, node.Data.WidthPercent, 100)
		in.HeightPercent = r.percent(grouped, outputs, core.HandleHeightPercent, node.Data.HeightPercent, 100)

	case core.NodeKindExtract:
		e, ok := first(core.HandleVideoURL)
		if !ok {
			return Inputs{}, core.ErrValidation(core.CodeMissingConnection, "no video connected to extract frame node")
		}
		in.VideoURL = sourceMedia(e.Source, nodes, outputs)
		if in.VideoURL == "" {
			return Inputs{}, core.ErrValidation(core.CodeNoMedia, fmt.Sprintf("no video data available from node %s", e.Source))
		}
		in.Timestamp = string(node.Data.Timestamp)
		if out, ok := connected(core.HandleTimestamp); ok {
			in.Timestamp = strings.TrimSpace(out)
		}
		if in.Timestamp == "" {
			in.Timestamp = "0"
		}
	}

	return in, nil
}

// group buckets the edges into node by canonical handle, preserving edge
// order. Unnamed edges fall back to the primary handle for the source media.
func (r Resolver) group(node core.Node, edges []core.Edge, nodes map[core.NodeID]core.Node) (map[core.Handle][]core.Edge, []core.Handle, error) {
	grouped := make(map[core.Handle][]core.Edge)
	var order []core.Handle

	for _, e := range edges {
		if e.Target != node.ID {
			continue
		}
		h := core.NormalizeHandle(node.Type, e.TargetHandle)
		if h == core.HandleNone || h == core.HandleOutput {
			src, ok := nodes[e.Source]
			if !ok {
				continue
			}
			h = fallbackHandle(node.Type, src.Type.Produces())
			if h == core.HandleNone {
				continue
			}
		}
		if _, seen := grouped[h]; !seen {
			order = append(order, h)
		}
		grouped[h] = append(grouped[h], e)
	}

	if r.Strict {
		for _, h := range order {
			if scalarHandles[h] && len(grouped[h]) > 1 {
				return nil, nil, core.ErrValidation(core.CodeAmbiguousHandle,
					fmt.Sprintf("node %s has %d edges into scalar handle %s", node.ID, len(grouped[h]), h))
			}
		}
	}
	return grouped, order, nil
}

// fallbackHandle picks the handle an unnamed edge fills on a node kind.
func fallbackHandle(kind core.NodeKind, media core.MediaType) core.Handle {
	switch kind {
	case core.NodeKindLLM:
		switch media {
		case core.MediaText:
			return core.HandleUserMessage
		case core.MediaImage:
			return core.HandleImages
		}
	case core.NodeKindCrop:
		if media == core.MediaImage {
			return core.HandleImageURL
		}
	case core.NodeKindExtract:
		switch media {
		case core.MediaVideo:
			return core.HandleVideoURL
		case core.MediaText:
			return core.HandleTimestamp
		}
	}
	return core.HandleNone
}

// percent resolves a numeric crop parameter: the connected source's output
// when an edge exists, else the node's own value, else def. Unparseable
// connected values fall back to def.
func (r Resolver) percent(grouped map[core.Handle][]core.Edge, outputs map[core.NodeID]string, h core.Handle, local *float64, def float64) float64 {
	if g := grouped[h]; len(g) > 0 {
		if v, ok := core.ParsePercent(outputs[g[0].Source]); ok {
			return v
		}
		return def
	}
	if local != nil {
		return *local
	}
	return def
}

// sourceMedia returns the computed output of src, falling back to the media
// stored on the source node when it was not part of this run.
func sourceMedia(src core.NodeID, nodes map[core.NodeID]core.Node, outputs map[core.NodeID]string) string {
	if out := outputs[src]; out != "" {
		return out
	}
	n, ok := nodes[src]
	if !ok {
		return ""
	}
	if ref := n.MediaRef(); ref != "" {
		return ref
	}
	return n.Data.Result
}

// decodeDataImage splits an embedded image payload into MIME type and data.
func decodeDataImage(s string) (core.InlineImage, bool) {
	if !strings.HasPrefix(s, "data:image") {
		return core.InlineImage{}, false
	}
	m := dataImagePattern.FindStringSubmatch(s)
	if m == nil || m[2] == "" {
		return core.InlineImage{}, false
	}
	mime := m[1]
	if mime == "" {
		mime = "image/jpeg"
	}
	return core.InlineImage{MimeType: mime, Data: m[2]}, true
}
