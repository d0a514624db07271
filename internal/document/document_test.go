package document

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

const jsonWorkflow = `{
  "name": "describe",
  "nodes": [
    {"id": "prompt", "type": "text", "data": {"text": "describe the frame"}},
    {"id": "clip", "type": "video", "data": {"videoUrl": "https://example.com/clip.mp4"}},
    {"id": "frame", "type": "extract", "data": {"timestamp": 2.5}},
    {"id": "ask", "type": "llm", "data": {"model": "gemini-2.5-pro"}}
  ],
  "edges": [
    {"id": "e1", "source": "clip", "target": "frame", "targetHandle": "video_url"},
    {"id": "e2", "source": "frame", "target": "ask", "targetHandle": "images"},
    {"id": "e3", "source": "prompt", "target": "ask", "targetHandle": "user_message"}
  ]
}`

const yamlWorkflow = `
name: crop
nodes:
  - id: photo
    type: image
    data:
      imageUrl: https://example.com/cat.png
  - id: cut
    type: crop
    data:
      xPercent: 10
      widthPercent: 50
      centerCrop: true
  - id: frame
    type: extract
    data:
      timestamp: "50%"
edges:
  - source: photo
    target: cut
    targetHandle: image_url
snapshot:
  photo: https://example.com/cat.png
`

func TestParse_JSON(t *testing.T) {
	doc, err := Parse([]byte(jsonWorkflow), FormatJSON)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if doc.Name != "describe" || len(doc.Nodes) != 4 || len(doc.Edges) != 3 {
		t.Fatalf("doc = %+v", doc)
	}
	idx := doc.Index()
	if got := idx["frame"].Data.Timestamp; got != "2.5" {
		t.Errorf("numeric timestamp = %q, want 2.5", got)
	}
	if idx["ask"].Data.Model != "gemini-2.5-pro" {
		t.Errorf("model = %q", idx["ask"].Data.Model)
	}
	if doc.Edges[1].TargetHandle != "images" {
		t.Errorf("edge = %+v", doc.Edges[1])
	}
}

func TestParse_YAML(t *testing.T) {
	doc, err := Parse([]byte(yamlWorkflow), FormatYAML)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	idx := doc.Index()
	cut := idx["cut"].Data
	if cut.XPercent == nil || *cut.XPercent != 10 || cut.YPercent != nil || !cut.CenterCrop {
		t.Errorf("crop data = %+v", cut)
	}
	if idx["frame"].Data.Timestamp != "50%" {
		t.Errorf("timestamp = %q", idx["frame"].Data.Timestamp)
	}
	if doc.Snapshot["photo"] != "https://example.com/cat.png" {
		t.Errorf("snapshot = %v", doc.Snapshot)
	}
}

func TestParse_Errors(t *testing.T) {
	tests := []struct {
		name   string
		data   string
		format Format
		code   string
	}{
		{name: "broken json", data: `{"nodes": [`, format: FormatJSON, code: core.CodeInvalidRequest},
		{name: "broken yaml", data: "nodes: [\n", format: FormatYAML, code: core.CodeInvalidRequest},
		{name: "no nodes", data: `{"nodes": []}`, format: FormatJSON, code: core.CodeEmptyWorkflow},
		{name: "unknown kind", data: `{"nodes": [{"id": "a", "type": "audio"}]}`, format: FormatJSON, code: core.CodeUnknownNodeKind},
		{name: "unknown format", data: `{}`, format: "toml", code: core.CodeInvalidRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.data), tt.format)
			if core.GetCode(err) != tt.code {
				t.Errorf("Parse() error = %v, want %s", err, tt.code)
			}
		})
	}
}

func TestDetectFormat(t *testing.T) {
	tests := []struct {
		path string
		data string
		want Format
	}{
		{"flow.json", "nodes: []", FormatJSON},
		{"flow.YML", "{}", FormatYAML},
		{"flow", "  \n{\"nodes\": []}", FormatJSON},
		{"flow.txt", "nodes:\n  - id: a", FormatYAML},
	}
	for _, tt := range tests {
		if got := DetectFormat(tt.path, []byte(tt.data)); got != tt.want {
			t.Errorf("DetectFormat(%q) = %s, want %s", tt.path, got, tt.want)
		}
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "crop-flow.yaml")
	if err := os.WriteFile(path, []byte(yamlWorkflow), 0o600); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}

	doc, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if doc.ID != "crop-flow" {
		t.Errorf("ID = %q, want file stem", doc.ID)
	}

	req := doc.Request(core.RunTypeFull)
	if req.WorkflowID != "crop-flow" || len(req.Nodes) != 3 || req.Snapshot["photo"] == "" {
		t.Errorf("request = %+v", req)
	}
	if got := doc.NodeIDs(); len(got) != 3 || got[0] != "photo" || got[2] != "frame" {
		t.Errorf("NodeIDs() = %v", got)
	}

	if _, err := Load(filepath.Join(dir, "missing.json")); err == nil {
		t.Error("Load() of a missing file succeeded")
	}
}

func TestMarshal_RoundTripsThroughOtherFormat(t *testing.T) {
	doc, err := Parse([]byte(jsonWorkflow), FormatJSON)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	out, err := Marshal(doc, FormatYAML)
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	back, err := Parse(out, FormatYAML)
	if err != nil {
		t.Fatalf("Parse(yaml) error = %v\n%s", err, out)
	}
	if len(back.Nodes) != len(doc.Nodes) || back.Index()["clip"].Data.VideoURL != "https://example.com/clip.mp4" {
		t.Errorf("converted doc = %+v", back)
	}
	if back.Index()["frame"].Data.Timestamp != "2.5" {
		t.Errorf("timestamp = %q", back.Index()["frame"].Data.Timestamp)
	}
}
