// Package document reads and writes workflow documents: a node/edge graph as
// exported by the canvas, in JSON or YAML.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/fsutil"
)

// Format is a document encoding.
type Format string

const (
	FormatJSON Format = "json"
	FormatYAML Format = "yaml"
)

// Document is a saved workflow.
type Document struct {
	ID         string `json:"id,omitempty" yaml:"id,omitempty"`
	Name       string `json:"name,omitempty" yaml:"name,omitempty"`
	core.Graph `yaml:",inline"`
	// Snapshot carries outputs of an earlier run, keyed by node.
	Snapshot map[core.NodeID]string `json:"snapshot,omitempty" yaml:"snapshot,omitempty"`
}

// Load reads the document at path. The format follows the extension, or the
// content when the extension is not recognised.
func Load(path string) (*Document, error) {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return nil, fmt.Errorf("reading workflow %s: %w", path, err)
	}
	doc, err := Parse(data, DetectFormat(path, data))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", filepath.Base(path), err)
	}
	if doc.ID == "" {
		doc.ID = strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	}
	return doc, nil
}

// DetectFormat guesses the encoding of data stored at path.
func DetectFormat(path string, data []byte) Format {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".json":
		return FormatJSON
	case ".yaml", ".yml":
		return FormatYAML
	}
	trimmed := bytes.TrimLeft(data, " \t\r\n\ufeff")
	if len(trimmed) > 0 && (trimmed[0] == '{' || trimmed[0] == '[') {
		return FormatJSON
	}
	return FormatYAML
}

// Parse decodes data. Node kinds are validated; graph structure is not.
func Parse(data []byte, format Format) (*Document, error) {
	var doc Document
	switch format {
	case FormatJSON:
		dec := json.NewDecoder(bytes.NewReader(data))
		if err := dec.Decode(&doc); err != nil {
			return nil, core.ErrValidation(core.CodeInvalidRequest, fmt.Sprintf("invalid JSON workflow: %v", err)).WithCause(err)
		}
	case FormatYAML:
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, core.ErrValidation(core.CodeInvalidRequest, fmt.Sprintf("invalid YAML workflow: %v", err)).WithCause(err)
		}
	default:
		return nil, core.ErrValidation(core.CodeInvalidRequest, fmt.Sprintf("unknown document format %q", format))
	}

	if len(doc.Nodes) == 0 {
		return nil, core.ErrStructural(core.CodeEmptyWorkflow, "workflow has no nodes")
	}
	for _, n := range doc.Nodes {
		if _, err := core.ParseNodeKind(string(n.Type)); err != nil {
			return nil, err
		}
	}
	return &doc, nil
}

// Marshal encodes doc in format.
func Marshal(doc *Document, format Format) ([]byte, error) {
	switch format {
	case FormatJSON:
		return json.MarshalIndent(doc, "", "  ")
	case FormatYAML:
		var buf bytes.Buffer
		enc := yaml.NewEncoder(&buf)
		enc.SetIndent(2)
		if err := enc.Encode(doc); err != nil {
			return nil, err
		}
		if err := enc.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("unknown document format %q", format)
}

// Request builds a run request for the document.
func (d *Document) Request(runType core.RunType) core.RunRequest {
	return core.RunRequest{
		WorkflowID: d.ID,
		RunType:    runType,
		Graph:      d.Graph,
		Snapshot:   d.Snapshot,
	}
}

// NodeIDs lists the document's node IDs in document order.
func (d *Document) NodeIDs() []string {
	ids := make([]string, len(d.Nodes))
	for i, n := range d.Nodes {
		ids[i] = string(n.ID)
	}
	return ids
}
