package workflow

import (
	"encoding/json"
	"regexp"
	"strings"
)

// maxSummaryChars bounds text stored in ledger summaries.
const maxSummaryChars = 1000

var dataURLMime = regexp.MustCompile(`^data:(.*?);`)

// SummarizeOutput renders a node output for the ledger. Media payloads are
// reduced to their type and size; text is truncated.
func SummarizeOutput(output string) string {
	var v any
	if strings.HasPrefix(output, "data:") {
		v = mediaSummary(output)
	} else {
		v = map[string]any{"result": truncate(output)}
	}
	b, err := json.Marshal(v)
	if err != nil {
		return ""
	}
	return string(b)
}

// SummarizeInputs renders a resolved input bundle for the ledger.
func SummarizeInputs(in Inputs) string {
	m := make(map[string]any)
	if in.SystemPrompt != "" {
		m["systemPrompt"] = truncate(in.SystemPrompt)
	}
	if in.UserMessage != "" {
		m["userMessage"] = truncate(in.UserMessage)
	}
	if len(in.Images) > 0 {
		size := 0
		for _, img := range in.Images {
			size += len(img.Data)
		}
		m["images"] = map[string]any{"count": len(in.Images), "size": size}
	}
	if in.ImageURL != "" {
		m["imageUrl"] = summarizeRef(in.ImageURL)
		m["xPercent"] = in.XPercent
		m["yPercent"] = in.YPercent
		m["widthPercent"] = in.WidthPercent
		m["heightPercent"] = in.HeightPercent
		if in.CenterCrop {
			m["centerCrop"] = true
		}
	}
	if in.VideoURL != "" {
		m["videoUrl"] = summarizeRef(in.VideoURL)
		m["timestamp"] = in.Timestamp
	}
	if len(m) == 0 {
		return ""
	}
	b, err := json.Marshal(m)
	if err != nil {
		return ""
	}
	return string(b)
}

func mediaSummary(ref string) map[string]any {
	mime := "application/octet-stream"
	if m := dataURLMime.FindStringSubmatch(ref); m != nil && m[1] != "" {
		mime = m[1]
	}
	return map[string]any{"type": "media", "mimeType": mime, "size": len(ref)}
}

func summarizeRef(ref string) any {
	if strings.HasPrefix(ref, "data:") {
		return mediaSummary(ref)
	}
	return truncate(ref)
}

func truncate(s string) string {
	if len(s) <= maxSummaryChars {
		return s
	}
	return s[:maxSummaryChars] + "..."
}
