package workflow

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/testutil"
)

func decodeSummary(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("summary %q is not JSON: %v", s, err)
	}
	return m
}

func TestSummarizeOutput_Media(t *testing.T) {
	m := decodeSummary(t, SummarizeOutput(testutil.PNGDataURL))
	if m["type"] != "media" || m["mimeType"] != "image/png" {
		t.Errorf("summary = %v", m)
	}
	if int(m["size"].(float64)) != len(testutil.PNGDataURL) {
		t.Errorf("size = %v, want %d", m["size"], len(testutil.PNGDataURL))
	}
	if _, ok := m["result"]; ok {
		t.Error("media payload leaked into summary")
	}
}

func TestSummarizeOutput_TruncatesText(t *testing.T) {
	long := strings.Repeat("x", maxSummaryChars+50)
	m := decodeSummary(t, SummarizeOutput(long))
	got := m["result"].(string)
	if len(got) != maxSummaryChars+3 || !strings.HasSuffix(got, "...") {
		t.Errorf("len(result) = %d, want truncated with ellipsis", len(got))
	}

	m = decodeSummary(t, SummarizeOutput("short"))
	if m["result"] != "short" {
		t.Errorf("result = %v, want short", m["result"])
	}
}

func TestSummarizeInputs(t *testing.T) {
	in := Inputs{
		UserMessage: "describe",
		Images: []core.InlineImage{
			{MimeType: "image/png", Data: "abcd"},
			{MimeType: "image/jpeg", Data: "ef"},
		},
	}
	m := decodeSummary(t, SummarizeInputs(in))
	if m["userMessage"] != "describe" {
		t.Errorf("userMessage = %v", m["userMessage"])
	}
	images := m["images"].(map[string]any)
	if images["count"].(float64) != 2 || images["size"].(float64) != 6 {
		t.Errorf("images = %v, want count 2 size 6", images)
	}

	crop := decodeSummary(t, SummarizeInputs(Inputs{ImageURL: testutil.PNGDataURL, WidthPercent: 50, HeightPercent: 100}))
	ref := crop["imageUrl"].(map[string]any)
	if ref["type"] != "media" {
		t.Errorf("imageUrl = %v, want media summary", ref)
	}
	if crop["widthPercent"].(float64) != 50 {
		t.Errorf("widthPercent = %v", crop["widthPercent"])
	}

	if got := SummarizeInputs(Inputs{}); got != "" {
		t.Errorf("empty inputs summary = %q, want empty", got)
	}
}
