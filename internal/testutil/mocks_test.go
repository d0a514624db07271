package testutil

import (
	"context"
	"errors"
	"testing"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

func TestMockGenerator_Default(t *testing.T) {
	gen := NewMockGenerator()
	out, err := gen.Generate(context.Background(), core.GenerateRequest{UserMessage: "describe"})
	AssertNoError(t, err)
	AssertContains(t, out, "describe")
	AssertEqual(t, gen.CallCount("Generate"), 1)
}

func TestMockGenerator_WithOverloads(t *testing.T) {
	gen := NewMockGenerator().WithOverloads(2, "ok")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		_, err := gen.Generate(ctx, core.GenerateRequest{})
		if !core.IsRetryable(err) {
			t.Fatalf("call %d: expected retryable error, got %v", i, err)
		}
	}
	out, err := gen.Generate(ctx, core.GenerateRequest{})
	AssertNoError(t, err)
	AssertEqual(t, out, "ok")
	AssertLen(t, gen.Requests(), 3)
}

func TestMockGenerator_WithError(t *testing.T) {
	gen := NewMockGenerator().WithError(ErrTest)
	_, err := gen.Generate(context.Background(), core.GenerateRequest{})
	if !errors.Is(err, ErrTest) {
		t.Fatalf("expected ErrTest, got %v", err)
	}
	gen.Reset()
	AssertEqual(t, gen.CallCount("Generate"), 0)
}

func TestMockCropper_RecordsRect(t *testing.T) {
	c := NewMockCropper()
	rect := core.CropRect{XPercent: 10, YPercent: 20, WidthPercent: 30, HeightPercent: 40}
	out, err := c.Crop(context.Background(), PNGDataURL, rect)
	AssertNoError(t, err)
	AssertContains(t, out, "data:image/png;base64,")

	got, ok := c.LastRect()
	AssertTrue(t, ok, "expected a recorded rect")
	AssertEqual(t, got, rect)
}

func TestMockFrameExtractor(t *testing.T) {
	f := NewMockFrameExtractor(10)
	d, err := f.Duration(context.Background(), "video.mp4")
	AssertNoError(t, err)
	AssertEqual(t, d, 10.0)

	_, err = f.FrameAt(context.Background(), "video.mp4", 4.5)
	AssertNoError(t, err)
	seeks := f.Seeks()
	AssertLen(t, seeks, 1)
	AssertEqual(t, seeks[0], 4.5)
}

func TestMockMediaLoader(t *testing.T) {
	l := NewMockMediaLoader().Add("https://example.com/a.png", []byte{1, 2}, "image/png")

	data, mime, err := l.Load(context.Background(), "https://example.com/a.png")
	AssertNoError(t, err)
	AssertEqual(t, mime, "image/png")
	AssertEqual(t, len(data), 2)

	_, _, err = l.Load(context.Background(), "https://example.com/missing.png")
	if !core.IsCategory(err, core.ErrCatNetwork) {
		t.Fatalf("expected network error, got %v", err)
	}
}

func TestGraphBuilder(t *testing.T) {
	g := NewGraph().
		Text("a", "hello").
		Node("b", core.NodeKindLLM).
		Edge("a", "b", "user_message").
		Build()

	AssertLen(t, g.Nodes, 2)
	AssertLen(t, g.Edges, 1)
	AssertEqual(t, g.Edges[0].Target, core.NodeID("b"))
	AssertEqual(t, g.Nodes[0].Data.Text, "hello")
}
