package workflow

import (
	"reflect"
	"testing"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/testutil"
)

func resolveNode(t *testing.T, r Resolver, g core.Graph, id core.NodeID, outputs map[core.NodeID]string) (Inputs, error) {
	t.Helper()
	nodes := g.Index()
	return r.Resolve(nodes[id], g.Edges, nodes, outputs)
}

func TestResolve_LLMHandles(t *testing.T) {
	g := testutil.NewGraph().
		Text("sys", "be brief").
		Text("user", "describe").
		Image("img", testutil.PNGDataURL).
		Node("llm", core.NodeKindLLM).
		Edge("sys", "llm", "system_prompt").
		Edge("user", "llm", "user_message").
		Edge("img", "llm", "images").
		Build()
	outputs := map[core.NodeID]string{
		"sys":  "be brief",
		"user": "describe",
		"img":  testutil.PNGDataURL,
	}

	in, err := resolveNode(t, Resolver{}, g, "llm", outputs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if in.SystemPrompt != "be brief" || in.UserMessage != "describe" {
		t.Errorf("prompts = %q / %q", in.SystemPrompt, in.UserMessage)
	}
	if len(in.Images) != 1 {
		t.Fatalf("len(Images) = %d, want 1", len(in.Images))
	}
	if in.Images[0].MimeType != "image/png" {
		t.Errorf("MimeType = %s, want image/png", in.Images[0].MimeType)
	}
	if in.Images[0].Data == "" || in.Images[0].Data[:4] != "iVBO" {
		t.Errorf("Data = %q, want base64 payload without prefix", in.Images[0].Data)
	}
}

func TestResolve_Idempotent(t *testing.T) {
	g := testutil.NewGraph().
		Text("user", "hello").
		Image("img", testutil.PNGDataURL).
		Node("llm", core.NodeKindLLM).
		Edge("user", "llm", "user_message").
		Edge("img", "llm", "images").
		Build()
	outputs := map[core.NodeID]string{"user": "hello", "img": testutil.PNGDataURL}

	first, err := resolveNode(t, Resolver{}, g, "llm", outputs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	second, err := resolveNode(t, Resolver{}, g, "llm", outputs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if !reflect.DeepEqual(first, second) {
		t.Errorf("resolution not idempotent:\n%+v\n%+v", first, second)
	}
	if len(outputs) != 2 {
		t.Error("Resolve mutated the output cache")
	}
}

func TestResolve_UserMessageRequired(t *testing.T) {
	g := testutil.NewGraph().
		Text("sys", "be brief").
		Node("llm", core.NodeKindLLM).
		Edge("sys", "llm", "system_prompt").
		Build()

	_, err := resolveNode(t, Resolver{}, g, "llm", map[core.NodeID]string{"sys": "be brief"})
	if core.GetCode(err) != core.CodeUserMessageRequired {
		t.Fatalf("error = %v, want %s", err, core.CodeUserMessageRequired)
	}
	if core.Message(err) != "user message required for llm node" {
		t.Errorf("message = %q", core.Message(err))
	}
}

func TestResolve_LLMLocalFallback(t *testing.T) {
	g := testutil.NewGraph().
		Node("llm", core.NodeKindLLM, func(d *core.NodeData) {
			d.SystemPrompt = "local system"
			d.UserMessage = "local user"
		}).
		Build()

	in, err := resolveNode(t, Resolver{}, g, "llm", nil)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if in.SystemPrompt != "local system" || in.UserMessage != "local user" {
		t.Errorf("prompts = %q / %q", in.SystemPrompt, in.UserMessage)
	}
}

func TestResolve_HandleAliasesAndFallback(t *testing.T) {
	tests := []struct {
		name   string
		handle string
		source string
	}{
		{name: "legacy camelCase", handle: "userMessage", source: "text"},
		{name: "prompt alias", handle: "prompt", source: "text"},
		{name: "unnamed text edge", handle: "", source: "text"},
		{name: "generic output handle", handle: "output", source: "text"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := testutil.NewGraph().
				Text("t", "hi").
				Node("llm", core.NodeKindLLM).
				Edge("t", "llm", tt.handle).
				Build()
			in, err := resolveNode(t, Resolver{}, g, "llm", map[core.NodeID]string{"t": "hi"})
			if err != nil {
				t.Fatalf("Resolve() error = %v", err)
			}
			if in.UserMessage != "hi" {
				t.Errorf("UserMessage = %q, want hi", in.UserMessage)
			}
		})
	}
}

func TestResolve_ImagesSkipNonImageOutputs(t *testing.T) {
	g := testutil.NewGraph().
		Text("user", "hi").
		Image("remote", "https://example.com/cat.png").
		Image("inline", "data:image/webp;base64,UklGRg==").
		Node("llm", core.NodeKindLLM).
		Edge("user", "llm", "user_message").
		Edge("remote", "llm", "images").
		Edge("inline", "llm", "image").
		Build()
	outputs := map[core.NodeID]string{
		"user":   "hi",
		"remote": "https://example.com/cat.png",
		"inline": "data:image/webp;base64,UklGRg==",
	}

	in, err := resolveNode(t, Resolver{}, g, "llm", outputs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if len(in.Images) != 1 || in.Images[0].MimeType != "image/webp" {
		t.Errorf("Images = %+v, want only the inline webp", in.Images)
	}
}

func TestResolve_ScalarFirstMatchWins(t *testing.T) {
	g := testutil.NewGraph().
		Text("a", "first").
		Text("b", "second").
		Node("llm", core.NodeKindLLM).
		Edge("a", "llm", "user_message").
		Edge("b", "llm", "user_message").
		Build()
	outputs := map[core.NodeID]string{"a": "first", "b": "second"}

	in, err := resolveNode(t, Resolver{}, g, "llm", outputs)
	if err != nil {
		t.Fatalf("Resolve() error = %v", err)
	}
	if in.UserMessage != "first" {
		t.Errorf("UserMessage = %q, want first", in.UserMessage)
	}
	if len(in.Ignored) != 1 || in.Ignored[0] != g.Edges[1].ID {
		t.Errorf("Ignored = %v, want [%s]", in.Ignored, g.Edges[1].ID)
	}

	_, err = resolveNode(t, Resolver{Strict: true}, g, "llm", outputs)
	if core.GetCode(err) != core.CodeAmbiguousHandle {
		t.Errorf("strict error = %v, want %s", err, core.CodeAmbiguousHandle)
	}
}

func TestResolve_Crop(t *testing.T) {
	t.Run("missing connection", func(t *testing.T) {
		g := testutil.NewGraph().Node("crop", core.NodeKindCrop).Build()
		_, err := resolveNode(t, Resolver{}, g, "crop", nil)
		if core.GetCode(err) != core.CodeMissingConnection {
			t.Fatalf("error = %v, want %s", err, core.CodeMissingConnection)
		}
		if core.Message(err) != "no image connected to crop node" {
			t.Errorf("message = %q", core.Message(err))
		}
	})

	t.Run("defaults and local values", func(t *testing.T) {
		g := testutil.NewGraph().
			Image("img", testutil.PNGDataURL).
			Node("crop", core.NodeKindCrop, func(d *core.NodeData) {
				d.XPercent = testutil.Float(0)
				d.WidthPercent = testutil.Float(50)
			}).
			Edge("img", "crop", "image_url").
			Build()

		in, err := resolveNode(t, Resolver{}, g, "crop", map[core.NodeID]string{"img": testutil.PNGDataURL})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if in.ImageURL != testutil.PNGDataURL {
			t.Errorf("ImageURL = %q", in.ImageURL)
		}
		if in.XPercent != 0 || in.YPercent != 0 || in.WidthPercent != 50 || in.HeightPercent != 100 {
			t.Errorf("rect = %v,%v,%v,%v", in.XPercent, in.YPercent, in.WidthPercent, in.HeightPercent)
		}
	})

	t.Run("connected parameters", func(t *testing.T) {
		g := testutil.NewGraph().
			Image("img", testutil.PNGDataURL).
			Text("x", "25").
			Text("w", "not a number").
			Node("crop", core.NodeKindCrop, func(d *core.NodeData) { d.WidthPercent = testutil.Float(40) }).
			Edge("img", "crop", "image").
			Edge("x", "crop", "x_percent").
			Edge("w", "crop", "widthPercent").
			Build()
		outputs := map[core.NodeID]string{"img": testutil.PNGDataURL, "x": "25", "w": "not a number"}

		in, err := resolveNode(t, Resolver{}, g, "crop", outputs)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if in.XPercent != 25 {
			t.Errorf("XPercent = %v, want 25", in.XPercent)
		}
		// unparseable connected values use the default, not the local value
		if in.WidthPercent != 100 {
			t.Errorf("WidthPercent = %v, want 100", in.WidthPercent)
		}
	})

	t.Run("source data fallback", func(t *testing.T) {
		g := testutil.NewGraph().
			Image("img", "https://example.com/cat.png").
			Node("crop", core.NodeKindCrop).
			Edge("img", "crop", "image_url").
			Build()

		in, err := resolveNode(t, Resolver{}, g, "crop", map[core.NodeID]string{})
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if in.ImageURL != "https://example.com/cat.png" {
			t.Errorf("ImageURL = %q, want stored image", in.ImageURL)
		}
	})

	t.Run("no media anywhere", func(t *testing.T) {
		g := testutil.NewGraph().
			Node("img", core.NodeKindImage).
			Node("crop", core.NodeKindCrop).
			Edge("img", "crop", "image_url").
			Build()

		_, err := resolveNode(t, Resolver{}, g, "crop", nil)
		if core.GetCode(err) != core.CodeNoMedia {
			t.Fatalf("error = %v, want %s", err, core.CodeNoMedia)
		}
	})
}

func TestResolve_Extract(t *testing.T) {
	t.Run("connected timestamp", func(t *testing.T) {
		g := testutil.NewGraph().
			Video("vid", "https://example.com/clip.mp4").
			Text("ts", " 50% ").
			Node("ex", core.NodeKindExtract).
			Edge("vid", "ex", "video").
			Edge("ts", "ex", "timestamp").
			Build()
		outputs := map[core.NodeID]string{"vid": "https://example.com/clip.mp4", "ts": " 50% "}

		in, err := resolveNode(t, Resolver{}, g, "ex", outputs)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if in.VideoURL != "https://example.com/clip.mp4" || in.Timestamp != "50%" {
			t.Errorf("inputs = %+v", in)
		}
	})

	t.Run("local timestamp and default", func(t *testing.T) {
		g := testutil.NewGraph().
			Video("vid", "v.mp4").
			Node("ex", core.NodeKindExtract, func(d *core.NodeData) { d.Timestamp = "3.5" }).
			Node("ex2", core.NodeKindExtract).
			Edge("vid", "ex", "").
			Edge("vid", "ex2", "video_url").
			Build()
		outputs := map[core.NodeID]string{"vid": "v.mp4"}

		in, err := resolveNode(t, Resolver{}, g, "ex", outputs)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if in.Timestamp != "3.5" {
			t.Errorf("Timestamp = %q, want 3.5", in.Timestamp)
		}
		in, err = resolveNode(t, Resolver{}, g, "ex2", outputs)
		if err != nil {
			t.Fatalf("Resolve() error = %v", err)
		}
		if in.Timestamp != "0" {
			t.Errorf("Timestamp = %q, want 0", in.Timestamp)
		}
	})

	t.Run("missing video", func(t *testing.T) {
		g := testutil.NewGraph().Node("ex", core.NodeKindExtract).Build()
		_, err := resolveNode(t, Resolver{}, g, "ex", nil)
		if core.GetCode(err) != core.CodeMissingConnection {
			t.Fatalf("error = %v, want %s", err, core.CodeMissingConnection)
		}
	})
}
