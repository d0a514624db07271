package testutil

import (
	"context"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// MockCall records a call to a mock.
type MockCall struct {
	Method    string
	Args      interface{}
	Timestamp time.Time
}

type callRecorder struct {
	calls []MockCall
	mu    sync.Mutex
}

func (r *callRecorder) recordCall(method string, args interface{}) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, MockCall{
		Method:    method,
		Args:      args,
		Timestamp: time.Now(),
	})
}

// Calls returns recorded calls.
func (r *callRecorder) Calls() []MockCall {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]MockCall{}, r.calls...)
}

// CallCount returns number of calls to a method.
func (r *callRecorder) CallCount(method string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	count := 0
	for _, c := range r.calls {
		if c.Method == method {
			count++
		}
	}
	return count
}

// Reset clears call history.
func (r *callRecorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = nil
}

// =============================================================================
// Generator
// =============================================================================

// MockGenerator implements core.Generator for testing.
type MockGenerator struct {
	callRecorder
	generateFunc func(context.Context, core.GenerateRequest) (string, error)
}

// NewMockGenerator creates a generator that echoes the user message.
func NewMockGenerator() *MockGenerator {
	return &MockGenerator{}
}

// Generate mocks a generative call.
func (m *MockGenerator) Generate(ctx context.Context, req core.GenerateRequest) (string, error) {
	m.recordCall("Generate", req)
	if m.generateFunc != nil {
		return m.generateFunc(ctx, req)
	}
	preview := req.UserMessage
	if len(preview) > 50 {
		preview = preview[:50]
	}
	return fmt.Sprintf("Mock response for: %s", preview), nil
}

// WithGenerateFunc sets a custom generate function.
func (m *MockGenerator) WithGenerateFunc(fn func(context.Context, core.GenerateRequest) (string, error)) *MockGenerator {
	m.generateFunc = fn
	return m
}

// WithResponse configures a fixed response.
func (m *MockGenerator) WithResponse(output string) *MockGenerator {
	m.generateFunc = func(context.Context, core.GenerateRequest) (string, error) {
		return output, nil
	}
	return m
}

// WithError configures the mock to return an error.
func (m *MockGenerator) WithError(err error) *MockGenerator {
	m.generateFunc = func(context.Context, core.GenerateRequest) (string, error) {
		return "", err
	}
	return m
}

// WithOverloads fails the first n calls with a retryable overload error and
// answers output afterwards.
func (m *MockGenerator) WithOverloads(n int, output string) *MockGenerator {
	var mu sync.Mutex
	remaining := n
	m.generateFunc = func(context.Context, core.GenerateRequest) (string, error) {
		mu.Lock()
		defer mu.Unlock()
		if remaining > 0 {
			remaining--
			return "", core.ErrOverloaded("model is overloaded")
		}
		return output, nil
	}
	return m
}

// Requests returns the requests received so far.
func (m *MockGenerator) Requests() []core.GenerateRequest {
	var reqs []core.GenerateRequest
	for _, c := range m.Calls() {
		if req, ok := c.Args.(core.GenerateRequest); ok {
			reqs = append(reqs, req)
		}
	}
	return reqs
}

// =============================================================================
// Media
// =============================================================================

// MockCropper implements core.ImageCropper for testing. By default it returns
// a data URL describing the requested rectangle.
type MockCropper struct {
	callRecorder
	cropFunc func(context.Context, string, core.CropRect) (string, error)
}

// NewMockCropper creates a new mock cropper.
func NewMockCropper() *MockCropper {
	return &MockCropper{}
}

// Crop mocks an image crop.
func (m *MockCropper) Crop(ctx context.Context, src string, rect core.CropRect) (string, error) {
	m.recordCall("Crop", rect)
	if m.cropFunc != nil {
		return m.cropFunc(ctx, src, rect)
	}
	desc := fmt.Sprintf("%g,%g,%g,%g", rect.XPercent, rect.YPercent, rect.WidthPercent, rect.HeightPercent)
	return "data:image/png;base64," + base64.StdEncoding.EncodeToString([]byte(desc)), nil
}

// WithCropFunc sets a custom crop function.
func (m *MockCropper) WithCropFunc(fn func(context.Context, string, core.CropRect) (string, error)) *MockCropper {
	m.cropFunc = fn
	return m
}

// LastRect returns the rectangle of the most recent call.
func (m *MockCropper) LastRect() (core.CropRect, bool) {
	calls := m.Calls()
	if len(calls) == 0 {
		return core.CropRect{}, false
	}
	rect, ok := calls[len(calls)-1].Args.(core.CropRect)
	return rect, ok
}

// MockFrameExtractor implements core.FrameExtractor for testing.
type MockFrameExtractor struct {
	callRecorder
	duration     float64
	frame        []byte
	durationFunc func(context.Context, string) (float64, error)
	frameFunc    func(context.Context, string, float64) ([]byte, error)
}

// NewMockFrameExtractor creates an extractor for a video of the given length.
func NewMockFrameExtractor(duration float64) *MockFrameExtractor {
	return &MockFrameExtractor{duration: duration, frame: []byte("jpeg-frame")}
}

// Duration mocks the duration probe.
func (m *MockFrameExtractor) Duration(ctx context.Context, src string) (float64, error) {
	m.recordCall("Duration", src)
	if m.durationFunc != nil {
		return m.durationFunc(ctx, src)
	}
	return m.duration, nil
}

// FrameAt mocks frame decoding.
func (m *MockFrameExtractor) FrameAt(ctx context.Context, src string, seconds float64) ([]byte, error) {
	m.recordCall("FrameAt", seconds)
	if m.frameFunc != nil {
		return m.frameFunc(ctx, src, seconds)
	}
	return m.frame, nil
}

// WithDurationFunc sets a custom duration probe.
func (m *MockFrameExtractor) WithDurationFunc(fn func(context.Context, string) (float64, error)) *MockFrameExtractor {
	m.durationFunc = fn
	return m
}

// WithFrameFunc sets a custom frame decoder.
func (m *MockFrameExtractor) WithFrameFunc(fn func(context.Context, string, float64) ([]byte, error)) *MockFrameExtractor {
	m.frameFunc = fn
	return m
}

// Seeks returns the offsets passed to FrameAt.
func (m *MockFrameExtractor) Seeks() []float64 {
	var seeks []float64
	for _, c := range m.Calls() {
		if c.Method == "FrameAt" {
			seeks = append(seeks, c.Args.(float64))
		}
	}
	return seeks
}

// MockMediaLoader implements core.MediaLoader over an in-memory table.
type MockMediaLoader struct {
	callRecorder
	mu      sync.Mutex
	entries map[string]mediaEntry
}

type mediaEntry struct {
	data []byte
	mime string
}

// NewMockMediaLoader creates an empty loader.
func NewMockMediaLoader() *MockMediaLoader {
	return &MockMediaLoader{entries: make(map[string]mediaEntry)}
}

// Add registers a payload for ref.
func (m *MockMediaLoader) Add(ref string, data []byte, mime string) *MockMediaLoader {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[ref] = mediaEntry{data: data, mime: mime}
	return m
}

// Load returns the registered payload or a fetch error.
func (m *MockMediaLoader) Load(_ context.Context, ref string) ([]byte, string, error) {
	m.recordCall("Load", ref)
	m.mu.Lock()
	defer m.mu.Unlock()
	if e, ok := m.entries[ref]; ok {
		return e.data, e.mime, nil
	}
	if strings.HasPrefix(ref, "data:") {
		return nil, "", core.ErrValidation(core.CodeInvalidImage, "unregistered data URL")
	}
	return nil, "", core.ErrNetwork(fmt.Sprintf("fetching %s: not found", ref))
}
