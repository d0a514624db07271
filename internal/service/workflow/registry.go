package workflow

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/logging"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service"
)

// ExecuteFunc produces the output string of one node from its resolved
// inputs. Implementations must honor ctx cancellation.
type ExecuteFunc func(ctx context.Context, node core.Node, in Inputs) (string, error)

// Entry binds an executor to a node kind.
type Entry struct {
	Execute ExecuteFunc
	// Retry wraps Execute. Nil means a single attempt.
	Retry *service.RetryPolicy
}

// Registry is the dispatch table from node kind to executor. It is read-only
// once built.
type Registry struct {
	mu      sync.RWMutex
	entries map[core.NodeKind]Entry
}

// NewEmptyRegistry returns a registry with no executors.
func NewEmptyRegistry() *Registry {
	return &Registry{entries: make(map[core.NodeKind]Entry)}
}

// Register binds kind to entry, replacing any previous binding.
func (r *Registry) Register(kind core.NodeKind, entry Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[kind] = entry
}

// Lookup returns the entry for kind.
func (r *Registry) Lookup(kind core.NodeKind) (Entry, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[kind]
	if !ok {
		return Entry{}, core.ErrStructural(core.CodeUnknownNodeKind, fmt.Sprintf("no executor registered for node type %q", kind))
	}
	return e, nil
}

// Kinds lists the registered kinds in sorted order.
func (r *Registry) Kinds() []core.NodeKind {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]core.NodeKind, 0, len(r.entries))
	for k := range r.entries {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
	return kinds
}

// Deps are the collaborators the built-in executors need.
type Deps struct {
	Generator core.Generator
	Cropper   core.ImageCropper
	Frames    core.FrameExtractor
	// Limiters throttles generative calls per model. Optional.
	Limiters *service.RateLimiterRegistry

	DefaultModel string
	// LLMRetry governs overload retries of llm nodes. Defaults to three
	// attempts.
	LLMRetry *service.RetryPolicy

	MetadataTimeout time.Duration
	SeekTimeout     time.Duration
	// Epsilon keeps seeks strictly before the end of the video.
	Epsilon float64

	Logger *logging.Logger
}

func (d *Deps) applyDefaults() {
	if d.DefaultModel == "" {
		d.DefaultModel = DefaultModel
	}
	if d.LLMRetry == nil {
		d.LLMRetry = service.DefaultRetryPolicy()
	}
	if d.MetadataTimeout <= 0 {
		d.MetadataTimeout = 15 * time.Second
	}
	if d.SeekTimeout <= 0 {
		d.SeekTimeout = 30 * time.Second
	}
	if d.Epsilon <= 0 {
		d.Epsilon = 0.05
	}
	if d.Logger == nil {
		d.Logger = logging.NewNop()
	}
}

// DefaultModel is used by llm nodes that do not name one.
const DefaultModel = "gemini-2.5-flash"

// NewRegistry builds the registry of the six built-in node kinds.
func NewRegistry(deps Deps) *Registry {
	deps.applyDefaults()
	r := NewEmptyRegistry()

	r.Register(core.NodeKindText, Entry{Execute: executeText})
	r.Register(core.NodeKindImage, Entry{Execute: executeImage})
	r.Register(core.NodeKindVideo, Entry{Execute: executeVideo})
	r.Register(core.NodeKindLLM, Entry{
		Execute: (&llmExecutor{deps: deps}).execute,
		Retry:   deps.LLMRetry,
	})
	r.Register(core.NodeKindCrop, Entry{Execute: (&cropExecutor{cropper: deps.Cropper}).execute})
	r.Register(core.NodeKindExtract, Entry{Execute: (&extractExecutor{
		frames:          deps.Frames,
		metadataTimeout: deps.MetadataTimeout,
		seekTimeout:     deps.SeekTimeout,
		epsilon:         deps.Epsilon,
	}).execute})

	return r
}
