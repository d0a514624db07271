package core

import (
	"context"
	"time"
)

// =============================================================================
// Generator Port
// =============================================================================

// InlineImage is an image passed inline to a generative backend.
type InlineImage struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"` // base64, no data: prefix
}

// GenerateRequest is the input of a generative call.
type GenerateRequest struct {
	Model        string
	SystemPrompt string
	UserMessage  string
	Images       []InlineImage
}

// Generator defines the contract for generative text backends.
//
// Implementations must return an error for which IsRetryable reports true
// when the backend signals a transient overload, and a non-retryable error
// for every other failure.
type Generator interface {
	Generate(ctx context.Context, req GenerateRequest) (string, error)
}

// =============================================================================
// Media Ports
// =============================================================================

// MediaLoader resolves a media reference (data: URL or http(s) URL) to bytes.
type MediaLoader interface {
	// Load returns the payload and its MIME type.
	Load(ctx context.Context, ref string) ([]byte, string, error)
}

// CropRect is a crop rectangle in percentages (0-100) of the image size.
type CropRect struct {
	XPercent      float64
	YPercent      float64
	WidthPercent  float64
	HeightPercent float64
}

// ImageCropper cuts a rectangle out of an image and returns it as a data URL.
type ImageCropper interface {
	Crop(ctx context.Context, src string, rect CropRect) (string, error)
}

// FrameExtractor reads video metadata and decodes single frames.
type FrameExtractor interface {
	// Duration returns the length of the video in seconds.
	Duration(ctx context.Context, src string) (float64, error)

	// FrameAt decodes the frame at the given offset and returns it JPEG-encoded.
	FrameAt(ctx context.Context, src string, seconds float64) ([]byte, error)
}

// =============================================================================
// Ledger Port
// =============================================================================

// Ledger defines the contract for the run/execution log.
type Ledger interface {
	// CreateRun inserts a run in running state.
	CreateRun(ctx context.Context, run *WorkflowRun) error

	// FinishRun records the terminal status of a run. It is called once.
	FinishRun(ctx context.Context, id RunID, status RunStatus, completedAt time.Time, duration int64, errMsg string) error

	// StartNode inserts the node row in running state.
	StartNode(ctx context.Context, exec *NodeExecution) error

	// FinishNode finalises the node row, inserting it when absent (skipped
	// nodes never start).
	FinishNode(ctx context.Context, exec *NodeExecution) error

	// GetRun returns a run, or a not_found error.
	GetRun(ctx context.Context, id RunID) (*WorkflowRun, error)

	// ListNodeExecutions returns the node rows of a run ordered by execution time.
	ListNodeExecutions(ctx context.Context, id RunID) ([]NodeExecution, error)

	// ListRuns returns the most recent runs of an owner.
	ListRuns(ctx context.Context, owner string, limit int) ([]WorkflowRun, error)

	// Close releases resources.
	Close() error
}
