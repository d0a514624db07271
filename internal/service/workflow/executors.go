package workflow

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service"
)

// executeText passes the literal text through. Empty text is a valid output.
func executeText(_ context.Context, node core.Node, _ Inputs) (string, error) {
	return node.Data.Text, nil
}

// executeImage emits the stored image reference of a source node.
func executeImage(_ context.Context, node core.Node, _ Inputs) (string, error) {
	if ref := node.MediaRef(); ref != "" {
		return ref, nil
	}
	return "", core.ErrValidation(core.CodeNoMedia, "no image provided")
}

// executeVideo emits the stored video reference of a source node.
func executeVideo(_ context.Context, node core.Node, _ Inputs) (string, error) {
	if ref := node.MediaRef(); ref != "" {
		return ref, nil
	}
	return "", core.ErrValidation(core.CodeNoMedia, "no video provided")
}

// =============================================================================
// llm
// =============================================================================

type llmExecutor struct {
	deps Deps
}

// execute performs a single generative call. Overload retries are applied by
// the runner through the entry's retry policy.
func (e *llmExecutor) execute(ctx context.Context, node core.Node, in Inputs) (string, error) {
	if e.deps.Generator == nil {
		return "", core.ErrExecution(core.CodeBackendError, "no generative backend configured")
	}
	if strings.TrimSpace(in.UserMessage) == "" {
		return "", core.ErrValidation(core.CodeUserMessageRequired, "user message required for llm node")
	}

	model := node.Data.Model
	if model == "" {
		model = e.deps.DefaultModel
	}

	var limiter *service.ModelLimiter
	if e.deps.Limiters != nil {
		limiter = e.deps.Limiters.Get(model)
		if err := limiter.Acquire(ctx); err != nil {
			return "", err
		}
	}

	out, err := e.deps.Generator.Generate(ctx, core.GenerateRequest{
		Model:        model,
		SystemPrompt: in.SystemPrompt,
		UserMessage:  in.UserMessage,
		Images:       in.Images,
	})
	if err != nil {
		if limiter != nil && core.IsCategory(err, core.ErrCatOverloaded) {
			limiter.RecordOverload()
		}
		return "", err
	}
	if limiter != nil {
		limiter.RecordSuccess()
	}
	if strings.TrimSpace(out) == "" {
		return "", core.ErrNoResults("no response generated")
	}
	return out, nil
}

// =============================================================================
// crop
// =============================================================================

type cropExecutor struct {
	cropper core.ImageCropper
}

// ValidateCrop normalizes and checks a crop rectangle in percentages.
func ValidateCrop(in Inputs) (core.CropRect, error) {
	rect := core.CropRect{
		XPercent:      in.XPercent,
		YPercent:      in.YPercent,
		WidthPercent:  in.WidthPercent,
		HeightPercent: in.HeightPercent,
	}
	if rect.WidthPercent <= 0 || rect.HeightPercent <= 0 {
		return rect, core.ErrValidation(core.CodeInvalidCrop, "Width and height must be greater than 0%")
	}
	if rect.XPercent < 0 || rect.YPercent < 0 {
		return rect, core.ErrValidation(core.CodeInvalidCrop, "crop offsets must not be negative")
	}
	if in.CenterCrop {
		rect.XPercent = (100 - rect.WidthPercent) / 2
		rect.YPercent = (100 - rect.HeightPercent) / 2
	}
	if rect.XPercent+rect.WidthPercent > 100 || rect.YPercent+rect.HeightPercent > 100 {
		return rect, core.ErrValidation(core.CodeCropOutOfBounds, "crop area exceeds image boundaries")
	}
	return rect, nil
}

func (e *cropExecutor) execute(ctx context.Context, _ core.Node, in Inputs) (string, error) {
	if in.ImageURL == "" {
		return "", core.ErrValidation(core.CodeMissingConnection, "no image connected to crop node")
	}
	rect, err := ValidateCrop(in)
	if err != nil {
		return "", err
	}
	if e.cropper == nil {
		return "", core.ErrExecution(core.CodeBackendError, "no image cropper configured")
	}
	return e.cropper.Crop(ctx, in.ImageURL, rect)
}

// =============================================================================
// extract
// =============================================================================

var timestampPattern = regexp.MustCompile(`^-?\d+(\.\d+)?%?$`)

// Timestamp is a parsed seek position: either seconds or a percentage of the
// video duration.
type Timestamp struct {
	Value   float64
	Percent bool
}

// ParseTimestamp accepts "12", "12.5" or "50%".
func ParseTimestamp(raw string) (Timestamp, error) {
	s := strings.TrimSpace(raw)
	if !timestampPattern.MatchString(s) {
		return Timestamp{}, core.ErrValidation(core.CodeInvalidTimestamp, fmt.Sprintf("invalid timestamp %q", raw))
	}
	ts := Timestamp{Percent: strings.HasSuffix(s, "%")}
	v, err := strconv.ParseFloat(strings.TrimSuffix(s, "%"), 64)
	if err != nil {
		return Timestamp{}, core.ErrValidation(core.CodeInvalidTimestamp, fmt.Sprintf("invalid timestamp %q", raw))
	}
	ts.Value = v
	return ts, nil
}

// SeekSeconds resolves ts against a video duration, clamped to
// [0, duration-epsilon].
func (ts Timestamp) SeekSeconds(duration, epsilon float64) float64 {
	seek := ts.Value
	if ts.Percent {
		seek = ts.Value / 100 * duration
	}
	upper := math.Max(0, duration-epsilon)
	return math.Min(math.Max(seek, 0), upper)
}

type extractExecutor struct {
	frames          core.FrameExtractor
	metadataTimeout time.Duration
	seekTimeout     time.Duration
	epsilon         float64
}

func (e *extractExecutor) execute(ctx context.Context, _ core.Node, in Inputs) (string, error) {
	if in.VideoURL == "" {
		return "", core.ErrValidation(core.CodeMissingConnection, "no video connected to extract frame node")
	}
	ts, err := ParseTimestamp(in.Timestamp)
	if err != nil {
		return "", err
	}
	if e.frames == nil {
		return "", core.ErrExecution(core.CodeBackendError, "no frame extractor configured")
	}

	metaCtx, cancel := context.WithTimeout(ctx, e.metadataTimeout)
	duration, err := e.frames.Duration(metaCtx, in.VideoURL)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", core.ErrTimeout("timed out loading video metadata").WithCause(err)
		}
		return "", fmt.Errorf("reading video duration: %w", err)
	}

	seek := ts.SeekSeconds(duration, e.epsilon)

	seekCtx, cancel := context.WithTimeout(ctx, e.seekTimeout)
	frame, err := e.frames.FrameAt(seekCtx, in.VideoURL, seek)
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return "", core.ErrTimeout(fmt.Sprintf("timed out seeking to %.2fs", seek)).WithCause(err)
		}
		return "", fmt.Errorf("extracting frame at %.2fs: %w", seek, err)
	}
	if len(frame) == 0 {
		return "", core.ErrNoResults("frame extraction produced no image")
	}
	return "data:image/jpeg;base64," + base64.StdEncoding.EncodeToString(frame), nil
}
