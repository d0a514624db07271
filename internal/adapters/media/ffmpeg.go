package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// FFmpegConfig locates the ffmpeg binaries.
type FFmpegConfig struct {
	FFmpegPath  string
	FFprobePath string
}

// FFmpeg implements core.FrameExtractor with the ffprobe and ffmpeg binaries.
// Remote URLs are handed to ffmpeg directly; data: URLs are spooled to a
// temporary file first.
type FFmpeg struct {
	ffmpeg  string
	ffprobe string
	loader  core.MediaLoader
}

// NewFFmpeg creates an extractor. Empty paths default to the binaries on PATH.
func NewFFmpeg(cfg FFmpegConfig, loader core.MediaLoader) *FFmpeg {
	if cfg.FFmpegPath == "" {
		cfg.FFmpegPath = "ffmpeg"
	}
	if cfg.FFprobePath == "" {
		cfg.FFprobePath = "ffprobe"
	}
	return &FFmpeg{ffmpeg: cfg.FFmpegPath, ffprobe: cfg.FFprobePath, loader: loader}
}

// Available reports whether both binaries resolve.
func (f *FFmpeg) Available() error {
	for _, bin := range []string{f.ffprobe, f.ffmpeg} {
		if _, err := exec.LookPath(bin); err != nil {
			return fmt.Errorf("locating %s: %w", bin, err)
		}
	}
	return nil
}

// Duration probes the container duration in seconds.
func (f *FFmpeg) Duration(ctx context.Context, src string) (float64, error) {
	input, cleanup, err := f.input(ctx, src)
	if err != nil {
		return 0, err
	}
	defer cleanup()

	out, err := f.run(ctx, f.ffprobe,
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		input,
	)
	if err != nil {
		return 0, err
	}
	raw := strings.TrimSpace(string(out))
	d, err := strconv.ParseFloat(raw, 64)
	if err != nil || d < 0 {
		return 0, core.ErrExecution(core.CodeBackendError, fmt.Sprintf("unexpected duration %q from ffprobe", raw))
	}
	return d, nil
}

// FrameAt decodes one frame at seconds and returns it as JPEG.
func (f *FFmpeg) FrameAt(ctx context.Context, src string, seconds float64) ([]byte, error) {
	input, cleanup, err := f.input(ctx, src)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	return f.run(ctx, f.ffmpeg,
		"-hide_banner", "-loglevel", "error",
		"-ss", strconv.FormatFloat(seconds, 'f', 3, 64),
		"-i", input,
		"-frames:v", "1",
		"-f", "image2pipe",
		"-vcodec", "mjpeg",
		"-q:v", "2",
		"pipe:1",
	)
}

// input returns something ffmpeg can open for src.
func (f *FFmpeg) input(ctx context.Context, src string) (string, func(), error) {
	if !strings.HasPrefix(src, "data:") {
		return src, func() {}, nil
	}
	data, mimeType, err := f.loader.Load(ctx, src)
	if err != nil {
		return "", nil, err
	}
	tmp, err := os.CreateTemp("", "nodeflow-video-*"+extensionFor(mimeType))
	if err != nil {
		return "", nil, fmt.Errorf("creating spool file: %w", err)
	}
	name := tmp.Name()
	cleanup := func() { _ = os.Remove(name) }
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return "", nil, fmt.Errorf("spooling video: %w", err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("spooling video: %w", err)
	}
	return name, cleanup, nil
}

// run executes bin and returns its stdout. Cancelling ctx kills the whole
// process group.
func (f *FFmpeg) run(ctx context.Context, bin string, args ...string) ([]byte, error) {
	// #nosec G204 -- binary path comes from validated config
	cmd := exec.CommandContext(ctx, bin, args...)
	configureProcAttr(cmd)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			msg := strings.TrimSpace(stderr.String())
			if msg == "" {
				msg = exitErr.Error()
			}
			return nil, core.ErrExecution(core.CodeBackendError, fmt.Sprintf("%s failed: %s", filepath.Base(bin), msg))
		}
		return nil, fmt.Errorf("running %s: %w", bin, err)
	}
	return stdout.Bytes(), nil
}

func extensionFor(mimeType string) string {
	switch mimeType {
	case "video/webm":
		return ".webm"
	case "video/quicktime":
		return ".mov"
	case "video/x-matroska":
		return ".mkv"
	default:
		return ".mp4"
	}
}

var _ core.FrameExtractor = (*FFmpeg)(nil)
