// Package media implements image cropping and video frame extraction.
package media

import (
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

// LoaderConfig bounds remote fetches.
type LoaderConfig struct {
	Timeout  time.Duration
	MaxBytes int64
}

// DefaultLoaderConfig returns the default fetch bounds.
func DefaultLoaderConfig() LoaderConfig {
	return LoaderConfig{
		Timeout:  30 * time.Second,
		MaxBytes: 100 << 20,
	}
}

// Loader resolves data: URLs in-process and fetches http(s) URLs.
type Loader struct {
	client   *http.Client
	maxBytes int64
}

// NewLoader creates a loader.
func NewLoader(cfg LoaderConfig) *Loader {
	def := DefaultLoaderConfig()
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	return &Loader{
		client:   &http.Client{Timeout: cfg.Timeout},
		maxBytes: cfg.MaxBytes,
	}
}

// Load returns the payload behind ref and its MIME type.
func (l *Loader) Load(ctx context.Context, ref string) ([]byte, string, error) {
	if strings.HasPrefix(ref, "data:") {
		return DecodeDataURL(ref)
	}

	u, err := url.Parse(ref)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, "", core.ErrValidation(core.CodeInvalidImage, fmt.Sprintf("unsupported media reference %q", truncateRef(ref)))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
	if err != nil {
		return nil, "", fmt.Errorf("building request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, "", ctx.Err()
		}
		return nil, "", core.ErrNetwork(fmt.Sprintf("fetching %s: %v", u.Host, err)).WithCause(err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", core.ErrNetwork(fmt.Sprintf("fetching %s: status %s", u.Host, resp.Status))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, l.maxBytes+1))
	if err != nil {
		return nil, "", core.ErrNetwork(fmt.Sprintf("reading %s: %v", u.Host, err)).WithCause(err)
	}
	if int64(len(data)) > l.maxBytes {
		return nil, "", core.ErrNetwork(fmt.Sprintf("media at %s exceeds %d bytes", u.Host, l.maxBytes))
	}

	mimeType := resp.Header.Get("Content-Type")
	if mt, _, err := mime.ParseMediaType(mimeType); err == nil {
		mimeType = mt
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// DecodeDataURL splits a base64 data URL into payload and MIME type.
func DecodeDataURL(ref string) ([]byte, string, error) {
	header, payload, ok := strings.Cut(strings.TrimPrefix(ref, "data:"), ",")
	if !ok {
		return nil, "", core.ErrValidation(core.CodeInvalidImage, "malformed data URL")
	}
	params := strings.Split(header, ";")
	mimeType := params[0]
	isBase64 := false
	for _, p := range params[1:] {
		if p == "base64" {
			isBase64 = true
		}
	}
	if !isBase64 {
		data, err := url.PathUnescape(payload)
		if err != nil {
			return nil, "", core.ErrValidation(core.CodeInvalidImage, "malformed data URL").WithCause(err)
		}
		return []byte(data), mimeType, nil
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		// canvases occasionally strip padding
		data, err = base64.RawStdEncoding.DecodeString(strings.TrimRight(payload, "="))
		if err != nil {
			return nil, "", core.ErrValidation(core.CodeInvalidImage, "invalid base64 payload").WithCause(err)
		}
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}
	return data, mimeType, nil
}

// EncodeDataURL renders data as a base64 data URL.
func EncodeDataURL(mimeType string, data []byte) string {
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(data)
}

func truncateRef(ref string) string {
	if len(ref) > 64 {
		return ref[:64] + "..."
	}
	return ref
}

var _ core.MediaLoader = (*Loader)(nil)
