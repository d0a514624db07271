// Package llm implements the generative backend used by llm nodes.
package llm

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/logging"
)

// DefaultEndpoint is the public Gemini API.
const DefaultEndpoint = "https://generativelanguage.googleapis.com/v1beta"

const defaultAPIVersion = "v1beta"

// GeminiConfig configures the Gemini client.
type GeminiConfig struct {
	// Endpoint is the API base URL. A trailing version segment such as
	// /v1beta selects the API version.
	Endpoint string
	APIKey   string
	// Timeout bounds one HTTP call. The node timeout still applies on top.
	Timeout time.Duration
}

// GeminiClient implements core.Generator on the genai SDK.
type GeminiClient struct {
	models *genai.Models
	logger *logging.Logger
}

// NewGeminiClient creates a client. It fails when no API key is configured.
func NewGeminiClient(cfg GeminiConfig, logger *logging.Logger) (*GeminiClient, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "gemini API key not configured (set llm.api_key or GEMINI_API_KEY)")
	}
	endpoint := cfg.Endpoint
	if strings.TrimSpace(endpoint) == "" {
		endpoint = DefaultEndpoint
	}
	base, version, err := splitEndpoint(endpoint)
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("invalid gemini endpoint %q", endpoint)).WithCause(err)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: &http.Client{Timeout: timeout},
		HTTPOptions: genai.HTTPOptions{
			BaseURL:    base,
			APIVersion: version,
		},
	})
	if err != nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "creating gemini client").WithCause(err)
	}
	return &GeminiClient{models: client.Models, logger: logger}, nil
}

var versionSegment = regexp.MustCompile(`^v\d+(?:alpha|beta)?\d*$`)

// splitEndpoint separates a trailing API version from the base URL.
func splitEndpoint(endpoint string) (base, version string, err error) {
	u, err := url.Parse(strings.TrimRight(endpoint, "/"))
	if err != nil {
		return "", "", err
	}
	if u.Scheme == "" || u.Host == "" {
		return "", "", fmt.Errorf("missing scheme or host")
	}
	version = defaultAPIVersion
	if i := strings.LastIndex(u.Path, "/"); i >= 0 && versionSegment.MatchString(u.Path[i+1:]) {
		version = u.Path[i+1:]
		u.Path = u.Path[:i]
	}
	return u.String() + "/", version, nil
}

// Generate sends one generateContent request. The user message goes first,
// followed by one inline part per image.
func (c *GeminiClient) Generate(ctx context.Context, req core.GenerateRequest) (string, error) {
	parts := []*genai.Part{genai.NewPartFromText(req.UserMessage)}
	for i, img := range req.Images {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return "", core.ErrValidation(core.CodeInvalidImage, fmt.Sprintf("image %d is not valid base64", i)).WithCause(err)
		}
		parts = append(parts, genai.NewPartFromBytes(data, img.MimeType))
	}
	contents := []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}

	var gc *genai.GenerateContentConfig
	if strings.TrimSpace(req.SystemPrompt) != "" {
		gc = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{genai.NewPartFromText(req.SystemPrompt)}},
		}
	}

	start := time.Now()
	resp, err := c.models.GenerateContent(ctx, req.Model, contents, gc)
	c.logger.Debug("gemini call", "model", req.Model, "images", len(req.Images), "duration", time.Since(start), "error", err)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", classifyError(err)
	}

	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		if fb := resp.PromptFeedback; fb != nil && fb.BlockReason != "" {
			return "", core.ErrNoResults(fmt.Sprintf("prompt blocked: %s", fb.BlockReason))
		}
		return "", core.ErrNoResults("no response generated")
	}

	var sb strings.Builder
	for _, p := range resp.Candidates[0].Content.Parts {
		if p != nil {
			sb.WriteString(p.Text)
		}
	}
	return sb.String(), nil
}

// asAPIError unwraps the SDK's API error, which is returned by value.
func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var ptr *genai.APIError
	if errors.As(err, &ptr) && ptr != nil {
		return *ptr, true
	}
	return genai.APIError{}, false
}

// classifyError converts an SDK error into a domain error. Overload signals
// are retryable; other API errors are terminal and transport failures are
// network errors.
func classifyError(err error) error {
	apiErr, ok := asAPIError(err)
	if !ok {
		return core.ErrNetwork(fmt.Sprintf("gemini request failed: %v", err)).WithCause(err)
	}

	msg := strings.TrimSpace(apiErr.Message)
	if apiErr.Status != "" && msg != "" {
		msg = apiErr.Status + ": " + msg
	} else if msg == "" {
		msg = apiErr.Status
	}
	if msg == "" {
		msg = http.StatusText(apiErr.Code)
	}

	if apiErr.Code == http.StatusTooManyRequests || apiErr.Code == http.StatusServiceUnavailable ||
		containsAny(strings.ToLower(msg), []string{"unavailable", "resource_exhausted", "overloaded"}) {
		overloaded := core.ErrOverloaded(fmt.Sprintf("gemini overloaded (%d): %s", apiErr.Code, msg))
		if delay, ok := retryDelay(apiErr.Details); ok {
			overloaded = overloaded.WithDetail(core.DetailRetryAfter, delay)
		}
		return overloaded.WithCause(err)
	}
	return core.ErrExecution(core.CodeBackendError, fmt.Sprintf("gemini error (%d): %s", apiErr.Code, msg)).WithCause(err)
}

// retryDelay returns the RetryInfo hint from the error details, if any.
func retryDelay(details []map[string]any) (time.Duration, bool) {
	for _, d := range details {
		raw, _ := d["retryDelay"].(string)
		if raw == "" {
			continue
		}
		if delay, err := time.ParseDuration(raw); err == nil && delay > 0 {
			return delay, true
		}
	}
	return 0, false
}

func containsAny(s string, substrings []string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

var _ core.Generator = (*GeminiClient)(nil)
