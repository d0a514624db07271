package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/adapters/llm"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/adapters/media"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/config"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/events"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/logging"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service/workflow"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/tui"
)

// eventBufferSize is the per-subscriber buffer of the CLI event bus.
const eventBufferSize = 256

// loadConfig loads and validates configuration, honoring --config and the
// logging flags.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(v)
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := config.ValidateConfig(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// newLogger builds the CLI logger. Logs always go to stderr.
func newLogger(cfg *config.Config) *logging.Logger {
	return logging.New(logging.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
		Quiet:  quiet,
		Redact: cfg.Log.Redact,
	})
}

// detectOutputMode resolves --output-mode and --quiet against the terminal.
func detectOutputMode(w io.Writer) (tui.OutputMode, error) {
	return tui.NewTerminal(w).Mode(outputMode, quiet)
}

// useColor reports whether w should receive styled output.
func useColor(w io.Writer) bool {
	return tui.NewTerminal(w).Color(noColor)
}

// engine bundles the runner and everything it owns.
type engine struct {
	cfg    *config.Config
	logger *logging.Logger
	ledger core.Ledger
	bus    *events.EventBus
	runner *workflow.Runner
	// limiters is nil when rate limiting is disabled.
	limiters *service.RateLimiterRegistry
}

// newEngine wires adapters, registry, ledger and runner from cfg.
func newEngine(cfg *config.Config, logger *logging.Logger) (*engine, error) {
	loader := media.NewLoader(media.LoaderConfig{
		Timeout:  config.Duration(cfg.Media.FetchTimeout),
		MaxBytes: cfg.Media.MaxFetchBytes,
	})

	ffmpeg := media.NewFFmpeg(media.FFmpegConfig{
		FFmpegPath:  cfg.Media.FFmpegPath,
		FFprobePath: cfg.Media.FFprobePath,
	}, loader)
	if err := ffmpeg.Available(); err != nil {
		logger.Warn("video tooling unavailable, extract nodes will fail", "error", err)
	}

	var generator core.Generator
	client, err := llm.NewGeminiClient(llm.GeminiConfig{
		Endpoint: cfg.LLM.Endpoint,
		APIKey:   cfg.LLM.APIKey,
		Timeout:  config.Duration(cfg.LLM.RequestTimeout),
	}, logger)
	if err != nil {
		logger.Debug("generative backend disabled", "error", err)
		generator = unavailableGenerator{err: err}
	} else {
		generator = client
	}

	retry := service.NewRetryPolicy(
		service.WithMaxAttempts(cfg.LLM.Retry.MaxAttempts),
		service.WithBaseDelay(config.Duration(cfg.LLM.Retry.BaseDelay)),
		service.WithMaxDelay(config.Duration(cfg.LLM.Retry.MaxDelay)),
		service.WithMultiplier(cfg.LLM.Retry.Multiplier),
	)

	var limiters *service.RateLimiterRegistry
	limitCfg := service.RateLimiterConfig{
		MaxTokens:  cfg.LLM.RateLimit.MaxTokens,
		RefillRate: cfg.LLM.RateLimit.RefillRate,
	}
	if limitCfg.Enabled() {
		limiters = service.NewRateLimiterRegistry(limitCfg)
	}

	registry := workflow.NewRegistry(workflow.Deps{
		Generator:       generator,
		Cropper:         media.NewCropper(loader),
		Frames:          ffmpeg,
		Limiters:        limiters,
		DefaultModel:    cfg.LLM.DefaultModel,
		LLMRetry:        retry,
		MetadataTimeout: config.Duration(cfg.Media.MetadataTimeout),
		SeekTimeout:     config.Duration(cfg.Media.SeekTimeout),
		Logger:          logger,
	})

	ledger, err := state.NewLedger(cfg.Ledger.Backend, cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("opening run ledger: %w", err)
	}

	bus := events.New(eventBufferSize)
	runner := workflow.NewRunner(registry, ledger, bus, logger, workflow.Config{
		RunTimeout:          config.Duration(cfg.Engine.RunTimeout),
		NodeTimeout:         config.Duration(cfg.Engine.NodeTimeout),
		MaxConcurrency:      cfg.Engine.MaxConcurrency,
		StrictScalarHandles: cfg.Engine.StrictScalarHandles,
	})

	return &engine{
		cfg:      cfg,
		logger:   logger,
		ledger:   ledger,
		bus:      bus,
		runner:   runner,
		limiters: limiters,
	}, nil
}

// Close waits for background runs, then releases the bus and ledger.
func (e *engine) Close() error {
	e.runner.Wait()
	e.bus.Close()
	return e.ledger.Close()
}

// unavailableGenerator fails every llm node with the reason the backend
// could not be configured. Graphs without llm nodes still run.
type unavailableGenerator struct {
	err error
}

func (g unavailableGenerator) Generate(context.Context, core.GenerateRequest) (string, error) {
	return "", core.ErrExecution(core.CodeInvalidConfig,
		"generative backend not configured: set llm.api_key or GEMINI_API_KEY").WithCause(g.err)
}

// formatCandidates renders fuzzy suggestions for an unknown name.
func formatCandidates(name string, candidates []string) string {
	suggestions := tui.Suggest(name, candidates)
	if len(suggestions) == 0 {
		return ""
	}
	return fmt.Sprintf(" (did you mean %s?)", strings.Join(suggestions, ", "))
}
