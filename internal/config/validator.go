package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("config validation: %s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors collects multiple validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	var msgs []string
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// HasErrors returns true if there are any validation errors.
func (e ValidationErrors) HasErrors() bool {
	return len(e) > 0
}

// Validator validates configuration.
type Validator struct {
	errors ValidationErrors
}

// NewValidator creates a new validator.
func NewValidator() *Validator {
	return &Validator{
		errors: make(ValidationErrors, 0),
	}
}

// Validate validates the entire configuration.
func (v *Validator) Validate(cfg *Config) error {
	v.validateLog(&cfg.Log)
	v.validateServer(&cfg.Server)
	v.validateLedger(&cfg.Ledger)
	v.validateEngine(&cfg.Engine)
	v.validateLLM(&cfg.LLM)
	v.validateMedia(&cfg.Media)

	if len(v.errors) > 0 {
		return v.errors
	}
	return nil
}

// Errors returns the collected validation errors.
func (v *Validator) Errors() ValidationErrors {
	return v.errors
}

func (v *Validator) addError(field string, value interface{}, msg string) {
	v.errors = append(v.errors, ValidationError{
		Field:   field,
		Value:   value,
		Message: msg,
	})
}

func (v *Validator) validateLog(cfg *LogConfig) {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[cfg.Level] {
		v.addError("log.level", cfg.Level, "must be one of: debug, info, warn, error")
	}

	validFormats := map[string]bool{
		"auto": true, "text": true, "json": true,
	}
	if !validFormats[cfg.Format] {
		v.addError("log.format", cfg.Format, "must be one of: auto, text, json")
	}

	for i, pattern := range cfg.Redact {
		if _, err := regexp.Compile(pattern); err != nil {
			v.addError(fmt.Sprintf("log.redact[%d]", i), pattern, "invalid regular expression")
		}
	}
}

func (v *Validator) validateServer(cfg *ServerConfig) {
	if cfg.Port < 1 || cfg.Port > 65535 {
		v.addError("server.port", cfg.Port, "must be between 1 and 65535")
	}
	for _, origin := range cfg.CORS {
		if origin == "*" {
			continue
		}
		if u, err := url.Parse(origin); err != nil || u.Scheme == "" || u.Host == "" {
			v.addError("server.cors", origin, "origin must be * or scheme://host")
		}
	}
}

func (v *Validator) validateLedger(cfg *LedgerConfig) {
	switch cfg.Backend {
	case "sqlite", "json":
		if cfg.Path == "" {
			v.addError("ledger.path", cfg.Path, "path required")
		} else if !isValidPath(cfg.Path) {
			v.addError("ledger.path", cfg.Path, "invalid file path")
		}
	case "memory":
	default:
		v.addError("ledger.backend", cfg.Backend, "must be one of: sqlite, json, memory")
	}
}

func (v *Validator) validateEngine(cfg *EngineConfig) {
	v.validateDuration("engine.run_timeout", cfg.RunTimeout, true)
	v.validateDuration("engine.node_timeout", cfg.NodeTimeout, true)
	if cfg.MaxConcurrency < 0 {
		v.addError("engine.max_concurrency", cfg.MaxConcurrency, "must be non-negative")
	}
}

func (v *Validator) validateLLM(cfg *LLMConfig) {
	if u, err := url.Parse(cfg.Endpoint); err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		v.addError("llm.endpoint", cfg.Endpoint, "must be an http(s) URL")
	}
	if strings.TrimSpace(cfg.DefaultModel) == "" {
		v.addError("llm.default_model", cfg.DefaultModel, "model required")
	}
	v.validateDuration("llm.request_timeout", cfg.RequestTimeout, false)

	if cfg.Retry.MaxAttempts < 1 || cfg.Retry.MaxAttempts > 10 {
		v.addError("llm.retry.max_attempts", cfg.Retry.MaxAttempts, "must be between 1 and 10")
	}
	v.validateDuration("llm.retry.base_delay", cfg.Retry.BaseDelay, false)
	v.validateDuration("llm.retry.max_delay", cfg.Retry.MaxDelay, false)
	if Duration(cfg.Retry.MaxDelay) < Duration(cfg.Retry.BaseDelay) {
		v.addError("llm.retry.max_delay", cfg.Retry.MaxDelay, "must be >= llm.retry.base_delay")
	}
	if cfg.Retry.Multiplier < 1 {
		v.addError("llm.retry.multiplier", cfg.Retry.Multiplier, "must be at least 1")
	}

	if cfg.RateLimit.MaxTokens < 0 {
		v.addError("llm.rate_limit.max_tokens", cfg.RateLimit.MaxTokens, "must be non-negative")
	}
	if cfg.RateLimit.RefillRate < 0 {
		v.addError("llm.rate_limit.refill_rate", cfg.RateLimit.RefillRate, "must be non-negative")
	}
}

func (v *Validator) validateMedia(cfg *MediaConfig) {
	if cfg.FFmpegPath == "" {
		v.addError("media.ffmpeg_path", cfg.FFmpegPath, "path required")
	}
	if cfg.FFprobePath == "" {
		v.addError("media.ffprobe_path", cfg.FFprobePath, "path required")
	}
	v.validateDuration("media.metadata_timeout", cfg.MetadataTimeout, false)
	v.validateDuration("media.seek_timeout", cfg.SeekTimeout, false)
	v.validateDuration("media.fetch_timeout", cfg.FetchTimeout, false)
	if cfg.MaxFetchBytes <= 0 {
		v.addError("media.max_fetch_bytes", cfg.MaxFetchBytes, "must be positive")
	}
}

// validateDuration requires a positive duration, or also zero when
// allowZero is set.
func (v *Validator) validateDuration(field, raw string, allowZero bool) {
	d, err := time.ParseDuration(raw)
	switch {
	case err != nil:
		v.addError(field, raw, "invalid duration format")
	case d < 0, d == 0 && !allowZero:
		v.addError(field, raw, "must be positive")
	}
}

func isValidPath(path string) bool {
	dir := filepath.Dir(path)
	_, err := os.Stat(dir)
	return err == nil || os.IsNotExist(err)
}

// Duration parses a validated duration string. Invalid input yields zero.
func Duration(raw string) time.Duration {
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0
	}
	return d
}

// ValidateConfig is a convenience function that creates a validator and validates config.
func ValidateConfig(cfg *Config) error {
	v := NewValidator()
	return v.Validate(cfg)
}
