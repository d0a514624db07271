// Package config loads nodeflow configuration from files, the environment
// and defaults.
package config

// Config holds all application configuration.
type Config struct {
	Log    LogConfig    `mapstructure:"log" yaml:"log"`
	Server ServerConfig `mapstructure:"server" yaml:"server"`
	Ledger LedgerConfig `mapstructure:"ledger" yaml:"ledger"`
	Engine EngineConfig `mapstructure:"engine" yaml:"engine"`
	LLM    LLMConfig    `mapstructure:"llm" yaml:"llm"`
	Media  MediaConfig  `mapstructure:"media" yaml:"media"`
}

// LogConfig configures logging behavior.
type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level"`
	Format string `mapstructure:"format" yaml:"format"`
	// Redact lists extra regular expressions scrubbed from log output.
	Redact []string `mapstructure:"redact" yaml:"redact,omitempty"`
}

// ServerConfig configures the HTTP server.
type ServerConfig struct {
	Host string   `mapstructure:"host" yaml:"host"`
	Port int      `mapstructure:"port" yaml:"port"`
	CORS []string `mapstructure:"cors" yaml:"cors"`
}

// LedgerConfig configures run persistence.
type LedgerConfig struct {
	Backend string `mapstructure:"backend" yaml:"backend"`
	Path    string `mapstructure:"path" yaml:"path"`
}

// EngineConfig configures the workflow runner.
type EngineConfig struct {
	RunTimeout          string `mapstructure:"run_timeout" yaml:"run_timeout"`
	NodeTimeout         string `mapstructure:"node_timeout" yaml:"node_timeout"`
	MaxConcurrency      int    `mapstructure:"max_concurrency" yaml:"max_concurrency"`
	StrictScalarHandles bool   `mapstructure:"strict_scalar_handles" yaml:"strict_scalar_handles"`
}

// LLMConfig configures the generative backend.
type LLMConfig struct {
	Endpoint       string          `mapstructure:"endpoint" yaml:"endpoint"`
	APIKey         string          `mapstructure:"api_key" yaml:"api_key"`
	DefaultModel   string          `mapstructure:"default_model" yaml:"default_model"`
	RequestTimeout string          `mapstructure:"request_timeout" yaml:"request_timeout"`
	Retry          RetryConfig     `mapstructure:"retry" yaml:"retry"`
	RateLimit      RateLimitConfig `mapstructure:"rate_limit" yaml:"rate_limit"`
}

// RetryConfig configures overload retries of llm nodes.
type RetryConfig struct {
	MaxAttempts int     `mapstructure:"max_attempts" yaml:"max_attempts"`
	BaseDelay   string  `mapstructure:"base_delay" yaml:"base_delay"`
	MaxDelay    string  `mapstructure:"max_delay" yaml:"max_delay"`
	Multiplier  float64 `mapstructure:"multiplier" yaml:"multiplier"`
}

// RateLimitConfig configures the per-model token bucket. Zero disables it.
type RateLimitConfig struct {
	MaxTokens  float64 `mapstructure:"max_tokens" yaml:"max_tokens"`
	RefillRate float64 `mapstructure:"refill_rate" yaml:"refill_rate"`
}

// MediaConfig configures media fetching and video tooling.
type MediaConfig struct {
	FFmpegPath      string `mapstructure:"ffmpeg_path" yaml:"ffmpeg_path"`
	FFprobePath     string `mapstructure:"ffprobe_path" yaml:"ffprobe_path"`
	MetadataTimeout string `mapstructure:"metadata_timeout" yaml:"metadata_timeout"`
	SeekTimeout     string `mapstructure:"seek_timeout" yaml:"seek_timeout"`
	FetchTimeout    string `mapstructure:"fetch_timeout" yaml:"fetch_timeout"`
	MaxFetchBytes   int64  `mapstructure:"max_fetch_bytes" yaml:"max_fetch_bytes"`
}
