package config

// Defaults returns the built-in configuration. Every key set here can be
// overridden by a file or a NODEFLOW_ environment variable.
func Defaults() Config {
	return Config{
		Log: LogConfig{Level: "info", Format: "auto"},
		Server: ServerConfig{
			Host: "localhost",
			Port: 8080,
			CORS: []string{"http://localhost:5173"},
		},
		Ledger: LedgerConfig{Backend: "sqlite", Path: ProjectDir + "/ledger.db"},
		Engine: EngineConfig{RunTimeout: "5m", NodeTimeout: "2m"},
		LLM: LLMConfig{
			Endpoint:       "https://generativelanguage.googleapis.com/v1beta",
			DefaultModel:   "gemini-2.5-flash",
			RequestTimeout: "90s",
			Retry: RetryConfig{
				MaxAttempts: 3,
				BaseDelay:   "1s",
				MaxDelay:    "8s",
				Multiplier:  2,
			},
		},
		Media: MediaConfig{
			FFmpegPath:      "ffmpeg",
			FFprobePath:     "ffprobe",
			MetadataTimeout: "15s",
			SeekTimeout:     "30s",
			FetchTimeout:    "30s",
			MaxFetchBytes:   100 << 20,
		},
	}
}

// DefaultConfigYAML contains the default configuration YAML content.
// This is what `nodeflow init` writes.
const DefaultConfigYAML = `# nodeflow configuration
#
# Values not specified here use built-in defaults. Every key can be
# overridden with an environment variable, e.g. NODEFLOW_LOG_LEVEL=debug.

log:
  level: info
  # auto, text or json
  format: auto
  # extra patterns scrubbed from log lines, e.g. internal hostnames
  # redact:
  #   - 'render-[0-9]+\.internal'

server:
  host: localhost
  port: 8080
  cors:
    - http://localhost:5173

# Run history. Backends: sqlite, json, memory.
ledger:
  backend: sqlite
  path: .nodeflow/ledger.db

engine:
  run_timeout: 5m
  node_timeout: 2m
  # 0 runs every ready node at once
  max_concurrency: 0
  # Fail nodes with several edges into one scalar input instead of
  # keeping the first.
  strict_scalar_handles: false

llm:
  endpoint: https://generativelanguage.googleapis.com/v1beta
  # Falls back to GEMINI_API_KEY or GOOGLE_API_KEY.
  api_key: ""
  default_model: gemini-2.5-flash
  request_timeout: 90s
  retry:
    max_attempts: 3
    base_delay: 1s
    max_delay: 8s
    multiplier: 2
  # Per-model token bucket. 0 disables it.
  rate_limit:
    max_tokens: 0
    refill_rate: 0

media:
  ffmpeg_path: ffmpeg
  ffprobe_path: ffprobe
  metadata_timeout: 15s
  seek_timeout: 30s
  fetch_timeout: 30s
  max_fetch_bytes: 104857600
`
