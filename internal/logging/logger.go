package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Attribute keys shared by engine, API and CLI log lines.
const (
	KeyRunID    = "run_id"
	KeyRunType  = "run_type"
	KeyNodeID   = "node_id"
	KeyNodeType = "node_type"
)

// Logger is a slog.Logger whose messages and attributes pass through a
// Sanitizer before reaching the handler.
type Logger struct {
	*slog.Logger
}

// Config configures the logger.
type Config struct {
	Level  string
	Format string // auto, text, json
	// Output defaults to stderr so run reports on stdout stay clean.
	Output io.Writer
	// Quiet raises the level to error regardless of Level.
	Quiet bool
	// Redact adds patterns to the default secret scrubbing. Invalid
	// patterns are ignored.
	Redact []string
}

// New creates a logger. The auto format pretty-prints on a terminal and
// falls back to JSON lines otherwise.
func New(cfg Config) *Logger {
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	level := parseLevel(cfg.Level)
	if cfg.Quiet {
		level = slog.LevelError
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}
	switch cfg.Format {
	case "json":
		handler = slog.NewJSONHandler(out, opts)
	case "text":
		handler = slog.NewTextHandler(out, opts)
	default:
		if isTerminal(out) {
			handler = NewPrettyHandler(out, level)
		} else {
			handler = slog.NewJSONHandler(out, opts)
		}
	}
	sanitizer := NewSanitizer()
	for _, pattern := range cfg.Redact {
		_ = sanitizer.AddPattern(pattern)
	}
	return &Logger{Logger: slog.New(NewSanitizingHandler(handler, sanitizer))}
}

// NewNop returns a logger that discards everything.
func NewNop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}

// parseLevel accepts slog level names plus "warning"; anything else is info.
func parseLevel(s string) slog.Level {
	s = strings.TrimSpace(s)
	if strings.EqualFold(s, "warning") {
		return slog.LevelWarn
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	return ok && term.IsTerminal(int(f.Fd()))
}

// WithRun tags records with the run and its type.
func (l *Logger) WithRun(runID, runType string) *Logger {
	return l.With(KeyRunID, runID, KeyRunType, runType)
}

// WithNode tags records with the node being executed.
func (l *Logger) WithNode(nodeID, kind string) *Logger {
	return l.With(KeyNodeID, nodeID, KeyNodeType, kind)
}

// With returns a logger with extra attributes.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}
