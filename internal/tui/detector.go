package tui

import (
	"fmt"
	"io"
	"os"
	"strings"

	"golang.org/x/term"
)

// OutputMode selects how run progress and reports are printed.
type OutputMode int

const (
	// ModeRich uses styled tables and live progress.
	ModeRich OutputMode = iota
	// ModePlain prints unstyled text.
	ModePlain
	// ModeJSON prints one JSON document per event and the report last.
	ModeJSON
	// ModeQuiet prints only the final outputs.
	ModeQuiet
)

var modeNames = [...]string{"rich", "plain", "json", "quiet"}

func (m OutputMode) String() string {
	if m < 0 || int(m) >= len(modeNames) {
		return "unknown"
	}
	return modeNames[m]
}

// ParseOutputMode maps a mode name to its OutputMode.
func ParseOutputMode(s string) (OutputMode, bool) {
	for i, name := range modeNames {
		if s == name {
			return OutputMode(i), true
		}
	}
	return ModePlain, false
}

// defaultWidth is used when the writer is not a terminal.
const defaultWidth = 80

// Terminal answers presentation questions about one output stream.
type Terminal struct {
	out    io.Writer
	getenv func(string) string
}

// NewTerminal describes w, reading overrides from the process environment.
func NewTerminal(w io.Writer) *Terminal {
	return &Terminal{out: w, getenv: os.Getenv}
}

func (t *Terminal) fd() (int, bool) {
	f, ok := t.out.(*os.File)
	if !ok {
		return 0, false
	}
	fd := int(f.Fd())
	return fd, term.IsTerminal(fd)
}

// IsTTY reports whether the stream is an interactive terminal.
func (t *Terminal) IsTTY() bool {
	_, ok := t.fd()
	return ok
}

// Width is the terminal width in columns, or 80 when unknown.
func (t *Terminal) Width() int {
	fd, ok := t.fd()
	if !ok {
		return defaultWidth
	}
	w, _, err := term.GetSize(fd)
	if err != nil || w <= 0 {
		return defaultWidth
	}
	return w
}

// Mode picks the output mode. Precedence: quiet, then an explicit request,
// then NODEFLOW_OUTPUT, then plain for CI or pipes and rich otherwise.
func (t *Terminal) Mode(requested string, quiet bool) (OutputMode, error) {
	if quiet {
		return ModeQuiet, nil
	}
	if requested != "" {
		mode, ok := ParseOutputMode(requested)
		if !ok {
			return 0, fmt.Errorf("unknown output mode %q (want %s)", requested, strings.Join(modeNames[:], ", "))
		}
		return mode, nil
	}
	if mode, ok := ParseOutputMode(t.getenv("NODEFLOW_OUTPUT")); ok && mode != ModeRich {
		return mode, nil
	}
	if t.getenv("CI") != "" || t.getenv("GITHUB_ACTIONS") != "" || !t.IsTTY() {
		return ModePlain, nil
	}
	return ModeRich, nil
}

// Color reports whether styled output should be written. NO_COLOR and a
// dumb TERM disable it, as does disabled.
func (t *Terminal) Color(disabled bool) bool {
	if disabled || t.getenv("NO_COLOR") != "" || t.getenv("TERM") == "dumb" {
		return false
	}
	return t.IsTTY()
}
