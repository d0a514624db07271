package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/charmbracelet/lipgloss"
)

// SanitizingHandler scrubs the message and every attribute of a record
// before passing it on.
type SanitizingHandler struct {
	next slog.Handler
	s    *Sanitizer
}

// NewSanitizingHandler wraps next with s.
func NewSanitizingHandler(next slog.Handler, s *Sanitizer) *SanitizingHandler {
	return &SanitizingHandler{next: next, s: s}
}

func (h *SanitizingHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return h.next.Enabled(ctx, level)
}

func (h *SanitizingHandler) Handle(ctx context.Context, r slog.Record) error {
	clean := slog.NewRecord(r.Time, r.Level, h.s.Sanitize(r.Message), r.PC)
	r.Attrs(func(a slog.Attr) bool {
		clean.AddAttrs(h.scrub(a))
		return true
	})
	return h.next.Handle(ctx, clean)
}

func (h *SanitizingHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	clean := make([]slog.Attr, len(attrs))
	for i, a := range attrs {
		clean[i] = h.scrub(a)
	}
	return &SanitizingHandler{next: h.next.WithAttrs(clean), s: h.s}
}

func (h *SanitizingHandler) WithGroup(name string) slog.Handler {
	return &SanitizingHandler{next: h.next.WithGroup(name), s: h.s}
}

// scrub rewrites string-bearing values. Errors and Stringers are flattened
// to strings since backend errors embed request URLs.
func (h *SanitizingHandler) scrub(a slog.Attr) slog.Attr {
	v := a.Value.Resolve()
	switch v.Kind() {
	case slog.KindString:
		return slog.String(a.Key, h.s.Sanitize(v.String()))
	case slog.KindGroup:
		group := v.Group()
		clean := make([]slog.Attr, len(group))
		for i, g := range group {
			clean[i] = h.scrub(g)
		}
		return slog.Attr{Key: a.Key, Value: slog.GroupValue(clean...)}
	case slog.KindAny:
		switch x := v.Any().(type) {
		case error:
			return slog.String(a.Key, h.s.Sanitize(x.Error()))
		case fmt.Stringer:
			return slog.String(a.Key, h.s.Sanitize(x.String()))
		}
	}
	return slog.Attr{Key: a.Key, Value: v}
}

var (
	levelStyles = map[slog.Level]lipgloss.Style{
		slog.LevelDebug: lipgloss.NewStyle().Foreground(lipgloss.Color("8")),
		slog.LevelInfo:  lipgloss.NewStyle().Foreground(lipgloss.Color("12")),
		slog.LevelWarn:  lipgloss.NewStyle().Foreground(lipgloss.Color("11")),
		slog.LevelError: lipgloss.NewStyle().Foreground(lipgloss.Color("9")).Bold(true),
	}
	levelLabels = map[slog.Level]string{
		slog.LevelDebug: "DBG",
		slog.LevelInfo:  "INF",
		slog.LevelWarn:  "WRN",
		slog.LevelError: "ERR",
	}
	timeStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("8"))
	keyStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("6"))
	scopeStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("5"))
)

// maxPrettyValue caps attribute values on the console; node outputs can be
// whole documents.
const maxPrettyValue = 160

// PrettyHandler writes one colorized line per record for a terminal. The
// run and node attributes are lifted out of the key=value list into a
// scope prefix:
//
//	15:04:05 INF [3f2a91c0 > crop-1] node finished duration=120ms
type PrettyHandler struct {
	mu     *sync.Mutex
	w      io.Writer
	level  slog.Level
	runID  string
	nodeID string
	attrs  []slog.Attr
	groups []string
}

// NewPrettyHandler creates a handler writing records at level or above to w.
func NewPrettyHandler(w io.Writer, level slog.Level) *PrettyHandler {
	return &PrettyHandler{mu: &sync.Mutex{}, w: w, level: level}
}

func (h *PrettyHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level
}

func (h *PrettyHandler) Handle(_ context.Context, r slog.Record) error {
	scoped := *h
	var rest []slog.Attr
	r.Attrs(func(a slog.Attr) bool {
		if !scoped.lift(a) {
			rest = append(rest, a)
		}
		return true
	})

	var b strings.Builder
	b.WriteString(timeStyle.Render(r.Time.Format("15:04:05")))
	b.WriteByte(' ')
	b.WriteString(formatLevel(r.Level))
	if scope := scoped.scope(); scope != "" {
		b.WriteByte(' ')
		b.WriteString(scopeStyle.Render("[" + scope + "]"))
	}
	b.WriteByte(' ')
	b.WriteString(r.Message)
	for _, a := range h.attrs {
		writeAttr(&b, h.groups, a)
	}
	for _, a := range rest {
		writeAttr(&b, h.groups, a)
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	_, err := fmt.Fprintln(h.w, b.String())
	return err
}

// lift records a top-level run or node id and reports whether it did.
func (h *PrettyHandler) lift(a slog.Attr) bool {
	if len(h.groups) > 0 {
		return false
	}
	switch a.Key {
	case KeyRunID:
		h.runID = a.Value.String()
	case KeyNodeID:
		h.nodeID = a.Value.String()
	case KeyRunType, KeyNodeType:
		// implied by the message
	default:
		return false
	}
	return true
}

func (h *PrettyHandler) scope() string {
	run := h.runID
	if len(run) > 8 {
		run = run[:8]
	}
	switch {
	case run != "" && h.nodeID != "":
		return run + " > " + h.nodeID
	case run != "":
		return run
	default:
		return h.nodeID
	}
}

func (h *PrettyHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.attrs = make([]slog.Attr, 0, len(h.attrs)+len(attrs))
	next.attrs = append(next.attrs, h.attrs...)
	for _, a := range attrs {
		if !next.lift(a) {
			next.attrs = append(next.attrs, a)
		}
	}
	return &next
}

func (h *PrettyHandler) WithGroup(name string) slog.Handler {
	next := *h
	next.groups = append(append([]string{}, h.groups...), name)
	return &next
}

func formatLevel(level slog.Level) string {
	label, ok := levelLabels[level]
	if !ok {
		label = level.String()
	}
	if style, ok := levelStyles[level]; ok {
		return style.Render(label)
	}
	return label
}

func writeAttr(b *strings.Builder, groups []string, a slog.Attr) {
	if a.Value.Kind() == slog.KindGroup {
		inner := groups
		if a.Key != "" {
			inner = append(append([]string{}, groups...), a.Key)
		}
		for _, attr := range a.Value.Group() {
			writeAttr(b, inner, attr)
		}
		return
	}
	key := a.Key
	if len(groups) > 0 {
		key = strings.Join(groups, ".") + "." + key
	}
	val := a.Value.Resolve().String()
	if n := utf8.RuneCountInString(val); n > maxPrettyValue {
		val = string([]rune(val)[:maxPrettyValue]) + fmt.Sprintf("…(+%d)", n-maxPrettyValue)
	}
	if strings.ContainsAny(val, " \t\n\"") {
		val = strconv.Quote(val)
	}
	fmt.Fprintf(b, " %s=%s", keyStyle.Render(key), val)
}
