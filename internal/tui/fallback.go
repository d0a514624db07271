package tui

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/events"
)

// Output receives run progress.
type Output interface {
	RunStarted(ev events.RunStartedEvent)
	NodeStatus(ev events.NodeStatusEvent)
	RunCompleted(ev events.RunCompletedEvent)
}

// Attach forwards bus events to out until the returned detach function is
// called. Detach delivers every event already published before returning.
func Attach(bus *events.EventBus, out Output) (detach func()) {
	ch := bus.Subscribe(events.TypeRunStarted, events.TypeNodeStatus, events.TypeRunCompleted)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for ev := range ch {
			switch e := ev.(type) {
			case events.RunStartedEvent:
				out.RunStarted(e)
			case events.NodeStatusEvent:
				out.NodeStatus(e)
			case events.RunCompletedEvent:
				out.RunCompleted(e)
			}
		}
	}()

	var once sync.Once
	return func() {
		once.Do(func() {
			bus.Unsubscribe(ch)
			<-done
		})
	}
}

// FallbackOutput prints one line per node transition.
type FallbackOutput struct {
	writer   io.Writer
	useColor bool
	verbose  bool
	mu       sync.Mutex
}

// NewFallbackOutput creates a line-oriented progress printer.
func NewFallbackOutput(w io.Writer, useColor, verbose bool) *FallbackOutput {
	return &FallbackOutput{
		writer:   w,
		useColor: useColor,
		verbose:  verbose,
	}
}

// RunStarted prints the run header.
func (f *FallbackOutput) RunStarted(ev events.RunStartedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.printHeader(fmt.Sprintf("Run %s (%s, %d nodes)", shortID(ev.RunID()), ev.RunType, ev.NodeCount))
}

// NodeStatus prints a node transition. Running transitions only show in
// verbose mode.
func (f *FallbackOutput) NodeStatus(ev events.NodeStatusEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if ev.Status == "running" && !f.verbose {
		return
	}

	line := fmt.Sprintf("%s [%s] %s (%s)", f.statusIcon(ev.Status), strings.ToUpper(ev.Status), ev.NodeID, ev.NodeType)
	if ev.Status == "success" || ev.Status == "failed" {
		line += " " + (time.Duration(ev.Duration) * time.Millisecond).String()
	}
	if ev.Retries > 0 {
		line += fmt.Sprintf(", %d retries", ev.Retries)
	}
	if ev.Error != "" {
		line += ": " + ev.Error
	}
	f.printf("%s\n", line)
}

// RunCompleted prints the run summary.
func (f *FallbackOutput) RunCompleted(ev events.RunCompletedEvent) {
	f.mu.Lock()
	defer f.mu.Unlock()

	summary := fmt.Sprintf("%s %s in %s: %d succeeded, %d failed, %d skipped",
		f.statusIcon(ev.Status), strings.ToUpper(ev.Status), ev.Duration.Round(time.Millisecond),
		ev.Succeeded, ev.Failed, ev.Skipped)
	f.printSection(summary)
	if ev.Error != "" {
		f.printf("  %s\n", ev.Error)
	}
}

func (f *FallbackOutput) printf(format string, args ...interface{}) {
	fmt.Fprintf(f.writer, format, args...)
}

func (f *FallbackOutput) printHeader(text string) {
	line := strings.Repeat("=", 60)
	if f.useColor {
		f.printf("%s\n%s %s\n",
			TitleStyle.Render(line),
			TitleStyle.Render(">>>"),
			text)
		return
	}
	f.printf("%s\n>>> %s\n", line, text)
}

func (f *FallbackOutput) printSection(text string) {
	f.printf("--- %s\n", text)
}

func (f *FallbackOutput) statusIcon(status string) string {
	icon := StatusIcon(status)
	if !f.useColor {
		return icon
	}
	return StatusStyle(status).Render(icon)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// JSONOutput emits every event as one JSON line.
type JSONOutput struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewJSONOutput creates a JSON lines progress printer.
func NewJSONOutput(w io.Writer) *JSONOutput {
	return &JSONOutput{enc: json.NewEncoder(w)}
}

func (j *JSONOutput) emit(ev events.Event) {
	j.mu.Lock()
	defer j.mu.Unlock()
	_ = j.enc.Encode(ev)
}

// RunStarted emits a run_started line.
func (j *JSONOutput) RunStarted(ev events.RunStartedEvent) { j.emit(ev) }

// NodeStatus emits a node_status line.
func (j *JSONOutput) NodeStatus(ev events.NodeStatusEvent) { j.emit(ev) }

// RunCompleted emits a run_completed line.
func (j *JSONOutput) RunCompleted(ev events.RunCompletedEvent) { j.emit(ev) }
