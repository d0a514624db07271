package tui

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/glamour"
	"github.com/charmbracelet/glamour/ansi"
	"github.com/charmbracelet/glamour/styles"
	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/sahilm/fuzzy"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
)

const previewWidth = 60

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(ColorBorder)).
		Headers(headers...)
}

// statusColumnStyle styles a table whose status sits in column statusCol.
func statusColumnStyle(rows [][]string, statusCol int) table.StyleFunc {
	return func(row, col int) lipgloss.Style {
		if row == table.HeaderRow {
			return headerCellStyle
		}
		if col == statusCol && row >= 0 && row < len(rows) {
			return StatusStyle(rows[row][statusCol]).Padding(0, 1)
		}
		return cellStyle
	}
}

// RenderReport tabulates the node results of a run in the given node order.
// Nodes missing from order are appended by ID.
func RenderReport(report *core.RunReport, nodes []core.Node) string {
	kinds := make(map[core.NodeID]core.NodeKind, len(nodes))
	var order []core.NodeID
	for _, n := range nodes {
		kinds[n.ID] = n.Type
		if _, ok := report.Results[n.ID]; ok {
			order = append(order, n.ID)
		}
	}
	var extra []core.NodeID
	for id := range report.Results {
		if _, ok := kinds[id]; !ok {
			extra = append(extra, id)
		}
	}
	sort.Slice(extra, func(i, j int) bool { return extra[i] < extra[j] })
	order = append(order, extra...)

	rows := make([][]string, 0, len(order))
	for _, id := range order {
		res := report.Results[id]
		detail := Preview(res.Output)
		if res.Status != core.NodeStatusSuccess {
			detail = res.Error
		}
		duration := formatMillis(res.Duration)
		if res.Cached {
			duration = "cached"
		}
		rows = append(rows, []string{
			string(id),
			lipgloss.NewStyle().Foreground(KindColor(string(kinds[id]))).Render(string(kinds[id])),
			string(res.Status),
			duration,
			fmt.Sprint(res.Retries),
			truncate(detail, previewWidth),
		})
	}

	t := newTable("NODE", "TYPE", "STATUS", "DURATION", "RETRIES", "OUTPUT").
		Rows(rows...).
		StyleFunc(statusColumnStyle(rows, 2))

	status := string(report.Status)
	summary := fmt.Sprintf("%s %s  run %s  %s",
		StatusStyle(status).Render(StatusIcon(status)),
		StatusStyle(status).Render(strings.ToUpper(status)),
		report.RunID,
		formatMillis(report.Duration))
	if report.Error != "" {
		summary += "\n" + ErrorStyle.Render(report.Error)
	}
	return t.Render() + "\n" + summary + "\n"
}

// RenderRuns tabulates run history.
func RenderRuns(runs []core.WorkflowRun) string {
	if len(runs) == 0 {
		return SubtleStyle.Render("No runs recorded.") + "\n"
	}
	rows := make([][]string, 0, len(runs))
	for _, r := range runs {
		rows = append(rows, []string{
			string(r.ID),
			string(r.Status),
			string(r.RunType),
			fmt.Sprint(r.NodeCount),
			r.StartedAt.Local().Format(time.DateTime),
			formatMillis(r.Duration),
			r.WorkflowID,
		})
	}
	return newTable("RUN", "STATUS", "TYPE", "NODES", "STARTED", "DURATION", "WORKFLOW").
		Rows(rows...).
		StyleFunc(statusColumnStyle(rows, 1)).
		Render() + "\n"
}

// RenderExecutions shows a run record and its node rows.
func RenderExecutions(run *core.WorkflowRun, execs []core.NodeExecution) string {
	var b strings.Builder

	status := string(run.Status)
	fmt.Fprintf(&b, "%s %s\n", TitleStyle.Render("Run "+string(run.ID)), StatusStyle(status).Render(status))
	fmt.Fprintf(&b, "%s\n", SubtleStyle.Render(fmt.Sprintf("owner %s · %s · %d nodes · started %s",
		run.Owner, run.RunType, run.NodeCount, run.StartedAt.Local().Format(time.DateTime))))
	if run.Status.IsTerminal() {
		fmt.Fprintf(&b, "%s\n", SubtleStyle.Render("took "+formatMillis(run.Duration)))
	}
	if run.Error != "" {
		fmt.Fprintf(&b, "%s\n", ErrorStyle.Render(run.Error))
	}

	rows := make([][]string, 0, len(execs))
	for _, e := range execs {
		detail := e.Outputs
		if e.Error != "" {
			detail = e.Error
		}
		rows = append(rows, []string{
			string(e.NodeID),
			string(e.NodeType),
			string(e.Status),
			formatMillis(e.Duration),
			fmt.Sprint(e.Retries),
			e.ExecutedAt.Local().Format(time.TimeOnly),
			truncate(detail, previewWidth),
		})
	}
	b.WriteString(newTable("NODE", "TYPE", "STATUS", "DURATION", "RETRIES", "AT", "DETAIL").
		Rows(rows...).
		StyleFunc(statusColumnStyle(rows, 2)).
		Render())
	b.WriteString("\n")
	return b.String()
}

// RenderMarkdown renders text as terminal markdown. Without color the
// output keeps the markdown structure but no escape codes.
func RenderMarkdown(text string, width int, useColor bool) (string, error) {
	style := styles.NoTTYStyleConfig
	if useColor {
		style = styles.DraculaStyleConfig
		// Inline code without the block background.
		style.Code = ansi.StyleBlock{
			StylePrimitive: ansi.StylePrimitive{
				Color:           stringPtr("229"),
				BackgroundColor: stringPtr(""),
			},
		}
	}
	if width <= 0 {
		width = 80
	}

	renderer, err := glamour.NewTermRenderer(
		glamour.WithStyles(style),
		glamour.WithWordWrap(width),
	)
	if err != nil {
		return "", fmt.Errorf("creating markdown renderer: %w", err)
	}
	return renderer.Render(text)
}

func stringPtr(s string) *string {
	return &s
}

// Suggest returns up to three candidates resembling query, best first.
func Suggest(query string, candidates []string) []string {
	matches := fuzzy.Find(query, candidates)
	out := make([]string, 0, 3)
	for _, m := range matches {
		if len(out) == 3 {
			break
		}
		out = append(out, m.Str)
	}
	return out
}

// Preview shortens node output for tables. Data URLs are summarized by
// media type and size.
func Preview(output string) string {
	if strings.HasPrefix(output, "data:") {
		header, payload, ok := strings.Cut(output, ",")
		if ok {
			mime := strings.TrimSuffix(strings.TrimPrefix(header, "data:"), ";base64")
			return fmt.Sprintf("<%s, %s>", mime, formatBytes(len(payload)*3/4))
		}
	}
	return strings.Join(strings.Fields(output), " ")
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}

func formatMillis(ms int64) string {
	d := time.Duration(ms) * time.Millisecond
	if d < time.Second {
		return d.String()
	}
	return d.Round(10 * time.Millisecond).String()
}

func formatBytes(n int) string {
	switch {
	case n >= 1<<20:
		return fmt.Sprintf("%.1f MB", float64(n)/(1<<20))
	case n >= 1<<10:
		return fmt.Sprintf("%.1f KB", float64(n)/(1<<10))
	default:
		return fmt.Sprintf("%d B", n)
	}
}
