package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/clip"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/document"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/fsutil"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/tui"
)

var runCmd = &cobra.Command{
	Use:   "run <workflow-file>",
	Short: "Execute a workflow document",
	Long: `Execute a workflow document (JSON or YAML).

Run types:
  full     every node (default)
  partial  only the nodes given with --nodes, fed by the document snapshot
  single   the node given with --node plus its upstream nodes

The exit status is 0 when every node succeeded, 2 when the run finished
partial or failed, and 1 for any other error.`,
	Example: `  nodeflow run caption.yaml
  nodeflow run caption.yaml --type single --node describe --copy
  nodeflow run caption.yaml --type partial --nodes crop,describe
  nodeflow run caption.yaml --watch --render`,
	Args: cobra.ExactArgs(1),
	RunE: runWorkflow,
}

var (
	runType   string
	runNode   string
	runNodes  []string
	runOutput string
	runCopy   bool
	runWatch  bool
	runRender bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runType, "type", "t", "full", "run type (full, partial, single)")
	runCmd.Flags().StringVarP(&runNode, "node", "n", "", "target node of a single run, or the node whose output to copy")
	runCmd.Flags().StringSliceVar(&runNodes, "nodes", nil, "selected nodes of a partial run")
	runCmd.Flags().StringVarP(&runOutput, "output", "o", "", "write the JSON run report to this file")
	runCmd.Flags().BoolVar(&runCopy, "copy", false, "copy the result node's output to the clipboard")
	runCmd.Flags().BoolVarP(&runWatch, "watch", "w", false, "re-run whenever the workflow file changes")
	runCmd.Flags().BoolVar(&runRender, "render", false, "render llm outputs as markdown")
}

func runWorkflow(cmd *cobra.Command, args []string) error {
	path := args[0]

	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	eng, err := newEngine(cfg, logger)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := eng.Close(); cerr != nil {
			logger.Warn("closing engine", "error", cerr)
		}
	}()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if runWatch {
		return watchWorkflow(ctx, path, func(ctx context.Context) error {
			return runOnce(ctx, cmd, eng, path)
		}, cmd.ErrOrStderr())
	}
	return runOnce(ctx, cmd, eng, path)
}

// runOnce loads the document at path, executes it and prints the outcome.
func runOnce(ctx context.Context, cmd *cobra.Command, eng *engine, path string) error {
	doc, err := document.Load(path)
	if err != nil {
		return err
	}
	req, err := buildRunRequest(doc)
	if err != nil {
		return err
	}

	stdout := cmd.OutOrStdout()
	stderr := cmd.ErrOrStderr()
	mode, err := detectOutputMode(stdout)
	if err != nil {
		return err
	}

	var progress tui.Output
	switch mode {
	case tui.ModeJSON:
		progress = tui.NewJSONOutput(stdout)
	case tui.ModeRich, tui.ModePlain:
		progress = tui.NewFallbackOutput(stderr, useColor(stderr), eng.logger.Enabled(ctx, slog.LevelDebug))
	}
	detach := func() {}
	if progress != nil {
		detach = tui.Attach(eng.bus, progress)
	}

	report, runErr := eng.runner.Execute(ctx, req)
	detach()
	if report == nil {
		return runErr
	}

	if err := printReport(ctx, stdout, mode, doc, report); err != nil {
		return err
	}

	if runOutput != "" {
		data, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return fmt.Errorf("encoding report: %w", err)
		}
		if err := fsutil.WriteFileAtomic(runOutput, append(data, '\n'), 0o644); err != nil {
			return fmt.Errorf("writing report: %w", err)
		}
	}

	if runCopy {
		if err := copyResult(stderr, doc, report); err != nil {
			return err
		}
	}

	if runErr != nil {
		return runErr
	}
	if report.Status != core.RunStatusSuccess {
		return &runFailedError{status: string(report.Status)}
	}
	return nil
}

// buildRunRequest turns the run flags into a request for doc. Node IDs are
// checked here so typos get suggestions instead of a bare not-found.
func buildRunRequest(doc *document.Document) (core.RunRequest, error) {
	kind, err := core.ParseRunType(runType)
	if err != nil {
		return core.RunRequest{}, err
	}
	req := doc.Request(kind)

	known := make(map[string]bool, len(doc.Nodes))
	for _, id := range doc.NodeIDs() {
		known[id] = true
	}
	check := func(id string) error {
		if known[id] {
			return nil
		}
		return core.ErrValidation(core.CodeNodeNotFound,
			fmt.Sprintf("node %q is not in the workflow%s", id, formatCandidates(id, doc.NodeIDs())))
	}

	switch kind {
	case core.RunTypeSingle:
		if runNode == "" {
			return core.RunRequest{}, core.ErrValidation(core.CodeMissingTarget, "single runs need --node")
		}
		if err := check(runNode); err != nil {
			return core.RunRequest{}, err
		}
		req.TargetNodeID = core.NodeID(runNode)
	case core.RunTypePartial:
		if len(runNodes) == 0 {
			return core.RunRequest{}, core.ErrValidation(core.CodeInvalidRequest, "partial runs need --nodes")
		}
		for _, id := range runNodes {
			if err := check(id); err != nil {
				return core.RunRequest{}, err
			}
			req.SelectedNodeIDs = append(req.SelectedNodeIDs, core.NodeID(id))
		}
	default:
		if runNode != "" {
			if err := check(runNode); err != nil {
				return core.RunRequest{}, err
			}
		}
	}
	return req, nil
}

func printReport(ctx context.Context, w io.Writer, mode tui.OutputMode, doc *document.Document, report *core.RunReport) error {
	switch mode {
	case tui.ModeJSON:
		enc := json.NewEncoder(w)
		return enc.Encode(report)
	case tui.ModeQuiet:
		if id, ok := resultNode(doc, report); ok {
			_, err := fmt.Fprintln(w, report.Results[id].Output)
			return err
		}
		return nil
	}

	if _, err := fmt.Fprint(w, tui.RenderReport(report, doc.Nodes)); err != nil {
		return err
	}
	if !runRender {
		return nil
	}

	color := useColor(w)
	width := tui.NewTerminal(w).Width()
	for _, n := range doc.Nodes {
		res, ok := report.Results[n.ID]
		if n.Type != core.NodeKindLLM || !ok || res.Status != core.NodeStatusSuccess {
			continue
		}
		rendered, err := tui.RenderMarkdown(res.Output, width, color)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "\n%s\n%s", tui.TitleStyle.Render(string(n.ID)), rendered)
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}
	return nil
}

// resultNode picks the node whose output stands for the run: --node when
// given, otherwise the last successful sink in document order.
func resultNode(doc *document.Document, report *core.RunReport) (core.NodeID, bool) {
	if runNode != "" {
		res, ok := report.Results[core.NodeID(runNode)]
		return core.NodeID(runNode), ok && res.Status == core.NodeStatusSuccess
	}

	hasOut := make(map[core.NodeID]bool, len(doc.Edges))
	for _, e := range doc.Edges {
		hasOut[e.Source] = true
	}
	var found core.NodeID
	for _, n := range doc.Nodes {
		res, ok := report.Results[n.ID]
		if ok && !hasOut[n.ID] && res.Status == core.NodeStatusSuccess {
			found = n.ID
		}
	}
	return found, found != ""
}

func copyResult(w io.Writer, doc *document.Document, report *core.RunReport) error {
	id, ok := resultNode(doc, report)
	if !ok {
		return fmt.Errorf("nothing to copy: no successful result node")
	}
	res, err := clip.Output(string(id), report.Results[id].Output)
	if err != nil {
		return fmt.Errorf("copying output of %s: %w", id, err)
	}

	switch res.Method {
	case clip.MethodFile:
		fmt.Fprintf(w, "Output of %s saved to %s\n", id, res.FilePath)
	default:
		fmt.Fprintf(w, "Output of %s copied to clipboard (%s)\n", id, res.Method)
	}
	return nil
}
