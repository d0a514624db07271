package cmd

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service/workflow"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/tui"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recorded runs",
	Long:  "List runs recorded in the run ledger, newest first.",
	RunE:  runRuns,
}

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show a run and its node executions",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

var (
	runsLimit int
	runsOwner string
)

func init() {
	rootCmd.AddCommand(runsCmd)
	rootCmd.AddCommand(statusCmd)

	runsCmd.Flags().IntVarP(&runsLimit, "limit", "l", 20, "maximum runs to list")
	runsCmd.Flags().StringVar(&runsOwner, "owner", workflow.DefaultOwner, "owner whose runs to list")
}

// openLedger opens the configured ledger without building the engine.
func openLedger() (core.Ledger, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	ledger, err := state.NewLedger(cfg.Ledger.Backend, cfg.Ledger.Path)
	if err != nil {
		return nil, fmt.Errorf("opening run ledger: %w", err)
	}
	return ledger, nil
}

func runRuns(cmd *cobra.Command, _ []string) error {
	if runsLimit <= 0 {
		return fmt.Errorf("--limit must be positive, got %d", runsLimit)
	}
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	runs, err := ledger.ListRuns(context.Background(), runsOwner, runsLimit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	mode, err := detectOutputMode(out)
	if err != nil {
		return err
	}
	if mode == tui.ModeJSON {
		if runs == nil {
			runs = []core.WorkflowRun{}
		}
		return json.NewEncoder(out).Encode(runs)
	}
	if mode == tui.ModeQuiet {
		for _, r := range runs {
			fmt.Fprintln(out, r.ID)
		}
		return nil
	}
	_, err = fmt.Fprint(out, tui.RenderRuns(runs))
	return err
}

func runStatus(cmd *cobra.Command, args []string) error {
	ledger, err := openLedger()
	if err != nil {
		return err
	}
	defer ledger.Close()

	ctx := context.Background()
	id := core.RunID(args[0])
	run, err := ledger.GetRun(ctx, id)
	if err != nil {
		return err
	}
	execs, err := ledger.ListNodeExecutions(ctx, id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	mode, err := detectOutputMode(out)
	if err != nil {
		return err
	}
	switch mode {
	case tui.ModeJSON:
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			Run            *core.WorkflowRun    `json:"run"`
			NodeExecutions []core.NodeExecution `json:"nodeExecutions"`
		}{run, execs})
	case tui.ModeQuiet:
		_, err = fmt.Fprintln(out, run.Status)
		return err
	}
	_, err = fmt.Fprint(out, tui.RenderExecutions(run, execs))
	return err
}
