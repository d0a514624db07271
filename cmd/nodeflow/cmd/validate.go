package cmd

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/core"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/document"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/tui"
)

var validateCmd = &cobra.Command{
	Use:   "validate <workflow-file>",
	Short: "Check a workflow document without running it",
	Long: `Check a workflow document: node kinds are known, edge handles fit
their target node and the graph has no cycles. Prints the execution waves.
Edges that reference missing nodes are reported and ignored.`,
	Args: cobra.ExactArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

// waveReport is the JSON shape of a validation result.
type waveReport struct {
	Workflow string          `json:"workflow"`
	Order    []core.NodeID   `json:"order"`
	Waves    [][]core.NodeID `json:"waves"`
	Dropped  []core.Edge     `json:"dropped,omitempty"`
}

func runValidate(cmd *cobra.Command, args []string) error {
	doc, err := document.Load(args[0])
	if err != nil {
		return err
	}
	report, err := service.ValidateGraph(doc.Graph)
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
		return enc.Encode(waveReport{
			Workflow: doc.ID,
			Order:    report.State.Order,
			Waves:    report.State.Levels,
			Dropped:  report.Dropped,
		})
	case tui.ModeQuiet:
		return nil
	}

	kinds := make(map[core.NodeID]core.NodeKind, len(doc.Nodes))
	for _, n := range doc.Nodes {
		kinds[n.ID] = n.Type
	}

	fmt.Fprintf(out, "%s %s: %d nodes, %d edges, %d waves\n",
		tui.SuccessStyle.Render(tui.StatusIcon("success")), doc.ID,
		len(doc.Nodes), len(report.Edges), len(report.State.Levels))
	for i, wave := range report.State.Levels {
		names := make([]string, len(wave))
		for j, id := range wave {
			names[j] = fmt.Sprintf("%s (%s)", id, kinds[id])
		}
		fmt.Fprintf(out, "  wave %d: %s\n", i+1, strings.Join(names, ", "))
	}
	for _, e := range report.Dropped {
		fmt.Fprintf(out, "  %s dropped edge %s: %s -> %s references a missing node\n",
			tui.PartialStyle.Render("!"), e.ID, e.Source, e.Target)
	}
	return nil
}
