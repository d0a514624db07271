package cmd

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize nodeflow in the current directory",
	Long: `Initialize nodeflow in the current directory.
Creates .nodeflow/config.yaml with the default configuration.`,
	RunE: runInit,
}

var initForce bool

func init() {
	rootCmd.AddCommand(initCmd)
	initCmd.Flags().BoolVar(&initForce, "force", false, "Overwrite existing configuration")
}

func runInit(cmd *cobra.Command, _ []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("getting current directory: %w", err)
	}

	if _, err := config.Scaffold(cwd, initForce); err != nil {
		if errors.Is(err, config.ErrConfigExists) {
			return fmt.Errorf("%w, use --force to overwrite", err)
		}
		return err
	}

	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Initialized nodeflow in", cwd)
	fmt.Fprintln(out, "Configuration file:", filepath.Join(config.ProjectDir, "config.yaml"))
	fmt.Fprintln(out, "Set GEMINI_API_KEY to enable llm nodes")
	return nil
}
