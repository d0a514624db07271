package cmd

import (
	"errors"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile    string
	logLevel   string
	logFormat  string
	noColor    bool
	quiet      bool
	outputMode string

	// Version info - set via SetVersion()
	appVersion = "dev"
	appCommit  = "none"
	appDate    = "unknown"

	// v carries flag bindings into the config loader. It is replaced on
	// every invocation.
	v = viper.New()
)

var rootCmd = &cobra.Command{
	Use:   "nodeflow",
	Short: "Run multimodal node workflows",
	Long: `nodeflow executes workflow graphs of text, image, video, llm, crop and
frame-extract nodes. Independent nodes run concurrently in waves; failures
skip their dependents while unrelated branches keep going.

Every run is recorded in the run ledger and can be inspected with
'nodeflow runs' and 'nodeflow status'.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		return bindFlags(cmd)
	},
}

// Execute runs the root command.
func Execute() error {
	return rootCmd.Execute()
}

// SetVersion injects build information.
func SetVersion(version, commit, date string) {
	appVersion = version
	appCommit = commit
	appDate = date
}

// GetVersion returns the application version string.
func GetVersion() string {
	return appVersion
}

// runFailedError reports a run that finished without full success.
type runFailedError struct {
	status string
}

func (e *runFailedError) Error() string {
	return "run finished with status " + e.status
}

// ExitCode maps an error returned by Execute to a process exit code:
// 2 for runs that finished partial or failed, 1 for everything else.
func ExitCode(err error) int {
	var runErr *runFailedError
	if errors.As(err, &runErr) {
		return 2
	}
	return 1
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "",
		"config file (default: .nodeflow/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info",
		"log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "auto",
		"log format (auto, text, json)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false,
		"disable colored output")
	rootCmd.PersistentFlags().BoolVarP(&quiet, "quiet", "q", false,
		"print only results")
	rootCmd.PersistentFlags().StringVar(&outputMode, "output-mode", "",
		"output mode (rich, plain, json, quiet; default: detect)")
}

func bindFlags(cmd *cobra.Command) error {
	v = viper.New()
	flags := cmd.Flags()
	if err := v.BindPFlag("log.level", flags.Lookup("log-level")); err != nil {
		return err
	}
	return v.BindPFlag("log.format", flags.Lookup("log-format"))
}
