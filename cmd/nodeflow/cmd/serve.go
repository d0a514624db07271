package cmd

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/nodeflow/internal/api"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/config"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/diagnostics"
	"github.com/hugo-lorenzo-mato/nodeflow/internal/service"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the run API",
	Long: `Start the HTTP API used by the canvas.

Endpoints:
  POST /api/v1/runs              submit a full or partial run (?sync=true waits)
  POST /api/v1/runs/single       run one node with its upstream
  GET  /api/v1/runs              list runs of the caller
  GET  /api/v1/runs/{id}         run record and node executions
  POST /api/v1/graph/validate    check a graph and return its waves
  POST /api/v1/graph/connections check whether an edge may be added
  GET  /api/v1/metrics           run and node-kind totals
  GET  /api/v1/events            server-sent run events
  GET  /health                   liveness and resource usage`,
	RunE: runServe,
}

var (
	serveHost string
	servePort int
)

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVar(&serveHost, "host", "", "listen host (default from config)")
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "listen port (default from config)")
}

func runServe(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveHost != "" {
		cfg.Server.Host = serveHost
	}
	if servePort != 0 {
		cfg.Server.Port = servePort
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

	monitor := diagnostics.NewResourceMonitor(diagnostics.DefaultMonitorConfig(), logger)
	monitor.Start(ctx)
	defer monitor.Stop()
	monitor.TrackRuns(ctx, eng.bus)

	runMetrics := service.NewMetricsCollector()
	runMetrics.TrackEvents(ctx, eng.bus)

	server := api.NewServer(eng.runner, eng.ledger, eng.bus,
		api.WithLogger(logger),
		api.WithResourceMonitor(monitor),
		api.WithHostMetrics(diagnostics.NewHostCollector(
			diagnostics.Volume{Label: "scratch", Path: os.TempDir()},
			diagnostics.Volume{Label: "ledger", Path: ledgerDir(cfg)},
		)),
		api.WithRunMetrics(runMetrics),
		api.WithRateLimits(eng.limiters),
		api.WithVersion(appVersion),
		api.WithCORSOrigins(cfg.Server.CORS),
	)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	fmt.Fprintf(cmd.ErrOrStderr(), "nodeflow %s listening on http://%s\n", appVersion, addr)

	if err := server.ListenAndServe(ctx, addr); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	logger.Info("server stopped, waiting for running workflows")
	return nil
}

// ledgerDir is the directory the ledger file lives in, or the working
// directory for the in-memory backend.
func ledgerDir(cfg *config.Config) string {
	if cfg.Ledger.Backend == "memory" || cfg.Ledger.Path == "" {
		return "."
	}
	return filepath.Dir(cfg.Ledger.Path)
}
