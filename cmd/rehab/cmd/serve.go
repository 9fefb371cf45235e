package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/adapters/interview"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/api"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/events"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP API",
	Long: `Start the HTTP API for submitting and inspecting runs.

Endpoints:
  GET  /health
  POST /api/v1/runs          start a run (set "wait": true to block until it ends)
  GET  /api/v1/runs          list stored runs (?status=completed|failed|cancelled)
  GET  /api/v1/runs/{id}     fetch a stored run
  GET  /api/v1/events        server-sent workflow events (?run_id=, ?types=)

Examples:
  rehab serve
  rehab serve --addr 0.0.0.0:9000`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

var serveAddr string

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default: server.addr)")
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	bus := events.NewBus(256)
	defer bus.Close()

	rt, err := newRuntime(cfg, logger, runtimeOptions{
		Notifier:    bus,
		Interviewer: interview.Silent{},
	})
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := rt.Close(); closeErr != nil {
			logger.Warn("failed to close run store", "error", closeErr)
		}
	}()
	if rt.store == nil {
		logger.Warn("state backend is none, finished runs will not be queryable")
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	server := api.NewServer(rt.engine, rt.store, bus,
		api.WithLogger(logger),
		api.WithCORSOrigins(cfg.Server.CORSOrigins),
		api.WithMaxConcurrentRuns(cfg.Server.MaxConcurrentRuns),
	)

	go logRunOutcomes(bus.SubscribePriority(events.TypeRunCompleted, events.TypeRunFailed), logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.ListenAndServe(ctx, addr)
}

// logRunOutcomes writes one audit line per finished run until the bus closes.
func logRunOutcomes(ch <-chan events.Event, logger *logging.Logger) {
	for event := range ch {
		switch e := event.(type) {
		case events.RunCompletedEvent:
			logger.Info("run completed", "run_id", e.RunID(), "diagnosis", e.Diagnosis, "warnings", len(e.Warnings))
		case events.RunFailedEvent:
			logger.Warn("run did not complete", "run_id", e.RunID(), "stage", e.Stage, "error", e.Error)
		}
	}
}
