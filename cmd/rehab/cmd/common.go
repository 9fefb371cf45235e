package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/spf13/viper"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/adapters/llm"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/adapters/state"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/config"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/events"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service/report"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service/workflow"
)

// loadConfig loads and validates configuration with CLI flags taking part
// in the precedence chain.
func loadConfig() (*config.Config, error) {
	loader := config.NewLoaderWithViper(viper.GetViper())
	if cfgFile != "" {
		loader.WithConfigFile(cfgFile)
	}
	cfg, err := loader.Load()
	if err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func newLogger(cfg *config.Config) *logging.Logger {
	level := cfg.Log.Level
	if quiet {
		level = "error"
	}
	return logging.New(logging.Config{
		Level:  level,
		Format: cfg.Log.Format,
		Output: os.Stderr,
	})
}

// runtime is the wired application: gateway, engine, sinks and store.
type runtime struct {
	cfg     *config.Config
	logger  *logging.Logger
	engine  *workflow.Engine
	store   core.RunStore
	reports *report.Writer
}

type runtimeOptions struct {
	Notifier    workflow.Notifier
	Interviewer core.Interviewer
}

func newRuntime(cfg *config.Config, logger *logging.Logger, opts runtimeOptions) (*runtime, error) {
	gateway, err := llm.New(cfg.Gateway, logger)
	if err != nil {
		return nil, fmt.Errorf("creating gateway: %w", err)
	}

	store, err := state.New(cfg.State)
	if err != nil {
		return nil, fmt.Errorf("opening run store: %w", err)
	}

	rt := &runtime{cfg: cfg, logger: logger, store: store}
	var sinks []core.ReportSink
	if cfg.Report.Enabled {
		rt.reports = report.NewWriter(report.Config{BaseDir: cfg.Report.Dir, Enabled: true, UseUTC: true})
		sinks = append(sinks, rt.reports)
	}
	if store != nil {
		sinks = append(sinks, store)
	}

	engine, err := workflow.BuildEngine(cfg, workflow.BuildOptions{
		Gateway:     gateway,
		Sinks:       sinks,
		Notifier:    tracingNotifier(opts.Notifier, logger),
		Interviewer: opts.Interviewer,
		Logger:      logger,
	})
	if err != nil {
		_ = rt.Close()
		return nil, fmt.Errorf("building engine: %w", err)
	}
	rt.engine = engine
	return rt, nil
}

// tracingNotifier logs every event at debug level before passing it on.
func tracingNotifier(next workflow.Notifier, logger *logging.Logger) workflow.Notifier {
	if next == nil {
		next = workflow.NopNotifier{}
	}
	return workflow.NotifierFunc(func(event events.Event) {
		logger.Debug("workflow event", "type", event.EventType(), "run_id", event.RunID())
		next.Publish(event)
	})
}

func (rt *runtime) Close() error {
	if rt.store == nil {
		return nil
	}
	return rt.store.Close()
}

// interruptContext returns a context cancelled by the first SIGINT/SIGTERM.
// The engine stops at the next stage boundary; a second signal exits at once.
func interruptContext(out io.Writer) (context.Context, func()) {
	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 2)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case <-sigCh:
		case <-done:
			return
		}
		fmt.Fprintln(out, "\nInterrupt received, stopping after the current stage (press Ctrl+C again to exit)")
		cancel()
		select {
		case <-sigCh:
			os.Exit(130)
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigCh)
			close(done)
			cancel()
		})
	}
}

// exitError reports a run that ended without completing.
type exitError struct {
	result *core.RunResult
	err    error
}

func (e *exitError) Error() string {
	if e.result == nil {
		return e.err.Error()
	}
	return fmt.Sprintf("run %s %s: %v", e.result.RunID, e.result.Status, e.err)
}

func (e *exitError) Unwrap() error { return e.err }

func isCancelled(err error) bool {
	return core.IsCategory(err, core.ErrCatCancelled) || errors.Is(err, context.Canceled)
}
