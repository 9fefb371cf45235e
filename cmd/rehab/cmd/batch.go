package cmd

import (
	"context"
	"fmt"
	"io"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/adapters/interview"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

var batchCmd = &cobra.Command{
	Use:   "batch <dir>",
	Short: "Run every intake file in a directory",
	Long: `Run the workflow for every *.yaml and *.yml intake file in a directory.
Runs are independent and execute in parallel up to --parallel. Batch runs
never prompt: questions are answered from each intake's answers section or
skipped.`,
	Args: cobra.ExactArgs(1),
	RunE: runBatchCmd,
}

var batchParallel int

// newBatchRunID is replaced in tests.
var newBatchRunID = uuid.NewString

func init() {
	rootCmd.AddCommand(batchCmd)
	batchCmd.Flags().IntVarP(&batchParallel, "parallel", "j", 0,
		"maximum concurrent runs (default: server.max_concurrent_runs)")
}

func runBatchCmd(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	parallel := batchParallel
	if parallel <= 0 {
		parallel = cfg.Server.MaxConcurrentRuns
	}

	console := NewConsole(os.Stderr, !noColor, true)
	rt, err := newRuntime(cfg, logger, runtimeOptions{Notifier: console})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx, stop := interruptContext(os.Stderr)
	defer stop()

	outcomes, err := runBatch(ctx, rt, console, args[0], parallel)
	if err != nil {
		return err
	}
	printBatch(cmd.OutOrStdout(), outcomes)

	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d runs did not complete", failed, len(outcomes))
	}
	return nil
}

// batchOutcome is the result of one intake file.
type batchOutcome struct {
	File   string
	Result *core.RunResult
	Err    error
}

// intakeFiles lists the intake files of dir in name order.
func intakeFiles(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("reading intake directory: %w", err)
	}
	var files []string
	for _, e := range entries {
		ext := strings.ToLower(filepath.Ext(e.Name()))
		if e.IsDir() || (ext != ".yaml" && ext != ".yml") {
			continue
		}
		files = append(files, filepath.Join(dir, e.Name()))
	}
	if len(files) == 0 {
		return nil, core.ErrValidation(core.CodeInvalidIntake, fmt.Sprintf("no intake files in %s", dir))
	}
	return files, nil
}

// runBatch runs every intake in dir with at most parallel runs in flight.
// A failing run never stops the others.
func runBatch(ctx context.Context, rt *runtime, console *Console, dir string, parallel int) ([]batchOutcome, error) {
	files, err := intakeFiles(dir)
	if err != nil {
		return nil, err
	}
	outcomes := make([]batchOutcome, len(files))

	g := new(errgroup.Group)
	g.SetLimit(max(parallel, 1))
	for i, file := range files {
		outcomes[i].File = file
		g.Go(func() error {
			intake, err := LoadIntake(file)
			if err != nil {
				outcomes[i].Err = err
				return nil
			}
			var interviewer core.Interviewer = interview.Silent{}
			if len(intake.Answers) > 0 {
				interviewer = interview.NewScripted(intake.Answers)
			}
			req, err := intake.Request(interviewer)
			if err != nil {
				outcomes[i].Err = err
				return nil
			}
			req.RunID = core.RunID(newBatchRunID())
			if console != nil {
				console.Label(string(req.RunID), filepath.Base(file))
			}
			outcomes[i].Result, outcomes[i].Err = rt.engine.Run(ctx, req)
			return nil
		})
	}
	_ = g.Wait()
	return outcomes, nil
}

func printBatch(out io.Writer, outcomes []batchOutcome) {
	s := newConsoleStyles(out, !noColor)
	fmt.Fprintln(out, s.heading.Render("Batch results"))
	for _, o := range outcomes {
		name := filepath.Base(o.File)
		switch {
		case o.Result == nil:
			fmt.Fprintf(out, "  %s  %s  %v\n", s.fail.Render("error    "), name, o.Err)
		case o.Result.Status == core.RunStatusCompleted:
			diagnosis := strings.Join(slices.Sorted(maps.Keys(o.Result.Record.DiagnosisResult)), "; ")
			fmt.Fprintf(out, "  %s  %s  %s  %s\n", s.ok.Render("completed"), name, s.dim.Render(string(o.Result.RunID)), diagnosis)
		default:
			fmt.Fprintf(out, "  %s  %s  %s  %s: %s\n", s.fail.Render(fmt.Sprintf("%-9s", o.Result.Status)), name,
				s.dim.Render(string(o.Result.RunID)), o.Result.FailedStage, o.Result.Failure)
		}
	}
}
