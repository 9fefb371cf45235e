package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"maps"
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/adapters/interview"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service/report"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service/workflow"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the outpatient workflow for one patient",
	Long: `Run the complete outpatient workflow for the patient described in an
intake file. Questions raised by the inquiry and elimination stages are asked
on the terminal when stdin is interactive; otherwise they are answered from
--answers, from the intake's answers section, or skipped.

Examples:
  rehab run --intake patient.yaml
  rehab run --intake patient.yaml --answers answers.yaml --audience professional
  rehab run --intake patient.yaml --non-interactive --json`,
	Args: cobra.NoArgs,
	RunE: runWorkflow,
}

var (
	runIntake         string
	runAnswers        string
	runAudience       string
	runNonInteractive bool
	runJSON           bool
)

func init() {
	rootCmd.AddCommand(runCmd)

	runCmd.Flags().StringVarP(&runIntake, "intake", "i", "", "intake YAML file (required)")
	runCmd.Flags().StringVar(&runAnswers, "answers", "", "YAML file mapping questions to answers")
	runCmd.Flags().StringVar(&runAudience, "audience", "", "audience level (non-professional, professional, top-expert)")
	runCmd.Flags().BoolVar(&runNonInteractive, "non-interactive", false, "never prompt on the terminal")
	runCmd.Flags().BoolVar(&runJSON, "json", false, "print the run result as JSON")
	_ = runCmd.MarkFlagRequired("intake")
}

func runWorkflow(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	logger := newLogger(cfg)

	intake, err := LoadIntake(runIntake)
	if err != nil {
		return err
	}
	interviewer, err := chooseInterviewer(runAnswers, intake, cfg.Workflow.Interactive && !runNonInteractive)
	if err != nil {
		return err
	}
	req, err := intake.Request(interviewer)
	if err != nil {
		return err
	}
	if runAudience != "" {
		level, err := core.ParseAudienceLevel(runAudience)
		if err != nil {
			return err
		}
		req.Audience = level
	}

	var notifier workflow.Notifier = workflow.NopNotifier{}
	if !quiet && !runJSON {
		notifier = NewConsole(os.Stderr, !noColor, false)
	}
	rt, err := newRuntime(cfg, logger, runtimeOptions{Notifier: notifier})
	if err != nil {
		return err
	}
	defer func() { _ = rt.Close() }()

	ctx, stop := interruptContext(os.Stderr)
	defer stop()

	return executeRun(ctx, rt, req, cmd.OutOrStdout(), runJSON)
}

// chooseInterviewer picks who answers mid-stage questions: an answers file,
// then the terminal when allowed, then the intake's own answers, else nobody.
func chooseInterviewer(answersPath string, intake *IntakeFile, interactive bool) (core.Interviewer, error) {
	switch {
	case answersPath != "":
		return interview.LoadScripted(answersPath)
	case interactive && interview.IsInteractive(os.Stdin):
		return interview.NewTerminal(os.Stdin, os.Stderr), nil
	case len(intake.Answers) > 0:
		return interview.NewScripted(intake.Answers), nil
	default:
		return interview.Silent{}, nil
	}
}

func executeRun(ctx context.Context, rt *runtime, req workflow.RunRequest, out io.Writer, asJSON bool) error {
	result, runErr := rt.engine.Run(ctx, req)

	if asJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		if err := enc.Encode(result); err != nil {
			return err
		}
	} else {
		printResult(out, rt, result)
	}

	if runErr != nil {
		return &exitError{result: result, err: runErr}
	}
	return nil
}

func printResult(out io.Writer, rt *runtime, result *core.RunResult) {
	s := newConsoleStyles(out, !noColor)
	fmt.Fprintf(out, "\n%s %s\n", s.heading.Render("Run"), result.RunID)

	status := s.ok.Render(string(result.Status))
	if result.Status != core.RunStatusCompleted {
		status = s.fail.Render(string(result.Status))
	}
	fmt.Fprintf(out, "  status:    %s\n", status)
	if result.FailedStage != "" {
		fmt.Fprintf(out, "  stage:     %s\n", result.FailedStage)
	}
	for _, name := range slices.Sorted(maps.Keys(result.Record.DiagnosisResult)) {
		fmt.Fprintf(out, "  diagnosis: %s\n", name)
	}
	for _, w := range result.Warnings {
		fmt.Fprintf(out, "  %s %s\n", s.warn.Render("warning:"), w)
	}

	if result.Status != core.RunStatusCompleted {
		return
	}
	if rt.reports != nil {
		plan, summary := rt.reports.Paths(result.RunID)
		fmt.Fprintf(out, "  plan:      %s\n  report:    %s\n", plan, summary)
	}
	fmt.Fprintln(out)
	fmt.Fprintln(out, renderMarkdown(out, report.RenderSummary(result), !noColor))
}
