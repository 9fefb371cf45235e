package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/adapters/interview"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/config"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/events"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service/workflow"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/testutil"
)

func withoutColor(t *testing.T) {
	t.Helper()
	old := noColor
	noColor = true
	t.Cleanup(func() { noColor = old })
}

// scriptedConfig loads a configuration that replays testdata/script.yaml and
// keeps every artifact under a temp dir.
func scriptedConfig(t *testing.T, backend string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	script, err := filepath.Abs(filepath.Join("testdata", "script.yaml"))
	require.NoError(t, err)

	statePath := filepath.Join(dir, "runs")
	if backend == "sqlite" {
		statePath = filepath.Join(dir, "runs.db")
	}
	yaml := fmt.Sprintf(`gateway:
  provider: scripted
  script: %q
  retry:
    max_attempts: 1
state:
  backend: %s
  path: %q
report:
  enabled: true
  dir: %q
`, script, backend, statePath, filepath.Join(dir, "reports"))
	path := testutil.TempFile(t, dir, "rehab.yaml", yaml)

	cfg, err := config.NewLoaderWithViper(viper.New()).WithConfigFile(path).Load()
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))
	return cfg, dir
}

func TestVersionCommand(t *testing.T) {
	SetVersion("v1.2.3", "abc123def", "2026-01-15")
	var buf bytes.Buffer
	versionCmd.SetOut(&buf)
	t.Cleanup(func() { versionCmd.SetOut(nil) })

	versionCmd.Run(versionCmd, nil)

	out := buf.String()
	assert.Contains(t, out, "rehab-flow v1.2.3")
	assert.Contains(t, out, "commit: abc123def")
	assert.Contains(t, out, "built:  2026-01-15")
}

func TestLoadIntake(t *testing.T) {
	intake, err := LoadIntake(filepath.Join("testdata", "intakes", "01-lumbar.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "Low back pain radiating to the left leg for three weeks", intake.InitialInquiry.ChiefComplaint)

	req, err := intake.Request(nil)
	require.NoError(t, err)
	assert.Equal(t, core.AudienceProfessional, req.Audience)
	require.NotNil(t, req.Interviewer, "intake answers become a scripted interviewer")
	answer, err := req.Interviewer.Ask(context.Background(), core.Question{Kind: core.QuestionExamination, Text: "Lumbar MRI (confirm level)"})
	require.NoError(t, err)
	assert.Equal(t, "L5/S1 posterolateral herniation", answer)

	manual, err := LoadIntake(filepath.Join("testdata", "intakes", "02-manual.yml"))
	require.NoError(t, err)
	req, err = manual.Request(interview.Silent{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"Lumbar strain": "Operator diagnosis after examination"}, req.Manual[core.StageDiagnosis])
	assert.Empty(t, req.Audience)
}

func TestLoadIntake_Errors(t *testing.T) {
	_, err := LoadIntake(filepath.Join("testdata", "intakes", "03-empty.yaml"))
	testutil.AssertCategory(t, err, core.ErrCatValidation)

	_, err = LoadIntake(filepath.Join("testdata", "missing.yaml"))
	assert.Error(t, err)

	dir := t.TempDir()
	_, err = LoadIntake(testutil.TempFile(t, dir, "bad.yaml", "initial_inquiry: [unclosed"))
	assert.Error(t, err)

	bad := &IntakeFile{
		InitialInquiry: testutil.NewTestIntake(),
		Manual:         map[string]map[string]string{"discharge": {"a": "b"}},
	}
	_, err = bad.Request(nil)
	testutil.AssertCategory(t, err, core.ErrCatValidation)

	_, err = (&IntakeFile{InitialInquiry: testutil.NewTestIntake(), AudienceLevel: "child"}).Request(nil)
	testutil.AssertCategory(t, err, core.ErrCatValidation)
}

func TestChooseInterviewer(t *testing.T) {
	dir := t.TempDir()
	answers := testutil.TempFile(t, dir, "answers.yaml", "\"Night pain?\": \"yes\"\n")
	withAnswers := &IntakeFile{Answers: map[string]string{"Night pain?": "no"}}

	iv, err := chooseInterviewer(answers, withAnswers, false)
	require.NoError(t, err)
	got, _ := iv.Ask(context.Background(), core.Question{Text: "Night pain?"})
	assert.Equal(t, "yes", got, "answers file wins over intake answers")

	iv, err = chooseInterviewer("", withAnswers, false)
	require.NoError(t, err)
	got, _ = iv.Ask(context.Background(), core.Question{Text: "Night pain?"})
	assert.Equal(t, "no", got)

	iv, err = chooseInterviewer("", &IntakeFile{}, false)
	require.NoError(t, err)
	assert.IsType(t, interview.Silent{}, iv)
}

func TestConsole(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false, false)

	c.Publish(events.NewRunStartedEvent("run-1", []string{"inquiry", "diagnosis"}))
	c.Publish(events.NewStageEnteredEvent("run-1", "inquiry", 3, true, false))
	c.Publish(events.NewLoopIterationEvent("run-1", "inquiry", 1, 3, false))
	c.Publish(events.NewLoopIterationEvent("run-1", "inquiry", 2, 3, true))
	c.Publish(events.NewStageCompletedEvent("run-1", "inquiry", 2, "satisfied", 1500))
	c.Publish(events.NewStageEnteredEvent("run-1", "diagnosis", 1, false, true))
	c.Publish(events.NewRunFailedEvent("run-1", "treatment", "gateway", "provider unavailable"))

	out := buf.String()
	assert.Contains(t, out, "Run run-1  inquiry > diagnosis")
	assert.Contains(t, out, "> inquiry (loop, max 3)")
	assert.Contains(t, out, "iteration 1/3  not yet")
	assert.Contains(t, out, "iteration 2/3  satisfied")
	assert.Contains(t, out, "ok inquiry satisfied, 2 iteration(s), 1.5s")
	assert.Contains(t, out, "> diagnosis (manual result)")
	assert.Contains(t, out, "Failed at treatment: provider unavailable")
}

func TestConsole_Compact(t *testing.T) {
	var buf bytes.Buffer
	c := NewConsole(&buf, false, true)
	c.Label("run-1", "01-lumbar.yaml")

	c.Publish(events.NewStageEnteredEvent("run-1", "inquiry", 3, true, false))
	c.Publish(events.NewRunCompletedEvent("run-1", []string{"Lumbar disc herniation"}, nil))
	c.Publish(events.NewRunFailedEvent("run-2", "diagnosis", "schema", "bad json"))

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 2)
	assert.Equal(t, "done 01-lumbar.yaml  Lumbar disc herniation", lines[0])
	assert.Equal(t, "fail run-2  diagnosis: bad json", lines[1])
}

func TestRenderMarkdown_NotATerminal(t *testing.T) {
	var buf bytes.Buffer
	assert.Equal(t, "# Title", renderMarkdown(&buf, "# Title", true))
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".rehab.yaml")
	require.NoError(t, writeDefaultConfig(path, false))
	assert.Error(t, writeDefaultConfig(path, false))
	require.NoError(t, writeDefaultConfig(path, true))

	cfg, err := config.NewLoaderWithViper(viper.New()).WithConfigFile(path).Load()
	require.NoError(t, err)
	require.NoError(t, config.Validate(cfg))
	assert.Equal(t, 3, cfg.Stages.Inquiry.MaxIterations)
	assert.Equal(t, "any", cfg.Stages.Elimination.Predicate.Kind)
}

func TestPrintStages(t *testing.T) {
	withoutColor(t)
	cfg, _ := scriptedConfig(t, "none")
	cfg.Stages.Diagnosis.SingleCall = true

	var buf bytes.Buffer
	require.NoError(t, printStages(&buf, cfg))
	out := buf.String()

	assert.Contains(t, out, "1. inquiry")
	assert.Contains(t, out, "loop until llm, max 3")
	assert.Contains(t, out, "calls: diagnosis-review\n", "single_call collapses the chain")
	assert.Contains(t, out, "loop until any(self,rule:cel), max 4")
	assert.Contains(t, out, "calls: treatment-draft > treatment-review")
	assert.Contains(t, out, "5. report")
	assert.Contains(t, out, "prompt templates: diagnosis-draft, diagnosis-examination")
	assert.Contains(t, out, "judge")
	assert.NotContains(t, out, "_record")
}

func TestTracingNotifier(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.New(logging.Config{Level: "debug", Format: "json", Output: &logs})

	var got []string
	next := workflow.NotifierFunc(func(e events.Event) { got = append(got, e.EventType()) })
	n := tracingNotifier(next, logger)
	n.Publish(events.NewRunStartedEvent("run-9", []string{"inquiry"}))

	assert.Equal(t, []string{events.TypeRunStarted}, got)
	assert.Contains(t, logs.String(), `"run_id":"run-9"`)
	assert.Contains(t, logs.String(), "workflow event")

	// A nil notifier still logs.
	tracingNotifier(nil, logger).Publish(events.NewRunCompletedEvent("run-10", nil, nil))
	assert.Contains(t, logs.String(), "run-10")
}

func TestLogRunOutcomes(t *testing.T) {
	var logs bytes.Buffer
	logger := logging.New(logging.Config{Level: "info", Format: "json", Output: &logs})

	bus := events.NewBus(8)
	ch := bus.SubscribePriority(events.TypeRunCompleted, events.TypeRunFailed)
	bus.Publish(events.NewRunStartedEvent("run-1", nil))
	bus.Publish(events.NewRunCompletedEvent("run-1", []string{"Lumbar strain"}, nil))
	bus.Publish(events.NewRunFailedEvent("run-2", "diagnosis", "schema", "bad output"))
	bus.Close()

	logRunOutcomes(ch, logger)

	lines := strings.Split(strings.TrimSpace(logs.String()), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], "run completed")
	assert.Contains(t, lines[0], "Lumbar strain")
	assert.Contains(t, lines[1], "run did not complete")
	assert.Contains(t, lines[1], `"stage":"diagnosis"`)
}

func TestExecuteRun_JSON(t *testing.T) {
	withoutColor(t)
	cfg, _ := scriptedConfig(t, "json")
	rt, err := newRuntime(cfg, logging.NewNop(), runtimeOptions{Interviewer: interview.Silent{}})
	require.NoError(t, err)
	defer rt.Close()

	intake, err := LoadIntake(filepath.Join("testdata", "intakes", "01-lumbar.yaml"))
	require.NoError(t, err)
	req, err := intake.Request(nil)
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, executeRun(context.Background(), rt, req, &buf, true))

	var result core.RunResult
	require.NoError(t, json.Unmarshal(buf.Bytes(), &result))
	assert.Equal(t, core.RunStatusCompleted, result.Status)
	assert.Equal(t, core.AllStages(), result.Record.ProcessOutline.CompleteSections)
	assert.Equal(t, "L5/S1 posterolateral herniation", result.Record.ProcessOutline.SupplementaryAuxiliaryExaminations["Lumbar MRI"])

	stored, err := rt.store.Get(context.Background(), result.RunID)
	require.NoError(t, err)
	assert.Equal(t, result.Record.TreatmentPlan, stored.Record.TreatmentPlan)

	plan, summary := rt.reports.Paths(result.RunID)
	assert.FileExists(t, plan)
	assert.FileExists(t, summary)
}

func TestExecuteRun_Text(t *testing.T) {
	withoutColor(t)
	cfg, _ := scriptedConfig(t, "none")
	rt, err := newRuntime(cfg, logging.NewNop(), runtimeOptions{})
	require.NoError(t, err)
	defer rt.Close()

	req, err := (&IntakeFile{InitialInquiry: testutil.NewTestIntake()}).Request(interview.Silent{})
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, executeRun(context.Background(), rt, req, &buf, false))
	out := buf.String()
	assert.Contains(t, out, "status:    completed")
	assert.Contains(t, out, "treatment_plan_")
	assert.Contains(t, out, "# Visit summary")
}

func TestExecuteRun_CancelledBeforeStart(t *testing.T) {
	withoutColor(t)
	cfg, _ := scriptedConfig(t, "none")
	rt, err := newRuntime(cfg, logging.NewNop(), runtimeOptions{})
	require.NoError(t, err)
	defer rt.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := (&IntakeFile{InitialInquiry: testutil.NewTestIntake()}).Request(interview.Silent{})
	require.NoError(t, err)

	var buf bytes.Buffer
	err = executeRun(ctx, rt, req, &buf, false)
	require.Error(t, err)
	assert.True(t, isCancelled(err))
	assert.Contains(t, buf.String(), "status:    cancelled")
	assert.NotContains(t, buf.String(), "treatment_plan_")
}

func TestRunBatch(t *testing.T) {
	withoutColor(t)
	cfg, dir := scriptedConfig(t, "sqlite")
	var progress bytes.Buffer
	console := NewConsole(&progress, false, true)
	rt, err := newRuntime(cfg, logging.NewNop(), runtimeOptions{Notifier: console})
	require.NoError(t, err)
	defer rt.Close()

	ids := map[string]bool{}
	old := newBatchRunID
	n := 0
	newBatchRunID = func() string {
		n++
		id := fmt.Sprintf("batch-%d", n)
		ids[id] = true
		return id
	}
	t.Cleanup(func() { newBatchRunID = old })

	outcomes, err := runBatch(context.Background(), rt, console, filepath.Join("testdata", "intakes"), 1)
	require.NoError(t, err)
	require.Len(t, outcomes, 3, "non-YAML files are skipped")

	assert.Equal(t, "01-lumbar.yaml", filepath.Base(outcomes[0].File))
	require.NoError(t, outcomes[0].Err)
	assert.Equal(t, core.RunStatusCompleted, outcomes[0].Result.Status)

	require.NoError(t, outcomes[1].Err)
	assert.Contains(t, outcomes[1].Result.Record.DiagnosisResult, "Lumbar strain")

	assert.Nil(t, outcomes[2].Result)
	testutil.AssertCategory(t, outcomes[2].Err, core.ErrCatValidation)

	runs, err := rt.store.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 2)
	for _, r := range runs {
		assert.True(t, ids[string(r.RunID)])
	}
	assert.FileExists(t, filepath.Join(dir, "runs.db"))
	assert.Contains(t, progress.String(), "done 01-lumbar.yaml")
	assert.Contains(t, progress.String(), "done 02-manual.yml")

	var out bytes.Buffer
	printBatch(&out, outcomes)
	assert.Contains(t, out.String(), "completed  01-lumbar.yaml  batch-1")
	assert.Regexp(t, `error\s+03-empty\.yaml`, out.String())
}

func TestIntakeFiles_Empty(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))
	_, err := intakeFiles(dir)
	testutil.AssertCategory(t, err, core.ErrCatValidation)

	_, err = intakeFiles(filepath.Join(dir, "missing"))
	assert.Error(t, err)
}
