// Package workflow drives a patient record through the outpatient stage
// chain: inquiry, diagnosis, elimination, treatment and report. Each stage
// reads an immutable snapshot and returns a partial update; the engine commits
// a stage's updates only after the whole stage succeeded.
package workflow

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/events"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/parser"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service"
)

// rawLogLimit bounds how much raw model text is logged on a schema failure.
const rawLogLimit = 500

// StagePlan is how the engine runs one stage. A nil predicate makes the stage
// single-pass.
type StagePlan struct {
	Config    StageConfig
	Predicate Predicate
}

// RunRequest starts one workflow run.
type RunRequest struct {
	// RunID is generated when empty.
	RunID    core.RunID
	Intake   core.InitialInquiry
	Audience core.AudienceLevel
	// Manual holds operator-supplied results keyed by stage. Only diagnosis
	// and treatment accept them.
	Manual      map[core.Stage]map[string]string
	Interviewer core.Interviewer
}

// Engine is the top-level workflow controller. An engine holds no per-run
// state and may run many independent workflows concurrently.
type Engine struct {
	gateway     core.Gateway
	prompts     *service.PromptRenderer
	parser      *parser.Parser
	catalogue   Catalogue
	plans       map[core.Stage]StagePlan
	sinks       []core.ReportSink
	notifier    Notifier
	logger      *logging.Logger
	audience    core.AudienceLevel
	interviewer core.Interviewer
	now         func() time.Time
	newRunID    func() core.RunID
}

// EngineDeps holds dependencies for creating an Engine.
type EngineDeps struct {
	Gateway   core.Gateway
	Prompts   *service.PromptRenderer
	Parser    *parser.Parser
	Catalogue Catalogue
	Plans     map[core.Stage]StagePlan
	Sinks     []core.ReportSink
	Notifier  Notifier
	Logger    *logging.Logger
	// DefaultAudience applies to requests without an audience level.
	DefaultAudience core.AudienceLevel
	// DefaultInterviewer applies to requests without an interviewer.
	DefaultInterviewer core.Interviewer
	Now                func() time.Time
	NewRunID           func() core.RunID
}

// NewEngine creates a workflow engine.
func NewEngine(deps EngineDeps) (*Engine, error) {
	if deps.Gateway == nil {
		return nil, core.ErrValidation(core.CodeInvalidConfig, "engine needs a gateway")
	}
	if deps.Prompts == nil {
		prompts, err := service.NewPromptRenderer()
		if err != nil {
			return nil, fmt.Errorf("creating prompt renderer: %w", err)
		}
		deps.Prompts = prompts
	}
	if deps.Parser == nil {
		deps.Parser = parser.New()
	}
	if deps.Catalogue == nil {
		deps.Catalogue = DefaultCatalogue()
	}
	if deps.Notifier == nil {
		deps.Notifier = NopNotifier{}
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.NewRunID == nil {
		deps.NewRunID = func() core.RunID { return core.RunID(uuid.NewString()) }
	}
	for _, stage := range core.AllStages() {
		if _, ok := deps.Catalogue[stage]; !ok {
			return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("catalogue has no %s stage", stage))
		}
		if !deps.Prompts.Has(deps.Catalogue[stage].Chain[0]) {
			return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("no prompt template for %s", stage))
		}
	}

	return &Engine{
		gateway:     deps.Gateway,
		prompts:     deps.Prompts,
		parser:      deps.Parser,
		catalogue:   deps.Catalogue,
		plans:       deps.Plans,
		sinks:       deps.Sinks,
		notifier:    deps.Notifier,
		logger:      deps.Logger,
		audience:    deps.DefaultAudience,
		interviewer: deps.DefaultInterviewer,
		now:         deps.Now,
		newRunID:    deps.NewRunID,
	}, nil
}

// Plan returns how a stage will be run.
func (e *Engine) Plan(stage core.Stage) StagePlan {
	plan, ok := e.plans[stage]
	if !ok {
		plan = StagePlan{Config: StageConfig{MaxIterations: 1}}
	}
	return plan
}

// Run executes a whole workflow. The returned result is never nil: on failure
// it carries the last-good record, in which the failing stage's updates were
// never merged, together with the error that is also returned.
//
// The context is checked between stages only; a stage that has started runs
// to completion or failure.
func (e *Engine) Run(ctx context.Context, req RunRequest) (*core.RunResult, error) {
	runID := req.RunID
	if runID == "" {
		runID = e.newRunID()
	}
	logger := e.logger.WithRun(string(runID))
	result := &core.RunResult{
		RunID:     runID,
		Status:    core.RunStatusRunning,
		StartedAt: e.now(),
	}

	audience := req.Audience
	if audience == "" {
		audience = e.audience
	}
	audience, audErr := core.ParseAudienceLevel(string(audience))
	store := core.NewRecordStore(core.NewPatientRecord(req.Intake, audience))
	if audErr != nil {
		return e.finish(ctx, logger, result, store, "", audErr)
	}
	overrides, err := manualOverrides(req.Manual)
	if err != nil {
		return e.finish(ctx, logger, result, store, "", err)
	}

	interviewer := req.Interviewer
	if interviewer == nil {
		interviewer = e.interviewer
	}
	executor := NewManualExecutor(overrides, NewAgentExecutor(AgentExecutorDeps{
		Gateway:     e.gateway,
		Prompts:     e.prompts,
		Parser:      e.parser,
		Catalogue:   e.catalogue,
		Interviewer: interviewer,
		Logger:      logger,
	}))
	loop := NewLoopController(executor, e.notifier, logger, string(runID))

	stages := make([]string, 0, len(core.AllStages()))
	for _, s := range core.AllStages() {
		stages = append(stages, string(s))
	}
	logger.Info("starting workflow",
		"audience", audience,
		"manual_stages", len(overrides),
	)
	e.notifier.Publish(events.NewRunStartedEvent(string(runID), stages))

	for stage := core.StageInquiry; stage != core.StageDone; stage = core.NextStage(stage) {
		if err := ctx.Err(); err != nil {
			return e.finish(ctx, logger, result, store, stage,
				core.ErrCancelled(fmt.Sprintf("run cancelled before %s", stage)).WithCause(err))
		}
		if err := e.runStage(ctx, logger, loop, store, stage, executor.Overrides(stage), runID); err != nil {
			return e.finish(ctx, logger, result, store, stage, err)
		}
	}
	return e.finish(ctx, logger, result, store, core.StageDone, nil)
}

func (e *Engine) runStage(ctx context.Context, logger *logging.Logger, loop *LoopController, store *core.RecordStore, stage core.Stage, manual bool, runID core.RunID) error {
	plan := e.Plan(stage)
	pred := plan.Predicate
	if manual {
		pred = nil
	}
	stageLogger := logger.WithStage(string(stage))
	stageLogger.Info("stage started",
		"looped", pred != nil,
		"max_iterations", plan.Config.MaxIterations,
		"manual", manual,
	)
	e.notifier.Publish(events.NewStageEnteredEvent(string(runID), string(stage), plan.Config.MaxIterations, pred != nil, manual))

	start := e.now()
	res, err := loop.Drive(context.WithoutCancel(ctx), stage, store.Snapshot(), pred, plan.Config)
	if err != nil {
		stageLogger.Error("stage failed",
			"reason", res.Reason,
			"iterations", res.Iterations,
			"category", core.GetCategory(err),
			"error", err,
		)
		if raw := core.RawOutput(err); raw != "" {
			stageLogger.Debug("unparseable model output", "raw", truncate(raw, rawLogLimit))
		}
		return err
	}

	for i, update := range res.Updates {
		store.Apply(stage, i+1, update)
	}
	if pred != nil {
		store.RecordLoop(core.LoopOutcome{Stage: stage, Iterations: res.Iterations, Reason: res.Reason})
	}
	if err := store.MarkComplete(stage); err != nil {
		return err
	}

	duration := e.now().Sub(start)
	if res.Reason == core.ReasonExhausted {
		stageLogger.Warn("loop exhausted, continuing with best available state",
			"iterations", res.Iterations,
		)
	}
	stageLogger.Info("stage completed",
		"reason", res.Reason,
		"iterations", res.Iterations,
		"duration", duration,
	)
	e.notifier.Publish(events.NewStageCompletedEvent(string(runID), string(stage), res.Iterations, string(res.Reason), duration.Milliseconds()))
	return nil
}

// finish seals the result, hands it to the report sinks and emits the
// terminal event. Sink failures become warnings and never change the status.
func (e *Engine) finish(ctx context.Context, logger *logging.Logger, result *core.RunResult, store *core.RecordStore, stage core.Stage, runErr error) (*core.RunResult, error) {
	result.Record = store.Snapshot()
	result.History = store.History()
	result.FinishedAt = e.now()

	switch {
	case runErr == nil:
		result.Status = core.RunStatusCompleted
	case core.IsCategory(runErr, core.ErrCatCancelled):
		result.Status = core.RunStatusCancelled
	default:
		result.Status = core.RunStatusFailed
	}
	if runErr != nil {
		result.FailedStage = stage
		result.Failure = runErr.Error()
	}

	for _, sink := range e.sinks {
		if err := sink.Deliver(context.WithoutCancel(ctx), result); err != nil {
			logger.Warn("report sink failed", "error", err)
			result.Warnings = append(result.Warnings, err.Error())
		}
	}

	if runErr != nil {
		logger.Error("workflow failed",
			"status", result.Status,
			"stage", stage,
			"complete_sections", len(result.Record.ProcessOutline.CompleteSections),
			"error", runErr,
		)
		e.notifier.Publish(events.NewRunFailedEvent(string(result.RunID), string(stage), string(core.GetCategory(runErr)), runErr.Error()))
		return result, runErr
	}

	diagnosis := slices.Sorted(maps.Keys(result.Record.DiagnosisResult))
	logger.Info("workflow completed",
		"diagnosis", diagnosis,
		"duration", result.FinishedAt.Sub(result.StartedAt),
		"warnings", len(result.Warnings),
	)
	e.notifier.Publish(events.NewRunCompletedEvent(string(result.RunID), diagnosis, result.Warnings))
	return result, nil
}

func manualOverrides(manual map[core.Stage]map[string]string) (map[core.Stage]core.PartialUpdate, error) {
	overrides := make(map[core.Stage]core.PartialUpdate, len(manual))
	for stage, m := range manual {
		update, err := ManualUpdate(stage, m)
		if err != nil {
			return nil, err
		}
		overrides[stage] = update
	}
	return overrides, nil
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}
