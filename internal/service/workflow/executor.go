package workflow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"maps"
	"strings"
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/parser"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service"
)

// StageConfig holds the per-invocation settings of a stage.
type StageConfig struct {
	MaxIterations int
	// SingleCall collapses a sub-task chain to its final sub-task.
	SingleCall  bool
	Model       string
	Temperature float64
	MaxTokens   int
	// Iteration is the 1-based loop iteration, set by the loop controller.
	Iteration int
}

// StageOutcome is the result of one stage invocation.
type StageOutcome struct {
	Stage  core.Stage
	Update core.PartialUpdate
	// Done is the stage's own completion signal.
	Done bool
	// Raw holds every sub-task's unparsed output, in order.
	Raw []service.SubTaskOutput
	// Fields is the parsed final output.
	Fields map[string]any
	Manual bool
}

// StageExecutor runs one stage against a read-only snapshot.
type StageExecutor interface {
	Run(ctx context.Context, stage core.Stage, snapshot core.PatientRecord, cfg StageConfig) (*StageOutcome, error)
}

// AgentExecutor runs stages through the gateway.
type AgentExecutor struct {
	gateway     core.Gateway
	prompts     *service.PromptRenderer
	parser      *parser.Parser
	catalogue   Catalogue
	interviewer core.Interviewer
	logger      *logging.Logger
}

// AgentExecutorDeps holds dependencies for creating an AgentExecutor.
type AgentExecutorDeps struct {
	Gateway     core.Gateway
	Prompts     *service.PromptRenderer
	Parser      *parser.Parser
	Catalogue   Catalogue
	Interviewer core.Interviewer
	Logger      *logging.Logger
}

// NewAgentExecutor creates an executor.
func NewAgentExecutor(deps AgentExecutorDeps) *AgentExecutor {
	if deps.Catalogue == nil {
		deps.Catalogue = DefaultCatalogue()
	}
	if deps.Parser == nil {
		deps.Parser = parser.New()
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	return &AgentExecutor{
		gateway:     deps.Gateway,
		prompts:     deps.Prompts,
		parser:      deps.Parser,
		catalogue:   deps.Catalogue,
		interviewer: deps.Interviewer,
		logger:      deps.Logger,
	}
}

// Run executes the stage's sub-task chain in order. Each sub-task sees the
// outputs of the ones before it; only the last output is parsed.
func (e *AgentExecutor) Run(ctx context.Context, stage core.Stage, snapshot core.PatientRecord, cfg StageConfig) (*StageOutcome, error) {
	def, ok := e.catalogue[stage]
	if !ok {
		return nil, core.ErrState(core.CodeUnknownStage, fmt.Sprintf("no definition for stage %q", stage))
	}
	if def.Requires != nil {
		if err := def.Requires(snapshot); err != nil {
			return nil, err
		}
	}
	if def.Settled != nil && def.Settled(snapshot) {
		e.logger.Debug("stage settled, skipping model call", "stage", stage)
		return &StageOutcome{Stage: stage, Done: true, Fields: map[string]any{}}, nil
	}

	chain := def.Chain
	if cfg.SingleCall && len(chain) > 1 {
		chain = chain[len(chain)-1:]
	}

	hint := def.Schema.Hint()
	var previous []service.SubTaskOutput
	for i, task := range chain {
		final := i == len(chain)-1
		data := service.PromptData{
			Stage:     stage,
			Task:      task,
			Audience:  snapshot.AudienceLevel,
			Record:    snapshot,
			Previous:  previous,
			Iteration: cfg.Iteration,
			Final:     final,
		}
		req := core.GatewayRequest{
			Stage:       stage,
			Task:        task,
			Model:       cfg.Model,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.MaxTokens,
		}
		if final {
			data.Schema = indentJSON(hint)
			req.SchemaHint = hint
		}

		text, err := e.invoke(ctx, req, data)
		if err != nil {
			return nil, err
		}
		previous = append(previous, service.SubTaskOutput{Task: task, Output: text})
	}

	result, err := e.parser.Parse(previous[len(previous)-1].Output, def.Schema)
	if err != nil {
		return nil, err
	}
	if result.Repaired {
		e.logger.Debug("model output needed repair", "stage", stage, "schema", def.Schema.Name)
	}

	update, done, err := def.Interpret(ctx, Interpretation{
		Stage:       stage,
		Snapshot:    snapshot,
		Result:      result,
		Interviewer: e.interviewer,
		Iteration:   cfg.Iteration,
	})
	if err != nil {
		return nil, err
	}

	return &StageOutcome{
		Stage:  stage,
		Update: update,
		Done:   done,
		Raw:    previous,
		Fields: result.Fields,
	}, nil
}

func (e *AgentExecutor) invoke(ctx context.Context, req core.GatewayRequest, data service.PromptData) (string, error) {
	prompt, err := e.prompts.Render(req.Task, data)
	if err != nil {
		return "", err
	}
	req.Prompt = prompt

	start := time.Now()
	resp, err := e.gateway.Invoke(ctx, req)
	if err != nil {
		return "", gatewayError(req, err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return "", core.ErrGateway(core.CodeEmptyResponse, fmt.Sprintf("%s/%s: empty response", req.Stage, req.Task))
	}
	e.logger.Debug("sub-task completed",
		"stage", req.Stage,
		"task", req.Task,
		"model", resp.Model,
		"tokens_in", resp.TokensIn,
		"tokens_out", resp.TokensOut,
		"duration", time.Since(start),
	)
	return resp.Text, nil
}

// gatewayError keeps gateway-classified errors as they are and classifies
// anything else the adapter returned as a gateway failure.
func gatewayError(req core.GatewayRequest, err error) error {
	if core.IsCategory(err, core.ErrCatGateway) {
		return err
	}
	return core.ErrGateway(core.CodeGatewayFailed, fmt.Sprintf("%s/%s: gateway call failed", req.Stage, req.Task)).WithCause(err)
}

func indentJSON(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return string(raw)
	}
	return buf.String()
}

// ManualExecutor serves operator-supplied results for overridden stages and
// delegates every other stage to next.
type ManualExecutor struct {
	overrides map[core.Stage]core.PartialUpdate
	next      StageExecutor
}

// NewManualExecutor creates an executor for the given overrides.
func NewManualExecutor(overrides map[core.Stage]core.PartialUpdate, next StageExecutor) *ManualExecutor {
	return &ManualExecutor{overrides: overrides, next: next}
}

// Overrides reports whether stage has a manual result.
func (m *ManualExecutor) Overrides(stage core.Stage) bool {
	_, ok := m.overrides[stage]
	return ok
}

// Run returns the manual result of stage without calling the model.
func (m *ManualExecutor) Run(ctx context.Context, stage core.Stage, snapshot core.PatientRecord, cfg StageConfig) (*StageOutcome, error) {
	update, ok := m.overrides[stage]
	if !ok {
		return m.next.Run(ctx, stage, snapshot, cfg)
	}
	return &StageOutcome{
		Stage:  stage,
		Update: update,
		Done:   true,
		Fields: map[string]any{},
		Manual: true,
	}, nil
}

// ManualUpdate converts an operator-supplied result into a stage update.
// Only diagnosis and treatment accept manual results.
func ManualUpdate(stage core.Stage, result map[string]string) (core.PartialUpdate, error) {
	if len(result) == 0 {
		return core.PartialUpdate{}, core.ErrValidation(core.CodeInvalidIntake, fmt.Sprintf("manual %s result is empty", stage))
	}
	switch stage {
	case core.StageDiagnosis:
		return core.PartialUpdate{
			DiagnosisResult:  maps.Clone(result),
			ReplaceDiagnosis: true,
			Differentials:    map[string]string{},
			Note:             "manual diagnosis",
		}, nil
	case core.StageTreatment:
		return core.PartialUpdate{TreatmentPlan: maps.Clone(result), Note: "manual treatment plan"}, nil
	default:
		return core.PartialUpdate{}, core.ErrValidation(core.CodeUnknownStage, fmt.Sprintf("stage %s does not accept a manual result", stage))
	}
}
