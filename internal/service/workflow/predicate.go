package workflow

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/config"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/expressions"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/parser"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service"
)

// PredicateInput is what a completion predicate decides on.
type PredicateInput struct {
	Stage core.Stage
	// Record is the working snapshot with every iteration so far merged in.
	Record    core.PatientRecord
	Outcome   *StageOutcome
	Iteration int
}

// Predicate decides whether a looped stage is complete.
type Predicate interface {
	Name() string
	Evaluate(ctx context.Context, in PredicateInput) (bool, error)
}

// SelfJudged trusts the stage's own done signal.
type SelfJudged struct{}

func (SelfJudged) Name() string { return "self" }

func (SelfJudged) Evaluate(_ context.Context, in PredicateInput) (bool, error) {
	return in.Outcome != nil && in.Outcome.Done, nil
}

// ExpressionPredicate is a rule-based predicate written in an expression
// language. The expression sees record, outcome and iteration.
type ExpressionPredicate struct {
	engine     expressions.Engine
	expression string
}

// NewExpressionPredicate compiles expression with the named engine.
func NewExpressionPredicate(engineName, expression string) (*ExpressionPredicate, error) {
	engine, err := expressions.New(engineName)
	if err != nil {
		return nil, err
	}
	if err := engine.Compile(expression); err != nil {
		return nil, err
	}
	return &ExpressionPredicate{engine: engine, expression: expression}, nil
}

func (p *ExpressionPredicate) Name() string {
	return fmt.Sprintf("rule:%s", p.engine.Name())
}

func (p *ExpressionPredicate) Evaluate(ctx context.Context, in PredicateInput) (bool, error) {
	data, err := expressionData(in)
	if err != nil {
		return false, err
	}
	return expressions.EvaluateBool(ctx, p.engine, p.expression, data)
}

// expressionData turns the input into JSON-shaped maps so every engine sees
// the record under its wire field names.
func expressionData(in PredicateInput) (map[string]any, error) {
	record, err := toMap(in.Record)
	if err != nil {
		return nil, fmt.Errorf("encoding record for predicate: %w", err)
	}
	outcome := map[string]any{"done": false, "fields": map[string]any{}}
	if in.Outcome != nil {
		fields, err := toMap(in.Outcome.Fields)
		if err != nil {
			return nil, fmt.Errorf("encoding outcome for predicate: %w", err)
		}
		outcome["done"] = in.Outcome.Done
		outcome["fields"] = fields
	}
	return map[string]any{
		expressions.VarRecord:    record,
		expressions.VarOutcome:   outcome,
		expressions.VarIteration: in.Iteration,
	}, nil
}

func toMap(v any) (map[string]any, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	out := map[string]any{}
	if err := json.Unmarshal(b, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = map[string]any{}
	}
	return out, nil
}

var judgeSchema = parser.Schema{
	Name: "judge",
	Kind: parser.KindJSON,
	Fields: []parser.Field{
		{Name: "complete", Type: parser.TypeString, Required: true, Enum: []string{"yes", "no"}},
		{Name: "reason", Type: parser.TypeString},
	},
}

// LLMJudge delegates the completion decision to a dedicated model call.
type LLMJudge struct {
	gateway core.Gateway
	prompts *service.PromptRenderer
	parser  *parser.Parser
	cfg     StageConfig
}

// NewLLMJudge creates a judge using the stage's model settings.
func NewLLMJudge(gateway core.Gateway, prompts *service.PromptRenderer, p *parser.Parser, cfg StageConfig) *LLMJudge {
	if p == nil {
		p = parser.New()
	}
	return &LLMJudge{gateway: gateway, prompts: prompts, parser: p, cfg: cfg}
}

func (j *LLMJudge) Name() string { return "llm" }

// Evaluate asks the judge template whether the stage is complete. A failed
// call is a gateway error and an unparseable verdict a schema violation.
func (j *LLMJudge) Evaluate(ctx context.Context, in PredicateInput) (bool, error) {
	hint := judgeSchema.Hint()
	data := service.PromptData{
		Stage:     in.Stage,
		Task:      "judge",
		Audience:  in.Record.AudienceLevel,
		Record:    in.Record,
		Iteration: in.Iteration,
		Schema:    indentJSON(hint),
		Final:     true,
	}
	req := core.GatewayRequest{
		Stage:       in.Stage,
		Task:        "judge",
		SchemaHint:  hint,
		Model:       j.cfg.Model,
		Temperature: j.cfg.Temperature,
		MaxTokens:   j.cfg.MaxTokens,
	}
	prompt, err := j.prompts.Render("judge", data)
	if err != nil {
		return false, err
	}
	req.Prompt = prompt

	resp, err := j.gateway.Invoke(ctx, req)
	if err != nil {
		return false, gatewayError(req, err)
	}
	if resp == nil || strings.TrimSpace(resp.Text) == "" {
		return false, core.ErrGateway(core.CodeEmptyResponse, fmt.Sprintf("%s/judge: empty response", in.Stage))
	}
	verdict, err := j.parser.Parse(resp.Text, judgeSchema)
	if err != nil {
		return false, err
	}
	return verdict.String("complete") == "yes", nil
}

// AnyOf is satisfied when any member is. Members are evaluated in order and
// evaluation stops at the first satisfied one.
type AnyOf []Predicate

func (a AnyOf) Name() string { return compositeName("any", a) }

func (a AnyOf) Evaluate(ctx context.Context, in PredicateInput) (bool, error) {
	for _, p := range a {
		ok, err := p.Evaluate(ctx, in)
		if err != nil || ok {
			return ok, err
		}
	}
	return false, nil
}

// AllOf is satisfied when every member is. Evaluation stops at the first
// unsatisfied member.
type AllOf []Predicate

func (a AllOf) Name() string { return compositeName("all", a) }

func (a AllOf) Evaluate(ctx context.Context, in PredicateInput) (bool, error) {
	for _, p := range a {
		ok, err := p.Evaluate(ctx, in)
		if err != nil || !ok {
			return false, err
		}
	}
	return len(a) > 0, nil
}

func compositeName(kind string, members []Predicate) string {
	names := make([]string, len(members))
	for i, p := range members {
		names[i] = p.Name()
	}
	return kind + "(" + strings.Join(names, ",") + ")"
}

// PredicateDeps holds what an LLM-judged predicate needs.
type PredicateDeps struct {
	Gateway core.Gateway
	Prompts *service.PromptRenderer
	Parser  *parser.Parser
	Stage   StageConfig
}

// BuildPredicate builds a predicate from configuration. An empty kind means
// the stage is single-pass and yields a nil predicate.
func BuildPredicate(cfg config.PredicateConfig, deps PredicateDeps) (Predicate, error) {
	switch cfg.Kind {
	case "":
		return nil, nil
	case "self":
		return SelfJudged{}, nil
	case "llm":
		return NewLLMJudge(deps.Gateway, deps.Prompts, deps.Parser, deps.Stage), nil
	case "rule":
		p, err := NewExpressionPredicate(cfg.Engine, cfg.Expression)
		if err != nil {
			return nil, err
		}
		return p, nil
	case "any", "all":
		if len(cfg.Of) == 0 {
			return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("%s predicate needs members", cfg.Kind))
		}
		members := make([]Predicate, 0, len(cfg.Of))
		for _, sub := range cfg.Of {
			if sub.Kind == "" {
				return nil, core.ErrValidation(core.CodeInvalidConfig, "nested predicate needs a kind")
			}
			p, err := BuildPredicate(sub, deps)
			if err != nil {
				return nil, err
			}
			members = append(members, p)
		}
		if cfg.Kind == "any" {
			return AnyOf(members), nil
		}
		return AllOf(members), nil
	default:
		return nil, core.ErrValidation(core.CodeInvalidConfig, fmt.Sprintf("unknown predicate kind %q", cfg.Kind))
	}
}
