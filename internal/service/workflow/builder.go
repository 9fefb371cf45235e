package workflow

import (
	"fmt"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/config"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/parser"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service"
)

// BuildOptions holds the collaborators BuildEngine does not derive from config.
type BuildOptions struct {
	Gateway     core.Gateway
	Sinks       []core.ReportSink
	Notifier    Notifier
	Interviewer core.Interviewer
	Logger      *logging.Logger
}

// BuildEngine creates an engine whose stage plans and predicates come from
// configuration.
func BuildEngine(cfg *config.Config, opts BuildOptions) (*Engine, error) {
	prompts, err := service.NewPromptRenderer()
	if err != nil {
		return nil, fmt.Errorf("creating prompt renderer: %w", err)
	}
	p := parser.New()

	plans, err := BuildPlans(cfg, opts.Gateway, prompts, p)
	if err != nil {
		return nil, err
	}
	audience, err := core.ParseAudienceLevel(cfg.Workflow.AudienceLevel)
	if err != nil {
		return nil, err
	}

	return NewEngine(EngineDeps{
		Gateway:            opts.Gateway,
		Prompts:            prompts,
		Parser:             p,
		Plans:              plans,
		Sinks:              opts.Sinks,
		Notifier:           opts.Notifier,
		Logger:             opts.Logger,
		DefaultAudience:    audience,
		DefaultInterviewer: opts.Interviewer,
	})
}

// BuildPlans turns the per-stage configuration into stage plans.
func BuildPlans(cfg *config.Config, gateway core.Gateway, prompts *service.PromptRenderer, p *parser.Parser) (map[core.Stage]StagePlan, error) {
	plans := make(map[core.Stage]StagePlan, len(core.AllStages()))
	for _, stage := range core.AllStages() {
		sc := cfg.Stages.For(stage)
		stageCfg := StageConfig{
			MaxIterations: sc.MaxIterations,
			SingleCall:    sc.SingleCall,
			Model:         sc.Model,
			Temperature:   sc.Temperature,
			MaxTokens:     cfg.Gateway.MaxTokens,
		}
		if stageCfg.Temperature == 0 {
			stageCfg.Temperature = cfg.Gateway.Temperature
		}
		if !sc.Looped() {
			stageCfg.MaxIterations = 1
		}

		pred, err := BuildPredicate(sc.Predicate, PredicateDeps{
			Gateway: gateway,
			Prompts: prompts,
			Parser:  p,
			Stage:   stageCfg,
		})
		if err != nil {
			return nil, fmt.Errorf("stage %s: %w", stage, err)
		}
		plans[stage] = StagePlan{Config: stageCfg, Predicate: pred}
	}
	return plans, nil
}
