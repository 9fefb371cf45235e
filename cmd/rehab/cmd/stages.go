package cmd

import (
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/config"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/parser"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service/workflow"
)

var stagesCmd = &cobra.Command{
	Use:   "stages",
	Short: "Show how each stage will run with the current configuration",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		return printStages(cmd.OutOrStdout(), cfg)
	},
}

func init() {
	rootCmd.AddCommand(stagesCmd)
}

func printStages(out io.Writer, cfg *config.Config) error {
	prompts, err := service.NewPromptRenderer()
	if err != nil {
		return err
	}
	// The judge gateway is never called here.
	plans, err := workflow.BuildPlans(cfg, nil, prompts, parser.New())
	if err != nil {
		return err
	}
	catalogue := workflow.DefaultCatalogue()
	s := newConsoleStyles(out, !noColor)

	for i, stage := range core.AllStages() {
		plan := plans[stage]
		chain := catalogue[stage].Chain
		if plan.Config.SingleCall && len(chain) > 1 {
			chain = chain[len(chain)-1:]
		}
		mode := "single pass"
		if plan.Predicate != nil {
			mode = fmt.Sprintf("loop until %s, max %d", plan.Predicate.Name(), plan.Config.MaxIterations)
		}

		fmt.Fprintf(out, "%d. %s  %s\n", i+1, s.stage.Render(string(stage)), s.dim.Render(stage.Description()))
		fmt.Fprintf(out, "   calls: %s\n", strings.Join(chain, " > "))
		fmt.Fprintf(out, "   mode:  %s\n", mode)
		if plan.Config.Model != "" {
			fmt.Fprintf(out, "   model: %s\n", plan.Config.Model)
		}
	}
	fmt.Fprintf(out, "\n%s %s\n", s.dim.Render("prompt templates:"), strings.Join(prompts.Templates(), ", "))
	return nil
}
