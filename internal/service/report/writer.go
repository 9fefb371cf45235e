// Package report writes the markdown artifacts of a finished run.
package report

import (
	"context"
	"fmt"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/fsutil"
)

// Subdirectories of the report base directory.
const (
	TreatmentPlanDir = "treatment_plans"
	SummaryDir       = "summary_reports"
)

// Config configures the report writer.
type Config struct {
	BaseDir string // default: "."
	Enabled bool
	UseUTC  bool
}

// DefaultConfig returns the writer defaults.
func DefaultConfig() Config {
	return Config{BaseDir: ".", Enabled: true, UseUTC: true}
}

// Writer is a report sink that writes a treatment plan and a summary report
// for every completed run. Failed and cancelled runs produce no files.
type Writer struct {
	cfg Config
	now func() time.Time
}

// NewWriter creates a report writer.
func NewWriter(cfg Config) *Writer {
	if cfg.BaseDir == "" {
		cfg.BaseDir = "."
	}
	return &Writer{cfg: cfg, now: time.Now}
}

// Paths returns where the artifacts of a run are written.
func (w *Writer) Paths(id core.RunID) (plan, summary string) {
	name := filepath.Base(string(id))
	return filepath.Join(w.cfg.BaseDir, TreatmentPlanDir, "treatment_plan_"+name+".md"),
		filepath.Join(w.cfg.BaseDir, SummaryDir, "report_"+name+".md")
}

// Deliver implements core.ReportSink.
func (w *Writer) Deliver(_ context.Context, result *core.RunResult) error {
	if !w.cfg.Enabled || result.Status != core.RunStatusCompleted {
		return nil
	}
	planPath, summaryPath := w.Paths(result.RunID)

	header, err := w.frontmatter(result, "treatment_plan")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(planPath, []byte(header+RenderTreatmentPlan(result)), 0o644); err != nil {
		return fmt.Errorf("writing treatment plan: %w", err)
	}

	header, err = w.frontmatter(result, "summary_report")
	if err != nil {
		return err
	}
	if err := fsutil.WriteFileAtomic(summaryPath, []byte(header+RenderSummary(result)), 0o644); err != nil {
		return fmt.Errorf("writing summary report: %w", err)
	}
	return nil
}

func (w *Writer) frontmatter(result *core.RunResult, kind string) (string, error) {
	generated := w.now()
	if w.cfg.UseUTC {
		generated = generated.UTC()
	}
	sections := make([]string, 0, len(result.Record.ProcessOutline.CompleteSections))
	for _, s := range result.Record.ProcessOutline.CompleteSections {
		sections = append(sections, string(s))
	}
	return NewFrontmatter().
		Set("type", kind).
		Set("run_id", string(result.RunID)).
		Set("generated_at", generated.Format(time.RFC3339)).
		Set("audience_level", string(result.Record.AudienceLevel)).
		Set("diagnosis", slices.Sorted(maps.Keys(result.Record.DiagnosisResult))).
		Set("complete_sections", sections).
		Render()
}
