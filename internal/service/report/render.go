package report

import (
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
)

// RenderTreatmentPlan renders the treatment plan of a run as markdown, one
// section per plan key in sorted order.
func RenderTreatmentPlan(result *core.RunResult) string {
	var sb strings.Builder
	sb.WriteString("# Treatment plan\n\n")
	writeDiagnosis(&sb, result.Record)
	for _, key := range slices.Sorted(maps.Keys(result.Record.TreatmentPlan)) {
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", sectionTitle(key), strings.TrimSpace(result.Record.TreatmentPlan[key]))
	}
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

// RenderSummary renders the summary report. The report stage's own text is
// used when present; otherwise the record is summarised section by section.
func RenderSummary(result *core.RunResult) string {
	if text := strings.TrimSpace(result.Record.Report); text != "" {
		return text + "\n"
	}

	r := result.Record
	var sb strings.Builder
	sb.WriteString("# Outpatient summary\n\n")
	fmt.Fprintf(&sb, "**Chief complaint**: %s\n\n", orNone(r.InitialInquiry.ChiefComplaint))

	writeTable(&sb, "Supplementary inquiries", "Question", "Answer", r.ProcessOutline.SupplementaryInquiries)
	if len(r.ProcessOutline.SuggestedDiagnosticDialectics) > 0 {
		sb.WriteString("## Diagnostic dialectics\n\n")
		for _, d := range r.ProcessOutline.SuggestedDiagnosticDialectics {
			fmt.Fprintf(&sb, "- **%s** %s\n", d.Question, d.Answer)
		}
		sb.WriteString("\n")
	}
	writeTable(&sb, "Auxiliary examinations", "Examination", "Result", r.ProcessOutline.SupplementaryAuxiliaryExaminations)
	writeDiagnosis(&sb, r)
	writeTable(&sb, "Treatment plan", "Section", "Content", r.TreatmentPlan)
	return strings.TrimRight(sb.String(), "\n") + "\n"
}

func writeDiagnosis(sb *strings.Builder, r core.PatientRecord) {
	if len(r.DiagnosisResult) == 0 {
		return
	}
	sb.WriteString("## Diagnosis\n\n")
	for _, name := range slices.Sorted(maps.Keys(r.DiagnosisResult)) {
		fmt.Fprintf(sb, "- **%s**: %s\n", name, r.DiagnosisResult[name])
	}
	sb.WriteString("\n")
}

func writeTable(sb *strings.Builder, title, keyHeader, valueHeader string, m map[string]string) {
	if len(m) == 0 {
		return
	}
	fmt.Fprintf(sb, "## %s\n\n| %s | %s |\n|---|---|\n", title, keyHeader, valueHeader)
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(sb, "| %s | %s |\n", escapeCell(k), escapeCell(m[k]))
	}
	sb.WriteString("\n")
}

func escapeCell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(strings.TrimSpace(s), "\n", "<br>")
}

// sectionTitle turns a plan key such as "home_exercise" into "Home exercise".
func sectionTitle(key string) string {
	key = strings.TrimSpace(strings.ReplaceAll(key, "_", " "))
	if key == "" {
		return key
	}
	return strings.ToUpper(key[:1]) + key[1:]
}

func orNone(s string) string {
	if strings.TrimSpace(s) == "" {
		return "none recorded"
	}
	return s
}
