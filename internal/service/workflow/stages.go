package workflow

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/parser"
)

// maxQuestionsPerRound caps how many suggested questions one inquiry round
// puts to the interviewer.
const maxQuestionsPerRound = 5

// pendingDifferential is recorded for an alternative diagnosis the diagnosis
// stage could not rule out.
const pendingDifferential = "not yet ruled out"

// Interpretation is what a stage definition turns into a partial update.
type Interpretation struct {
	Stage       core.Stage
	Snapshot    core.PatientRecord
	Result      *parser.Result
	Interviewer core.Interviewer
	Iteration   int
}

// StageDefinition describes how one stage talks to the model.
type StageDefinition struct {
	Stage core.Stage
	// Chain lists the prompt templates of the stage's sub-tasks in order.
	// Only the output of the last one is parsed.
	Chain  []string
	Schema parser.Schema
	// Requires checks predecessor data before any call is made.
	Requires func(core.PatientRecord) error
	// Settled reports that there is nothing left for the stage to do, in
	// which case it completes without calling the model.
	Settled func(core.PatientRecord) bool
	// Interpret builds the partial update and the stage's own done signal.
	Interpret func(ctx context.Context, in Interpretation) (core.PartialUpdate, bool, error)
}

// Catalogue maps each executable stage to its definition.
type Catalogue map[core.Stage]*StageDefinition

// DefaultCatalogue returns the rehabilitation outpatient stage set.
func DefaultCatalogue() Catalogue {
	return Catalogue{
		core.StageInquiry:     inquiryStage(),
		core.StageDiagnosis:   diagnosisStage(),
		core.StageElimination: eliminationStage(),
		core.StageTreatment:   treatmentStage(),
		core.StageReport:      reportStage(),
	}
}

var yesNo = []string{"yes", "no"}

func inquiryStage() *StageDefinition {
	return &StageDefinition{
		Stage: core.StageInquiry,
		Chain: []string{"inquiry"},
		Schema: parser.Schema{
			Name: "inquiry",
			Kind: parser.KindJSON,
			Fields: []parser.Field{
				{Name: "inquiry_analysis", Type: parser.TypeString, Description: "gaps found in the record"},
				{Name: "suggested_questions", Type: parser.TypeStringList, Description: "questions for the patient"},
				{Name: "inquiry_complete", Type: parser.TypeString, Enum: yesNo, Default: "no"},
			},
		},
		Interpret: interpretInquiry,
	}
}

func interpretInquiry(ctx context.Context, in Interpretation) (core.PartialUpdate, bool, error) {
	update := core.PartialUpdate{Note: in.Result.String("inquiry_analysis")}
	asked := 0
	for _, q := range in.Result.StringList("suggested_questions") {
		if asked == maxQuestionsPerRound {
			break
		}
		if _, answered := in.Snapshot.ProcessOutline.SupplementaryInquiries[q]; answered {
			continue
		}
		asked++
		answer, err := ask(ctx, in, core.QuestionInquiry, q)
		if err != nil {
			return core.PartialUpdate{}, false, err
		}
		if answer == "" {
			continue
		}
		if update.SupplementaryInquiries == nil {
			update.SupplementaryInquiries = map[string]string{}
		}
		update.SupplementaryInquiries[q] = answer
	}
	done := in.Result.String("inquiry_complete") == "yes" || asked == 0
	return update, done, nil
}

func diagnosisStage() *StageDefinition {
	return &StageDefinition{
		Stage: core.StageDiagnosis,
		Chain: []string{"diagnosis-draft", "diagnosis-examination", "diagnosis-review"},
		Schema: parser.Schema{
			Name: "diagnosis",
			Kind: parser.KindJSON,
			Fields: []parser.Field{
				{Name: "diagnosis_conclusion", Type: parser.TypeString, Required: true},
				{Name: "diagnosis_basis", Type: parser.TypeString, Required: true},
				{Name: "other_diagnosis_possibility", Type: parser.TypeStringList},
				{Name: "suggested_auxiliary_examinations", Type: parser.TypeObjectList},
				{Name: "quality_control_feedback", Type: parser.TypeString},
			},
		},
		Requires: func(r core.PatientRecord) error {
			if !r.HasClinicalData() {
				return core.ErrConfiguration(core.StageDiagnosis, "diagnosis needs at least one intake field or supplementary answer")
			}
			return nil
		},
		Interpret: interpretDiagnosis,
	}
}

func interpretDiagnosis(ctx context.Context, in Interpretation) (core.PartialUpdate, bool, error) {
	conclusion := in.Result.String("diagnosis_conclusion")
	update := core.PartialUpdate{
		DiagnosisResult:  map[string]string{conclusion: in.Result.String("diagnosis_basis")},
		ReplaceDiagnosis: true,
		Differentials:    map[string]string{},
		Note:             in.Result.String("quality_control_feedback"),
	}
	for _, alt := range in.Result.StringList("other_diagnosis_possibility") {
		if alt != conclusion {
			update.Differentials[alt] = pendingDifferential
		}
	}

	exams, err := askExaminations(ctx, in, in.Result.ObjectList("suggested_auxiliary_examinations"))
	if err != nil {
		return core.PartialUpdate{}, false, err
	}
	update.AuxiliaryExaminations = exams
	return update, true, nil
}

func eliminationStage() *StageDefinition {
	return &StageDefinition{
		Stage: core.StageElimination,
		Chain: []string{"elimination"},
		Schema: parser.Schema{
			Name: "elimination",
			Kind: parser.KindJSON,
			Fields: []parser.Field{
				{Name: "remaining_possibilities", Type: parser.TypeStringMap},
				{Name: "diagnosis_conclusion", Type: parser.TypeString},
				{Name: "diagnosis_basis", Type: parser.TypeString},
				{Name: "suggested_question", Type: parser.TypeString},
				{Name: "suggested_auxiliary_check", Type: parser.TypeObjectList},
				{Name: "further_inquiries_needed", Type: parser.TypeString, Enum: yesNo, Default: "yes"},
			},
		},
		Requires: requireDiagnosis(core.StageElimination),
		Settled: func(r core.PatientRecord) bool {
			return len(r.DifferentialDiagnoses) == 0
		},
		Interpret: interpretElimination,
	}
}

func interpretElimination(ctx context.Context, in Interpretation) (core.PartialUpdate, bool, error) {
	remaining := in.Result.StringMap("remaining_possibilities")
	update := core.PartialUpdate{Differentials: remaining}
	if conclusion := in.Result.String("diagnosis_conclusion"); conclusion != "" {
		update.DiagnosisResult = map[string]string{conclusion: in.Result.String("diagnosis_basis")}
		update.ReplaceDiagnosis = true
	}

	question := in.Result.String("suggested_question")
	if question != "" {
		answer, err := ask(ctx, in, core.QuestionDialectic, question)
		if err != nil {
			return core.PartialUpdate{}, false, err
		}
		if answer != "" {
			update.DiagnosticDialectics = []core.DialecticEntry{{Question: question, Answer: answer}}
		}
	}

	checks := in.Result.ObjectList("suggested_auxiliary_check")
	exams, err := askExaminations(ctx, in, checks)
	if err != nil {
		return core.PartialUpdate{}, false, err
	}
	update.AuxiliaryExaminations = exams

	done := in.Result.String("further_inquiries_needed") == "no" ||
		len(remaining) == 0 ||
		(question == "" && len(checks) == 0)
	return update, done, nil
}

func treatmentStage() *StageDefinition {
	return &StageDefinition{
		Stage: core.StageTreatment,
		Chain: []string{"treatment-draft", "treatment-review"},
		Schema: parser.Schema{
			Name: "treatment",
			Kind: parser.KindJSON,
			Fields: []parser.Field{
				{Name: "treatment_plan", Type: parser.TypeStringMap, Required: true},
				{Name: "quality_control_feedback", Type: parser.TypeString},
			},
		},
		Requires: requireDiagnosis(core.StageTreatment),
		Interpret: func(_ context.Context, in Interpretation) (core.PartialUpdate, bool, error) {
			return core.PartialUpdate{
				TreatmentPlan: in.Result.StringMap("treatment_plan"),
				Note:          in.Result.String("quality_control_feedback"),
			}, true, nil
		},
	}
}

func reportStage() *StageDefinition {
	return &StageDefinition{
		Stage:  core.StageReport,
		Chain:  []string{"report"},
		Schema: parser.Text("report"),
		Requires: func(r core.PatientRecord) error {
			if len(r.TreatmentPlan) == 0 {
				return core.ErrConfiguration(core.StageReport, "report needs a treatment plan")
			}
			return nil
		},
		Interpret: func(_ context.Context, in Interpretation) (core.PartialUpdate, bool, error) {
			return core.PartialUpdate{Report: in.Result.Text}, true, nil
		},
	}
}

func requireDiagnosis(stage core.Stage) func(core.PatientRecord) error {
	return func(r core.PatientRecord) error {
		if len(r.DiagnosisResult) == 0 {
			return core.ErrConfiguration(stage, fmt.Sprintf("%s needs a diagnosis result", stage))
		}
		return nil
	}
}

// askExaminations asks for the result of each suggested examination not
// already present in the record. Blank answers are not recorded.
func askExaminations(ctx context.Context, in Interpretation, exams []map[string]string) (map[string]string, error) {
	known := in.Snapshot.InitialInquiry.AuxiliaryExamination
	supplementary := in.Snapshot.ProcessOutline.SupplementaryAuxiliaryExaminations
	var results map[string]string
	var seen []string
	for _, exam := range exams {
		name := strings.TrimSpace(exam["examination_name"])
		if name == "" || slices.Contains(seen, name) {
			continue
		}
		seen = append(seen, name)
		if _, ok := known[name]; ok {
			continue
		}
		if _, ok := supplementary[name]; ok {
			continue
		}
		text := name
		if reason := exam["reason"]; reason != "" {
			text = fmt.Sprintf("%s (%s)", name, reason)
		}
		answer, err := ask(ctx, in, core.QuestionExamination, text)
		if err != nil {
			return nil, err
		}
		if answer == "" {
			continue
		}
		if results == nil {
			results = map[string]string{}
		}
		results[name] = answer
	}
	return results, nil
}

func ask(ctx context.Context, in Interpretation, kind core.QuestionKind, text string) (string, error) {
	if in.Interviewer == nil {
		return "", nil
	}
	answer, err := in.Interviewer.Ask(ctx, core.Question{Stage: in.Stage, Kind: kind, Text: text})
	if err != nil {
		return "", fmt.Errorf("asking %s question: %w", kind, err)
	}
	return strings.TrimSpace(answer), nil
}
