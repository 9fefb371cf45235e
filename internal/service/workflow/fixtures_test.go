package workflow

import (
	"context"
	"testing"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/testutil"
)

const (
	inquiryRound1 = `{"inquiry_analysis": "Onset and cough response unknown",
		"suggested_questions": ["When exactly did the pain start?", "Does coughing make the leg pain worse?"],
		"inquiry_complete": "no"}`
	inquiryRound2 = "```json\n" + `{"inquiry_analysis": "Night pain not asked",
		"suggested_questions": ["Is there pain at night?"], "inquiry_complete": "no"}` + "\n```"
	inquiryRound3 = `{"inquiry_analysis": "Bladder function not asked",
		"suggested_questions": ["Any change in bladder control?"], "inquiry_complete": "no"}`

	judgeNo  = `{"complete": "no", "reason": "red flags not screened"}`
	judgeYes = `{"complete": "yes", "reason": "history is sufficient"}`

	diagnosisReview = `{"diagnosis_conclusion": "Lumbar disc herniation (L5/S1)",
		"diagnosis_basis": "Radicular pain, positive straight leg raise",
		"other_diagnosis_possibility": ["Piriformis syndrome"],
		"suggested_auxiliary_examinations": [{"examination_name": "Lumbar MRI", "reason": "confirm herniation level"}],
		"quality_control_feedback": "Draft accepted"}`

	eliminationDone = `{"remaining_possibilities": {},
		"diagnosis_conclusion": "Lumbar disc herniation (L5/S1)",
		"diagnosis_basis": "MRI confirms posterolateral herniation",
		"suggested_question": "", "suggested_auxiliary_check": [],
		"further_inquiries_needed": "no"}`

	treatmentReview = `{"treatment_plan": {"goals": "Reduce radicular pain", "exercise": "McKenzie extension protocol"},
		"quality_control_feedback": "No contraindications"}`

	reportText = "# Visit summary\n\nLumbar disc herniation at L5/S1."
)

var scenarioAnswers = map[string]string{
	"When exactly did the pain start?":       "Three weeks ago, lifting a box",
	"Does coughing make the leg pain worse?": "Yes",
	"Is there pain at night?":                "Only when turning over",
	"Any change in bladder control?":         "No",
	"Lumbar MRI":                             "L5/S1 posterolateral herniation",
}

// happyGateway can serve a complete run.
func happyGateway() *testutil.MockGateway {
	return testutil.NewMockGateway().
		OnTask("inquiry", inquiryRound1, inquiryRound2).
		OnTask("judge", judgeNo, judgeYes).
		OnTask("diagnosis-draft", "Likely L5/S1 disc herniation; consider piriformis syndrome.").
		OnTask("diagnosis-examination", "Lumbar MRI to confirm the level.").
		OnTask("diagnosis-review", diagnosisReview).
		OnTask("elimination", eliminationDone).
		OnTask("treatment-draft", "Extension exercises, education, follow-up in two weeks.").
		OnTask("treatment-review", treatmentReview).
		OnTask("report", reportText)
}

func testPrompts(t *testing.T) *service.PromptRenderer {
	t.Helper()
	prompts, err := service.NewPromptRenderer()
	if err != nil {
		t.Fatalf("NewPromptRenderer() error = %v", err)
	}
	return prompts
}

func defaultPlans(t *testing.T, gw core.Gateway, inquiryMax int) map[core.Stage]StagePlan {
	t.Helper()
	rule, err := NewExpressionPredicate("cel", "size(record.differential_diagnoses) == 0")
	if err != nil {
		t.Fatalf("NewExpressionPredicate() error = %v", err)
	}
	return map[core.Stage]StagePlan{
		core.StageInquiry: {
			Config:    StageConfig{MaxIterations: inquiryMax},
			Predicate: NewLLMJudge(gw, testPrompts(t), nil, StageConfig{}),
		},
		core.StageElimination: {
			Config:    StageConfig{MaxIterations: 4},
			Predicate: AnyOf{SelfJudged{}, rule},
		},
	}
}

func newTestEngine(t *testing.T, gw core.Gateway, plans map[core.Stage]StagePlan, notifier Notifier, sinks ...core.ReportSink) *Engine {
	t.Helper()
	engine, err := NewEngine(EngineDeps{
		Gateway:  gw,
		Prompts:  testPrompts(t),
		Plans:    plans,
		Sinks:    sinks,
		Notifier: notifier,
		NewRunID: func() core.RunID { return "run-test" },
	})
	if err != nil {
		t.Fatalf("NewEngine() error = %v", err)
	}
	return engine
}

type failingSink struct{ err error }

func (s failingSink) Deliver(context.Context, *core.RunResult) error { return s.err }

type capturingSink struct{ results []*core.RunResult }

func (s *capturingSink) Deliver(_ context.Context, r *core.RunResult) error {
	s.results = append(s.results, r)
	return nil
}
