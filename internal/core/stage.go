package core

import "fmt"

// Stage identifies one step of the outpatient workflow.
type Stage string

const (
	// StageInquiry completes the intake by asking supplementary questions.
	StageInquiry Stage = "inquiry"

	// StageDiagnosis drafts a diagnosis, requests auxiliary examinations and
	// reviews the result.
	StageDiagnosis Stage = "diagnosis"

	// StageElimination works through the differential diagnoses until none
	// remain or no further inquiry is useful.
	StageElimination Stage = "elimination"

	// StageTreatment produces the rehabilitation treatment plan.
	StageTreatment Stage = "treatment"

	// StageReport writes the summary report for the configured audience.
	StageReport Stage = "report"

	// StageDone is the terminal state. It is never executed.
	StageDone Stage = "done"
)

// AllStages returns the executable stages in workflow order.
func AllStages() []Stage {
	return []Stage{StageInquiry, StageDiagnosis, StageElimination, StageTreatment, StageReport}
}

// StageOrder returns the 0-indexed position of a stage, or -1 if unknown.
func StageOrder(s Stage) int {
	switch s {
	case StageInquiry:
		return 0
	case StageDiagnosis:
		return 1
	case StageElimination:
		return 2
	case StageTreatment:
		return 3
	case StageReport:
		return 4
	case StageDone:
		return 5
	default:
		return -1
	}
}

// NextStage returns the stage following s. The last executable stage is
// followed by StageDone; StageDone and unknown stages return "".
func NextStage(s Stage) Stage {
	switch s {
	case StageInquiry:
		return StageDiagnosis
	case StageDiagnosis:
		return StageElimination
	case StageElimination:
		return StageTreatment
	case StageTreatment:
		return StageReport
	case StageReport:
		return StageDone
	default:
		return ""
	}
}

// ValidStage reports whether s is a known stage (including StageDone).
func ValidStage(s Stage) bool {
	return StageOrder(s) >= 0
}

// ParseStage converts a string to a Stage with validation.
func ParseStage(s string) (Stage, error) {
	st := Stage(s)
	if !ValidStage(st) || st == StageDone {
		return "", fmt.Errorf("invalid stage: %s", s)
	}
	return st, nil
}

// String returns the string representation of the stage.
func (s Stage) String() string {
	return string(s)
}

// Description returns a human-readable description of the stage.
func (s Stage) Description() string {
	switch s {
	case StageInquiry:
		return "Collect supplementary history from the patient"
	case StageDiagnosis:
		return "Draft, examine and review the working diagnosis"
	case StageElimination:
		return "Rule out remaining differential diagnoses"
	case StageTreatment:
		return "Create and review the rehabilitation treatment plan"
	case StageReport:
		return "Summarise the visit for the target audience"
	case StageDone:
		return "All stages completed"
	default:
		return "Unknown stage"
	}
}

// AudienceLevel controls the register of generated text.
type AudienceLevel string

const (
	AudienceNonProfessional AudienceLevel = "non-professional"
	AudienceProfessional    AudienceLevel = "professional"
	AudienceTopExpert       AudienceLevel = "top-expert"
)

// ParseAudienceLevel validates an audience level. An empty string yields the
// non-professional default.
func ParseAudienceLevel(s string) (AudienceLevel, error) {
	switch AudienceLevel(s) {
	case "":
		return AudienceNonProfessional, nil
	case AudienceNonProfessional, AudienceProfessional, AudienceTopExpert:
		return AudienceLevel(s), nil
	default:
		return "", ErrValidation(CodeInvalidAudience, fmt.Sprintf("unknown audience level %q", s))
	}
}
