package core

import (
	"encoding/json"
	"maps"
	"slices"
	"strings"
)

// InitialInquiry holds the structured intake fields. All fields may be empty.
type InitialInquiry struct {
	ChiefComplaint          string            `json:"main_complain" yaml:"main_complain"`
	HistoryOfPresentIllness string            `json:"history_of_present_illness" yaml:"history_of_present_illness"`
	PastMedicalHistory      string            `json:"past_medical_history" yaml:"past_medical_history"`
	AllergyHistory          string            `json:"allergy_history" yaml:"allergy_history"`
	FamilyHistory           string            `json:"family_history" yaml:"family_history"`
	PhysicalExamination     string            `json:"physical_examination" yaml:"physical_examination"`
	PersonalHistory         string            `json:"personal_history" yaml:"personal_history"`
	AuxiliaryExamination    map[string]string `json:"auxiliary_examination" yaml:"auxiliary_examination"`
}

// IsEmpty reports whether no intake field carries content.
func (i InitialInquiry) IsEmpty() bool {
	for _, v := range []string{
		i.ChiefComplaint, i.HistoryOfPresentIllness, i.PastMedicalHistory, i.AllergyHistory,
		i.FamilyHistory, i.PhysicalExamination, i.PersonalHistory,
	} {
		if strings.TrimSpace(v) != "" {
			return false
		}
	}
	return len(i.AuxiliaryExamination) == 0
}

// DialecticEntry is one finding collected while ruling out a differential.
type DialecticEntry struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// TerminalReason explains why a stage stopped iterating.
type TerminalReason string

const (
	ReasonSatisfied      TerminalReason = "satisfied"
	ReasonExhausted      TerminalReason = "exhausted"
	ReasonGatewayFailure TerminalReason = "gateway_failure"
	ReasonStageFailure   TerminalReason = "stage_failure"
	ReasonSinglePass     TerminalReason = "single_pass"
)

// LoopOutcome records how a looped stage terminated.
type LoopOutcome struct {
	Stage      Stage          `json:"stage"`
	Iterations int            `json:"iterations"`
	Reason     TerminalReason `json:"reason"`
}

// ProcessOutline is the audit and progress trail of a run.
type ProcessOutline struct {
	CompleteSections                   []Stage           `json:"complete_sections"`
	SupplementaryInquiries             map[string]string `json:"supplementary_inquiries"`
	SuggestedDiagnosticDialectics      []DialecticEntry  `json:"suggested_diagnostic_dialectics"`
	SupplementaryAuxiliaryExaminations map[string]string `json:"supplementary_auxiliary_examinations"`
	LoopOutcomes                       []LoopOutcome     `json:"loop_outcomes,omitempty"`
	StageNotes                         map[Stage]string  `json:"stage_notes,omitempty"`
}

// IsComplete reports whether a stage is already in CompleteSections.
func (p ProcessOutline) IsComplete(s Stage) bool {
	return slices.Contains(p.CompleteSections, s)
}

// PatientRecord is the single aggregate threaded through a run.
type PatientRecord struct {
	InitialInquiry        InitialInquiry    `json:"initial_inquiry"`
	AudienceLevel         AudienceLevel     `json:"audience_level"`
	ProcessOutline        ProcessOutline    `json:"process_outline"`
	DiagnosisResult       map[string]string `json:"diagnosis_result"`
	DifferentialDiagnoses map[string]string `json:"differential_diagnoses"`
	TreatmentPlan         map[string]string `json:"treatment_plan"`
	Report                string            `json:"report,omitempty"`
}

// NewPatientRecord seeds a record from intake data with all maps allocated.
func NewPatientRecord(intake InitialInquiry, audience AudienceLevel) PatientRecord {
	r := PatientRecord{
		InitialInquiry: intake,
		AudienceLevel:  audience,
	}
	r.InitialInquiry.AuxiliaryExamination = maps.Clone(intake.AuxiliaryExamination)
	r.normalize()
	return r
}

func (r *PatientRecord) normalize() {
	if r.InitialInquiry.AuxiliaryExamination == nil {
		r.InitialInquiry.AuxiliaryExamination = map[string]string{}
	}
	if r.ProcessOutline.SupplementaryInquiries == nil {
		r.ProcessOutline.SupplementaryInquiries = map[string]string{}
	}
	if r.ProcessOutline.SupplementaryAuxiliaryExaminations == nil {
		r.ProcessOutline.SupplementaryAuxiliaryExaminations = map[string]string{}
	}
	if r.ProcessOutline.StageNotes == nil {
		r.ProcessOutline.StageNotes = map[Stage]string{}
	}
	if r.ProcessOutline.CompleteSections == nil {
		r.ProcessOutline.CompleteSections = []Stage{}
	}
	if r.ProcessOutline.SuggestedDiagnosticDialectics == nil {
		r.ProcessOutline.SuggestedDiagnosticDialectics = []DialecticEntry{}
	}
	if r.DiagnosisResult == nil {
		r.DiagnosisResult = map[string]string{}
	}
	if r.DifferentialDiagnoses == nil {
		r.DifferentialDiagnoses = map[string]string{}
	}
	if r.TreatmentPlan == nil {
		r.TreatmentPlan = map[string]string{}
	}
}

// UnmarshalJSON decodes a record and restores the empty collections a
// NewPatientRecord would have.
func (r *PatientRecord) UnmarshalJSON(data []byte) error {
	type plain PatientRecord
	var p plain
	if err := json.Unmarshal(data, &p); err != nil {
		return err
	}
	*r = PatientRecord(p)
	r.normalize()
	return nil
}

// Clone returns a deep copy that shares no maps or slices with r.
func (r PatientRecord) Clone() PatientRecord {
	c := r
	c.InitialInquiry.AuxiliaryExamination = maps.Clone(r.InitialInquiry.AuxiliaryExamination)
	c.ProcessOutline.CompleteSections = slices.Clone(r.ProcessOutline.CompleteSections)
	c.ProcessOutline.SupplementaryInquiries = maps.Clone(r.ProcessOutline.SupplementaryInquiries)
	c.ProcessOutline.SuggestedDiagnosticDialectics = slices.Clone(r.ProcessOutline.SuggestedDiagnosticDialectics)
	c.ProcessOutline.SupplementaryAuxiliaryExaminations = maps.Clone(r.ProcessOutline.SupplementaryAuxiliaryExaminations)
	c.ProcessOutline.LoopOutcomes = slices.Clone(r.ProcessOutline.LoopOutcomes)
	c.ProcessOutline.StageNotes = maps.Clone(r.ProcessOutline.StageNotes)
	c.DiagnosisResult = maps.Clone(r.DiagnosisResult)
	c.DifferentialDiagnoses = maps.Clone(r.DifferentialDiagnoses)
	c.TreatmentPlan = maps.Clone(r.TreatmentPlan)
	c.normalize()
	return c
}

// HasClinicalData reports whether intake or supplementary answers carry any
// content a diagnosis can start from.
func (r PatientRecord) HasClinicalData() bool {
	return !r.InitialInquiry.IsEmpty() ||
		len(r.ProcessOutline.SupplementaryInquiries) > 0 ||
		len(r.ProcessOutline.SupplementaryAuxiliaryExaminations) > 0
}

// PartialUpdate is the subset of the record a stage produces.
// Zero-valued fields leave the record untouched.
type PartialUpdate struct {
	SupplementaryInquiries map[string]string `json:"supplementary_inquiries,omitempty"`
	DiagnosticDialectics   []DialecticEntry  `json:"suggested_diagnostic_dialectics,omitempty"`
	AuxiliaryExaminations  map[string]string `json:"supplementary_auxiliary_examinations,omitempty"`
	DiagnosisResult        map[string]string `json:"diagnosis_result,omitempty"`
	// ReplaceDiagnosis clears the existing diagnosis before DiagnosisResult is merged.
	ReplaceDiagnosis bool `json:"replace_diagnosis,omitempty"`
	// Differentials, when non-nil, replaces the whole differential set.
	Differentials map[string]string `json:"differential_diagnoses,omitempty"`
	TreatmentPlan map[string]string `json:"treatment_plan,omitempty"`
	Report        string            `json:"report,omitempty"`
	Note          string            `json:"note,omitempty"`
}

// IsEmpty reports whether applying u would change nothing.
func (u PartialUpdate) IsEmpty() bool {
	return len(u.SupplementaryInquiries) == 0 && len(u.DiagnosticDialectics) == 0 &&
		len(u.AuxiliaryExaminations) == 0 && len(u.DiagnosisResult) == 0 && !u.ReplaceDiagnosis &&
		u.Differentials == nil && len(u.TreatmentPlan) == 0 && u.Report == "" && u.Note == ""
}

// Merge applies u to a copy of r produced by stage and returns the copy.
// Maps merge last-write-wins per key and dialectic entries already present
// are skipped, so merging the same update twice is a no-op.
func (r PatientRecord) Merge(stage Stage, u PartialUpdate) PatientRecord {
	out := r.Clone()
	po := &out.ProcessOutline

	maps.Copy(po.SupplementaryInquiries, u.SupplementaryInquiries)
	maps.Copy(po.SupplementaryAuxiliaryExaminations, u.AuxiliaryExaminations)
	for _, d := range u.DiagnosticDialectics {
		if !slices.Contains(po.SuggestedDiagnosticDialectics, d) {
			po.SuggestedDiagnosticDialectics = append(po.SuggestedDiagnosticDialectics, d)
		}
	}

	if u.ReplaceDiagnosis {
		out.DiagnosisResult = map[string]string{}
	}
	maps.Copy(out.DiagnosisResult, u.DiagnosisResult)
	if u.Differentials != nil {
		out.DifferentialDiagnoses = maps.Clone(u.Differentials)
	}
	maps.Copy(out.TreatmentPlan, u.TreatmentPlan)

	if u.Report != "" {
		out.Report = u.Report
	}
	if u.Note != "" {
		po.StageNotes[stage] = u.Note
	}
	return out
}
