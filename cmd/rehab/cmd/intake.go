package cmd

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/adapters/interview"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/fsutil"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/service/workflow"
)

// IntakeFile is the YAML document read by run and batch.
//
//	initial_inquiry:
//	  main_complain: Low back pain for three weeks
//	audience_level: professional
//	manual:
//	  diagnosis: {"Lumbar strain": "operator diagnosis"}
//	answers:
//	  "Is there pain at night?": "Only when turning over"
type IntakeFile struct {
	InitialInquiry core.InitialInquiry          `yaml:"initial_inquiry"`
	AudienceLevel  string                       `yaml:"audience_level"`
	Manual         map[string]map[string]string `yaml:"manual"`
	Answers        map[string]string            `yaml:"answers"`
}

// LoadIntake reads and checks an intake file.
func LoadIntake(path string) (*IntakeFile, error) {
	data, err := fsutil.ReadFileScoped(path)
	if err != nil {
		return nil, fmt.Errorf("reading intake: %w", err)
	}
	var f IntakeFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing intake %s: %w", path, err)
	}
	if f.InitialInquiry.IsEmpty() {
		return nil, core.ErrValidation(core.CodeInvalidIntake, fmt.Sprintf("intake %s has no initial_inquiry fields", path))
	}
	return &f, nil
}

// Request turns the intake into a run request. A nil interviewer falls back
// to the intake's own answers, if it has any.
func (f *IntakeFile) Request(interviewer core.Interviewer) (workflow.RunRequest, error) {
	req := workflow.RunRequest{
		Intake:      f.InitialInquiry,
		Interviewer: interviewer,
	}
	if f.AudienceLevel != "" {
		level, err := core.ParseAudienceLevel(f.AudienceLevel)
		if err != nil {
			return req, err
		}
		req.Audience = level
	}
	if req.Interviewer == nil && len(f.Answers) > 0 {
		req.Interviewer = interview.NewScripted(f.Answers)
	}
	for name, result := range f.Manual {
		stage, err := core.ParseStage(strings.TrimSpace(name))
		if err != nil {
			return req, core.ErrValidation(core.CodeUnknownStage, err.Error())
		}
		if req.Manual == nil {
			req.Manual = make(map[core.Stage]map[string]string, len(f.Manual))
		}
		req.Manual[stage] = result
	}
	return req, nil
}
