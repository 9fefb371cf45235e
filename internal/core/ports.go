package core

import (
	"context"
	"encoding/json"
	"time"
)

// =============================================================================
// Gateway Port
// =============================================================================

// Gateway is the sole boundary to a model provider.
// Implementations own timeouts and any retry policy; a timeout is a failure.
type Gateway interface {
	// Name returns the adapter identifier (e.g., "openai", "cli").
	Name() string

	// Invoke sends a prompt and returns the model's text.
	Invoke(ctx context.Context, req GatewayRequest) (*GatewayResponse, error)
}

// GatewayRequest is a single model call.
type GatewayRequest struct {
	Stage       Stage
	Task        string // Sub-task or judge name within the stage
	System      string
	Prompt      string
	SchemaHint  json.RawMessage // Advisory only, never enforced by the gateway
	Model       string
	Temperature float64
	MaxTokens   int
}

// GatewayResponse contains the output of a model call.
type GatewayResponse struct {
	Text      string
	Model     string
	TokensIn  int
	TokensOut int
	Duration  time.Duration
}

// =============================================================================
// Interviewer Port
// =============================================================================

// QuestionKind tells the interviewer what is being asked.
type QuestionKind string

const (
	QuestionInquiry     QuestionKind = "inquiry"
	QuestionDialectic   QuestionKind = "dialectic"
	QuestionExamination QuestionKind = "examination"
)

// Question is put to the human operator (patient or clinician) mid-stage.
type Question struct {
	Stage Stage
	Kind  QuestionKind
	Text  string
}

// Interviewer collects human answers. An empty answer means "no answer" and
// is never recorded.
type Interviewer interface {
	Ask(ctx context.Context, q Question) (string, error)
}

// =============================================================================
// Run Result and Report Ports
// =============================================================================

// RunID uniquely identifies a workflow run.
type RunID string

// RunStatus is the terminal status of a run.
type RunStatus string

const (
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// RunResult is what a run hands to report consumers.
type RunResult struct {
	RunID  RunID         `json:"run_id"`
	Status RunStatus     `json:"status"`
	Record PatientRecord `json:"record"`
	// FailedStage is the stage that was executing when the run failed.
	FailedStage Stage          `json:"failed_stage,omitempty"`
	Failure     string         `json:"failure,omitempty"`
	History     []HistoryEntry `json:"history"`
	Warnings    []string       `json:"warnings,omitempty"`
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
}

// ReportSink consumes the record of a finished run.
type ReportSink interface {
	Deliver(ctx context.Context, result *RunResult) error
}

// RunStore persists finished runs outside the core.
type RunStore interface {
	ReportSink
	Get(ctx context.Context, id RunID) (*RunResult, error)
	List(ctx context.Context) ([]RunSummary, error)
	Close() error
}

// RunSummary is a listing row for stored runs.
type RunSummary struct {
	RunID          RunID     `json:"run_id"`
	Status         RunStatus `json:"status"`
	ChiefComplaint string    `json:"main_complain"`
	Completed      []Stage   `json:"complete_sections"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
}

// Summarize builds a listing row from a full result.
func (r *RunResult) Summarize() RunSummary {
	return RunSummary{
		RunID:          r.RunID,
		Status:         r.Status,
		ChiefComplaint: r.Record.InitialInquiry.ChiefComplaint,
		Completed:      append([]Stage(nil), r.Record.ProcessOutline.CompleteSections...),
		StartedAt:      r.StartedAt,
		FinishedAt:     r.FinishedAt,
	}
}
