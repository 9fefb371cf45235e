package events

// Event types.
const (
	TypeRunStarted     = "run_started"
	TypeStageEntered   = "stage_entered"
	TypeLoopIteration  = "loop_iteration"
	TypeStageCompleted = "stage_completed"
	TypeRunCompleted   = "run_completed"
	TypeRunFailed      = "run_failed"
)

// RunStartedEvent is emitted once per run before the first stage.
type RunStartedEvent struct {
	BaseEvent
	Stages []string `json:"stages"`
}

// NewRunStartedEvent creates a run started event.
func NewRunStartedEvent(runID string, stages []string) RunStartedEvent {
	return RunStartedEvent{BaseEvent: NewBaseEvent(TypeRunStarted, runID), Stages: stages}
}

// StageEnteredEvent is emitted when a stage begins.
type StageEnteredEvent struct {
	BaseEvent
	Stage         string `json:"stage"`
	MaxIterations int    `json:"max_iterations"`
	Looped        bool   `json:"looped"`
	Manual        bool   `json:"manual,omitempty"`
}

// NewStageEnteredEvent creates a stage entered event.
func NewStageEnteredEvent(runID, stage string, maxIterations int, looped, manual bool) StageEnteredEvent {
	return StageEnteredEvent{
		BaseEvent:     NewBaseEvent(TypeStageEntered, runID),
		Stage:         stage,
		MaxIterations: maxIterations,
		Looped:        looped,
		Manual:        manual,
	}
}

// LoopIterationEvent is emitted after each loop iteration's predicate check.
type LoopIterationEvent struct {
	BaseEvent
	Stage         string `json:"stage"`
	Iteration     int    `json:"iteration"`
	MaxIterations int    `json:"max_iterations"`
	Satisfied     bool   `json:"satisfied"`
}

// NewLoopIterationEvent creates a loop iteration event.
func NewLoopIterationEvent(runID, stage string, iteration, maxIterations int, satisfied bool) LoopIterationEvent {
	return LoopIterationEvent{
		BaseEvent:     NewBaseEvent(TypeLoopIteration, runID),
		Stage:         stage,
		Iteration:     iteration,
		MaxIterations: maxIterations,
		Satisfied:     satisfied,
	}
}

// StageCompletedEvent is emitted after a stage's update is merged.
type StageCompletedEvent struct {
	BaseEvent
	Stage      string `json:"stage"`
	Iterations int    `json:"iterations"`
	Reason     string `json:"reason"`
	DurationMS int64  `json:"duration_ms"`
}

// NewStageCompletedEvent creates a stage completed event.
func NewStageCompletedEvent(runID, stage string, iterations int, reason string, durationMS int64) StageCompletedEvent {
	return StageCompletedEvent{
		BaseEvent:  NewBaseEvent(TypeStageCompleted, runID),
		Stage:      stage,
		Iterations: iterations,
		Reason:     reason,
		DurationMS: durationMS,
	}
}

// RunCompletedEvent is emitted when a run reaches done.
type RunCompletedEvent struct {
	BaseEvent
	Diagnosis []string `json:"diagnosis"`
	Warnings  []string `json:"warnings,omitempty"`
}

// NewRunCompletedEvent creates a run completed event.
func NewRunCompletedEvent(runID string, diagnosis, warnings []string) RunCompletedEvent {
	return RunCompletedEvent{
		BaseEvent: NewBaseEvent(TypeRunCompleted, runID),
		Diagnosis: diagnosis,
		Warnings:  warnings,
	}
}

// RunFailedEvent is emitted when a run aborts.
type RunFailedEvent struct {
	BaseEvent
	Stage    string `json:"stage,omitempty"`
	Category string `json:"category,omitempty"`
	Error    string `json:"error"`
}

// NewRunFailedEvent creates a run failed event.
func NewRunFailedEvent(runID, stage, category, errMsg string) RunFailedEvent {
	return RunFailedEvent{
		BaseEvent: NewBaseEvent(TypeRunFailed, runID),
		Stage:     stage,
		Category:  category,
		Error:     errMsg,
	}
}
