package core

import (
	"fmt"
	"time"
)

// HistoryEntry is one applied update in the store's append-only log.
type HistoryEntry struct {
	Seq       int           `json:"seq"`
	Stage     Stage         `json:"stage"`
	Iteration int           `json:"iteration"`
	Update    PartialUpdate `json:"update"`
	// Section is set when the entry marks Stage complete.
	Section bool      `json:"section,omitempty"`
	At      time.Time `json:"at"`
}

// RecordStore owns the PatientRecord of one run: the current snapshot plus an
// append-only history of every update applied to it.
// A store has a single writer and is not safe for concurrent use.
type RecordStore struct {
	current PatientRecord
	history []HistoryEntry
	now     func() time.Time
}

// NewRecordStore creates a store seeded with record.
func NewRecordStore(record PatientRecord) *RecordStore {
	return &RecordStore{
		current: record.Clone(),
		now:     time.Now,
	}
}

// Snapshot returns a read-only copy of the current record.
func (s *RecordStore) Snapshot() PatientRecord {
	return s.current.Clone()
}

// Apply merges an update produced by stage in the given iteration.
func (s *RecordStore) Apply(stage Stage, iteration int, u PartialUpdate) {
	s.current = s.current.Merge(stage, u)
	s.append(HistoryEntry{Stage: stage, Iteration: iteration, Update: u})
}

// RecordLoop appends a loop outcome to the process outline.
func (s *RecordStore) RecordLoop(outcome LoopOutcome) {
	s.current.ProcessOutline.LoopOutcomes = append(s.current.ProcessOutline.LoopOutcomes, outcome)
}

// MarkComplete appends stage to complete_sections. A section is never
// reopened or duplicated.
func (s *RecordStore) MarkComplete(stage Stage) error {
	if !ValidStage(stage) || stage == StageDone {
		return ErrState(CodeUnknownStage, fmt.Sprintf("cannot complete stage %q", stage))
	}
	if s.current.ProcessOutline.IsComplete(stage) {
		return ErrState(CodeSectionReopened, fmt.Sprintf("stage %s is already complete", stage))
	}
	s.current.ProcessOutline.CompleteSections = append(s.current.ProcessOutline.CompleteSections, stage)
	s.append(HistoryEntry{Stage: stage, Section: true})
	return nil
}

// History returns a copy of the applied updates in order.
func (s *RecordStore) History() []HistoryEntry {
	out := make([]HistoryEntry, len(s.history))
	copy(out, s.history)
	return out
}

func (s *RecordStore) append(e HistoryEntry) {
	e.Seq = len(s.history) + 1
	e.At = s.now()
	s.history = append(s.history, e)
}
