package workflow

import (
	"context"
	"fmt"

	"github.com/hugo-lorenzo-mato/rehab-flow/internal/core"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/events"
	"github.com/hugo-lorenzo-mato/rehab-flow/internal/logging"
)

// LoopResult is what driving one stage produced. Nothing in it has been
// committed to the record store yet.
type LoopResult struct {
	// Record is the working snapshot with every iteration's update merged.
	Record core.PatientRecord
	// Updates holds one update per completed iteration, in order.
	Updates    []core.PartialUpdate
	Iterations int
	Reason     core.TerminalReason
	Last       *StageOutcome
}

// LoopController repeats a stage until its predicate holds or the iteration
// cap is reached.
type LoopController struct {
	executor StageExecutor
	notifier Notifier
	logger   *logging.Logger
	runID    string
}

// NewLoopController creates a controller for one run.
func NewLoopController(executor StageExecutor, notifier Notifier, logger *logging.Logger, runID string) *LoopController {
	if notifier == nil {
		notifier = NopNotifier{}
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &LoopController{executor: executor, notifier: notifier, logger: logger, runID: runID}
}

// Drive runs stage from initial. A nil predicate runs the stage exactly once
// and reports single_pass. Otherwise the predicate is evaluated once per
// iteration, at most cfg.MaxIterations times, and the loop ends satisfied or
// exhausted. Exhaustion is not an error.
//
// On failure the returned result carries the failure reason and the updates
// of the iterations completed before it; callers must not commit them.
func (c *LoopController) Drive(ctx context.Context, stage core.Stage, initial core.PatientRecord, pred Predicate, cfg StageConfig) (*LoopResult, error) {
	result := &LoopResult{Record: initial.Clone()}

	if pred == nil {
		cfg.Iteration = 1
		outcome, err := c.executor.Run(ctx, stage, result.Record.Clone(), cfg)
		if err != nil {
			result.Reason = failureReason(err)
			return result, err
		}
		c.merge(result, stage, outcome)
		result.Reason = core.ReasonSinglePass
		return result, nil
	}

	if cfg.MaxIterations < 1 {
		return result, core.ErrValidation(core.CodeInvalidIterations,
			fmt.Sprintf("%s: max_iterations must be a positive integer, got %d", stage, cfg.MaxIterations))
	}

	for i := 1; i <= cfg.MaxIterations; i++ {
		cfg.Iteration = i
		outcome, err := c.executor.Run(ctx, stage, result.Record.Clone(), cfg)
		if err != nil {
			result.Reason = failureReason(err)
			return result, err
		}
		c.merge(result, stage, outcome)

		satisfied, err := pred.Evaluate(ctx, PredicateInput{
			Stage:     stage,
			Record:    result.Record.Clone(),
			Outcome:   outcome,
			Iteration: i,
		})
		if err != nil {
			result.Reason = failureReason(err)
			return result, err
		}

		c.logger.Debug("loop iteration",
			"run_id", c.runID,
			"stage", stage,
			"iteration", i,
			"max_iterations", cfg.MaxIterations,
			"predicate", pred.Name(),
			"satisfied", satisfied,
		)
		c.notifier.Publish(events.NewLoopIterationEvent(c.runID, string(stage), i, cfg.MaxIterations, satisfied))

		if satisfied {
			result.Reason = core.ReasonSatisfied
			return result, nil
		}
	}

	result.Reason = core.ReasonExhausted
	return result, nil
}

func (c *LoopController) merge(result *LoopResult, stage core.Stage, outcome *StageOutcome) {
	result.Record = result.Record.Merge(stage, outcome.Update)
	result.Updates = append(result.Updates, outcome.Update)
	result.Iterations++
	result.Last = outcome
}

func failureReason(err error) core.TerminalReason {
	if core.IsCategory(err, core.ErrCatGateway) {
		return core.ReasonGatewayFailure
	}
	return core.ReasonStageFailure
}
