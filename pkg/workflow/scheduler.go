package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"

	"github.com/loanramp/mailflow/pkg/eventbus"
	"github.com/loanramp/mailflow/pkg/events"
	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
	"github.com/loanramp/mailflow/pkg/target"
)

// SweepResult summarizes one continuation sweep.
type SweepResult struct {
	Resumed int
	Failed  int
	Skipped int
}

// Scheduler resumes due continuations. Each continuation is claimed
// (scheduled -> running) before the interpreter is re-entered, so a sweep that
// double-selects a due continuation resumes it exactly once. Continuations are
// processed independently; one failure never aborts the sweep.
type Scheduler struct {
	persistence persistence.Persistence
	targets     target.Store
	executor    *Executor
	retry       RetryPolicy
	eventBus    eventbus.EventBus
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewScheduler(
	p persistence.Persistence,
	targets target.Store,
	executor *Executor,
	retry RetryPolicy,
	eventBus eventbus.EventBus,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Scheduler {
	return &Scheduler{
		persistence: p,
		targets:     targets,
		executor:    executor,
		retry:       retry,
		eventBus:    eventBus,
		clock:       clock,
		logger:      logger.With("module", "continuation_scheduler"),
	}
}

// SweepDueContinuations resumes every continuation whose scheduled_for has
// passed. Claims orphaned by a crashed sweep are requeued first, so a
// continuation stuck in running is retried instead of lost.
func (s *Scheduler) SweepDueContinuations(ctx context.Context) (SweepResult, error) {
	var result SweepResult

	now := s.clock.Now().UTC()

	requeued, err := s.persistence.ContinuationRepository().RequeueStale(ctx, now.Add(-s.retry.ClaimTimeout()))
	if err != nil {
		s.logger.ErrorContext(ctx, "Failed to requeue stale continuation claims", "error", err)
	} else if requeued > 0 {
		s.logger.WarnContext(ctx, "Requeued stale continuation claims", "count", requeued)
	}

	due, err := s.persistence.ContinuationRepository().Due(ctx, now)
	if err != nil {
		return result, fmt.Errorf("failed to query due continuations: %w", err)
	}

	if len(due) > 0 {
		s.logger.InfoContext(ctx, "Processing due continuations", "count", len(due))
	}

	for _, continuation := range due {
		s.processContinuation(ctx, continuation, &result)
	}

	return result, nil
}

func (s *Scheduler) processContinuation(ctx context.Context, continuation *models.Continuation, result *SweepResult) {
	logger := s.logger.With(
		"continuation_id", continuation.ID,
		"execution_id", continuation.ExecutionID,
		"delay_node_id", continuation.DelayNodeID)

	claimed, err := s.persistence.ContinuationRepository().Claim(ctx, continuation.ID)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to claim continuation", "error", err)
		result.Failed++

		return
	}

	if !claimed {
		// Another sweep got here first.
		result.Skipped++

		return
	}

	continuation.Status = models.ContinuationRunning

	run, err := s.persistence.ExecutionRepository().GetByID(ctx, continuation.ExecutionID)
	if err != nil {
		s.retryLater(ctx, continuation, nil, err, result)

		return
	}

	if run.Terminal() {
		// Nothing left to resume; the run was completed or failed elsewhere.
		logger.WarnContext(ctx, "Continuation points at a terminal run, discarding", "run_status", run.Status)
		s.finish(ctx, continuation, models.ContinuationExecuted, "")
		result.Skipped++

		return
	}

	wf, err := s.persistence.WorkflowRepository().GetByID(ctx, continuation.WorkflowID)
	if err != nil {
		s.retryLater(ctx, continuation, run, err, result)

		return
	}

	// Deactivation is checked at resume time, not schedule time: the delay
	// may span the deactivation event.
	if !wf.Active {
		logger.InfoContext(ctx, "Workflow deactivated, abandoning continuation")
		s.failRun(ctx, run, ErrWorkflowInactive)
		s.finish(ctx, continuation, models.ContinuationFailed, ErrWorkflowInactive.Error())
		result.Skipped++

		return
	}

	tgt, err := s.targets.Get(ctx, run.Target)
	if err != nil {
		s.retryLater(ctx, continuation, run, err, result)

		return
	}

	err = s.executor.Resume(ctx, wf, run, tgt, continuation.DelayNodeID)

	switch {
	case err == nil:
		s.finish(ctx, continuation, models.ContinuationExecuted, "")
		result.Resumed++
	case errors.Is(err, ErrNodeExecution):
		// The run is already failed with its pointer on the broken node.
		// Re-running non-idempotent side effects automatically is worse than
		// surfacing the failure.
		s.finish(ctx, continuation, models.ContinuationFailed, err.Error())
		result.Failed++
	case errors.Is(err, models.ErrInvalidGraph):
		// The definition was edited into an invalid shape while the run was
		// suspended. Permanent: retrying cannot repair the graph.
		logger.ErrorContext(ctx, "Workflow graph invalid at resume, abandoning continuation", "error", err)
		s.failRun(ctx, run, err)
		s.finish(ctx, continuation, models.ContinuationFailed, err.Error())
		result.Failed++
	default:
		s.retryLater(ctx, continuation, run, err, result)
	}
}

// retryLater reschedules the continuation after an infrastructure failure,
// bounded by the retry policy. Exhaustion fails both continuation and run.
func (s *Scheduler) retryLater(ctx context.Context, continuation *models.Continuation, run *models.ExecutionRun, cause error, result *SweepResult) {
	continuation.Attempts++
	continuation.LastError = cause.Error()

	logger := s.logger.With("continuation_id", continuation.ID, "attempts", continuation.Attempts)

	if s.retry.Exhausted(continuation.Attempts) {
		logger.ErrorContext(ctx, "Continuation retry bound exhausted", "error", cause)

		s.finish(ctx, continuation, models.ContinuationFailed, cause.Error())

		if run != nil {
			s.failRun(ctx, run, fmt.Errorf("%w: %w", ErrContinuationExhausted, cause))
		}

		s.publishExhausted(ctx, continuation, cause)
		result.Failed++

		return
	}

	logger.WarnContext(ctx, "Continuation resume failed, rescheduling", "error", cause)

	continuation.Status = models.ContinuationScheduled
	continuation.ScheduledFor = s.clock.Now().UTC().Add(s.retry.Backoff)
	continuation.UpdatedAt = s.clock.Now().UTC()

	if err := s.persistence.ContinuationRepository().Update(ctx, continuation); err != nil {
		logger.ErrorContext(ctx, "Failed to reschedule continuation", "error", err)
	}

	result.Failed++
}

func (s *Scheduler) finish(ctx context.Context, continuation *models.Continuation, status models.ContinuationStatus, lastError string) {
	continuation.Status = status

	if lastError != "" {
		continuation.LastError = lastError
	}

	continuation.UpdatedAt = s.clock.Now().UTC()

	if err := s.persistence.ContinuationRepository().Update(ctx, continuation); err != nil {
		s.logger.ErrorContext(ctx, "Failed to update continuation",
			"continuation_id", continuation.ID, "status", status, "error", err)
	}
}

func (s *Scheduler) failRun(ctx context.Context, run *models.ExecutionRun, cause error) {
	now := s.clock.Now().UTC()

	run.Status = models.RunStatusFailed
	run.LastError = cause.Error()
	run.CompletedAt = &now
	run.UpdatedAt = now

	if err := s.persistence.ExecutionRepository().Update(ctx, run); err != nil {
		s.logger.ErrorContext(ctx, "Failed to persist failed run", "execution_id", run.ID, "error", err)
	}
}

func (s *Scheduler) publishExhausted(ctx context.Context, continuation *models.Continuation, cause error) {
	if s.eventBus == nil {
		return
	}

	event := events.ContinuationExhausted{
		BaseEvent: events.BaseEvent{
			ID:         uuid.NewString(),
			Type:       events.ContinuationExhaustedEvent,
			Timestamp:  s.clock.Now().UTC(),
			WorkflowID: continuation.WorkflowID,
		},
		ExecutionID:    continuation.ExecutionID,
		ContinuationID: continuation.ID,
		Attempts:       continuation.Attempts,
		Error:          cause.Error(),
	}

	if err := s.eventBus.Publish(ctx, continuation.ExecutionID, event); err != nil {
		s.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}
