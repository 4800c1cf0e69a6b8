package workflow

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jonboulle/clockwork"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
	"github.com/loanramp/mailflow/pkg/target"
	"github.com/loanramp/mailflow/pkg/tracker"
)

// StuckSweeper drives the time-based triggers: stuck_at_status workflows fire
// for targets parked at a status beyond the threshold, time_delay workflows
// fire once for targets older than the threshold. Event-driven triggers are
// handled by TriggerService.
type StuckSweeper struct {
	persistence persistence.Persistence
	targets     target.Store
	tracker     *tracker.Tracker
	executor    *Executor
	clock       clockwork.Clock
	logger      *slog.Logger
}

func NewStuckSweeper(
	p persistence.Persistence,
	targets target.Store,
	trk *tracker.Tracker,
	executor *Executor,
	clock clockwork.Clock,
	logger *slog.Logger,
) *StuckSweeper {
	return &StuckSweeper{
		persistence: p,
		targets:     targets,
		tracker:     trk,
		executor:    executor,
		clock:       clock,
		logger:      logger.With("module", "stuck_sweeper"),
	}
}

// Sweep evaluates every active time-based workflow and returns how many
// executions it started. Workflows and targets are processed independently.
func (s *StuckSweeper) Sweep(ctx context.Context) (int, error) {
	workflows, err := s.persistence.WorkflowRepository().ActiveWorkflows(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active workflows: %w", err)
	}

	started := 0

	for _, wf := range workflows {
		if wf.TriggerType != models.TriggerStuckAtStatus && wf.TriggerType != models.TriggerTimeDelay {
			continue
		}

		count, err := s.sweepWorkflow(ctx, wf)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to sweep workflow", "workflow_id", wf.ID, "error", err)

			continue
		}

		started += count
	}

	return started, nil
}

func (s *StuckSweeper) sweepWorkflow(ctx context.Context, wf *models.Workflow) (int, error) {
	threshold, err := wf.StuckThreshold()
	if err != nil {
		return 0, err
	}

	cutoff := s.clock.Now().UTC().Add(-threshold)

	var (
		candidates []target.Target
		triggerKey string
	)

	switch wf.TriggerType {
	case models.TriggerStuckAtStatus:
		triggerKey = tracker.StuckKey(wf.TriggerConfig.StuckStatus, wf.TriggerConfig.Duration, wf.TriggerConfig.Unit)
		candidates, err = s.targets.FindStuck(ctx, wf.TargetType, wf.TriggerConfig.StuckStatus, cutoff)
	case models.TriggerTimeDelay:
		triggerKey = tracker.AgeKey(wf.TriggerConfig.Duration, wf.TriggerConfig.Unit)
		candidates, err = s.targets.FindCreatedBefore(ctx, wf.TargetType, cutoff)
	default:
		return 0, nil
	}

	if err != nil {
		return 0, fmt.Errorf("failed to find candidates for workflow %s: %w", wf.ID, err)
	}

	started := 0

	for _, tgt := range candidates {
		fired, err := fireWorkflow(ctx, s.tracker, s.executor, wf, tgt, triggerKey)
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to trigger workflow for target",
				"workflow_id", wf.ID, "target", tgt.Ref().String(), "trigger_key", triggerKey, "error", err)
		}

		if fired {
			started++
		}
	}

	if started > 0 {
		s.logger.InfoContext(ctx, "Stuck sweep triggered executions",
			"workflow_id", wf.ID, "trigger_key", triggerKey, "started", started)
	}

	return started, nil
}

// fireWorkflow runs the shared trigger pipeline: dedup check, start, record.
// Returns whether an execution run was actually created. A run that fails on a
// node still counts as fired and, unless retry_on_failure is set, still leaves
// a tracker entry so the same condition does not hot-loop.
func fireWorkflow(ctx context.Context, trk *tracker.Tracker, executor *Executor, wf *models.Workflow, tgt target.Target, triggerKey string) (bool, error) {
	runOnce := wf.TriggerConfig.RunOnce

	already, err := trk.AlreadyExecuted(ctx, wf.ID, tgt.Ref(), triggerKey, runOnce)
	if err != nil {
		return false, err
	}

	if already {
		return false, nil
	}

	triggerData := map[string]any{
		"trigger_type": string(wf.TriggerType),
		"trigger_key":  triggerKey,
	}

	run, runErr := executor.Start(ctx, wf, tgt, triggerData)

	if persistence.IsRunConflict(runErr) {
		// A non-terminal run for this pair is already in flight. Leave no
		// tracker entry; the other run's outcome decides.
		return false, nil
	}

	if run == nil {
		return false, runErr
	}

	if runErr != nil && wf.TriggerConfig.RetryOnFailure {
		return true, runErr
	}

	err = trk.RecordExecution(ctx, wf, tgt.Ref(), triggerKey, runOnce)
	if err != nil && !errors.Is(err, persistence.ErrDuplicateExecution) {
		return true, fmt.Errorf("execution %s started but tracker record failed: %w", run.ID, err)
	}

	return true, runErr
}
