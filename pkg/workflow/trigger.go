package workflow

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
	"github.com/loanramp/mailflow/pkg/target"
	"github.com/loanramp/mailflow/pkg/tracker"
)

// TriggerService handles the event-driven triggers: entity_created and
// status_changed. Callers invoke it from whatever delivers the domain events
// (an API hook, a bus consumer); it matches active workflows to the event and
// starts executions through the shared trigger pipeline.
type TriggerService struct {
	persistence persistence.Persistence
	tracker     *tracker.Tracker
	executor    *Executor
	logger      *slog.Logger
}

func NewTriggerService(
	p persistence.Persistence,
	trk *tracker.Tracker,
	executor *Executor,
	logger *slog.Logger,
) *TriggerService {
	return &TriggerService{
		persistence: p,
		tracker:     trk,
		executor:    executor,
		logger:      logger.With("module", "trigger_service"),
	}
}

// HandleEntityCreated fires every active entity_created workflow for the new
// target and returns how many executions started.
func (t *TriggerService) HandleEntityCreated(ctx context.Context, tgt target.Target) (int, error) {
	return t.dispatch(ctx, tgt, func(wf *models.Workflow) (string, bool) {
		if wf.TriggerType != models.TriggerEntityCreated {
			return "", false
		}

		return tracker.EntityCreatedKey(), true
	})
}

// HandleStatusChanged fires every active status_changed workflow whose config
// matches the transition. An empty from_status in the config matches any
// previous status.
func (t *TriggerService) HandleStatusChanged(ctx context.Context, tgt target.Target, fromStatus, toStatus string) (int, error) {
	return t.dispatch(ctx, tgt, func(wf *models.Workflow) (string, bool) {
		if wf.TriggerType != models.TriggerStatusChanged {
			return "", false
		}

		cfg := wf.TriggerConfig
		if cfg.ToStatus != toStatus {
			return "", false
		}

		if cfg.FromStatus != "" && cfg.FromStatus != fromStatus {
			return "", false
		}

		return tracker.StatusChangedKey(cfg.FromStatus, cfg.ToStatus), true
	})
}

// dispatch runs every matching active workflow against the target. Workflows
// are processed independently; the first error is returned after all have been
// attempted.
func (t *TriggerService) dispatch(ctx context.Context, tgt target.Target, match func(*models.Workflow) (string, bool)) (int, error) {
	workflows, err := t.persistence.WorkflowRepository().ActiveWorkflows(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to list active workflows: %w", err)
	}

	started := 0

	var firstErr error

	for _, wf := range workflows {
		if wf.TargetType != tgt.Ref().Type {
			continue
		}

		triggerKey, ok := match(wf)
		if !ok {
			continue
		}

		fired, err := fireWorkflow(ctx, t.tracker, t.executor, wf, tgt, triggerKey)
		if err != nil {
			t.logger.ErrorContext(ctx, "Failed to trigger workflow for target",
				"workflow_id", wf.ID, "target", tgt.Ref().String(), "trigger_key", triggerKey, "error", err)

			if firstErr == nil {
				firstErr = err
			}
		}

		if fired {
			started++
		}
	}

	return started, firstErr
}
