package services

import (
	"context"
	"fmt"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// ListExecutionsRequest filters the execution history listing.
type ListExecutionsRequest struct {
	WorkflowID string
	Status     string
	Limit      int
	Offset     int
}

// Execution serves execution run reads for the admin surface.
type Execution struct {
	persistence persistence.Persistence
}

func NewExecution(persistence persistence.Persistence) *Execution {
	return &Execution{
		persistence: persistence,
	}
}

// ListExecutions returns execution runs, newest first.
func (e *Execution) ListExecutions(ctx context.Context, req ListExecutionsRequest) ([]*models.ExecutionRun, error) {
	if req.Limit <= 0 || req.Limit > maxListLimit {
		req.Limit = defaultListLimit
	}

	if req.Offset < 0 {
		return nil, fmt.Errorf("%w: offset must not be negative", ErrInvalidRequest)
	}

	opts := persistence.ListExecutionsOptions{
		WorkflowID: req.WorkflowID,
		Limit:      req.Limit,
		Offset:     req.Offset,
	}

	if req.Status != "" {
		status := models.RunStatus(req.Status)

		switch status {
		case models.RunStatusPending, models.RunStatusRunning, models.RunStatusCompleted, models.RunStatusFailed:
			opts.Status = &status
		default:
			return nil, fmt.Errorf("%w: %q", ErrInvalidStatus, req.Status)
		}
	}

	return e.persistence.ExecutionRepository().List(ctx, opts)
}

// GetExecution returns one execution run.
func (e *Execution) GetExecution(ctx context.Context, id string) (*models.ExecutionRun, error) {
	return e.persistence.ExecutionRepository().GetByID(ctx, id)
}
