// Package persistence provides the data storage abstraction layer for the
// workflow engine: definitions, execution runs, continuations, tracker
// entries, and read/status access to target entities.
package persistence

import (
	"context"
	"time"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/target"
)

type Persistence interface {
	WorkflowRepository() WorkflowRepository
	ExecutionRepository() ExecutionRepository
	ContinuationRepository() ContinuationRepository
	TrackerRepository() TrackerRepository
	TargetRepository() target.Store

	HealthCheck(ctx context.Context) error
	Close(ctx context.Context) error
}

// WorkflowRepository reads workflow definitions. Authoring happens outside
// the engine; Save/Delete exist for that surface and for tests.
type WorkflowRepository interface {
	Workflows(ctx context.Context) ([]*models.Workflow, error)
	ActiveWorkflows(ctx context.Context) ([]*models.Workflow, error)
	GetByID(ctx context.Context, id string) (*models.Workflow, error)
	Save(ctx context.Context, workflow *models.Workflow) error
	Delete(ctx context.Context, id string) error
}

// ListExecutionsOptions filters execution listings for the admin surface.
type ListExecutionsOptions struct {
	WorkflowID string
	Status     *models.RunStatus
	Limit      int
	Offset     int
}

// ExecutionRepository stores execution runs. Create must fail with
// ErrRunConflict when a non-terminal run already exists for the same
// (workflow, target) pair.
type ExecutionRepository interface {
	Create(ctx context.Context, run *models.ExecutionRun) error
	Update(ctx context.Context, run *models.ExecutionRun) error
	GetByID(ctx context.Context, id string) (*models.ExecutionRun, error)
	List(ctx context.Context, opts ListExecutionsOptions) ([]*models.ExecutionRun, error)

	// DeleteTerminalBefore removes completed/failed runs whose completion is
	// older than cutoff, returning the number removed.
	DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// ContinuationRepository stores scheduled continuations.
type ContinuationRepository interface {
	Create(ctx context.Context, continuation *models.Continuation) error
	Update(ctx context.Context, continuation *models.Continuation) error
	GetByID(ctx context.Context, id string) (*models.Continuation, error)

	// Due returns continuations with status=scheduled and scheduled_for <= now.
	Due(ctx context.Context, now time.Time) ([]*models.Continuation, error)

	// Claim transitions a continuation from scheduled to running. It returns
	// false when the continuation was already claimed, which makes sweep
	// re-entry idempotent.
	Claim(ctx context.Context, id string) (bool, error)

	// RequeueStale returns running continuations not updated since before to
	// scheduled, counting the lost claim as a failed attempt. This recovers
	// claims orphaned by a crashed sweep.
	RequeueStale(ctx context.Context, before time.Time) (int64, error)

	// DeleteFinishedBefore removes executed/failed continuations older than
	// cutoff, returning the number removed.
	DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error)
}

// TrackerRepository stores execution tracker entries. Insert must fail with
// ErrDuplicateExecution on a (workflow, target, trigger key) collision.
type TrackerRepository interface {
	Insert(ctx context.Context, entry *models.TrackerEntry) error
	Exists(ctx context.Context, workflowID string, ref models.TargetRef, triggerKey string) (bool, error)

	// ExistsAny reports whether any entry exists for the pair regardless of
	// trigger key. This is the run_once check.
	ExistsAny(ctx context.Context, workflowID string, ref models.TargetRef) (bool, error)

	// DeleteOlderThan removes entries with run_once=false executed before
	// cutoff. Run-once entries are kept forever: their dedup guarantee has no
	// expiry.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}
