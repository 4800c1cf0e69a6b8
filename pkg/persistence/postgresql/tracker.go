package postgresql

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
)

// TrackerRepository handles execution tracker database operations.
type TrackerRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTrackerRepository(db *sql.DB, logger *slog.Logger) *TrackerRepository {
	return &TrackerRepository{db: db, logger: logger}
}

// Insert records a firing condition as handled. The unique index on
// (workflow, target, trigger key) turns a concurrent insert into
// ErrDuplicateExecution.
func (r *TrackerRepository) Insert(ctx context.Context, entry *models.TrackerEntry) error {
	query := `
		INSERT INTO execution_trackers (id, workflow_id, target_type, target_id, trigger_type, trigger_key, run_once, executed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.db.ExecContext(ctx, query,
		entry.ID,
		entry.WorkflowID,
		entry.Target.Type,
		entry.Target.ID,
		entry.TriggerType,
		entry.TriggerKey,
		entry.RunOnce,
		entry.ExecutedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: workflow %s target %s key %s",
				persistence.ErrDuplicateExecution, entry.WorkflowID, entry.Target, entry.TriggerKey)
		}

		return fmt.Errorf("failed to insert tracker entry: %w", err)
	}

	return nil
}

func (r *TrackerRepository) Exists(ctx context.Context, workflowID string, ref models.TargetRef, triggerKey string) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM execution_trackers
			WHERE workflow_id = $1 AND target_type = $2 AND target_id = $3 AND trigger_key = $4
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, workflowID, ref.Type, ref.ID, triggerKey).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query tracker entry: %w", err)
	}

	return exists, nil
}

func (r *TrackerRepository) ExistsAny(ctx context.Context, workflowID string, ref models.TargetRef) (bool, error) {
	query := `
		SELECT EXISTS (
			SELECT 1 FROM execution_trackers
			WHERE workflow_id = $1 AND target_type = $2 AND target_id = $3
		)
	`

	var exists bool

	err := r.db.QueryRowContext(ctx, query, workflowID, ref.Type, ref.ID).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to query tracker entries: %w", err)
	}

	return exists, nil
}

// DeleteOlderThan prunes expired non-run-once entries. Run-once entries never
// expire.
func (r *TrackerRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM execution_trackers
		WHERE run_once = false AND executed_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete tracker entries: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return removed, nil
}

var _ persistence.TrackerRepository = (*TrackerRepository)(nil)
