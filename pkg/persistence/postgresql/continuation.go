package postgresql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
)

// ContinuationRepository handles continuation database operations.
type ContinuationRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewContinuationRepository(db *sql.DB, logger *slog.Logger) *ContinuationRepository {
	return &ContinuationRepository{db: db, logger: logger}
}

const continuationColumns = `
	id
  , execution_id
  , workflow_id
  , delay_node_id
  , scheduled_for
  , attempts
  , last_error
  , status
  , created_at
  , updated_at
`

func (r *ContinuationRepository) Create(ctx context.Context, continuation *models.Continuation) error {
	query := `
		INSERT INTO continuations (id, execution_id, workflow_id, delay_node_id, scheduled_for, attempts, last_error, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		continuation.ID,
		continuation.ExecutionID,
		continuation.WorkflowID,
		continuation.DelayNodeID,
		continuation.ScheduledFor,
		continuation.Attempts,
		continuation.LastError,
		continuation.Status,
		continuation.CreatedAt,
		continuation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create continuation: %w", err)
	}

	return nil
}

func (r *ContinuationRepository) Update(ctx context.Context, continuation *models.Continuation) error {
	query := `
		UPDATE continuations SET
			scheduled_for = $2,
			attempts = $3,
			last_error = $4,
			status = $5,
			updated_at = $6
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		continuation.ID,
		continuation.ScheduledFor,
		continuation.Attempts,
		continuation.LastError,
		continuation.Status,
		continuation.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update continuation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrContinuationNotFound, continuation.ID)
	}

	return nil
}

func (r *ContinuationRepository) GetByID(ctx context.Context, id string) (*models.Continuation, error) {
	query := `SELECT` + continuationColumns + `FROM continuations WHERE id = $1`

	continuation, err := r.scanContinuation(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrContinuationNotFound, id)
		}

		return nil, fmt.Errorf("failed to scan continuation: %w", err)
	}

	return continuation, nil
}

// Due returns scheduled continuations whose scheduled_for has passed, oldest
// first.
func (r *ContinuationRepository) Due(ctx context.Context, now time.Time) ([]*models.Continuation, error) {
	query := `SELECT` + continuationColumns + `
		FROM continuations
		WHERE status = 'scheduled' AND scheduled_for <= $1
		ORDER BY scheduled_for ASC
	`

	rows, err := r.db.QueryContext(ctx, query, now)
	if err != nil {
		return nil, fmt.Errorf("failed to query due continuations: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	continuations := make([]*models.Continuation, 0)

	for rows.Next() {
		continuation, err := r.scanContinuation(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan continuation: %w", err)
		}

		continuations = append(continuations, continuation)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating continuations: %w", err)
	}

	return continuations, nil
}

// Claim transitions scheduled -> running. The conditional UPDATE makes it a
// compare-and-swap: exactly one concurrent claimer wins.
func (r *ContinuationRepository) Claim(ctx context.Context, id string) (bool, error) {
	query := `
		UPDATE continuations
		SET status = 'running', updated_at = NOW()
		WHERE id = $1 AND status = 'scheduled'
	`

	result, err := r.db.ExecContext(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("failed to claim continuation: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return affected == 1, nil
}

// RequeueStale returns running continuations whose claim went quiet back to
// scheduled, counting the lost claim as a failed attempt.
func (r *ContinuationRepository) RequeueStale(ctx context.Context, before time.Time) (int64, error) {
	query := `
		UPDATE continuations
		SET status = 'scheduled', attempts = attempts + 1, last_error = 'claim expired', updated_at = NOW()
		WHERE status = 'running' AND updated_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, before)
	if err != nil {
		return 0, fmt.Errorf("failed to requeue stale continuations: %w", err)
	}

	requeued, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return requeued, nil
}

// DeleteFinishedBefore removes executed/failed continuations older than
// cutoff.
func (r *ContinuationRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM continuations
		WHERE status IN ('executed', 'failed') AND updated_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete finished continuations: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return removed, nil
}

func (r *ContinuationRepository) scanContinuation(scanner interface {
	Scan(dest ...any) error
}) (*models.Continuation, error) {
	var continuation models.Continuation

	err := scanner.Scan(
		&continuation.ID,
		&continuation.ExecutionID,
		&continuation.WorkflowID,
		&continuation.DelayNodeID,
		&continuation.ScheduledFor,
		&continuation.Attempts,
		&continuation.LastError,
		&continuation.Status,
		&continuation.CreatedAt,
		&continuation.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	return &continuation, nil
}
