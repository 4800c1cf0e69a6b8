package postgresql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
)

// ExecutionRepository handles execution run database operations.
type ExecutionRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewExecutionRepository(db *sql.DB, logger *slog.Logger) *ExecutionRepository {
	return &ExecutionRepository{db: db, logger: logger}
}

const executionColumns = `
	id
  , workflow_id
  , target_type
  , target_id
  , status
  , current_node_id
  , context
  , last_error
  , started_at
  , completed_at
  , updated_at
`

// Create inserts a run. The partial unique index on non-terminal runs turns a
// concurrent insert for the same (workflow, target) pair into ErrRunConflict.
func (r *ExecutionRepository) Create(ctx context.Context, run *models.ExecutionRun) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal run context: %w", err)
	}

	query := `
		INSERT INTO executions (id, workflow_id, target_type, target_id, status, current_node_id, context, last_error, started_at, completed_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	_, err = r.db.ExecContext(ctx, query,
		run.ID,
		run.WorkflowID,
		run.Target.Type,
		run.Target.ID,
		run.Status,
		run.CurrentNodeID,
		contextJSON,
		run.LastError,
		run.StartedAt,
		run.CompletedAt,
		run.UpdatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: workflow %s target %s", persistence.ErrRunConflict, run.WorkflowID, run.Target)
		}

		return fmt.Errorf("failed to create execution: %w", err)
	}

	return nil
}

func (r *ExecutionRepository) Update(ctx context.Context, run *models.ExecutionRun) error {
	contextJSON, err := json.Marshal(run.Context)
	if err != nil {
		return fmt.Errorf("failed to marshal run context: %w", err)
	}

	query := `
		UPDATE executions SET
			status = $2,
			current_node_id = $3,
			context = $4,
			last_error = $5,
			completed_at = $6,
			updated_at = $7
		WHERE id = $1
	`

	result, err := r.db.ExecContext(ctx, query,
		run.ID,
		run.Status,
		run.CurrentNodeID,
		contextJSON,
		run.LastError,
		run.CompletedAt,
		run.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 0 {
		return fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, run.ID)
	}

	return nil
}

func (r *ExecutionRepository) GetByID(ctx context.Context, id string) (*models.ExecutionRun, error) {
	query := `SELECT` + executionColumns + `FROM executions WHERE id = $1`

	run, err := r.scanExecution(r.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, id)
		}

		return nil, fmt.Errorf("failed to scan execution: %w", err)
	}

	return run, nil
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.ExecutionRun, error) {
	query := `SELECT` + executionColumns + `FROM executions WHERE 1=1`

	args := make([]any, 0, 4)

	if opts.WorkflowID != "" {
		args = append(args, opts.WorkflowID)
		query += fmt.Sprintf(" AND workflow_id = $%d", len(args))
	}

	if opts.Status != nil {
		args = append(args, *opts.Status)
		query += fmt.Sprintf(" AND status = $%d", len(args))
	}

	query += " ORDER BY started_at DESC"

	if opts.Limit > 0 {
		args = append(args, opts.Limit)
		query += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	if opts.Offset > 0 {
		args = append(args, opts.Offset)
		query += fmt.Sprintf(" OFFSET $%d", len(args))
	}

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query executions: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	runs := make([]*models.ExecutionRun, 0)

	for rows.Next() {
		run, err := r.scanExecution(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan execution: %w", err)
		}

		runs = append(runs, run)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating executions: %w", err)
	}

	return runs, nil
}

// DeleteTerminalBefore removes completed/failed runs finished before cutoff.
func (r *ExecutionRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		DELETE FROM executions
		WHERE status IN ('completed', 'failed') AND completed_at < $1
	`

	result, err := r.db.ExecContext(ctx, query, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to delete terminal executions: %w", err)
	}

	removed, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}

	return removed, nil
}

func (r *ExecutionRepository) scanExecution(scanner interface {
	Scan(dest ...any) error
}) (*models.ExecutionRun, error) {
	var (
		run         models.ExecutionRun
		contextJSON []byte
	)

	err := scanner.Scan(
		&run.ID,
		&run.WorkflowID,
		&run.Target.Type,
		&run.Target.ID,
		&run.Status,
		&run.CurrentNodeID,
		&contextJSON,
		&run.LastError,
		&run.StartedAt,
		&run.CompletedAt,
		&run.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if contextJSON != nil {
		err := json.Unmarshal(contextJSON, &run.Context)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal run context: %w", err)
		}
	}

	if run.Context == nil {
		run.Context = make(map[string]any)
	}

	return &run, nil
}
