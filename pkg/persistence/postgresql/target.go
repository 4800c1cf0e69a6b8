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
	"github.com/loanramp/mailflow/pkg/target"
)

// TargetRepository reads applications and contracts and applies the status
// updates issued by update_status nodes.
type TargetRepository struct {
	db     *sql.DB
	logger *slog.Logger
}

func NewTargetRepository(db *sql.DB, logger *slog.Logger) *TargetRepository {
	return &TargetRepository{db: db, logger: logger}
}

func tableFor(targetType models.TargetType) (string, error) {
	switch targetType {
	case models.TargetTypeApplication:
		return "applications", nil
	case models.TargetTypeContract:
		return "contracts", nil
	default:
		return "", fmt.Errorf("unknown target type %q", targetType)
	}
}

func (r *TargetRepository) Get(ctx context.Context, ref models.TargetRef) (target.Target, error) {
	table, err := tableFor(ref.Type)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, email, status, attributes, created_at, updated_at
		FROM %s
		WHERE id = $1
	`, table)

	record, err := r.scanTarget(ref.Type, r.db.QueryRowContext(ctx, query, ref.ID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrTargetNotFound, ref)
		}

		return nil, fmt.Errorf("failed to scan target: %w", err)
	}

	return record, nil
}

func (r *TargetRepository) FindStuck(ctx context.Context, targetType models.TargetType, status string, updatedBefore time.Time) ([]target.Target, error) {
	table, err := tableFor(targetType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, email, status, attributes, created_at, updated_at
		FROM %s
		WHERE status = $1 AND updated_at <= $2
		ORDER BY updated_at ASC
	`, table)

	return r.queryTargets(ctx, targetType, query, status, updatedBefore)
}

func (r *TargetRepository) FindCreatedBefore(ctx context.Context, targetType models.TargetType, createdBefore time.Time) ([]target.Target, error) {
	table, err := tableFor(targetType)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf(`
		SELECT id, email, status, attributes, created_at, updated_at
		FROM %s
		WHERE created_at <= $1
		ORDER BY created_at ASC
	`, table)

	return r.queryTargets(ctx, targetType, query, createdBefore)
}

// UpdateStatus sets the target's status. With a non-empty expectedStatus the
// UPDATE is conditional; losing the condition surfaces ErrStatusConflict.
func (r *TargetRepository) UpdateStatus(ctx context.Context, ref models.TargetRef, newStatus, expectedStatus string) error {
	table, err := tableFor(ref.Type)
	if err != nil {
		return err
	}

	var (
		result sql.Result
		query  string
	)

	if expectedStatus == "" {
		query = fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = NOW() WHERE id = $1`, table)
		result, err = r.db.ExecContext(ctx, query, ref.ID, newStatus)
	} else {
		query = fmt.Sprintf(`UPDATE %s SET status = $2, updated_at = NOW() WHERE id = $1 AND status = $3`, table)
		result, err = r.db.ExecContext(ctx, query, ref.ID, newStatus, expectedStatus)
	}

	if err != nil {
		return fmt.Errorf("failed to update target status: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}

	if affected == 1 {
		return nil
	}

	// Distinguish a missing row from a lost optimistic check.
	if _, err := r.Get(ctx, ref); err != nil {
		return err
	}

	return fmt.Errorf("%w: %s expected status %q", persistence.ErrStatusConflict, ref, expectedStatus)
}

func (r *TargetRepository) queryTargets(ctx context.Context, targetType models.TargetType, query string, args ...any) ([]target.Target, error) {
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query targets: %w", err)
	}

	defer func() {
		err := rows.Close()
		if err != nil {
			r.logger.ErrorContext(ctx, "failed to close rows", "error", err)
		}
	}()

	targets := make([]target.Target, 0)

	for rows.Next() {
		record, err := r.scanTarget(targetType, rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan target: %w", err)
		}

		targets = append(targets, record)
	}

	err = rows.Err()
	if err != nil {
		return nil, fmt.Errorf("error iterating targets: %w", err)
	}

	return targets, nil
}

func (r *TargetRepository) scanTarget(targetType models.TargetType, scanner interface {
	Scan(dest ...any) error
}) (target.Target, error) {
	var (
		id, email, status    string
		attributesJSON       []byte
		createdAt, updatedAt time.Time
	)

	err := scanner.Scan(&id, &email, &status, &attributesJSON, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	var attrs map[string]any

	if attributesJSON != nil {
		err := json.Unmarshal(attributesJSON, &attrs)
		if err != nil {
			return nil, fmt.Errorf("failed to unmarshal target attributes: %w", err)
		}
	}

	ref := models.TargetRef{Type: targetType, ID: id}

	return target.NewRecord(ref, status, email, createdAt, updatedAt, attrs), nil
}

var _ target.Store = (*TargetRepository)(nil)
