package file

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
)

// ExecutionRepository stores execution runs as one JSON file each under
// <root>/executions.
type ExecutionRepository struct {
	root string
	mu   *sync.Mutex
}

func (r *ExecutionRepository) dir() string {
	return filepath.Join(r.root, "executions")
}

// Create inserts a run after checking no non-terminal run exists for the same
// (workflow, target) pair. The check-then-write runs under the shared lock.
func (r *ExecutionRepository) Create(ctx context.Context, run *models.ExecutionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	existing, err := r.list(ctx)
	if err != nil {
		return err
	}

	for _, other := range existing {
		if other.WorkflowID == run.WorkflowID && other.Target == run.Target && !other.Terminal() {
			return fmt.Errorf("%w: workflow %s target %s", persistence.ErrRunConflict, run.WorkflowID, run.Target)
		}
	}

	return writeDocument(r.dir(), run.ID, run)
}

func (r *ExecutionRepository) Update(_ context.Context, run *models.ExecutionRun) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(filepath.Join(r.dir(), run.ID+".json")); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, run.ID)
	}

	return writeDocument(r.dir(), run.ID, run)
}

func (r *ExecutionRepository) GetByID(_ context.Context, id string) (*models.ExecutionRun, error) {
	var run models.ExecutionRun

	err := readDocument(r.dir(), id, &run)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrExecutionNotFound, id)
		}

		return nil, err
	}

	if run.Context == nil {
		run.Context = make(map[string]any)
	}

	return &run, nil
}

func (r *ExecutionRepository) List(ctx context.Context, opts persistence.ListExecutionsOptions) ([]*models.ExecutionRun, error) {
	runs, err := r.list(ctx)
	if err != nil {
		return nil, err
	}

	filtered := make([]*models.ExecutionRun, 0, len(runs))

	for _, run := range runs {
		if opts.WorkflowID != "" && run.WorkflowID != opts.WorkflowID {
			continue
		}

		if opts.Status != nil && run.Status != *opts.Status {
			continue
		}

		filtered = append(filtered, run)
	}

	sort.Slice(filtered, func(i, j int) bool {
		return filtered[i].StartedAt.After(filtered[j].StartedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(filtered) {
			return []*models.ExecutionRun{}, nil
		}

		filtered = filtered[opts.Offset:]
	}

	if opts.Limit > 0 && opts.Limit < len(filtered) {
		filtered = filtered[:opts.Limit]
	}

	return filtered, nil
}

func (r *ExecutionRepository) DeleteTerminalBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	runs, err := r.list(ctx)
	if err != nil {
		return 0, err
	}

	var removed int64

	for _, run := range runs {
		if !run.Terminal() || run.CompletedAt == nil || !run.CompletedAt.Before(cutoff) {
			continue
		}

		if err := removeDocument(r.dir(), run.ID); err != nil {
			return removed, err
		}

		removed++
	}

	return removed, nil
}

func (r *ExecutionRepository) list(ctx context.Context) ([]*models.ExecutionRun, error) {
	ids, err := listDocumentIDs(r.dir())
	if err != nil {
		return nil, err
	}

	runs := make([]*models.ExecutionRun, 0, len(ids))

	for _, id := range ids {
		run, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load execution %s: %w", id, err)
		}

		runs = append(runs, run)
	}

	return runs, nil
}
