package file

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
)

// TrackerRepository stores tracker entries as one JSON file each under
// <root>/trackers, named by entry ID. Uniqueness is enforced by an exists
// check under the shared lock.
type TrackerRepository struct {
	root string
	mu   *sync.Mutex
}

func (r *TrackerRepository) dir() string {
	return filepath.Join(r.root, "trackers")
}

func (r *TrackerRepository) Insert(ctx context.Context, entry *models.TrackerEntry) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	exists, err := r.exists(ctx, entry.WorkflowID, entry.Target, entry.TriggerKey)
	if err != nil {
		return err
	}

	if exists {
		return fmt.Errorf("%w: workflow %s target %s key %s",
			persistence.ErrDuplicateExecution, entry.WorkflowID, entry.Target, entry.TriggerKey)
	}

	return writeDocument(r.dir(), entry.ID, entry)
}

func (r *TrackerRepository) Exists(ctx context.Context, workflowID string, ref models.TargetRef, triggerKey string) (bool, error) {
	return r.exists(ctx, workflowID, ref, triggerKey)
}

func (r *TrackerRepository) ExistsAny(ctx context.Context, workflowID string, ref models.TargetRef) (bool, error) {
	entries, err := r.list(ctx)
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if entry.WorkflowID == workflowID && entry.Target == ref {
			return true, nil
		}
	}

	return false, nil
}

func (r *TrackerRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	entries, err := r.list(ctx)
	if err != nil {
		return 0, err
	}

	var removed int64

	for _, entry := range entries {
		if entry.RunOnce || !entry.ExecutedAt.Before(cutoff) {
			continue
		}

		if err := removeDocument(r.dir(), entry.ID); err != nil {
			return removed, err
		}

		removed++
	}

	return removed, nil
}

func (r *TrackerRepository) exists(ctx context.Context, workflowID string, ref models.TargetRef, triggerKey string) (bool, error) {
	entries, err := r.list(ctx)
	if err != nil {
		return false, err
	}

	for _, entry := range entries {
		if entry.WorkflowID == workflowID && entry.Target == ref && entry.TriggerKey == triggerKey {
			return true, nil
		}
	}

	return false, nil
}

func (r *TrackerRepository) list(_ context.Context) ([]*models.TrackerEntry, error) {
	ids, err := listDocumentIDs(r.dir())
	if err != nil {
		return nil, err
	}

	entries := make([]*models.TrackerEntry, 0, len(ids))

	for _, id := range ids {
		var entry models.TrackerEntry

		err := readDocument(r.dir(), id, &entry)
		if err != nil {
			return nil, fmt.Errorf("failed to load tracker entry %s: %w", id, err)
		}

		entries = append(entries, &entry)
	}

	return entries, nil
}
