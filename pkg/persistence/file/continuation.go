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

// ContinuationRepository stores continuations as one JSON file each under
// <root>/continuations.
type ContinuationRepository struct {
	root string
	mu   *sync.Mutex
}

func (r *ContinuationRepository) dir() string {
	return filepath.Join(r.root, "continuations")
}

func (r *ContinuationRepository) Create(_ context.Context, continuation *models.Continuation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	return writeDocument(r.dir(), continuation.ID, continuation)
}

func (r *ContinuationRepository) Update(_ context.Context, continuation *models.Continuation) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, err := os.Stat(filepath.Join(r.dir(), continuation.ID+".json")); os.IsNotExist(err) {
		return fmt.Errorf("%w: %s", persistence.ErrContinuationNotFound, continuation.ID)
	}

	return writeDocument(r.dir(), continuation.ID, continuation)
}

func (r *ContinuationRepository) GetByID(_ context.Context, id string) (*models.Continuation, error) {
	var continuation models.Continuation

	err := readDocument(r.dir(), id, &continuation)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", persistence.ErrContinuationNotFound, id)
		}

		return nil, err
	}

	return &continuation, nil
}

func (r *ContinuationRepository) Due(ctx context.Context, now time.Time) ([]*models.Continuation, error) {
	continuations, err := r.list(ctx)
	if err != nil {
		return nil, err
	}

	due := make([]*models.Continuation, 0, len(continuations))

	for _, continuation := range continuations {
		if continuation.Status == models.ContinuationScheduled && !continuation.ScheduledFor.After(now) {
			due = append(due, continuation)
		}
	}

	sort.Slice(due, func(i, j int) bool {
		return due[i].ScheduledFor.Before(due[j].ScheduledFor)
	})

	return due, nil
}

// Claim transitions scheduled -> running under the shared lock.
func (r *ContinuationRepository) Claim(ctx context.Context, id string) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	continuation, err := r.GetByID(ctx, id)
	if err != nil {
		return false, err
	}

	if continuation.Status != models.ContinuationScheduled {
		return false, nil
	}

	continuation.Status = models.ContinuationRunning
	continuation.UpdatedAt = time.Now().UTC()

	err = writeDocument(r.dir(), continuation.ID, continuation)
	if err != nil {
		return false, err
	}

	return true, nil
}

// RequeueStale flips running continuations whose claim went quiet back to
// scheduled. The lost claim counts as a failed attempt.
func (r *ContinuationRepository) RequeueStale(ctx context.Context, before time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	continuations, err := r.list(ctx)
	if err != nil {
		return 0, err
	}

	var requeued int64

	for _, continuation := range continuations {
		if continuation.Status != models.ContinuationRunning || continuation.UpdatedAt.After(before) {
			continue
		}

		continuation.Status = models.ContinuationScheduled
		continuation.Attempts++
		continuation.LastError = "claim expired"
		continuation.UpdatedAt = time.Now().UTC()

		if err := writeDocument(r.dir(), continuation.ID, continuation); err != nil {
			return requeued, err
		}

		requeued++
	}

	return requeued, nil
}

func (r *ContinuationRepository) DeleteFinishedBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	continuations, err := r.list(ctx)
	if err != nil {
		return 0, err
	}

	var removed int64

	for _, continuation := range continuations {
		finished := continuation.Status == models.ContinuationExecuted || continuation.Status == models.ContinuationFailed
		if !finished || !continuation.UpdatedAt.Before(cutoff) {
			continue
		}

		if err := removeDocument(r.dir(), continuation.ID); err != nil {
			return removed, err
		}

		removed++
	}

	return removed, nil
}

func (r *ContinuationRepository) list(ctx context.Context) ([]*models.Continuation, error) {
	ids, err := listDocumentIDs(r.dir())
	if err != nil {
		return nil, err
	}

	continuations := make([]*models.Continuation, 0, len(ids))

	for _, id := range ids {
		continuation, err := r.GetByID(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to load continuation %s: %w", id, err)
		}

		continuations = append(continuations, continuation)
	}

	return continuations, nil
}
