// Package tracker implements the execution dedup ledger: deterministic trigger
// keys, already-executed checks, and retention cleanup. A durable store backs
// every decision; an optional cache (redis) short-circuits repeat lookups.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
)

// DefaultRetention is how long non-run-once tracker entries are kept. Expired
// conditions are assumed non-recurring, so pruning does not affect future
// dedup decisions.
const DefaultRetention = 90 * 24 * time.Hour

// Store is the durable tracker backend. persistence.TrackerRepository
// satisfies it.
type Store interface {
	Insert(ctx context.Context, entry *models.TrackerEntry) error
	Exists(ctx context.Context, workflowID string, ref models.TargetRef, triggerKey string) (bool, error)
	ExistsAny(ctx context.Context, workflowID string, ref models.TargetRef) (bool, error)
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)
}

// Cache is an optional fast-path dedup layer in front of the store. A cache
// miss always falls through to the store; a cache hit is authoritative because
// entries are only marked after a successful durable insert.
type Cache interface {
	Seen(ctx context.Context, key string) (bool, error)
	Mark(ctx context.Context, key string, ttl time.Duration) error
}

// Tracker is the execution dedup service.
type Tracker struct {
	store  Store
	cache  Cache
	clock  clockwork.Clock
	logger *slog.Logger
}

// NewTracker creates a tracker over the given store. cache may be nil.
func NewTracker(store Store, cache Cache, clock clockwork.Clock, logger *slog.Logger) *Tracker {
	return &Tracker{
		store:  store,
		cache:  cache,
		clock:  clock,
		logger: logger.With("module", "tracker"),
	}
}

// GenerateKey builds a deterministic, order-independent key from a kind and a
// set of named parameters. Identical conditions always map to the same key.
func GenerateKey(kind string, params map[string]string) string {
	if len(params) == 0 {
		return kind
	}

	names := make([]string, 0, len(params))
	for name := range params {
		names = append(names, name)
	}

	sort.Strings(names)

	parts := make([]string, 0, len(names)+1)
	parts = append(parts, kind)

	for _, name := range names {
		parts = append(parts, name+"="+params[name])
	}

	return strings.Join(parts, ":")
}

// StuckKey is the canonical key for a stuck-at-status firing condition.
func StuckKey(status string, duration int, unit string) string {
	return fmt.Sprintf("stuck:%s:%d:%s", status, duration, unit)
}

// AgeKey is the canonical key for an age-based (time_delay) firing condition.
func AgeKey(duration int, unit string) string {
	return fmt.Sprintf("age:%d:%s", duration, unit)
}

// StatusChangedKey is the canonical key for a status-change firing condition.
func StatusChangedKey(fromStatus, toStatus string) string {
	return fmt.Sprintf("status_changed:%s:%s", fromStatus, toStatus)
}

// EntityCreatedKey is the canonical key for an entity-created firing condition.
func EntityCreatedKey() string {
	return "entity_created"
}

// AlreadyExecuted reports whether the firing condition has already been
// handled. With runOnce, any entry for the (workflow, target) pair counts;
// otherwise only an exact key match does.
func (t *Tracker) AlreadyExecuted(ctx context.Context, workflowID string, ref models.TargetRef, triggerKey string, runOnce bool) (bool, error) {
	if t.cache != nil && !runOnce {
		seen, err := t.cache.Seen(ctx, cacheKey(workflowID, ref, triggerKey))
		if err != nil {
			t.logger.WarnContext(ctx, "Tracker cache lookup failed, falling back to store", "error", err)
		} else if seen {
			return true, nil
		}
	}

	if runOnce {
		exists, err := t.store.ExistsAny(ctx, workflowID, ref)
		if err != nil {
			return false, fmt.Errorf("failed to check run-once tracker entries: %w", err)
		}

		return exists, nil
	}

	exists, err := t.store.Exists(ctx, workflowID, ref, triggerKey)
	if err != nil {
		return false, fmt.Errorf("failed to check tracker entries: %w", err)
	}

	return exists, nil
}

// RecordExecution inserts a tracker entry for the firing condition. A lost
// insert race surfaces persistence.ErrDuplicateExecution; callers treat it as
// "someone else already handled it".
func (t *Tracker) RecordExecution(ctx context.Context, workflow *models.Workflow, ref models.TargetRef, triggerKey string, runOnce bool) error {
	entry := &models.TrackerEntry{
		ID:          uuid.NewString(),
		WorkflowID:  workflow.ID,
		Target:      ref,
		TriggerType: workflow.TriggerType,
		TriggerKey:  triggerKey,
		RunOnce:     runOnce,
		ExecutedAt:  t.clock.Now().UTC(),
	}

	err := t.store.Insert(ctx, entry)
	if err != nil {
		return err
	}

	if t.cache != nil && !runOnce {
		if err := t.cache.Mark(ctx, cacheKey(workflow.ID, ref, triggerKey), DefaultRetention); err != nil {
			t.logger.WarnContext(ctx, "Failed to mark tracker cache", "error", err)
		}
	}

	return nil
}

// CleanupOldRecords prunes non-run-once entries older than retention and
// returns the number removed.
func (t *Tracker) CleanupOldRecords(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := t.clock.Now().UTC().Add(-retention)

	removed, err := t.store.DeleteOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to clean up tracker entries: %w", err)
	}

	if removed > 0 {
		t.logger.InfoContext(ctx, "Pruned tracker entries", "removed", removed, "cutoff", cutoff)
	}

	return removed, nil
}

func cacheKey(workflowID string, ref models.TargetRef, triggerKey string) string {
	return strings.Join([]string{workflowID, string(ref.Type), ref.ID, triggerKey}, "|")
}

var _ Store = (persistence.TrackerRepository)(nil)
