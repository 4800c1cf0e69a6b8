package tracker

import (
	"context"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
)

type memoryStore struct {
	entries []*models.TrackerEntry
}

func (s *memoryStore) Insert(_ context.Context, entry *models.TrackerEntry) error {
	for _, existing := range s.entries {
		if existing.WorkflowID == entry.WorkflowID &&
			existing.Target == entry.Target &&
			existing.TriggerKey == entry.TriggerKey {
			return persistence.ErrDuplicateExecution
		}
	}

	s.entries = append(s.entries, entry)

	return nil
}

func (s *memoryStore) Exists(_ context.Context, workflowID string, ref models.TargetRef, triggerKey string) (bool, error) {
	for _, entry := range s.entries {
		if entry.WorkflowID == workflowID && entry.Target == ref && entry.TriggerKey == triggerKey {
			return true, nil
		}
	}

	return false, nil
}

func (s *memoryStore) ExistsAny(_ context.Context, workflowID string, ref models.TargetRef) (bool, error) {
	for _, entry := range s.entries {
		if entry.WorkflowID == workflowID && entry.Target == ref {
			return true, nil
		}
	}

	return false, nil
}

func (s *memoryStore) DeleteOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	kept := s.entries[:0]

	var removed int64

	for _, entry := range s.entries {
		if !entry.RunOnce && entry.ExecutedAt.Before(cutoff) {
			removed++

			continue
		}

		kept = append(kept, entry)
	}

	s.entries = kept

	return removed, nil
}

type memoryCache struct {
	marked map[string]bool
	seen   int
}

func (c *memoryCache) Seen(_ context.Context, key string) (bool, error) {
	c.seen++

	return c.marked[key], nil
}

func (c *memoryCache) Mark(_ context.Context, key string, _ time.Duration) error {
	if c.marked == nil {
		c.marked = make(map[string]bool)
	}

	c.marked[key] = true

	return nil
}

func testTracker(store Store, cache Cache, clock clockwork.Clock) *Tracker {
	return NewTracker(store, cache, clock, slog.New(slog.NewTextHandler(os.Stdout, nil)))
}

func TestGenerateKey(t *testing.T) {
	assert.Equal(t, "stuck", GenerateKey("stuck", nil))

	key := GenerateKey("stuck", map[string]string{"status": "submitted", "duration": "3"})
	assert.Equal(t, "stuck:duration=3:status=submitted", key)

	again := GenerateKey("stuck", map[string]string{"duration": "3", "status": "submitted"})
	assert.Equal(t, key, again)
}

func TestCanonicalKeys(t *testing.T) {
	assert.Equal(t, "stuck:submitted:3:days", StuckKey("submitted", 3, "days"))
	assert.Equal(t, "age:7:days", AgeKey(7, "days"))
	assert.Equal(t, "status_changed:submitted:approved", StatusChangedKey("submitted", "approved"))
	assert.Equal(t, "status_changed::approved", StatusChangedKey("", "approved"))
	assert.Equal(t, "entity_created", EntityCreatedKey())
}

func TestAlreadyExecuted(t *testing.T) {
	ctx := context.Background()
	clock := clockwork.NewFakeClock()
	store := &memoryStore{}
	trk := testTracker(store, nil, clock)

	wf := &models.Workflow{ID: "wf1", TriggerType: models.TriggerStuckAtStatus}
	ref := models.TargetRef{Type: models.TargetTypeApplication, ID: "app1"}
	key := StuckKey("submitted", 3, "days")

	executed, err := trk.AlreadyExecuted(ctx, wf.ID, ref, key, false)
	require.NoError(t, err)
	assert.False(t, executed)

	require.NoError(t, trk.RecordExecution(ctx, wf, ref, key, false))

	executed, err = trk.AlreadyExecuted(ctx, wf.ID, ref, key, false)
	require.NoError(t, err)
	assert.True(t, executed)

	t.Run("different key fires again", func(t *testing.T) {
		executed, err := trk.AlreadyExecuted(ctx, wf.ID, ref, StuckKey("submitted", 7, "days"), false)
		require.NoError(t, err)
		assert.False(t, executed)
	})

	t.Run("run once matches any entry", func(t *testing.T) {
		executed, err := trk.AlreadyExecuted(ctx, wf.ID, ref, StuckKey("submitted", 7, "days"), true)
		require.NoError(t, err)
		assert.True(t, executed)
	})

	t.Run("other target unaffected", func(t *testing.T) {
		other := models.TargetRef{Type: models.TargetTypeApplication, ID: "app2"}

		executed, err := trk.AlreadyExecuted(ctx, wf.ID, other, key, false)
		require.NoError(t, err)
		assert.False(t, executed)
	})
}

func TestRecordExecutionDuplicate(t *testing.T) {
	ctx := context.Background()
	trk := testTracker(&memoryStore{}, nil, clockwork.NewFakeClock())

	wf := &models.Workflow{ID: "wf1", TriggerType: models.TriggerEntityCreated}
	ref := models.TargetRef{Type: models.TargetTypeContract, ID: "ct1"}

	require.NoError(t, trk.RecordExecution(ctx, wf, ref, EntityCreatedKey(), false))

	err := trk.RecordExecution(ctx, wf, ref, EntityCreatedKey(), false)
	require.ErrorIs(t, err, persistence.ErrDuplicateExecution)
}

func TestTrackerCache(t *testing.T) {
	ctx := context.Background()
	cache := &memoryCache{}
	store := &memoryStore{}
	trk := testTracker(store, cache, clockwork.NewFakeClock())

	wf := &models.Workflow{ID: "wf1", TriggerType: models.TriggerStatusChanged}
	ref := models.TargetRef{Type: models.TargetTypeApplication, ID: "app1"}
	key := StatusChangedKey("", "approved")

	require.NoError(t, trk.RecordExecution(ctx, wf, ref, key, false))
	require.Len(t, cache.marked, 1)

	seen, err := trk.AlreadyExecuted(ctx, wf.ID, ref, key, false)
	require.NoError(t, err)
	assert.True(t, seen)

	t.Run("run once bypasses cache", func(t *testing.T) {
		before := cache.seen

		_, err := trk.AlreadyExecuted(ctx, wf.ID, ref, key, true)
		require.NoError(t, err)
		assert.Equal(t, before, cache.seen)
	})
}

func TestCleanupOldRecords(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	clock := clockwork.NewFakeClockAt(start)
	store := &memoryStore{}
	trk := testTracker(store, nil, clock)

	wf := &models.Workflow{ID: "wf1", TriggerType: models.TriggerStuckAtStatus}
	old := models.TargetRef{Type: models.TargetTypeApplication, ID: "old"}
	once := models.TargetRef{Type: models.TargetTypeApplication, ID: "once"}
	fresh := models.TargetRef{Type: models.TargetTypeApplication, ID: "fresh"}

	require.NoError(t, trk.RecordExecution(ctx, wf, old, "stuck:submitted:3:days", false))
	require.NoError(t, trk.RecordExecution(ctx, wf, once, "stuck:submitted:3:days", true))

	clock.Advance(DefaultRetention + time.Hour)
	require.NoError(t, trk.RecordExecution(ctx, wf, fresh, "stuck:submitted:3:days", false))

	removed, err := trk.CleanupOldRecords(ctx, DefaultRetention)
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	stillOnce, err := trk.AlreadyExecuted(ctx, wf.ID, once, "ignored", true)
	require.NoError(t, err)
	assert.True(t, stillOnce, "run-once entries survive retention")

	stillFresh, err := trk.AlreadyExecuted(ctx, wf.ID, fresh, "stuck:submitted:3:days", false)
	require.NoError(t, err)
	assert.True(t, stillFresh)
}
