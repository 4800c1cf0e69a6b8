package file

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
	"github.com/loanramp/mailflow/pkg/target"
)

func newTestPersistence(t *testing.T) *Persistence {
	t.Helper()

	return NewPersistence(t.TempDir())
}

func appRef(id string) models.TargetRef {
	return models.TargetRef{Type: models.TargetTypeApplication, ID: id}
}

func TestWorkflowRepository(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.WorkflowRepository()

	wf := &models.Workflow{
		Name:        "Welcome Sequence",
		Active:      true,
		TargetType:  models.TargetTypeApplication,
		TriggerType: models.TriggerEntityCreated,
	}

	require.NoError(t, repo.Save(ctx, wf))
	assert.NotEmpty(t, wf.ID)
	assert.False(t, wf.CreatedAt.IsZero())

	inactive := &models.Workflow{
		Name:        "Paused Sequence",
		Active:      false,
		TargetType:  models.TargetTypeApplication,
		TriggerType: models.TriggerEntityCreated,
	}
	require.NoError(t, repo.Save(ctx, inactive))

	loaded, err := repo.GetByID(ctx, wf.ID)
	require.NoError(t, err)
	assert.Equal(t, wf.Name, loaded.Name)

	all, err := repo.Workflows(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 2)

	active, err := repo.ActiveWorkflows(ctx)
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, wf.ID, active[0].ID)

	require.NoError(t, repo.Delete(ctx, wf.ID))

	_, err = repo.GetByID(ctx, wf.ID)
	require.ErrorIs(t, err, persistence.ErrWorkflowNotFound)
}

func TestExecutionRepository_RunConflict(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.ExecutionRepository()

	first := &models.ExecutionRun{
		ID:         "run1",
		WorkflowID: "wf1",
		Target:     appRef("app1"),
		Status:     models.RunStatusRunning,
		StartedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.Create(ctx, first))

	// Same pair while the first run is non-terminal.
	second := &models.ExecutionRun{
		ID:         "run2",
		WorkflowID: "wf1",
		Target:     appRef("app1"),
		Status:     models.RunStatusPending,
	}
	err := repo.Create(ctx, second)
	require.ErrorIs(t, err, persistence.ErrRunConflict)
	assert.True(t, persistence.IsRunConflict(err))

	// Different target is fine.
	other := &models.ExecutionRun{
		ID:         "run3",
		WorkflowID: "wf1",
		Target:     appRef("app2"),
		Status:     models.RunStatusPending,
	}
	require.NoError(t, repo.Create(ctx, other))

	// Once the first run is terminal the pair frees up.
	now := time.Now().UTC()
	first.Status = models.RunStatusCompleted
	first.CompletedAt = &now
	require.NoError(t, repo.Update(ctx, first))
	require.NoError(t, repo.Create(ctx, second))
}

func TestExecutionRepository_List(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.ExecutionRepository()

	base := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	failed := models.RunStatusFailed

	for i, spec := range []struct {
		workflowID string
		status     models.RunStatus
	}{
		{"wf1", models.RunStatusCompleted},
		{"wf1", models.RunStatusFailed},
		{"wf2", models.RunStatusFailed},
	} {
		run := &models.ExecutionRun{
			ID:         string(rune('a' + i)),
			WorkflowID: spec.workflowID,
			Target:     appRef(string(rune('x' + i))),
			Status:     spec.status,
			StartedAt:  base.Add(time.Duration(i) * time.Minute),
		}
		require.NoError(t, repo.Create(ctx, run))
	}

	runs, err := repo.List(ctx, persistence.ListExecutionsOptions{})
	require.NoError(t, err)
	require.Len(t, runs, 3)
	assert.Equal(t, "c", runs[0].ID, "newest first")

	runs, err = repo.List(ctx, persistence.ListExecutionsOptions{WorkflowID: "wf1"})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = repo.List(ctx, persistence.ListExecutionsOptions{Status: &failed})
	require.NoError(t, err)
	assert.Len(t, runs, 2)

	runs, err = repo.List(ctx, persistence.ListExecutionsOptions{Limit: 1, Offset: 1})
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "b", runs[0].ID)

	runs, err = repo.List(ctx, persistence.ListExecutionsOptions{Offset: 10})
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestContinuationRepository_ClaimOnce(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.ContinuationRepository()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	continuation := &models.Continuation{
		ID:           "cont1",
		ExecutionID:  "run1",
		WorkflowID:   "wf1",
		DelayNodeID:  "wait",
		ScheduledFor: now,
		Status:       models.ContinuationScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.Create(ctx, continuation))

	due, err := repo.Due(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 1)

	claimed, err := repo.Claim(ctx, continuation.ID)
	require.NoError(t, err)
	assert.True(t, claimed)

	// Second claim loses the race.
	claimed, err = repo.Claim(ctx, continuation.ID)
	require.NoError(t, err)
	assert.False(t, claimed)

	// Running continuations are no longer due.
	due, err = repo.Due(ctx, now.Add(time.Minute))
	require.NoError(t, err)
	assert.Empty(t, due)

	_, err = repo.Claim(ctx, "missing")
	require.ErrorIs(t, err, persistence.ErrContinuationNotFound)
}

func TestContinuationRepository_RequeueStale(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.ContinuationRepository()

	now := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	// Claimed half an hour ago and never finished.
	stale := &models.Continuation{
		ID:           "stale",
		ExecutionID:  "run1",
		WorkflowID:   "wf1",
		DelayNodeID:  "wait",
		ScheduledFor: now.Add(-time.Hour),
		Status:       models.ContinuationRunning,
		Attempts:     1,
		UpdatedAt:    now.Add(-30 * time.Minute),
	}
	require.NoError(t, repo.Create(ctx, stale))

	// Claimed just now; still being worked.
	fresh := &models.Continuation{
		ID:           "fresh",
		ExecutionID:  "run2",
		WorkflowID:   "wf1",
		DelayNodeID:  "wait",
		ScheduledFor: now.Add(-time.Hour),
		Status:       models.ContinuationRunning,
		UpdatedAt:    now,
	}
	require.NoError(t, repo.Create(ctx, fresh))

	requeued, err := repo.RequeueStale(ctx, now.Add(-20*time.Minute))
	require.NoError(t, err)
	assert.Equal(t, int64(1), requeued)

	reloaded, err := repo.GetByID(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, models.ContinuationScheduled, reloaded.Status)
	assert.Equal(t, 2, reloaded.Attempts)
	assert.Equal(t, "claim expired", reloaded.LastError)

	// Back in the due set; the live claim is untouched.
	due, err := repo.Due(ctx, now)
	require.NoError(t, err)
	require.Len(t, due, 1)
	assert.Equal(t, "stale", due[0].ID)

	untouched, err := repo.GetByID(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, models.ContinuationRunning, untouched.Status)
	assert.Equal(t, 0, untouched.Attempts)
}

func TestTrackerRepository_Dedup(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.TrackerRepository()

	entry := &models.TrackerEntry{
		ID:          "t1",
		WorkflowID:  "wf1",
		Target:      appRef("app1"),
		TriggerType: models.TriggerStuckAtStatus,
		TriggerKey:  "stuck:submitted:3:days",
		ExecutedAt:  time.Now().UTC(),
	}
	require.NoError(t, repo.Insert(ctx, entry))

	dup := *entry
	dup.ID = "t2"
	err := repo.Insert(ctx, &dup)
	require.ErrorIs(t, err, persistence.ErrDuplicateExecution)

	exists, err := repo.Exists(ctx, "wf1", appRef("app1"), "stuck:submitted:3:days")
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.Exists(ctx, "wf1", appRef("app1"), "stuck:submitted:7:days")
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = repo.ExistsAny(ctx, "wf1", appRef("app1"))
	require.NoError(t, err)
	assert.True(t, exists)

	exists, err = repo.ExistsAny(ctx, "wf1", appRef("app2"))
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestTrackerRepository_DeleteOlderThan(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)
	repo := p.TrackerRepository()

	old := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, repo.Insert(ctx, &models.TrackerEntry{
		ID: "old", WorkflowID: "wf1", Target: appRef("app1"),
		TriggerKey: "k1", ExecutedAt: old,
	}))
	require.NoError(t, repo.Insert(ctx, &models.TrackerEntry{
		ID: "kept-run-once", WorkflowID: "wf1", Target: appRef("app2"),
		TriggerKey: "k1", RunOnce: true, ExecutedAt: old,
	}))
	require.NoError(t, repo.Insert(ctx, &models.TrackerEntry{
		ID: "fresh", WorkflowID: "wf1", Target: appRef("app3"),
		TriggerKey: "k1", ExecutedAt: old.Add(60 * 24 * time.Hour),
	}))

	removed, err := repo.DeleteOlderThan(ctx, old.Add(30*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), removed)

	exists, err := repo.ExistsAny(ctx, "wf1", appRef("app1"))
	require.NoError(t, err)
	assert.False(t, exists)

	exists, err = repo.ExistsAny(ctx, "wf1", appRef("app2"))
	require.NoError(t, err)
	assert.True(t, exists, "run-once entries are never pruned")
}

func TestTargetRepository(t *testing.T) {
	ctx := context.Background()
	p := newTestPersistence(t)

	repo, ok := p.TargetRepository().(*TargetRepository)
	require.True(t, ok)

	created := time.Date(2026, 2, 1, 9, 0, 0, 0, time.UTC)
	app := target.NewApplication("app1", "submitted", "ada@example.com",
		created, created, map[string]any{"name": "Ada"})
	require.NoError(t, repo.SaveTarget(ctx, app))

	t.Run("get", func(t *testing.T) {
		got, err := repo.Get(ctx, appRef("app1"))
		require.NoError(t, err)
		assert.Equal(t, "submitted", got.Status())
		assert.Equal(t, "ada@example.com", got.Email())
		assert.Equal(t, "Ada", got.Attributes()["name"])
		assert.Equal(t, "app1", got.Attributes()["id"])

		_, err = repo.Get(ctx, appRef("missing"))
		require.ErrorIs(t, err, persistence.ErrTargetNotFound)
	})

	t.Run("find stuck", func(t *testing.T) {
		stuck, err := repo.FindStuck(ctx, models.TargetTypeApplication, "submitted", created.Add(time.Hour))
		require.NoError(t, err)
		require.Len(t, stuck, 1)

		stuck, err = repo.FindStuck(ctx, models.TargetTypeApplication, "submitted", created.Add(-time.Hour))
		require.NoError(t, err)
		assert.Empty(t, stuck)

		stuck, err = repo.FindStuck(ctx, models.TargetTypeApplication, "approved", created.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, stuck)
	})

	t.Run("find created before", func(t *testing.T) {
		aged, err := repo.FindCreatedBefore(ctx, models.TargetTypeApplication, created.Add(time.Hour))
		require.NoError(t, err)
		assert.Len(t, aged, 1)

		aged, err = repo.FindCreatedBefore(ctx, models.TargetTypeContract, created.Add(time.Hour))
		require.NoError(t, err)
		assert.Empty(t, aged)
	})

	t.Run("update status", func(t *testing.T) {
		err := repo.UpdateStatus(ctx, appRef("app1"), "approved", "rejected")
		require.ErrorIs(t, err, persistence.ErrStatusConflict)

		require.NoError(t, repo.UpdateStatus(ctx, appRef("app1"), "approved", "submitted"))

		got, err := repo.Get(ctx, appRef("app1"))
		require.NoError(t, err)
		assert.Equal(t, "approved", got.Status())

		// Unconditional update.
		require.NoError(t, repo.UpdateStatus(ctx, appRef("app1"), "funded", ""))

		err = repo.UpdateStatus(ctx, appRef("missing"), "approved", "")
		require.ErrorIs(t, err, persistence.ErrTargetNotFound)
	})
}
