package workflow

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/loanramp/mailflow/pkg/mailer"
	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/persistence"
	"github.com/loanramp/mailflow/pkg/persistence/file"
	"github.com/loanramp/mailflow/pkg/target"
	"github.com/loanramp/mailflow/pkg/tracker"
)

type testEnv struct {
	root        string
	persistence *file.Persistence
	targets     *file.TargetRepository
	mailer      *mailer.RecordingMailer
	clock       *clockwork.FakeClock
	logger      *slog.Logger
	executor    *Executor
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	root := t.TempDir()
	p := file.NewPersistence(root)
	targets, ok := p.TargetRepository().(*file.TargetRepository)
	require.True(t, ok)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC))
	rec := mailer.NewRecordingMailer()
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))

	return &testEnv{
		root:        root,
		persistence: p,
		targets:     targets,
		mailer:      rec,
		clock:       clock,
		logger:      logger,
		executor:    NewExecutor(p, targets, rec, nil, clock, logger),
	}
}

func (env *testEnv) saveWorkflow(t *testing.T, wf *models.Workflow) {
	t.Helper()
	require.NoError(t, env.persistence.WorkflowRepository().Save(context.Background(), wf))
}

func (env *testEnv) seedApplication(t *testing.T, id, status, email string, createdAt time.Time, attrs map[string]any) target.Target {
	t.Helper()

	app := target.NewApplication(id, status, email, createdAt, createdAt, attrs)
	require.NoError(t, env.targets.SaveTarget(context.Background(), app))

	return app
}

func (env *testEnv) tracker() *tracker.Tracker {
	return tracker.NewTracker(env.persistence.TrackerRepository(), nil, env.clock, env.logger)
}

func (env *testEnv) getRun(t *testing.T, id string) *models.ExecutionRun {
	t.Helper()

	run, err := env.persistence.ExecutionRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return run
}

func (env *testEnv) dueContinuations(t *testing.T, at time.Time) []*models.Continuation {
	t.Helper()

	due, err := env.persistence.ContinuationRepository().Due(context.Background(), at)
	require.NoError(t, err)

	return due
}

func (env *testEnv) getContinuation(t *testing.T, id string) *models.Continuation {
	t.Helper()

	continuation, err := env.persistence.ContinuationRepository().GetByID(context.Background(), id)
	require.NoError(t, err)

	return continuation
}

// removeTarget deletes the target's backing document, so subsequent lookups
// fail with ErrTargetNotFound.
func (env *testEnv) removeTarget(ref models.TargetRef) error {
	return os.Remove(filepath.Join(env.root, "targets", string(ref.Type), ref.ID+".json"))
}

func welcomeWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          "wf-welcome",
		Name:        "Welcome Sequence",
		Active:      true,
		TargetType:  models.TargetTypeApplication,
		TriggerType: models.TriggerEntityCreated,
		Graph: models.Graph{
			Nodes: []models.Node{
				&models.TriggerNode{NodeID: "start"},
				&models.EmailNode{
					NodeID:     "welcome",
					TemplateID: "welcome_email",
					Variables:  map[string]string{"first_name": "{{.target.name}}"},
				},
				&models.UpdateStatusNode{NodeID: "mark", Status: "contacted"},
			},
			Connections: []models.Connection{
				{FromNodeID: "start", ToNodeID: "welcome", Branch: models.BranchNext},
				{FromNodeID: "welcome", ToNodeID: "mark", Branch: models.BranchNext},
			},
		},
	}
}

func followupWorkflow() *models.Workflow {
	return &models.Workflow{
		ID:          "wf-followup",
		Name:        "Two Step Followup",
		Active:      true,
		TargetType:  models.TargetTypeApplication,
		TriggerType: models.TriggerEntityCreated,
		Graph: models.Graph{
			Nodes: []models.Node{
				&models.TriggerNode{NodeID: "start"},
				&models.EmailNode{NodeID: "first_mail", TemplateID: "intro"},
				&models.DelayNode{NodeID: "wait", Duration: 2, Unit: "hours"},
				&models.EmailNode{NodeID: "second_mail", TemplateID: "reminder"},
			},
			Connections: []models.Connection{
				{FromNodeID: "start", ToNodeID: "first_mail", Branch: models.BranchNext},
				{FromNodeID: "first_mail", ToNodeID: "wait", Branch: models.BranchNext},
				{FromNodeID: "wait", ToNodeID: "second_mail", Branch: models.BranchNext},
			},
		},
	}
}

func TestExecutorStart_CompletesLinearRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	wf := welcomeWorkflow()
	env.saveWorkflow(t, wf)
	app := env.seedApplication(t, "app1", "submitted", "ada@example.com", env.clock.Now(), map[string]any{"name": "Ada"})

	run, err := env.executor.Start(ctx, wf, app, map[string]any{"trigger_type": "entity_created"})
	require.NoError(t, err)
	require.NotNil(t, run)

	stored := env.getRun(t, run.ID)
	assert.Equal(t, models.RunStatusCompleted, stored.Status)
	assert.Nil(t, stored.CurrentNodeID)
	require.NotNil(t, stored.CompletedAt)
	assert.Contains(t, stored.Context, "email_welcome")
	assert.Contains(t, stored.Context, "status_update_mark")

	messages := env.mailer.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "welcome_email", messages[0].TemplateID)
	assert.Equal(t, "ada@example.com", messages[0].To)
	assert.Equal(t, "Ada", messages[0].Variables["first_name"])

	updated, err := env.targets.Get(ctx, app.Ref())
	require.NoError(t, err)
	assert.Equal(t, "contacted", updated.Status())
}

func TestExecutorStart_EmailFailureFailsRun(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	wf := welcomeWorkflow()
	env.saveWorkflow(t, wf)
	app := env.seedApplication(t, "app1", "submitted", "ada@example.com", env.clock.Now(), nil)

	env.mailer.FailWith(errors.New("smtp connection refused"))

	run, err := env.executor.Start(ctx, wf, app, nil)
	require.Error(t, err)
	require.NotNil(t, run)
	assert.ErrorIs(t, err, ErrNodeExecution)

	var nodeErr *NodeExecutionError

	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "welcome", nodeErr.NodeID)

	stored := env.getRun(t, run.ID)
	assert.Equal(t, models.RunStatusFailed, stored.Status)
	require.NotNil(t, stored.CurrentNodeID)
	assert.Equal(t, "welcome", *stored.CurrentNodeID)
	assert.Contains(t, stored.LastError, "smtp connection refused")

	// The status update after the broken email never ran.
	updated, getErr := env.targets.Get(ctx, app.Ref())
	require.NoError(t, getErr)
	assert.Equal(t, "submitted", updated.Status())
}

func TestExecutorStart_ConditionBranches(t *testing.T) {
	conditional := func() *models.Workflow {
		return &models.Workflow{
			ID:          "wf-cond",
			Name:        "Approval Router",
			Active:      true,
			TargetType:  models.TargetTypeApplication,
			TriggerType: models.TriggerEntityCreated,
			Graph: models.Graph{
				Nodes: []models.Node{
					&models.TriggerNode{NodeID: "start"},
					&models.ConditionNode{NodeID: "check", Field: "status", Operator: models.OperatorEquals, Value: "approved"},
					&models.EmailNode{NodeID: "approved_mail", TemplateID: "congrats"},
					&models.EmailNode{NodeID: "pending_mail", TemplateID: "hang_tight"},
				},
				Connections: []models.Connection{
					{FromNodeID: "start", ToNodeID: "check", Branch: models.BranchNext},
					{FromNodeID: "check", ToNodeID: "approved_mail", Branch: models.BranchYes},
					{FromNodeID: "check", ToNodeID: "pending_mail", Branch: models.BranchNo},
				},
			},
		}
	}

	t.Run("yes branch", func(t *testing.T) {
		ctx := context.Background()
		env := newTestEnv(t)
		wf := conditional()
		env.saveWorkflow(t, wf)
		app := env.seedApplication(t, "app1", "approved", "ada@example.com", env.clock.Now(), nil)

		run, err := env.executor.Start(ctx, wf, app, nil)
		require.NoError(t, err)

		messages := env.mailer.Messages()
		require.Len(t, messages, 1)
		assert.Equal(t, "congrats", messages[0].TemplateID)

		stored := env.getRun(t, run.ID)
		assert.Equal(t, true, stored.Context["condition_check"])
	})

	t.Run("no branch", func(t *testing.T) {
		ctx := context.Background()
		env := newTestEnv(t)
		wf := conditional()
		env.saveWorkflow(t, wf)
		app := env.seedApplication(t, "app1", "submitted", "ada@example.com", env.clock.Now(), nil)

		run, err := env.executor.Start(ctx, wf, app, nil)
		require.NoError(t, err)

		messages := env.mailer.Messages()
		require.Len(t, messages, 1)
		assert.Equal(t, "hang_tight", messages[0].TemplateID)

		stored := env.getRun(t, run.ID)
		assert.Equal(t, false, stored.Context["condition_check"])
	})
}

func TestExecutorStart_DelaySuspends(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	wf := followupWorkflow()
	env.saveWorkflow(t, wf)
	app := env.seedApplication(t, "app1", "submitted", "ada@example.com", env.clock.Now(), nil)

	run, err := env.executor.Start(ctx, wf, app, nil)
	require.NoError(t, err)

	messages := env.mailer.Messages()
	require.Len(t, messages, 1)
	assert.Equal(t, "intro", messages[0].TemplateID)

	stored := env.getRun(t, run.ID)
	assert.Equal(t, models.RunStatusPending, stored.Status)
	require.NotNil(t, stored.CurrentNodeID)
	assert.Equal(t, "wait", *stored.CurrentNodeID)

	due := env.dueContinuations(t, env.clock.Now().Add(3*time.Hour))
	require.Len(t, due, 1)
	assert.Equal(t, run.ID, due[0].ExecutionID)
	assert.Equal(t, "wait", due[0].DelayNodeID)
	assert.Equal(t, env.clock.Now().UTC().Add(2*time.Hour), due[0].ScheduledFor)

	// Not due yet one hour in.
	assert.Empty(t, env.dueContinuations(t, env.clock.Now().Add(time.Hour)))
}

func TestExecutorStart_RunConflict(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	wf := followupWorkflow()
	env.saveWorkflow(t, wf)
	app := env.seedApplication(t, "app1", "submitted", "ada@example.com", env.clock.Now(), nil)

	_, err := env.executor.Start(ctx, wf, app, nil)
	require.NoError(t, err)

	// The first run suspended on the delay node and is still non-terminal.
	run, err := env.executor.Start(ctx, wf, app, nil)
	require.ErrorIs(t, err, persistence.ErrRunConflict)
	assert.Nil(t, run)
	assert.Len(t, env.mailer.Messages(), 1)
}

func TestExecutorStart_InvalidGraphRejected(t *testing.T) {
	t.Run("condition missing no branch", func(t *testing.T) {
		ctx := context.Background()
		env := newTestEnv(t)

		wf := &models.Workflow{
			ID:          "wf-broken",
			Name:        "Half A Router",
			Active:      true,
			TargetType:  models.TargetTypeApplication,
			TriggerType: models.TriggerEntityCreated,
			Graph: models.Graph{
				Nodes: []models.Node{
					&models.TriggerNode{NodeID: "start"},
					&models.ConditionNode{NodeID: "check", Field: "status", Operator: models.OperatorEquals, Value: "approved"},
					&models.EmailNode{NodeID: "congrats_mail", TemplateID: "congrats"},
				},
				Connections: []models.Connection{
					{FromNodeID: "start", ToNodeID: "check", Branch: models.BranchNext},
					{FromNodeID: "check", ToNodeID: "congrats_mail", Branch: models.BranchYes},
				},
			},
		}
		env.saveWorkflow(t, wf)
		app := env.seedApplication(t, "app1", "approved", "ada@example.com", env.clock.Now(), nil)

		run, err := env.executor.Start(ctx, wf, app, nil)
		require.ErrorIs(t, err, models.ErrInvalidGraph)
		assert.Nil(t, run)
		assert.Empty(t, env.mailer.Messages())

		// Rejected before any run record exists.
		runs, listErr := env.persistence.ExecutionRepository().List(ctx, persistence.ListExecutionsOptions{})
		require.NoError(t, listErr)
		assert.Empty(t, runs)
	})

	t.Run("cycle without a delay node", func(t *testing.T) {
		ctx := context.Background()
		env := newTestEnv(t)

		wf := &models.Workflow{
			ID:          "wf-loop",
			Name:        "Mail Ping Pong",
			Active:      true,
			TargetType:  models.TargetTypeApplication,
			TriggerType: models.TriggerEntityCreated,
			Graph: models.Graph{
				Nodes: []models.Node{
					&models.TriggerNode{NodeID: "start"},
					&models.EmailNode{NodeID: "ping", TemplateID: "ping"},
					&models.EmailNode{NodeID: "pong", TemplateID: "pong"},
				},
				Connections: []models.Connection{
					{FromNodeID: "start", ToNodeID: "ping", Branch: models.BranchNext},
					{FromNodeID: "ping", ToNodeID: "pong", Branch: models.BranchNext},
					{FromNodeID: "pong", ToNodeID: "ping", Branch: models.BranchNext},
				},
			},
		}
		env.saveWorkflow(t, wf)
		app := env.seedApplication(t, "app1", "submitted", "ada@example.com", env.clock.Now(), nil)

		run, err := env.executor.Start(ctx, wf, app, nil)
		require.ErrorIs(t, err, models.ErrInvalidGraph)
		assert.Nil(t, run)
		assert.Empty(t, env.mailer.Messages())
	})
}

func TestExecutorResume_RejectsNonDelayNode(t *testing.T) {
	ctx := context.Background()
	env := newTestEnv(t)
	wf := welcomeWorkflow()
	env.saveWorkflow(t, wf)
	app := env.seedApplication(t, "app1", "submitted", "ada@example.com", env.clock.Now(), nil)

	run := &models.ExecutionRun{ID: "run1", WorkflowID: wf.ID, Target: app.Ref(), Status: models.RunStatusPending}
	require.NoError(t, env.persistence.ExecutionRepository().Create(ctx, run))

	err := env.executor.Resume(ctx, wf, run, app, "welcome")
	require.ErrorIs(t, err, ErrInvalidGraph)

	err = env.executor.Resume(ctx, wf, run, app, "ghost")
	require.ErrorIs(t, err, ErrInvalidGraph)
}

func TestEvaluateCondition(t *testing.T) {
	app := target.NewApplication("app1", "submitted", "ada@example.com",
		time.Now(), time.Now(), map[string]any{"loan_amount": 2500, "segment": "smb-retail"})

	tests := []struct {
		name     string
		node     *models.ConditionNode
		context  map[string]any
		expected bool
		wantErr  bool
	}{
		{
			name:     "eq on status",
			node:     &models.ConditionNode{NodeID: "c", Field: "status", Operator: models.OperatorEquals, Value: "submitted"},
			expected: true,
		},
		{
			name:     "neq on status",
			node:     &models.ConditionNode{NodeID: "c", Field: "status", Operator: models.OperatorNotEquals, Value: "approved"},
			expected: true,
		},
		{
			name:     "gt on numeric attribute",
			node:     &models.ConditionNode{NodeID: "c", Field: "loan_amount", Operator: models.OperatorGreaterThan, Value: "1000"},
			expected: true,
		},
		{
			name:     "lt fails",
			node:     &models.ConditionNode{NodeID: "c", Field: "loan_amount", Operator: models.OperatorLessThan, Value: "1000"},
			expected: false,
		},
		{
			name:     "contains",
			node:     &models.ConditionNode{NodeID: "c", Field: "segment", Operator: models.OperatorContains, Value: "retail"},
			expected: true,
		},
		{
			name:     "run context fallback",
			node:     &models.ConditionNode{NodeID: "c", Field: "condition_earlier", Operator: models.OperatorEquals, Value: "true"},
			context:  map[string]any{"condition_earlier": true},
			expected: true,
		},
		{
			name:     "missing field is false",
			node:     &models.ConditionNode{NodeID: "c", Field: "nope", Operator: models.OperatorEquals, Value: "x"},
			expected: false,
		},
		{
			name:     "missing field holds for neq",
			node:     &models.ConditionNode{NodeID: "c", Field: "nope", Operator: models.OperatorNotEquals, Value: "x"},
			expected: true,
		},
		{
			name:    "gt on non-numeric value",
			node:    &models.ConditionNode{NodeID: "c", Field: "status", Operator: models.OperatorGreaterThan, Value: "10"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := evaluateCondition(tt.node, app, tt.context)

			if tt.wantErr {
				require.Error(t, err)

				return
			}

			require.NoError(t, err)
			assert.Equal(t, tt.expected, result)
		})
	}
}
