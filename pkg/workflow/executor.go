package workflow

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/loanramp/mailflow/pkg/eventbus"
	"github.com/loanramp/mailflow/pkg/events"
	"github.com/loanramp/mailflow/pkg/mailer"
	"github.com/loanramp/mailflow/pkg/models"
	"github.com/loanramp/mailflow/pkg/otelhelper"
	"github.com/loanramp/mailflow/pkg/persistence"
	"github.com/loanramp/mailflow/pkg/target"
	"github.com/loanramp/mailflow/pkg/template"
)

// Executor is the graph interpreter. It walks a run node by node from the
// current pointer, executes side effects, and suspends on delay nodes by
// persisting a continuation. All time access goes through the injected clock.
type Executor struct {
	persistence persistence.Persistence
	targets     target.Store
	mailer      mailer.Mailer
	eventBus    eventbus.EventBus
	clock       clockwork.Clock
	logger      *slog.Logger
	tracer      trace.Tracer
}

// NewExecutor creates an interpreter. eventBus may be nil; lifecycle events
// are then skipped.
func NewExecutor(
	p persistence.Persistence,
	targets target.Store,
	m mailer.Mailer,
	eventBus eventbus.EventBus,
	clock clockwork.Clock,
	logger *slog.Logger,
) *Executor {
	return &Executor{
		persistence: p,
		targets:     targets,
		mailer:      m,
		eventBus:    eventBus,
		clock:       clock,
		logger:      logger.With("module", "workflow_executor"),
		tracer:      otel.Tracer("mailflow/workflow"),
	}
}

// Start creates a run for the (workflow, target) pair and walks the graph
// from the trigger node's successor. The graph is validated first: a
// structurally invalid workflow never gets a run. A
// persistence.ErrRunConflict means another invocation already holds a
// non-terminal run for the pair; the caller skips.
func (e *Executor) Start(ctx context.Context, wf *models.Workflow, tgt target.Target, triggerData map[string]any) (*models.ExecutionRun, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.execute",
		attribute.String(otelhelper.WorkflowIDKey, wf.ID),
		attribute.String(otelhelper.TargetKey, tgt.Ref().String()))
	defer span.End()

	if err := wf.Graph.Validate(); err != nil {
		return nil, fmt.Errorf("workflow %s: %w", wf.ID, err)
	}

	trigger, err := wf.Graph.TriggerNode()
	if err != nil {
		return nil, err
	}

	now := e.clock.Now().UTC()

	run := &models.ExecutionRun{
		ID:         uuid.NewString(),
		WorkflowID: wf.ID,
		Target:     tgt.Ref(),
		Status:     models.RunStatusPending,
		Context:    make(map[string]any),
		StartedAt:  now,
		UpdatedAt:  now,
	}

	if len(triggerData) > 0 {
		run.SetContext("trigger", triggerData)
	}

	err = e.persistence.ExecutionRepository().Create(ctx, run)
	if err != nil {
		return nil, err
	}

	span.SetAttributes(attribute.String(otelhelper.ExecutionIDKey, run.ID))

	logger := e.logger.With("workflow_id", wf.ID, "execution_id", run.ID, "target", run.Target.String())
	logger.InfoContext(ctx, "Starting workflow execution")

	e.publish(ctx, run, events.ExecutionStarted{
		BaseEvent:    e.baseEvent(events.ExecutionStartedEvent, wf.ID),
		ExecutionID:  run.ID,
		WorkflowName: wf.Name,
		Target:       run.Target,
		TriggerType:  string(wf.TriggerType),
	})

	return run, e.walk(ctx, wf, run, tgt, wf.Graph.Next(trigger.ID(), models.BranchNext))
}

// Resume re-enters the interpreter at the successor of the delay node the run
// suspended on.
func (e *Executor) Resume(ctx context.Context, wf *models.Workflow, run *models.ExecutionRun, tgt target.Target, delayNodeID string) error {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "workflow.resume",
		attribute.String(otelhelper.WorkflowIDKey, wf.ID),
		attribute.String(otelhelper.ExecutionIDKey, run.ID),
		attribute.String(otelhelper.NodeIDKey, delayNodeID))
	defer span.End()

	// The definition may have been edited while the run was suspended;
	// re-validate before walking.
	if err := wf.Graph.Validate(); err != nil {
		return fmt.Errorf("workflow %s: %w", wf.ID, err)
	}

	node := wf.Graph.Node(delayNodeID)
	if node == nil {
		return fmt.Errorf("%w: delay node %s not in workflow %s", ErrInvalidGraph, delayNodeID, wf.ID)
	}

	if _, ok := node.(*models.DelayNode); !ok {
		return fmt.Errorf("%w: node %s is not a delay node", ErrInvalidGraph, delayNodeID)
	}

	e.logger.InfoContext(ctx, "Resuming workflow execution",
		"workflow_id", wf.ID, "execution_id", run.ID, "delay_node_id", delayNodeID)

	return e.walk(ctx, wf, run, tgt, wf.Graph.Next(delayNodeID, models.BranchNext))
}

// walk drives the run until it completes, fails, or suspends on a delay node.
// The pointer is persisted before each node executes, so a failed node leaves
// current_node_id at the failed node and a retry resumes exactly there.
func (e *Executor) walk(ctx context.Context, wf *models.Workflow, run *models.ExecutionRun, tgt target.Target, current models.Node) error {
	executed := 0

	for current != nil {
		nodeID := current.ID()
		run.CurrentNodeID = &nodeID
		run.Status = models.RunStatusRunning

		if err := e.saveRun(ctx, run); err != nil {
			return err
		}

		branch := models.BranchNext

		switch n := current.(type) {
		case *models.TriggerNode:
			// Entry point only; no side effect.

		case *models.EmailNode:
			if err := e.executeEmail(ctx, wf, run, tgt, n); err != nil {
				return e.fail(ctx, wf, run, n, err)
			}

			executed++

		case *models.DelayNode:
			return e.suspend(ctx, wf, run, n)

		case *models.ConditionNode:
			result, err := evaluateCondition(n, tgt, run.Context)
			if err != nil {
				return e.fail(ctx, wf, run, n, err)
			}

			run.SetContext("condition_"+n.NodeID, result)

			if result {
				branch = models.BranchYes
			} else {
				branch = models.BranchNo
			}

			executed++

		case *models.UpdateStatusNode:
			if err := e.executeUpdateStatus(ctx, wf, run, tgt, n); err != nil {
				return e.fail(ctx, wf, run, n, err)
			}

			executed++

		default:
			return e.fail(ctx, wf, run, current, fmt.Errorf("unhandled node type %q", current.Type()))
		}

		current = wf.Graph.Next(current.ID(), branch)
	}

	return e.complete(ctx, wf, run, executed)
}

func (e *Executor) executeEmail(ctx context.Context, wf *models.Workflow, run *models.ExecutionRun, tgt target.Target, node *models.EmailNode) error {
	data := e.templateData(wf, run, tgt)

	variables, err := template.RenderAll(node.Variables, data)
	if err != nil {
		return err
	}

	recipient := tgt.Email()

	if node.Recipient != "" {
		recipient, err = template.Render(node.Recipient, data)
		if err != nil {
			return err
		}
	}

	message := mailer.Message{
		TemplateID: node.TemplateID,
		To:         recipient,
		FromName:   node.FromName,
		Variables:  variables,
	}

	// Send failures are surfaced, not retried: the run fails with the
	// pointer still at this node.
	err = e.mailer.Send(ctx, message)
	if err != nil {
		return fmt.Errorf("failed to send template %s to %s: %w", node.TemplateID, recipient, err)
	}

	run.SetContext("email_"+node.NodeID, map[string]any{
		"template_id": node.TemplateID,
		"to":          recipient,
		"sent_at":     e.clock.Now().UTC().Format(time.RFC3339),
	})

	e.publish(ctx, run, events.EmailSent{
		BaseEvent:   e.baseEvent(events.EmailSentEvent, wf.ID),
		ExecutionID: run.ID,
		NodeID:      node.NodeID,
		TemplateID:  node.TemplateID,
		Recipient:   recipient,
	})

	return nil
}

func (e *Executor) executeUpdateStatus(ctx context.Context, wf *models.Workflow, run *models.ExecutionRun, tgt target.Target, node *models.UpdateStatusNode) error {
	fromStatus := tgt.Status()

	err := e.targets.UpdateStatus(ctx, run.Target, node.Status, node.ExpectedStatus)
	if err != nil {
		return fmt.Errorf("failed to update %s to status %q: %w", run.Target, node.Status, err)
	}

	run.SetContext("status_update_"+node.NodeID, map[string]any{
		"from": fromStatus,
		"to":   node.Status,
	})

	e.publish(ctx, run, events.TargetStatusUpdated{
		BaseEvent:   e.baseEvent(events.TargetStatusUpdatedEvent, wf.ID),
		ExecutionID: run.ID,
		NodeID:      node.NodeID,
		Target:      run.Target,
		FromStatus:  fromStatus,
		ToStatus:    node.Status,
	})

	return nil
}

// suspend persists a continuation for the delay node and parks the run as
// pending with the pointer on the delay node. The goroutine is released; the
// continuation sweep resumes the run later.
func (e *Executor) suspend(ctx context.Context, wf *models.Workflow, run *models.ExecutionRun, node *models.DelayNode) error {
	wait, err := node.Wait()
	if err != nil {
		return e.fail(ctx, wf, run, node, err)
	}

	now := e.clock.Now().UTC()

	continuation := &models.Continuation{
		ID:           uuid.NewString(),
		ExecutionID:  run.ID,
		WorkflowID:   wf.ID,
		DelayNodeID:  node.NodeID,
		ScheduledFor: now.Add(wait),
		Status:       models.ContinuationScheduled,
		CreatedAt:    now,
		UpdatedAt:    now,
	}

	err = e.persistence.ContinuationRepository().Create(ctx, continuation)
	if err != nil {
		return fmt.Errorf("failed to schedule continuation for execution %s: %w", run.ID, err)
	}

	run.Status = models.RunStatusPending

	if err := e.saveRun(ctx, run); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Suspended execution on delay node",
		"execution_id", run.ID, "delay_node_id", node.NodeID, "scheduled_for", continuation.ScheduledFor)

	e.publish(ctx, run, events.ContinuationScheduled{
		BaseEvent:      e.baseEvent(events.ContinuationScheduledEvent, wf.ID),
		ExecutionID:    run.ID,
		ContinuationID: continuation.ID,
		DelayNodeID:    node.NodeID,
		ScheduledFor:   continuation.ScheduledFor,
	})

	return nil
}

func (e *Executor) complete(ctx context.Context, wf *models.Workflow, run *models.ExecutionRun, executed int) error {
	now := e.clock.Now().UTC()

	run.Status = models.RunStatusCompleted
	run.CurrentNodeID = nil
	run.CompletedAt = &now

	if err := e.saveRun(ctx, run); err != nil {
		return err
	}

	e.logger.InfoContext(ctx, "Completed workflow execution",
		"workflow_id", wf.ID, "execution_id", run.ID, "nodes_executed", executed)

	e.publish(ctx, run, events.ExecutionCompleted{
		BaseEvent:     e.baseEvent(events.ExecutionCompletedEvent, wf.ID),
		ExecutionID:   run.ID,
		Target:        run.Target,
		NodesExecuted: executed,
		DurationMs:    now.Sub(run.StartedAt).Milliseconds(),
	})

	return nil
}

// fail marks the run failed with the pointer left at the failed node, so a
// manual retry resumes there. Node implementations must therefore tolerate
// re-invocation.
func (e *Executor) fail(ctx context.Context, wf *models.Workflow, run *models.ExecutionRun, node models.Node, cause error) error {
	now := e.clock.Now().UTC()

	run.Status = models.RunStatusFailed
	run.LastError = cause.Error()
	run.CompletedAt = &now

	if err := e.saveRun(ctx, run); err != nil {
		e.logger.ErrorContext(ctx, "Failed to persist failed run", "execution_id", run.ID, "error", err)
	}

	otelhelper.RecordFailure(trace.SpanFromContext(ctx), cause,
		attribute.String(otelhelper.NodeIDKey, node.ID()),
		attribute.String(otelhelper.NodeTypeKey, string(node.Type())))

	e.logger.ErrorContext(ctx, "Workflow execution failed",
		"workflow_id", wf.ID, "execution_id", run.ID, "node_id", node.ID(), "error", cause)

	e.publish(ctx, run, events.ExecutionFailed{
		BaseEvent:    e.baseEvent(events.ExecutionFailedEvent, wf.ID),
		ExecutionID:  run.ID,
		Target:       run.Target,
		FailedNodeID: node.ID(),
		Error:        cause.Error(),
	})

	return &NodeExecutionError{NodeID: node.ID(), NodeType: node.Type(), Err: cause}
}

func (e *Executor) saveRun(ctx context.Context, run *models.ExecutionRun) error {
	run.UpdatedAt = e.clock.Now().UTC()

	err := e.persistence.ExecutionRepository().Update(ctx, run)
	if err != nil {
		return persistence.NewExecutionError("Update", run.ID, err)
	}

	return nil
}

func (e *Executor) templateData(wf *models.Workflow, run *models.ExecutionRun, tgt target.Target) template.Data {
	trigger, _ := run.Context["trigger"].(map[string]any)

	return template.Data{
		Target:  tgt.Attributes(),
		Context: run.Context,
		Trigger: trigger,
		Workflow: map[string]any{
			"id":   wf.ID,
			"name": wf.Name,
		},
		Now: e.clock.Now(),
	}
}

func (e *Executor) baseEvent(eventType events.EventType, workflowID string) events.BaseEvent {
	return events.BaseEvent{
		ID:         uuid.NewString(),
		Type:       eventType,
		Timestamp:  e.clock.Now().UTC(),
		WorkflowID: workflowID,
	}
}

func (e *Executor) publish(ctx context.Context, run *models.ExecutionRun, event eventbus.Event) {
	if e.eventBus == nil {
		return
	}

	err := e.eventBus.Publish(ctx, run.Target.String(), event)
	if err != nil {
		e.logger.ErrorContext(ctx, "Failed to publish event", "event_type", event.GetType(), "error", err)
	}
}

// evaluateCondition resolves the node's field from target attributes first,
// then the run context, and applies the operator. Pure: no side effects.
func evaluateCondition(node *models.ConditionNode, tgt target.Target, runContext map[string]any) (bool, error) {
	value, found := lookupField(node.Field, tgt, runContext)
	if !found {
		// A missing field is not an error: the predicate is simply false
		// (except for neq, which holds vacuously).
		return node.Operator == models.OperatorNotEquals, nil
	}

	actual := fmt.Sprint(value)

	switch node.Operator {
	case models.OperatorEquals:
		return actual == node.Value, nil
	case models.OperatorNotEquals:
		return actual != node.Value, nil
	case models.OperatorContains:
		return strings.Contains(actual, node.Value), nil
	case models.OperatorGreaterThan, models.OperatorLessThan:
		left, err := strconv.ParseFloat(actual, 64)
		if err != nil {
			return false, fmt.Errorf("field %q value %q is not numeric: %w", node.Field, actual, err)
		}

		right, err := strconv.ParseFloat(node.Value, 64)
		if err != nil {
			return false, fmt.Errorf("condition value %q is not numeric: %w", node.Value, err)
		}

		if node.Operator == models.OperatorGreaterThan {
			return left > right, nil
		}

		return left < right, nil
	default:
		return false, fmt.Errorf("unknown operator %q", node.Operator)
	}
}

func lookupField(field string, tgt target.Target, runContext map[string]any) (any, bool) {
	if value, ok := tgt.Attributes()[field]; ok {
		return value, true
	}

	if value, ok := runContext[field]; ok {
		return value, true
	}

	return nil, false
}
