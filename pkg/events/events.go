// Package events defines event types and structures for workflow lifecycle notifications.
package events

import (
	"time"

	"github.com/loanramp/mailflow/pkg/models"
)

type EventType string

// Topic is the event bus topic all engine lifecycle events publish to.
const Topic = "mailflow.events"

const EventMetadataKey = "key"
const EventTypeMetadataKey = "event_type"

const (
	ExecutionStartedEvent      EventType = "execution.started"
	ExecutionCompletedEvent    EventType = "execution.completed"
	ExecutionFailedEvent       EventType = "execution.failed"
	EmailSentEvent             EventType = "execution.email.sent"
	TargetStatusUpdatedEvent   EventType = "execution.target.status_updated"
	ContinuationScheduledEvent EventType = "continuation.scheduled"
	ContinuationExhaustedEvent EventType = "continuation.exhausted"
)

type BaseEvent struct {
	ID         string    `json:"id"`
	Type       EventType `json:"type"`
	Timestamp  time.Time `json:"timestamp"`
	WorkflowID string    `json:"workflow_id"`
}

type ExecutionStarted struct {
	BaseEvent

	ExecutionID  string           `json:"execution_id"`
	WorkflowName string           `json:"workflow_name"`
	Target       models.TargetRef `json:"target"`
	TriggerType  string           `json:"trigger_type"`
	TriggerKey   string           `json:"trigger_key,omitempty"`
}

func (e ExecutionStarted) GetType() EventType {
	return ExecutionStartedEvent
}

type ExecutionCompleted struct {
	BaseEvent

	ExecutionID   string           `json:"execution_id"`
	Target        models.TargetRef `json:"target"`
	NodesExecuted int              `json:"nodes_executed"`
	DurationMs    int64            `json:"duration_ms"`
}

func (e ExecutionCompleted) GetType() EventType {
	return ExecutionCompletedEvent
}

type ExecutionFailed struct {
	BaseEvent

	ExecutionID  string           `json:"execution_id"`
	Target       models.TargetRef `json:"target"`
	FailedNodeID string           `json:"failed_node_id,omitempty"`
	Error        string           `json:"error"`
}

func (e ExecutionFailed) GetType() EventType {
	return ExecutionFailedEvent
}

type EmailSent struct {
	BaseEvent

	ExecutionID string `json:"execution_id"`
	NodeID      string `json:"node_id"`
	TemplateID  string `json:"template_id"`
	Recipient   string `json:"recipient"`
}

func (e EmailSent) GetType() EventType {
	return EmailSentEvent
}

type TargetStatusUpdated struct {
	BaseEvent

	ExecutionID string           `json:"execution_id"`
	NodeID      string           `json:"node_id"`
	Target      models.TargetRef `json:"target"`
	FromStatus  string           `json:"from_status,omitempty"`
	ToStatus    string           `json:"to_status"`
}

func (e TargetStatusUpdated) GetType() EventType {
	return TargetStatusUpdatedEvent
}

type ContinuationScheduled struct {
	BaseEvent

	ExecutionID    string    `json:"execution_id"`
	ContinuationID string    `json:"continuation_id"`
	DelayNodeID    string    `json:"delay_node_id"`
	ScheduledFor   time.Time `json:"scheduled_for"`
}

func (e ContinuationScheduled) GetType() EventType {
	return ContinuationScheduledEvent
}

type ContinuationExhausted struct {
	BaseEvent

	ExecutionID    string `json:"execution_id"`
	ContinuationID string `json:"continuation_id"`
	Attempts       int    `json:"attempts"`
	Error          string `json:"error"`
}

func (e ContinuationExhausted) GetType() EventType {
	return ContinuationExhaustedEvent
}
