package models

import "time"

// ContinuationStatus is the lifecycle state of a scheduled continuation.
type ContinuationStatus string

const (
	ContinuationScheduled ContinuationStatus = "scheduled"
	// ContinuationRunning marks a continuation claimed by a sweep. The claim
	// happens before the interpreter is re-entered, so a sweep that
	// double-selects a due continuation resumes it only once.
	ContinuationRunning  ContinuationStatus = "running"
	ContinuationExecuted ContinuationStatus = "executed"
	ContinuationFailed   ContinuationStatus = "failed"
)

// Continuation is the persisted record of "resume this run at this delay
// node's successor after scheduled_for".
type Continuation struct {
	ID           string             `json:"id"`
	ExecutionID  string             `json:"execution_id"`
	WorkflowID   string             `json:"workflow_id"`
	DelayNodeID  string             `json:"delay_node_id"`
	ScheduledFor time.Time          `json:"scheduled_for"`
	Attempts     int                `json:"attempts"`
	LastError    string             `json:"last_error,omitempty"`
	Status       ContinuationStatus `json:"status"`
	CreatedAt    time.Time          `json:"created_at"`
	UpdatedAt    time.Time          `json:"updated_at"`
}
