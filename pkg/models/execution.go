package models

import "time"

// RunStatus is the lifecycle state of an execution run.
type RunStatus string

const (
	RunStatusPending   RunStatus = "pending"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
)

// ExecutionRun tracks one workflow execution against one target. At most one
// non-terminal run may exist per (workflow, target) pair at a time; the
// persistence layer enforces this and the engine treats a conflict as "someone
// else is already running it".
type ExecutionRun struct {
	ID            string         `json:"id"`
	WorkflowID    string         `json:"workflow_id"`
	Target        TargetRef      `json:"target"`
	Status        RunStatus      `json:"status"`
	CurrentNodeID *string        `json:"current_node_id,omitempty"`
	Context       map[string]any `json:"context,omitempty"`
	LastError     string         `json:"last_error,omitempty"`
	StartedAt     time.Time      `json:"started_at"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
	UpdatedAt     time.Time      `json:"updated_at"`
}

// Terminal reports whether the run reached a final state.
func (r *ExecutionRun) Terminal() bool {
	return r.Status == RunStatusCompleted || r.Status == RunStatusFailed
}

// SetContext records a value in the run's accumulated context bag.
func (r *ExecutionRun) SetContext(key string, value any) {
	if r.Context == nil {
		r.Context = make(map[string]any)
	}

	r.Context[key] = value
}
