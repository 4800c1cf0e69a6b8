package models

import (
	"fmt"
	"time"
)

// TriggerType represents what kind of external event fires a workflow.
type TriggerType string

const (
	// TriggerEntityCreated fires when a target entity is created.
	TriggerEntityCreated TriggerType = "entity_created"
	// TriggerStatusChanged fires when a target's status field changes.
	TriggerStatusChanged TriggerType = "status_changed"
	// TriggerStuckAtStatus fires when a target has stayed at a status longer
	// than the configured duration. Driven by the periodic stuck sweep.
	TriggerStuckAtStatus TriggerType = "stuck_at_status"
	// TriggerTimeDelay fires once when a target's age exceeds the configured
	// duration, regardless of status. Driven by the periodic stuck sweep.
	TriggerTimeDelay TriggerType = "time_delay"
)

// TriggerConfig carries the per-trigger-type firing condition. Only the
// fields relevant to the workflow's trigger type are set.
type TriggerConfig struct {
	// stuck_at_status
	StuckStatus string `json:"stuck_status,omitempty"`

	// stuck_at_status and time_delay
	Duration int    `json:"duration,omitempty"`
	Unit     string `json:"unit,omitempty"`

	// status_changed
	FromStatus string `json:"from_status,omitempty"`
	ToStatus   string `json:"to_status,omitempty"`

	// RunOnce makes the workflow fire at most once per target, ever,
	// regardless of which specific condition triggered it.
	RunOnce bool `json:"run_once,omitempty"`

	// RetryOnFailure leaves no tracker entry when an execution fails, so the
	// next sweep tries the same target again. Off by default: a permanently
	// broken workflow must not hot-loop against the same target.
	RetryOnFailure bool `json:"retry_on_failure,omitempty"`
}

// Workflow is an email workflow definition: trigger metadata plus an immutable
// node graph. Definitions are authored externally and read-only to the engine.
type Workflow struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"           validate:"required,min=3"`
	Description   string        `json:"description"`
	Active        bool          `json:"active"`
	TargetType    TargetType    `json:"target_type"    validate:"required,oneof=application contract"`
	TriggerType   TriggerType   `json:"trigger_type"   validate:"required,oneof=entity_created status_changed stuck_at_status time_delay"`
	TriggerConfig TriggerConfig `json:"trigger_config"`
	Graph         Graph         `json:"graph"`
	CreatedAt     time.Time     `json:"created_at"`
	UpdatedAt     time.Time     `json:"updated_at"`
}

// ValidateTriggerConfig checks that the trigger config carries the fields the
// workflow's trigger type needs.
func (w *Workflow) ValidateTriggerConfig() error {
	switch w.TriggerType {
	case TriggerStuckAtStatus:
		if w.TriggerConfig.StuckStatus == "" {
			return fmt.Errorf("%w: stuck_at_status workflow %s is missing stuck_status", ErrInvalidGraph, w.ID)
		}

		if _, err := DurationFromUnits(w.TriggerConfig.Duration, w.TriggerConfig.Unit); err != nil {
			return fmt.Errorf("%w: workflow %s: %w", ErrInvalidGraph, w.ID, err)
		}
	case TriggerTimeDelay:
		if _, err := DurationFromUnits(w.TriggerConfig.Duration, w.TriggerConfig.Unit); err != nil {
			return fmt.Errorf("%w: workflow %s: %w", ErrInvalidGraph, w.ID, err)
		}
	case TriggerStatusChanged:
		if w.TriggerConfig.ToStatus == "" {
			return fmt.Errorf("%w: status_changed workflow %s is missing to_status", ErrInvalidGraph, w.ID)
		}
	case TriggerEntityCreated:
	default:
		return fmt.Errorf("%w: workflow %s has unknown trigger type %q", ErrInvalidGraph, w.ID, w.TriggerType)
	}

	return nil
}

// StuckThreshold returns the configured stuck/age duration.
func (w *Workflow) StuckThreshold() (time.Duration, error) {
	return DurationFromUnits(w.TriggerConfig.Duration, w.TriggerConfig.Unit)
}
