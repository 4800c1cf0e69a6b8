package models

import "time"

// TrackerEntry records that a (workflow, target, trigger key) combination has
// already fired. Entries are unique on that tuple; the unique constraint is
// the engine's dedup guarantee.
type TrackerEntry struct {
	ID          string      `json:"id"`
	WorkflowID  string      `json:"workflow_id"`
	Target      TargetRef   `json:"target"`
	TriggerType TriggerType `json:"trigger_type"`
	TriggerKey  string      `json:"trigger_key"`
	RunOnce     bool        `json:"run_once"`
	ExecutedAt  time.Time   `json:"executed_at"`
}
