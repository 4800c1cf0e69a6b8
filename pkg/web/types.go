package web

// EntityCreatedRequest notifies the engine that a target entity was created.
type EntityCreatedRequest struct {
	TargetType string `json:"target_type" validate:"required,oneof=application contract"`
	TargetID   string `json:"target_id"   validate:"required"`
}

// StatusChangedRequest notifies the engine that a target's status changed.
type StatusChangedRequest struct {
	TargetType string `json:"target_type" validate:"required,oneof=application contract"`
	TargetID   string `json:"target_id"   validate:"required"`
	FromStatus string `json:"from_status"`
	ToStatus   string `json:"to_status"   validate:"required"`
}

// TriggerResponse reports how many executions an event started.
type TriggerResponse struct {
	ExecutionsStarted int `json:"executions_started"`
}
