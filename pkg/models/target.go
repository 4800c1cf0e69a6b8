package models

import "fmt"

// TargetType identifies which business entity a workflow runs against.
type TargetType string

const (
	TargetTypeApplication TargetType = "application"
	TargetTypeContract    TargetType = "contract"
)

// TargetRef is a polymorphic reference to an Application or Contract.
type TargetRef struct {
	Type TargetType `json:"type" validate:"required,oneof=application contract"`
	ID   string     `json:"id"   validate:"required"`
}

func (r TargetRef) String() string {
	return fmt.Sprintf("%s/%s", r.Type, r.ID)
}

func (r TargetRef) IsZero() bool {
	return r.Type == "" && r.ID == ""
}
