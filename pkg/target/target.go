// Package target defines the capability interface the engine uses to read and
// mutate the business entities workflows run against. Applications and
// Contracts are owned by their own domains; the engine sees them only through
// this surface, and the only mutation it performs is the status update issued
// by update_status nodes.
package target

import (
	"context"
	"time"

	"github.com/loanramp/mailflow/pkg/models"
)

// Target is a read view over one Application or Contract.
type Target interface {
	Ref() models.TargetRef
	Status() string
	Email() string
	CreatedAt() time.Time
	UpdatedAt() time.Time
	// Attributes exposes the entity fields available to email variable
	// rendering and condition evaluation.
	Attributes() map[string]any
}

// Store is the polymorphic accessor for target entities.
type Store interface {
	Get(ctx context.Context, ref models.TargetRef) (Target, error)

	// FindStuck returns targets of the given type whose status equals status
	// and whose updated_at is at or before updatedBefore.
	FindStuck(ctx context.Context, targetType models.TargetType, status string, updatedBefore time.Time) ([]Target, error)

	// FindCreatedBefore returns targets of the given type created at or
	// before createdBefore, for age-based (time_delay) triggers.
	FindCreatedBefore(ctx context.Context, targetType models.TargetType, createdBefore time.Time) ([]Target, error)

	// UpdateStatus sets the target's status. When expectedStatus is non-empty
	// the update only applies if the target still holds that status;
	// otherwise ErrStatusConflict is returned.
	UpdateStatus(ctx context.Context, ref models.TargetRef, newStatus, expectedStatus string) error
}

// Record is the row-backed Target implementation shared by the persistence
// backends.
type Record struct {
	ref       models.TargetRef
	status    string
	email     string
	createdAt time.Time
	updatedAt time.Time
	attrs     map[string]any
}

// NewRecord builds a Record from entity row data.
func NewRecord(ref models.TargetRef, status, email string, createdAt, updatedAt time.Time, attrs map[string]any) *Record {
	return &Record{
		ref:       ref,
		status:    status,
		email:     email,
		createdAt: createdAt,
		updatedAt: updatedAt,
		attrs:     attrs,
	}
}

// NewApplication builds a Record referencing an Application.
func NewApplication(id, status, email string, createdAt, updatedAt time.Time, attrs map[string]any) *Record {
	return NewRecord(models.TargetRef{Type: models.TargetTypeApplication, ID: id}, status, email, createdAt, updatedAt, attrs)
}

// NewContract builds a Record referencing a Contract.
func NewContract(id, status, email string, createdAt, updatedAt time.Time, attrs map[string]any) *Record {
	return NewRecord(models.TargetRef{Type: models.TargetTypeContract, ID: id}, status, email, createdAt, updatedAt, attrs)
}

func (r *Record) Ref() models.TargetRef { return r.ref }
func (r *Record) Status() string        { return r.status }
func (r *Record) Email() string         { return r.email }
func (r *Record) CreatedAt() time.Time  { return r.createdAt }
func (r *Record) UpdatedAt() time.Time  { return r.updatedAt }

// Attributes returns the entity fields visible to templates and conditions.
// Custom attributes never shadow the built-in keys.
func (r *Record) Attributes() map[string]any {
	attrs := make(map[string]any, len(r.attrs)+4)

	for k, v := range r.attrs {
		attrs[k] = v
	}

	attrs["id"] = r.ref.ID
	attrs["type"] = string(r.ref.Type)
	attrs["status"] = r.status
	attrs["email"] = r.email

	return attrs
}
