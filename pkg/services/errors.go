// Package services provides the application service layer between the HTTP
// surface and the engine.
package services

import (
	"errors"
	"fmt"
)

// Validation errors map to HTTP 400.
var (
	ErrInvalidRequest   = errors.New("invalid request")
	ErrInvalidStatus    = errors.New("invalid run status")
	ErrInvalidTargetRef = errors.New("invalid target reference")
)

// ServiceError wraps service-level errors with operation context.
type ServiceError struct {
	Op  string
	Err error
}

func (e *ServiceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

func (e *ServiceError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsValidationError checks if an error should surface as HTTP 400.
func IsValidationError(err error) bool {
	return errors.Is(err, ErrInvalidRequest) ||
		errors.Is(err, ErrInvalidStatus) ||
		errors.Is(err, ErrInvalidTargetRef)
}
