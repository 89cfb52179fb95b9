// Package errors provides standardized error types for the domain layer.
// These errors enable consistent categorization across services and map
// cleanly onto HTTP responses at the API boundary.
package errors

import (
	"errors"
	"fmt"
)

// Standard error categories
var (
	// ErrNotFound indicates the requested resource was not found
	ErrNotFound = errors.New("resource not found")

	// ErrAlreadyExists indicates the resource already exists
	ErrAlreadyExists = errors.New("resource already exists")

	// ErrInvalidInput indicates invalid input was provided
	ErrInvalidInput = errors.New("invalid input")

	// ErrUnauthorized indicates the request is not authorized
	ErrUnauthorized = errors.New("unauthorized")

	// ErrConflict indicates a conflict with the current state
	ErrConflict = errors.New("conflict")

	// ErrInternal indicates an internal server error
	ErrInternal = errors.New("internal error")

	// ErrInsufficientStars indicates a balance check failed before a debit or hold
	ErrInsufficientStars = errors.New("insufficient stars")

	// ErrInvalidTransition indicates an illegal deposit status transition
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrUnmatched indicates an observation could not be tied to any deposit
	ErrUnmatched = errors.New("observation unmatched")
)

// DomainError carries a machine-readable code and optional context
type DomainError struct {
	Err     error
	Code    string
	Message string
	Details map[string]interface{}
}

func (e *DomainError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return e.Code
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

func (e *DomainError) Is(target error) bool {
	if e.Err != nil {
		return errors.Is(e.Err, target)
	}
	return false
}

// InsufficientStarsError builds the error returned when a hold or spend
// exceeds the user's spendable balance.
func InsufficientStarsError(have, need int64) *DomainError {
	return &DomainError{
		Err:     ErrInsufficientStars,
		Code:    "INSUFFICIENT_STARS",
		Message: fmt.Sprintf("insufficient stars: have %d, need %d", have, need),
		Details: map[string]interface{}{"have": have, "need": need},
	}
}

// TransitionError builds the error for an illegal deposit status transition.
func TransitionError(from, to string) *DomainError {
	return &DomainError{
		Err:     ErrInvalidTransition,
		Code:    "INVALID_TRANSITION",
		Message: fmt.Sprintf("invalid status transition from %s to %s", from, to),
	}
}
