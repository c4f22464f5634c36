// Package common provides shared utilities and types used across the application.
package common

import (
	"errors"
	"fmt"
)

// Common application errors.
var (
	// Database errors.
	ErrNotFound       = errors.New("not found")
	ErrDuplicateEntry = errors.New("duplicate entry")

	// Reconciliation outcomes. Only ErrInvariantViolation is fatal to an operation.
	ErrNoCandidateFound   = errors.New("no candidate found")
	ErrAmbiguousMatch     = errors.New("ambiguous match")
	ErrInvariantViolation = errors.New("invariant violation")

	// Classification errors.
	ErrEvidenceUnavailable  = errors.New("evidence unavailable")
	ErrClassificationFailed = errors.New("classification failed")

	// Configuration errors.
	ErrMissingConfig = errors.New("missing configuration")
	ErrInvalidConfig = errors.New("invalid configuration")
)

// UserError represents an error that should be shown to the user.
type UserError struct {
	Err         error
	UserMessage string
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.UserMessage, e.Err)
	}
	return e.UserMessage
}

func (e *UserError) Unwrap() error {
	return e.Err
}

// NewUserError creates a new user-friendly error.
func NewUserError(userMessage string, err error) error {
	return &UserError{
		UserMessage: userMessage,
		Err:         err,
	}
}

// InvariantError describes a rejected write that would break a uniqueness or sum invariant.
type InvariantError struct {
	Record string
	Reason string
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("%s: %s: %s", ErrInvariantViolation.Error(), e.Record, e.Reason)
}

func (e *InvariantError) Unwrap() error {
	return ErrInvariantViolation
}

// NewInvariantError creates an error that matches ErrInvariantViolation.
func NewInvariantError(record, reason string) error {
	return &InvariantError{Record: record, Reason: reason}
}
