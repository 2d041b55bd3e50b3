// Package shared holds the value objects, events, and error types the rest
// of the domain layer builds on. It imports nothing outside the standard
// library.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Every DomainError carries exactly one of these so callers
// can classify failures with errors.Is without knowing which package
// produced them.
var (
	ErrNotFound        = errors.New("not found")
	ErrInvalidInput    = errors.New("invalid input")
	ErrInvalidID       = errors.New("invalid ID")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrExternalService = errors.New("external service error")
)

// DomainError ties an error kind to the domain and operation that raised it.
type DomainError struct {
	Domain  string // owning domain, e.g. "quota" or "assessment"
	Op      string // operation that failed, e.g. "CheckAndConsume"
	Kind    error  // one of the kind sentinels above
	Message string // human-readable description
	Err     error  // wrapped cause, may be nil
}

func (e *DomainError) Error() string {
	msg := fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap exposes the cause when present, otherwise the kind.
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is matches against both the kind and the wrapped cause.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

// NewDomainError builds a DomainError without a cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message}
}

// WrapError builds a DomainError around an underlying cause.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// Well-known failures returned by the domain packages. Declared here so the
// HTTP layer and the domain code agree on the exact values used with errors.Is.
var (
	ErrSessionNotFound = NewDomainError("progress", "Find", ErrNotFound, "watch session not found")

	ErrSubjectEmpty = NewDomainError("quota", "Validate", ErrInvalidInput, "subject ID cannot be empty")

	ErrNotAwaitingFullscreen = NewDomainError("assessment", "EnterFullscreen", ErrStateTransition, "assessment is not awaiting fullscreen")
	ErrNotInProgress         = NewDomainError("assessment", "Tick", ErrInvalidState, "assessment is not in progress")
	ErrRestartNotRequired    = NewDomainError("assessment", "Restart", ErrInvalidState, "assessment does not need a restart")
	ErrAssessmentComplete    = NewDomainError("assessment", "Advance", ErrInvalidState, "assessment already complete")
	ErrNoQuestions           = NewDomainError("assessment", "Begin", ErrInvalidInput, "assessment has no questions")
)

// IsNotFound reports whether err represents a missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsValidationError reports whether err was caused by bad caller input.
func IsValidationError(err error) bool {
	for _, kind := range []error{ErrInvalidInput, ErrInvalidID, ErrValueOutOfRange} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsExternalService reports whether err originated outside the engine.
func IsExternalService(err error) bool {
	return errors.Is(err, ErrExternalService)
}
