// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"errors"
	"fmt"
)

// Error kinds. Match them with errors.Is; the transport maps them to statuses.
var (
	ErrNotFound   = errors.New("not found")
	ErrValidation = errors.New("validation failed")
	ErrInvalidID  = errors.New("invalid id")
	// ErrValueOutOfRange is a well-formed value outside its bounds.
	ErrValueOutOfRange = errors.New("value out of range")

	// ErrConflict means the aggregate version moved between read and commit.
	ErrConflict = errors.New("version conflict")

	ErrCatalog = errors.New("badge catalog")

	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("timeout")
)

// DomainError locates a failure (Domain.Op) and classifies it (Kind).
type DomainError struct {
	Domain  string
	Op      string
	Kind    error
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	prefix := e.Domain + "." + e.Op
	if e.Err == nil {
		return prefix + ": " + e.Message
	}
	return fmt.Sprintf("%s: %s: %v", prefix, e.Message, e.Err)
}

// Unwrap returns the cause, or the kind when there is none.
func (e *DomainError) Unwrap() error {
	if e.Err == nil {
		return e.Kind
	}
	return e.Err
}

// Is matches both the kind and the cause.
func (e *DomainError) Is(target error) bool {
	return (e.Kind != nil && errors.Is(e.Kind, target)) ||
		(e.Err != nil && errors.Is(e.Err, target))
}

// NewDomainError creates an error without a cause.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return WrapError(domain, op, kind, message, nil)
}

// WrapError attaches domain context to err.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{Domain: domain, Op: op, Kind: kind, Message: message, Err: err}
}

// ValidationError reports one invalid field of a progress command.
func ValidationError(op, field, reason string) *DomainError {
	return NewDomainError("progress", op, ErrValidation, field+": "+reason)
}

// CatalogError describes a badge whose condition cannot be resolved. The
// pipeline skips the badge and carries on.
type CatalogError struct {
	BadgeID string
	Reason  string
}

func (e *CatalogError) Error() string {
	return fmt.Sprintf("catalog: badge %q: %s", e.BadgeID, e.Reason)
}

// Is matches ErrCatalog.
func (e *CatalogError) Is(target error) bool {
	return target == ErrCatalog
}

// Progress aggregate errors.
var (
	ErrProgressNotFound = NewDomainError("progress", "Get", ErrNotFound, "user progress not found")
	ErrVersionConflict  = NewDomainError("progress", "Commit", ErrConflict, "aggregate version changed concurrently")
	ErrRetriesExhausted = NewDomainError("progress", "CompleteSession", ErrServiceUnavailable, "too many concurrent updates, try again")
)

func IsNotFound(err error) bool { return errors.Is(err, ErrNotFound) }

func IsConflict(err error) bool { return errors.Is(err, ErrConflict) }

func IsCatalog(err error) bool { return errors.Is(err, ErrCatalog) }

// IsValidation reports bad input; retrying will not help.
func IsValidation(err error) bool {
	for _, kind := range []error{ErrValidation, ErrInvalidID, ErrValueOutOfRange} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}

// IsRetryable reports whether the same call may succeed later.
func IsRetryable(err error) bool {
	for _, kind := range []error{ErrConflict, ErrServiceUnavailable, ErrTimeout} {
		if errors.Is(err, kind) {
			return true
		}
	}
	return false
}
