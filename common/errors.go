// Package common holds the error taxonomy and small helpers shared by the
// background services and the page-side reconciler.
package common

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies an error for routing and retry decisions.
type Kind string

const (
	KindAuth         Kind = "AUTH"
	KindNetwork      Kind = "NETWORK"
	KindQuota        Kind = "QUOTA"
	KindRateLimit    Kind = "RATE_LIMIT"
	KindNotFound     Kind = "NOT_FOUND"
	KindForbidden    Kind = "FORBIDDEN"
	KindStorage      Kind = "STORAGE"
	KindStorageQuota Kind = "STORAGE_QUOTA"
	KindSync         Kind = "SYNC"
	KindUnknown      Kind = "UNKNOWN"
)

// ErrorContext identifies where an error originated.
type ErrorContext struct {
	Component string
	Operation string
	Timestamp time.Time
	Details   map[string]any
}

// ClassifiedError is an error tagged with its Kind and origin so the governor
// can route it without string matching.
type ClassifiedError struct {
	Kind    Kind
	Message string
	Context ErrorContext
	Cause   error
}

func (e *ClassifiedError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *ClassifiedError) Unwrap() error { return e.Cause }

// NewError builds a ClassifiedError without origin context.
func NewError(kind Kind, message string) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Message: message}
}

// WrapError builds a ClassifiedError around a cause.
func WrapError(kind Kind, message string, cause error) *ClassifiedError {
	return &ClassifiedError{Kind: kind, Message: message, Cause: cause}
}

// WithContext returns a copy of the error carrying origin context.
func (e *ClassifiedError) WithContext(component, operation string, details map[string]any) *ClassifiedError {
	clone := *e
	clone.Context = ErrorContext{
		Component: component,
		Operation: operation,
		Timestamp: time.Now(),
		Details:   details,
	}
	return &clone
}

// KindOf extracts the Kind from err, or KindUnknown if err carries none.
func KindOf(err error) Kind {
	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Kind
	}
	return KindUnknown
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}

// Sentinel errors surfaced by the persistent store.
var (
	ErrNotFound        = NewError(KindNotFound, "record not found")
	ErrDuplicateRecord = NewError(KindStorage, "duplicate record")
)
