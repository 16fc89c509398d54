// Package envelope defines the error taxonomy and result envelope shared
// across every operation family the core exposes.
package envelope

import (
	"errors"
	"fmt"
)

// Kind classifies a failure into one of the core's error kinds. Storage
// errors are never surfaced raw; they are classified into a Kind at the
// store boundary.
type Kind int

const (
	KindInternal Kind = iota
	KindInvalidInput
	KindNotFound
	KindDuplicate
	KindRateLimited
	KindAlreadyRunning
	KindDependencyUnavailable
	KindTimeout
	KindCorruptState
)

func (k Kind) String() string {
	switch k {
	case KindInvalidInput:
		return "InvalidInput"
	case KindNotFound:
		return "NotFound"
	case KindDuplicate:
		return "Duplicate"
	case KindRateLimited:
		return "RateLimited"
	case KindAlreadyRunning:
		return "AlreadyRunning"
	case KindDependencyUnavailable:
		return "DependencyUnavailable"
	case KindTimeout:
		return "Timeout"
	case KindCorruptState:
		return "CorruptState"
	default:
		return "Internal"
	}
}

// Error is the core's classified error type. Cause holds the original
// driver/storage error for logging; callers should match on Kind, not Cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// New builds an Error of the given kind.
func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

// Wrap classifies cause into an Error of the given kind, preserving it for
// errors.Is/As and logging.
func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// KindOf extracts the Kind of err, defaulting to KindInternal if err is not
// (or does not wrap) an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is allows errors.Is(err, SomeKind) style checks against a bare Kind is not
// idiomatic; instead use KindOf(err) == KindX. IsKind is a small helper for
// that comparison.
func IsKind(err error, kind Kind) bool {
	return KindOf(err) == kind
}
