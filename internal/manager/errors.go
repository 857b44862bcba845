package manager

import (
	"context"
	"errors"
	"strings"

	"enginegate/pkg/types"
)

// ErrorKind classifies InferenceError.
type ErrorKind int

const (
	KindRouting ErrorKind = iota + 1
	KindAdapter
	KindSpawn
	KindDeadlineExceeded
	KindShuttingDown
	KindInvalid
	// KindCanceled means the caller gave up before a backend answered.
	KindCanceled
)

func (k ErrorKind) String() string {
	switch k {
	case KindRouting:
		return "routing"
	case KindAdapter:
		return "adapter"
	case KindSpawn:
		return "spawn"
	case KindDeadlineExceeded:
		return "deadline_exceeded"
	case KindShuttingDown:
		return "shutting_down"
	case KindInvalid:
		return "invalid"
	case KindCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

// InferenceError is returned by every Manager operation. Attempts lists each
// backend considered and why it was rejected or failed, in order.
type InferenceError struct {
	Kind     ErrorKind
	Backend  string
	Attempts []types.Attempt
	Err      error
}

func (e *InferenceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	if e.Backend != "" {
		b.WriteString(" [")
		b.WriteString(e.Backend)
		b.WriteString("]")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *InferenceError) Unwrap() error { return e.Err }

// contextError reports why ctx ended: canceled by the caller, or out of
// time.
func contextError(ctx context.Context, backend string, attempts []types.Attempt) *InferenceError {
	kind := KindDeadlineExceeded
	if errors.Is(ctx.Err(), context.Canceled) {
		kind = KindCanceled
	}
	return &InferenceError{Kind: kind, Backend: backend, Attempts: attempts, Err: ctx.Err()}
}

func kindOf(err error) ErrorKind {
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie.Kind
	}
	return 0
}

// IsShuttingDown reports whether the manager refused work during shutdown.
func IsShuttingDown(err error) bool { return kindOf(err) == KindShuttingDown }

// IsDeadlineExceeded reports whether the caller's deadline expired.
func IsDeadlineExceeded(err error) bool { return kindOf(err) == KindDeadlineExceeded }

// IsCanceled reports whether the caller canceled the request.
func IsCanceled(err error) bool { return kindOf(err) == KindCanceled }

// IsInvalid reports whether the request or spec was malformed.
func IsInvalid(err error) bool { return kindOf(err) == KindInvalid }

// AttemptsOf returns the attempt trail carried by err, if any.
func AttemptsOf(err error) []types.Attempt {
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie.Attempts
	}
	return nil
}

// backendNotFoundError is returned for operations on unknown backend ids.
type backendNotFoundError struct{ id string }

func (e backendNotFoundError) Error() string { return "backend not found: " + e.id }

// ErrBackendNotFound returns the error for a missing backend id.
func ErrBackendNotFound(id string) error { return backendNotFoundError{id: id} }

// IsBackendNotFound reports whether err indicates a missing backend id.
func IsBackendNotFound(err error) bool {
	var nf backendNotFoundError
	return errors.As(err, &nf)
}
