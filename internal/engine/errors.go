package engine

import (
	"errors"
	"fmt"
	"net/http"
)

// Kind classifies adapter failures.
type Kind int

const (
	// KindTransport covers connection failures and unreadable responses.
	KindTransport Kind = iota + 1
	// KindTimeout is a transport deadline, distinct from an engine rejection.
	KindTimeout
	// KindBackendRejected means the engine answered with a structured error.
	KindBackendRejected
	// KindUnsupportedParameter means the request set a parameter the engine cannot honor.
	KindUnsupportedParameter
)

func (k Kind) String() string {
	switch k {
	case KindTransport:
		return "transport"
	case KindTimeout:
		return "timeout"
	case KindBackendRejected:
		return "backend_rejected"
	case KindUnsupportedParameter:
		return "unsupported_parameter"
	default:
		return "unknown"
	}
}

// Error is returned by every Adapter method.
type Error struct {
	Kind   Kind
	Engine Type
	// Status is the HTTP status for KindBackendRejected.
	Status int
	// Param names the offending field for KindUnsupportedParameter.
	Param   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	switch e.Kind {
	case KindUnsupportedParameter:
		return fmt.Sprintf("%s: unsupported parameter %q", e.Engine, e.Param)
	case KindBackendRejected:
		return fmt.Sprintf("%s: rejected with status %d: %s", e.Engine, e.Status, e.Message)
	}
	msg := fmt.Sprintf("%s: %s", e.Engine, e.Kind)
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *Error) Unwrap() error { return e.Err }

func kindOf(err error) Kind {
	var ae *Error
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return 0
}

// IsTimeout reports whether err is an adapter timeout.
func IsTimeout(err error) bool { return kindOf(err) == KindTimeout }

// IsTransport reports whether err is a transport failure.
func IsTransport(err error) bool { return kindOf(err) == KindTransport }

// IsBackendRejected reports whether the engine returned a structured error.
func IsBackendRejected(err error) bool { return kindOf(err) == KindBackendRejected }

// IsUnsupportedParameter reports whether the request used a parameter the engine lacks.
func IsUnsupportedParameter(err error) bool { return kindOf(err) == KindUnsupportedParameter }

// IsTransient reports whether retrying on another backend may succeed:
// timeouts, transport failures, and overload rejections (429, 503).
func IsTransient(err error) bool {
	var ae *Error
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.Kind {
	case KindTimeout, KindTransport:
		return true
	case KindBackendRejected:
		return ae.Status == http.StatusTooManyRequests || ae.Status == http.StatusServiceUnavailable
	default:
		return false
	}
}
