package routing

import (
	"errors"
	"fmt"
	"strings"
)

// Kind classifies routing failures.
type Kind int

const (
	KindNoReadyBackend Kind = iota + 1
	KindJurisdictionConflict
	KindBudgetExceeded
	KindAllBackendsFailed
)

func (k Kind) String() string {
	switch k {
	case KindNoReadyBackend:
		return "no_ready_backend"
	case KindJurisdictionConflict:
		return "jurisdiction_conflict"
	case KindBudgetExceeded:
		return "budget_exceeded"
	case KindAllBackendsFailed:
		return "all_backends_failed"
	default:
		return "unknown"
	}
}

// Error is a routing failure with the trail explaining each candidate's fate.
type Error struct {
	Kind    Kind
	Message string
	Trail   []TrailEntry
	Err     error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("routing: ")
	b.WriteString(e.Kind.String())
	if e.Message != "" {
		b.WriteString(": ")
		b.WriteString(e.Message)
	}
	if e.Err != nil {
		fmt.Fprintf(&b, ": %v", e.Err)
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

func kindOf(err error) Kind {
	var re *Error
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}

// IsNoReadyBackend reports whether no Ready candidate was available.
func IsNoReadyBackend(err error) bool { return kindOf(err) == KindNoReadyBackend }

// IsJurisdictionConflict reports whether residency rules excluded every candidate.
func IsJurisdictionConflict(err error) bool { return kindOf(err) == KindJurisdictionConflict }

// IsBudgetExceeded reports whether cost limits excluded every candidate.
func IsBudgetExceeded(err error) bool { return kindOf(err) == KindBudgetExceeded }

// IsAllBackendsFailed reports whether every dispatch attempt failed.
func IsAllBackendsFailed(err error) bool { return kindOf(err) == KindAllBackendsFailed }
