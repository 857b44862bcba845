package supervisor

import (
	"errors"
	"fmt"
)

var (
	// ErrAlreadySpawned is returned by a second Spawn call.
	ErrAlreadySpawned = errors.New("supervisor: already spawned")
	// ErrStopped is returned by Spawn once shutdown has begun.
	ErrStopped = errors.New("supervisor: stopped")
)

// SpawnErrorKind classifies spawn failures.
type SpawnErrorKind int

const (
	// SpawnTimeout means readiness polling ran out of attempts or time.
	SpawnTimeout SpawnErrorKind = iota + 1
	// SpawnProcessExit means the process exited (or never started) before ready.
	SpawnProcessExit
)

func (k SpawnErrorKind) String() string {
	switch k {
	case SpawnTimeout:
		return "timeout"
	case SpawnProcessExit:
		return "process_exit"
	default:
		return "unknown"
	}
}

// SpawnError reports a failed Spawn. The supervisor is Terminated afterwards.
type SpawnError struct {
	Kind SpawnErrorKind
	// Code is the exit code for SpawnProcessExit; -1 when the process was
	// killed by a signal or never started.
	Code     int
	Attempts int
	// Stderr is the tail of the process's standard error.
	Stderr string
	Err    error
}

func (e *SpawnError) Error() string {
	var msg string
	switch e.Kind {
	case SpawnProcessExit:
		msg = fmt.Sprintf("spawn: process exited with code %d", e.Code)
	default:
		msg = fmt.Sprintf("spawn: not ready after %d attempts", e.Attempts)
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	if e.Stderr != "" {
		msg += "; stderr tail: " + e.Stderr
	}
	return msg
}

func (e *SpawnError) Unwrap() error { return e.Err }

// IsSpawnTimeout reports whether err is a readiness timeout.
func IsSpawnTimeout(err error) bool {
	var se *SpawnError
	return errors.As(err, &se) && se.Kind == SpawnTimeout
}

// IsProcessExit reports whether err is an early process exit.
func IsProcessExit(err error) bool {
	var se *SpawnError
	return errors.As(err, &se) && se.Kind == SpawnProcessExit
}
