package supervisor

import (
	"errors"
	"fmt"

	"github.com/loykin/alfred/internal/readiness"
)

var (
	ErrRetryBudgetExhausted = errors.New("retry budget exhausted")
	ErrProcessExited        = errors.New("backend process exited")
	ErrSuperseded           = errors.New("startup attempt superseded by stop")
	ErrClosed               = errors.New("supervisor closed")

	// ErrTimeout is returned when the readiness gate or the startup timeout expires.
	ErrTimeout = readiness.ErrTimeout
)

// SpawnError reports that the backend process could not be launched at all.
type SpawnError struct {
	Command string
	Err     error
}

func (e *SpawnError) Error() string {
	if e.Command == "" {
		return fmt.Sprintf("spawn backend: %v", e.Err)
	}
	return fmt.Sprintf("spawn backend %q: %v", e.Command, e.Err)
}

func (e *SpawnError) Unwrap() error { return e.Err }
