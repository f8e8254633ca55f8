package sandbox

import (
	"errors"
	"fmt"
)

// ErrNoSuchJob is returned when a job identifier is not (or no longer) in the
// registry. It is an expected outcome, not a failure of the session.
var ErrNoSuchJob = errors.New("no such job")

// SetupError reports a failure to provision the execution environment. No
// sandboxed execution can succeed until it is resolved.
type SetupError struct {
	Path  string
	Cause error
}

func (e *SetupError) Error() string {
	return fmt.Sprintf("setting up execution environment %s: %v", e.Path, e.Cause)
}

func (e *SetupError) Unwrap() error { return e.Cause }

// SpawnError reports a failure to persist or launch a job's source.
type SpawnError struct {
	JobID string
	Op    string
	Cause error
}

func (e *SpawnError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.JobID, e.Cause)
}

func (e *SpawnError) Unwrap() error { return e.Cause }
