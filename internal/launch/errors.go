package launch

import (
	"errors"
	"fmt"
)

// Reason classifies why a launch attempt failed.
type Reason string

const (
	// ReasonInvalidRepository means the repository reference cannot be
	// resolved to a buildable repository.
	ReasonInvalidRepository Reason = "invalid_repository"
	// ReasonRunnerUnavailable means the runner backend cannot be reached or
	// refused the job.
	ReasonRunnerUnavailable Reason = "runner_unavailable"
	// ReasonAlreadyRunning means the room already has an active runner.
	// Launches are rejected rather than superseding the prior run, so no
	// runner is ever orphaned.
	ReasonAlreadyRunning Reason = "already_running"
)

// Error is a terminal failure of one launch attempt. It never affects other
// rooms.
type Error struct {
	Reason Reason
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("launch failed (%s): %v", e.Reason, e.Err)
	}
	return fmt.Sprintf("launch failed (%s)", e.Reason)
}

func (e *Error) Unwrap() error { return e.Err }

// ReasonOf extracts the launch failure reason from an error chain, or "".
func ReasonOf(err error) Reason {
	var le *Error
	if errors.As(err, &le) {
		return le.Reason
	}
	return ""
}
