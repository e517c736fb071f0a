// Package runner drives the external build/run backend. A runner clones a
// candidate repository, builds it into an image, and executes it as an
// out-of-process job whose console output is consumed line by line.
package runner

import (
	"context"
	"errors"
)

// Start errors. Everything else returned by Start means the backend itself
// could not be reached or refused the job.
var (
	// ErrBadRepository marks failures caused by the repository reference:
	// unresolvable URL, clone failure, unusable build context.
	ErrBadRepository = errors.New("repository cannot be resolved")
)

// StartSpec describes one runner invocation.
type StartSpec struct {
	RoomID      string
	ChannelName string // unique per invocation; doubles as the image tag
	RepoURL     string
}

// Runner starts build/run jobs.
type Runner interface {
	Start(ctx context.Context, spec StartSpec) (Run, error)
}

// Run is a single job in flight.
type Run interface {
	// Lines yields console output in production order. The channel is
	// closed when the job ends.
	Lines() <-chan string
	// Wait blocks until the job ends and returns its exit code.
	Wait() int
	// Stop terminates the job. Idempotent.
	Stop()
}
