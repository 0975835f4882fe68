package redisbox

import (
	"errors"
	"fmt"

	"go.uber.org/multierr"

	"github.com/strongdm/redisbox/internal/command"
	"github.com/strongdm/redisbox/internal/lifecycle"
	"github.com/strongdm/redisbox/internal/portalloc"
)

var (
	// ErrInvalidArgument reports misuse: an empty command name, an unknown
	// variant or a negative limit.
	ErrInvalidArgument = command.ErrInvalidArgument
	// ErrAlreadyRunning is returned by Start while an instance is starting
	// or running.
	ErrAlreadyRunning = errors.New("redisbox: instance already running")
	// ErrReadinessTimeout is returned by Start when the server does not
	// answer within Options.ReadyTimeout.
	ErrReadinessTimeout = lifecycle.ErrReadinessTimeout
	// ErrNoFreePort is returned by Start when no unused host port was found
	// within Options.PortAttempts samples.
	ErrNoFreePort = portalloc.ErrNoFreePort
)

// CommandError is a container runtime command that exited non-zero. Use
// errors.As to recover it and ExitCode to inspect the status.
type CommandError = command.ExitCodeError

// NotADirectoryError is returned when Options.StoragePath does not name an
// existing directory.
type NotADirectoryError struct {
	Path string
	Err  error
}

func (e *NotADirectoryError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("redisbox: storage path %s is not a directory: %v", e.Path, e.Err)
	}
	return fmt.Sprintf("redisbox: storage path %s is not a directory", e.Path)
}

func (e *NotADirectoryError) Unwrap() error {
	return e.Err
}

// StopFailures is returned by StopManaged when some containers could not be
// stopped. Errs holds one error per container.
type StopFailures struct {
	Errs []error
}

func (e *StopFailures) Error() string {
	return fmt.Sprintf("redisbox: %d container(s) could not be stopped: %v", len(e.Errs), multierr.Combine(e.Errs...))
}

func (e *StopFailures) Unwrap() []error {
	return e.Errs
}
