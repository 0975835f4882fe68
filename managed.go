package redisbox

import (
	"context"
	"io"
	"log"

	"go.uber.org/multierr"

	"github.com/strongdm/redisbox/internal/command"
	"github.com/strongdm/redisbox/internal/lifecycle"
	"github.com/strongdm/redisbox/internal/registry"
)

// ManagedContainer is a running container started by any redisbox process.
type ManagedContainer = lifecycle.ManagedContainer

// ListManaged returns the running containers labelled as redisbox-managed
// for the runtime in opts.
func ListManaged(ctx context.Context, opts Options) ([]ManagedContainer, error) {
	opts = opts.withDefaults()
	return managedController(opts).ListManaged(ctx)
}

// StopManaged force-stops every labelled container, including those started
// by processes that have since exited. It returns the names that stopped.
// Containers whose stop failed are reported through *StopFailures.
func StopManaged(ctx context.Context, opts Options) ([]string, error) {
	opts = opts.withDefaults()
	ctrl := managedController(opts)
	containers, err := ctrl.ListManaged(ctx)
	if err != nil {
		return nil, err
	}

	logger := opts.Logger
	if !opts.Verbose {
		logger = log.New(io.Discard, "", 0)
	}
	reg := registry.New(ctrl.ForceStop, registry.WithLogger(logger), registry.WithInstruments(instruments()))
	for _, c := range containers {
		reg.Register(c.Name)
	}
	stopped, err := reg.SweepStopped(ctx)
	if errs := multierr.Errors(err); len(errs) > 0 {
		return stopped, &StopFailures{Errs: errs}
	}
	return stopped, nil
}

func managedController(opts Options) *lifecycle.Controller {
	return lifecycle.New(
		lifecycle.Config{Runtime: opts.Runtime, Host: opts.Host, Verbose: opts.Verbose, Logger: opts.Logger, Instruments: instruments()},
		command.New(opts.Logger),
		nil, nil, nil,
	)
}
