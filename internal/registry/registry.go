// Package registry tracks containers believed to be running so they can be
// force-stopped when the process exits without cleaning up after itself.
//
// Entries are bookkeeping, not a source of truth: a registered container may
// already be gone. Locks are held only long enough to copy or mutate the
// identity list, never while an external command runs, so a sweep triggered
// from a signal handler cannot wait on an in-flight start or stop.
package registry

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/strongdm/redisbox/internal/telemetry/otel"
)

const (
	// DefaultStopTimeout bounds each forced stop issued by a sweep.
	DefaultStopTimeout = 15 * time.Second

	sweepConcurrency = 8
)

// StopFunc forcibly stops the container named id.
type StopFunc func(ctx context.Context, id string) error

// Registry is an ordered, mutex-guarded list of container identities.
// Duplicates are allowed; Deregister removes every occurrence.
type Registry struct {
	mu  sync.Mutex
	ids []string

	stop        StopFunc
	stopTimeout time.Duration
	logger      *log.Logger
	instruments *otel.LifecycleInstruments

	firstRegister sync.Once
	onRegister    func()
}

// Option configures a Registry.
type Option func(*Registry)

// WithLogger sets the logger used for best-effort sweep failures.
func WithLogger(logger *log.Logger) Option {
	return func(r *Registry) { r.logger = logger }
}

// WithStopTimeout overrides DefaultStopTimeout.
func WithStopTimeout(d time.Duration) Option {
	return func(r *Registry) {
		if d > 0 {
			r.stopTimeout = d
		}
	}
}

// WithInstruments records sweeps as lifecycle phases.
func WithInstruments(inst *otel.LifecycleInstruments) Option {
	return func(r *Registry) { r.instruments = inst }
}

// New returns an empty Registry that stops containers with stop.
func New(stop StopFunc, opts ...Option) *Registry {
	r := &Registry{stop: stop, stopTimeout: DefaultStopTimeout}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register appends id.
func (r *Registry) Register(id string) {
	if r.onRegister != nil {
		r.firstRegister.Do(r.onRegister)
	}
	r.mu.Lock()
	r.ids = append(r.ids, id)
	r.mu.Unlock()
}

// Deregister removes every occurrence of id.
func (r *Registry) Deregister(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kept := r.ids[:0]
	for _, existing := range r.ids {
		if existing != id {
			kept = append(kept, existing)
		}
	}
	clear(r.ids[len(kept):])
	r.ids = kept
}

// Snapshot returns a copy of the registered identities in insertion order.
func (r *Registry) Snapshot() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.ids...)
}

// Len reports the number of entries, counting duplicates.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.ids)
}

// Sweep empties the registry and force-stops every identity it held.
// Stops run concurrently and independently; their failures are aggregated
// into the returned error for logging and never abort the sweep. Calling
// Sweep on an empty registry does nothing.
func (r *Registry) Sweep(ctx context.Context) error {
	_, err := r.SweepStopped(ctx)
	return err
}

// SweepStopped is Sweep, additionally returning the identities whose stop
// succeeded, in registration order. Failed identities appear only in the
// error.
func (r *Registry) SweepStopped(ctx context.Context) ([]string, error) {
	r.mu.Lock()
	ids := r.ids
	r.ids = nil
	r.mu.Unlock()

	ids = unique(ids)
	if len(ids) == 0 || r.stop == nil {
		return nil, nil
	}

	ok := make([]bool, len(ids))
	err := r.instruments.Observe(ctx, otel.PhaseSweep, "", func(ctx context.Context) error {
		var (
			errMu sync.Mutex
			errs  error
			g     errgroup.Group
		)
		g.SetLimit(sweepConcurrency)
		for i, id := range ids {
			g.Go(func() error {
				stopCtx, cancel := context.WithTimeout(ctx, r.stopTimeout)
				defer cancel()
				if err := r.stop(stopCtx, id); err != nil {
					errMu.Lock()
					errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", id, err))
					errMu.Unlock()
					return nil
				}
				ok[i] = true
				return nil
			})
		}
		_ = g.Wait()
		if errs != nil && r.logger != nil {
			r.logger.Printf("sweep: %v", errs)
		}
		return errs
	})

	stopped := make([]string, 0, len(ids))
	for i, id := range ids {
		if ok[i] {
			stopped = append(stopped, id)
		}
	}
	return stopped, err
}

func unique(ids []string) []string {
	if len(ids) < 2 {
		return ids
	}
	seen := make(map[string]struct{}, len(ids))
	out := ids[:0:0]
	for _, id := range ids {
		if _, dup := seen[id]; dup {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
