package registry

import (
	"context"
	"io"
	"log"
	"os"
	"os/signal"
	"sort"
	"sync"
	"time"

	"go.uber.org/multierr"

	"github.com/strongdm/redisbox/internal/command"
)

// signalSweepTimeout bounds the sweep run from the termination signal handler.
const signalSweepTimeout = 30 * time.Second

var (
	defaultMu  sync.Mutex
	byRuntime  = map[string]*Registry{}
	hookLogger = log.New(os.Stderr, "redisbox: ", 0)

	hookMu       sync.Mutex
	hookCh       chan os.Signal
	hookDisabled bool
)

// For returns the process-wide registry for containers launched through the
// given runtime CLI, creating it on first use. opts apply only on creation.
// The first registration in any process-wide registry installs the
// termination signal handler.
func For(runtime string, opts ...Option) *Registry {
	defaultMu.Lock()
	defer defaultMu.Unlock()
	if r, ok := byRuntime[runtime]; ok {
		return r
	}
	r := New(ForceStopFunc(runtime, command.New(log.New(io.Discard, "", 0))), append([]Option{WithLogger(hookLogger)}, opts...)...)
	r.onRegister = InstallSignalHandler
	byRuntime[runtime] = r
	return r
}

// ForceStopFunc stops a container through `<runtime> stop -t 1 <id>`.
func ForceStopFunc(runtime string, runner *command.Runner) StopFunc {
	return func(ctx context.Context, id string) error {
		_, err := runner.Run(ctx, command.Command{Name: runtime, Args: []string{"stop", "-t", "1", id}})
		return err
	}
}

// SweepAll sweeps every process-wide registry. It is idempotent.
func SweepAll(ctx context.Context) error {
	defaultMu.Lock()
	runtimes := make([]string, 0, len(byRuntime))
	for runtime := range byRuntime {
		runtimes = append(runtimes, runtime)
	}
	sort.Strings(runtimes)
	regs := make([]*Registry, 0, len(runtimes))
	for _, runtime := range runtimes {
		regs = append(regs, byRuntime[runtime])
	}
	defaultMu.Unlock()

	var errs error
	for _, r := range regs {
		errs = multierr.Append(errs, r.Sweep(ctx))
	}
	return errs
}

// InstallSignalHandler sweeps all process-wide registries on the first
// termination signal, then re-delivers that signal with its default
// disposition. Re-delivery resets every signal.Notify registration for that
// signal, so programs with their own shutdown path should call
// DisableSignalHook instead. Repeated calls install nothing further.
func InstallSignalHandler() {
	hookMu.Lock()
	defer hookMu.Unlock()
	if hookDisabled || hookCh != nil {
		return
	}
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, terminationSignals...)
	hookCh = ch
	go func() {
		sig, ok := <-ch
		if !ok {
			return
		}
		signal.Stop(ch)
		ctx, cancel := context.WithTimeout(context.Background(), signalSweepTimeout)
		_ = SweepAll(ctx)
		cancel()
		signal.Reset(sig)
		reraise(sig)
	}()
}

// DisableSignalHook keeps the termination signal handler from being
// installed, and removes it if it already is. Registered containers are
// then only swept by SweepAll.
func DisableSignalHook() {
	hookMu.Lock()
	defer hookMu.Unlock()
	hookDisabled = true
	if hookCh != nil {
		signal.Stop(hookCh)
		close(hookCh)
		hookCh = nil
	}
}
