// Package redisbox runs a disposable Redis server in a container for tests.
//
// An Instance builds (or reuses) an image from an embedded build definition,
// publishes the server on a random local port, waits until it answers and
// hands back a connected client. Stop tears the container down. Containers
// that outlive their Instance are force-stopped by GlobalCleanup, by
// WrapTestMain, or on the first termination signal.
//
//	func TestMain(m *testing.M) { redisbox.WrapTestMain(m) }
//
//	func TestCache(t *testing.T) {
//		box, err := redisbox.New(redisbox.Options{})
//		...
//		if err := box.Start(ctx); err != nil { ... }
//		defer box.Stop(ctx)
//		box.Client().Set(ctx, "HELLO", "WORLD", 0)
//	}
package redisbox

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sethvargo/go-retry"

	"github.com/strongdm/redisbox/internal/command"
	"github.com/strongdm/redisbox/internal/image"
	"github.com/strongdm/redisbox/internal/lifecycle"
	"github.com/strongdm/redisbox/internal/portalloc"
	"github.com/strongdm/redisbox/internal/registry"
	"github.com/strongdm/redisbox/internal/telemetry/otel"
)

const (
	// DefaultRuntime is the container CLI used when Options.Runtime is empty.
	DefaultRuntime = lifecycle.DefaultRuntime
	// DefaultReadyTimeout bounds the readiness poll.
	DefaultReadyTimeout = lifecycle.DefaultReadyTimeout
	// DefaultPortAttempts caps port sampling.
	DefaultPortAttempts = portalloc.DefaultAttempts

	connectTimeout  = 10 * time.Second
	connectInterval = 100 * time.Millisecond
)

// Variant selects the server protocol generation.
type Variant = image.Variant

const (
	V5 = image.VariantV5
	V4 = image.VariantV4
)

// Options configures an Instance. The zero value runs a v5 server through
// docker without persistent storage.
type Options struct {
	Variant Variant
	Verbose bool
	// StoragePath, when set, must be an existing directory. It is mounted
	// into the container and the server runs with append-only durability.
	StoragePath string

	Runtime      string
	Host         string
	ReadyTimeout time.Duration
	PortAttempts int
	ImagePrefix  string
	// BuildRoot is where build definitions are written before building.
	BuildRoot string
	Logger    *log.Logger
}

func (o Options) withDefaults() Options {
	if strings.TrimSpace(o.Runtime) == "" {
		o.Runtime = DefaultRuntime
	}
	if strings.TrimSpace(o.Host) == "" {
		o.Host = lifecycle.DefaultHost
	}
	if o.ReadyTimeout == 0 {
		o.ReadyTimeout = DefaultReadyTimeout
	}
	if o.PortAttempts == 0 {
		o.PortAttempts = DefaultPortAttempts
	}
	if o.ImagePrefix == "" {
		o.ImagePrefix = image.DefaultPrefix
	}
	if strings.TrimSpace(o.BuildRoot) == "" {
		o.BuildRoot = image.DefaultBuildRoot()
	}
	if o.Logger == nil {
		o.Logger = log.New(os.Stderr, "redisbox: ", 0)
	}
	return o
}

// launcher is the slice of lifecycle.Controller an Instance drives.
type launcher interface {
	Launch(ctx context.Context, req lifecycle.LaunchRequest) (int, error)
	Teardown(ctx context.Context, name string)
	Host() string
}

var (
	seamMu sync.Mutex

	registryFor = func(runtime string) *registry.Registry {
		return registry.For(runtime, registry.WithInstruments(instruments()))
	}
	newLauncher = defaultLauncher
	newClient   = func(addr string) *redis.Client {
		return redis.NewClient(&redis.Options{Addr: addr, DialTimeout: 2 * time.Second})
	}
	connectBackoff = func() retry.Backoff {
		return retry.WithMaxDuration(connectTimeout, retry.NewConstant(connectInterval))
	}
)

func defaultLauncher(o Options, reg *registry.Registry) launcher {
	runner := command.New(o.Logger)
	return lifecycle.New(
		lifecycle.Config{
			Runtime:      o.Runtime,
			Host:         o.Host,
			Verbose:      o.Verbose,
			ReadyTimeout: o.ReadyTimeout,
			Logger:       o.Logger,
			Instruments:  instruments(),
		},
		runner,
		image.NewBuilder(runner, o.Runtime, o.Verbose),
		portalloc.New(o.Host, o.PortAttempts, o.Logger, o.Verbose),
		reg,
	)
}

// Instance is one disposable server. Its methods are safe for concurrent
// use; Start and Stop serialise through the phase machine.
type Instance struct {
	opts      Options
	def       image.Definition
	imageName string
	container string

	launcher launcher
	registry *registry.Registry

	mu     sync.Mutex
	phase  phase
	state  RuntimeState
	client *redis.Client
}

// New validates opts and derives the image and container names. No external
// command runs until Start.
func New(opts Options) (*Instance, error) {
	opts = opts.withDefaults()

	variant, err := image.ParseVariant(string(opts.Variant))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}
	opts.Variant = variant
	if opts.ReadyTimeout < 0 {
		return nil, fmt.Errorf("%w: negative ready timeout %s", ErrInvalidArgument, opts.ReadyTimeout)
	}
	if opts.PortAttempts < 0 {
		return nil, fmt.Errorf("%w: negative port attempts %d", ErrInvalidArgument, opts.PortAttempts)
	}
	if opts.StoragePath != "" {
		abs, err := checkStorage(opts.StoragePath)
		if err != nil {
			return nil, err
		}
		opts.StoragePath = abs
	}

	def, err := image.Load(variant)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidArgument, err)
	}

	seamMu.Lock()
	reg := registryFor(opts.Runtime)
	l := newLauncher(opts, reg)
	seamMu.Unlock()

	return &Instance{
		opts:      opts,
		def:       def,
		imageName: def.ImageName(opts.ImagePrefix),
		container: def.ContainerName(opts.ImagePrefix),
		launcher:  l,
		registry:  reg,
		state:     Stopped{},
	}, nil
}

func checkStorage(path string) (string, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", &NotADirectoryError{Path: path, Err: err}
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", &NotADirectoryError{Path: path, Err: err}
	}
	if !info.IsDir() {
		return "", &NotADirectoryError{Path: path}
	}
	return abs, nil
}

// Start launches the container and connects a client. It blocks until the
// server answers, the readiness bound elapses or ctx ends. On failure the
// instance is left stopped with no container behind it.
func (i *Instance) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.phase != phaseIdle {
		i.mu.Unlock()
		return ErrAlreadyRunning
	}
	i.phase = phaseStarting
	i.mu.Unlock()

	state, client, err := i.start(ctx)

	i.mu.Lock()
	defer i.mu.Unlock()
	if err != nil {
		i.phase = phaseIdle
		return err
	}
	i.state = state
	i.client = client
	i.phase = phaseRunning
	return nil
}

func (i *Instance) start(ctx context.Context) (Running, *redis.Client, error) {
	if i.opts.StoragePath != "" {
		if _, err := checkStorage(i.opts.StoragePath); err != nil {
			return Running{}, nil, err
		}
	}
	buildDir, err := i.def.Materialize(i.opts.BuildRoot, i.opts.ImagePrefix)
	if err != nil {
		return Running{}, nil, err
	}

	port, err := i.launcher.Launch(ctx, lifecycle.LaunchRequest{
		Definition:  i.def,
		BuildDir:    buildDir,
		Image:       i.imageName,
		Container:   i.container,
		StoragePath: i.opts.StoragePath,
	})
	if err != nil {
		return Running{}, nil, err
	}
	state := Running{Port: port, Host: i.launcher.Host()}
	i.debugf("container %s listening on %s", i.container, state.Addr())

	seamMu.Lock()
	client := newClient(state.Addr())
	seamMu.Unlock()

	seamMu.Lock()
	backoff := connectBackoff()
	seamMu.Unlock()
	err = instruments().Observe(ctx, otel.PhaseConnect, i.container, func(ctx context.Context) error {
		return connect(ctx, client, backoff)
	})
	if err != nil {
		_ = client.Close()
		i.release(context.WithoutCancel(ctx))
		return Running{}, nil, fmt.Errorf("connect to %s: %w", state.Addr(), err)
	}
	return state, client, nil
}

// connect triggers the client's lazy dial and retries briefly while the
// published port settles.
func connect(ctx context.Context, client *redis.Client, backoff retry.Backoff) error {
	return retry.Do(ctx, backoff, func(ctx context.Context) error {
		if err := client.Ping(ctx).Err(); err != nil {
			return retry.RetryableError(err)
		}
		return nil
	})
}

// Stop closes the client and removes the container. It never fails and is a
// no-op unless the instance is running.
func (i *Instance) Stop(ctx context.Context) {
	i.mu.Lock()
	if i.phase != phaseRunning {
		i.mu.Unlock()
		return
	}
	i.phase = phaseStopping
	client := i.client
	i.mu.Unlock()

	if client != nil {
		if err := client.Close(); err != nil {
			i.debugf("close client: %v", err)
		}
	}
	i.release(ctx)

	i.mu.Lock()
	i.client = nil
	i.state = Stopped{}
	i.phase = phaseIdle
	i.mu.Unlock()
}

// Close stops the instance with a background context.
func (i *Instance) Close() error {
	i.Stop(context.Background())
	return nil
}

func (i *Instance) release(ctx context.Context) {
	i.launcher.Teardown(ctx, i.container)
	i.registry.Deregister(i.container)
}

// Client returns the connected client while running, nil otherwise.
func (i *Instance) Client() *redis.Client {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.client
}

// State returns the current runtime state.
func (i *Instance) State() RuntimeState {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.state
}

// Port returns the published host port while running.
func (i *Instance) Port() (int, bool) {
	if r, ok := i.State().(Running); ok {
		return r.Port, true
	}
	return 0, false
}

// Host returns the published host address while running.
func (i *Instance) Host() (string, bool) {
	if r, ok := i.State().(Running); ok {
		return r.Host, true
	}
	return "", false
}

// Addr returns host:port while running and "" otherwise.
func (i *Instance) Addr() string {
	if r, ok := i.State().(Running); ok {
		return r.Addr()
	}
	return ""
}

// ImageName is shared by every instance with the same build definition.
func (i *Instance) ImageName() string {
	return i.imageName
}

// ContainerName is unique to this instance.
func (i *Instance) ContainerName() string {
	return i.container
}

// Options returns the effective options after defaults were applied.
func (i *Instance) Options() Options {
	return i.opts
}

func (i *Instance) debugf(format string, args ...any) {
	if i.opts.Verbose && i.opts.Logger != nil {
		i.opts.Logger.Printf(format, args...)
	}
}

// IsCommandError reports whether err came from a runtime command exiting
// non-zero and returns its exit code.
func IsCommandError(err error) (int, bool) {
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		return cmdErr.ExitCode(), true
	}
	return 0, false
}
