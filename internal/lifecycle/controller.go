package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/multierr"

	"github.com/strongdm/redisbox/internal/command"
	"github.com/strongdm/redisbox/internal/image"
	"github.com/strongdm/redisbox/internal/telemetry/otel"
)

const (
	// ServicePort is the port the server listens on inside the container.
	ServicePort = 6379
	// DataDir is where the server keeps its append-only file.
	DataDir = "/data"

	DefaultHost         = "127.0.0.1"
	DefaultRuntime      = "docker"
	DefaultReadyTimeout = 60 * time.Second

	LabelManaged = "redisbox.managed"
	LabelImage   = "redisbox.image"

	readinessScript = "until redis-cli -h 127.0.0.1 -p 6379 ping >/dev/null 2>&1; do sleep 0.1; done"
)

// ErrReadinessTimeout is returned when the server inside a launched container
// does not answer within the configured bound.
var ErrReadinessTimeout = errors.New("container readiness timed out")

// Runner executes an external command.
type Runner interface {
	Run(ctx context.Context, c command.Command) (string, error)
}

// ImageBuilder builds a tagged image from a build definition.
type ImageBuilder interface {
	Build(ctx context.Context, def image.Definition, dir, tag string) error
}

// PortAllocator yields an unused host port.
type PortAllocator interface {
	Allocate(ctx context.Context) (int, error)
}

// Registry records containers that may need a forced stop at exit.
type Registry interface {
	Register(id string)
	Deregister(id string)
}

// Config carries the settings shared by every launch.
type Config struct {
	Runtime      string
	Host         string
	Verbose      bool
	ReadyTimeout time.Duration
	Logger       *log.Logger
	Instruments  *otel.LifecycleInstruments
}

// Controller starts and stops server containers through the runtime CLI.
type Controller struct {
	cfg      Config
	runner   Runner
	builder  ImageBuilder
	ports    PortAllocator
	registry Registry
}

// New returns a Controller. Zero Config fields take package defaults.
func New(cfg Config, runner Runner, builder ImageBuilder, ports PortAllocator, reg Registry) *Controller {
	if strings.TrimSpace(cfg.Runtime) == "" {
		cfg.Runtime = DefaultRuntime
	}
	if strings.TrimSpace(cfg.Host) == "" {
		cfg.Host = DefaultHost
	}
	if cfg.ReadyTimeout <= 0 {
		cfg.ReadyTimeout = DefaultReadyTimeout
	}
	return &Controller{cfg: cfg, runner: runner, builder: builder, ports: ports, registry: reg}
}

// LaunchRequest describes one container launch.
type LaunchRequest struct {
	Definition image.Definition
	// BuildDir holds Definition.FileName and is used as the build context.
	BuildDir  string
	Image     string
	Container string
	// StoragePath, when set, is bind-mounted at DataDir and enables
	// append-only durability.
	StoragePath string
}

// Launch builds the image, allocates a host port, starts the container and
// blocks until the server inside answers. The container is registered as
// soon as it has been started. If readiness fails the container is torn down
// and deregistered before the error is returned; a run interrupted by ctx is
// torn down as well.
func (c *Controller) Launch(ctx context.Context, req LaunchRequest) (int, error) {
	if strings.TrimSpace(req.Container) == "" || strings.TrimSpace(req.Image) == "" {
		return 0, fmt.Errorf("%w: launch requires image and container names", command.ErrInvalidArgument)
	}
	inst := c.cfg.Instruments

	err := inst.Observe(ctx, otel.PhaseBuild, req.Container, func(ctx context.Context) error {
		return c.builder.Build(ctx, req.Definition, req.BuildDir, req.Image)
	})
	if err != nil {
		return 0, err
	}

	var port int
	err = inst.Observe(ctx, otel.PhaseAllocate, req.Container, func(ctx context.Context) error {
		var allocErr error
		port, allocErr = c.ports.Allocate(ctx)
		return allocErr
	})
	if err != nil {
		return 0, err
	}
	c.debugf("allocated %s:%d for %s", c.cfg.Host, port, req.Container)

	err = inst.Observe(ctx, otel.PhaseRun, req.Container, func(ctx context.Context) error {
		if _, runErr := c.run(ctx, c.runArgs(req, port)...); runErr != nil {
			return fmt.Errorf("start container %s: %w", req.Container, runErr)
		}
		return nil
	})
	if err != nil {
		// An interrupted run may still have created the container.
		if ctx.Err() != nil {
			c.Teardown(cleanupContext(ctx), req.Container)
		}
		return 0, err
	}
	c.registry.Register(req.Container)

	err = inst.Observe(ctx, otel.PhaseReady, req.Container, func(ctx context.Context) error {
		return c.waitReady(ctx, req.Container)
	})
	if err != nil {
		c.Teardown(cleanupContext(ctx), req.Container)
		c.registry.Deregister(req.Container)
		return 0, err
	}
	return port, nil
}

func (c *Controller) runArgs(req LaunchRequest, port int) []string {
	args := []string{
		"run", "-d", "--rm",
		"--name", req.Container,
		"-p", fmt.Sprintf("%s:%d:%d/tcp", c.cfg.Host, port, ServicePort),
		"--label", LabelManaged + "=1",
		"--label", LabelImage + "=" + req.Image,
	}
	if req.StoragePath != "" {
		args = append(args, "--mount", fmt.Sprintf("type=bind,source=%s,target=%s", filepath.Clean(req.StoragePath), DataDir))
	}
	args = append(args, req.Image)
	if req.StoragePath != "" {
		args = append(args, "redis-server", "--appendonly", "yes")
	}
	return args
}

func (c *Controller) waitReady(ctx context.Context, name string) error {
	readyCtx, cancel := context.WithTimeout(ctx, c.cfg.ReadyTimeout)
	defer cancel()

	_, err := c.run(readyCtx, "exec", name, "sh", "-c", readinessScript)
	if err == nil {
		c.debugf("container %s is accepting connections", name)
		return nil
	}
	if errors.Is(readyCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
		return fmt.Errorf("%w: %s not ready after %s", ErrReadinessTimeout, name, c.cfg.ReadyTimeout)
	}
	return fmt.Errorf("wait for container %s: %w", name, err)
}

// Teardown stops and then removes the container. Both steps are best-effort:
// failures, including an already-removed container, are logged in verbose
// mode and otherwise ignored, so Teardown may be called repeatedly.
func (c *Controller) Teardown(ctx context.Context, name string) {
	_ = c.cfg.Instruments.Observe(ctx, otel.PhaseTeardown, name, func(ctx context.Context) error {
		var errs error
		if _, err := c.run(ctx, "stop", name); err != nil {
			errs = multierr.Append(errs, err)
		}
		if _, err := c.run(ctx, "rm", name); err != nil {
			errs = multierr.Append(errs, err)
		}
		if errs != nil {
			c.debugf("teardown %s: %v", name, errs)
		}
		return errs
	})
}

// ForceStop issues a single short-grace stop request.
func (c *Controller) ForceStop(ctx context.Context, name string) error {
	_, err := c.run(ctx, "stop", "-t", "1", name)
	return err
}

// ManagedContainer is a running container carrying LabelManaged.
type ManagedContainer struct {
	Name   string
	Image  string
	Status string
	Ports  string
}

// ListManaged lists running containers launched by any redisbox process.
func (c *Controller) ListManaged(ctx context.Context) ([]ManagedContainer, error) {
	format := fmt.Sprintf("{{.Names}}\t{{.Label %q}}\t{{.Status}}\t{{.Ports}}", LabelImage)
	out, err := c.runner.Run(ctx, command.Command{
		Name: c.cfg.Runtime,
		Args: []string{"ps", "--filter", "label=" + LabelManaged + "=1", "--format", format},
	})
	if err != nil {
		return nil, fmt.Errorf("list containers: %w", err)
	}
	var result []ManagedContainer
	for _, line := range strings.Split(out, "\n") {
		line = strings.TrimRight(line, "\r")
		if strings.TrimSpace(line) == "" {
			continue
		}
		fields := strings.SplitN(line, "\t", 4)
		for len(fields) < 4 {
			fields = append(fields, "")
		}
		result = append(result, ManagedContainer{
			Name:   fields[0],
			Image:  fields[1],
			Status: fields[2],
			Ports:  fields[3],
		})
	}
	return result, nil
}

// Host returns the address containers publish on.
func (c *Controller) Host() string {
	return c.cfg.Host
}

func (c *Controller) run(ctx context.Context, args ...string) (string, error) {
	return c.runner.Run(ctx, command.Command{Name: c.cfg.Runtime, Args: args, Verbose: c.cfg.Verbose})
}

func (c *Controller) debugf(format string, args ...any) {
	if c.cfg.Verbose && c.cfg.Logger != nil {
		c.cfg.Logger.Printf(format, args...)
	}
}

// cleanupContext keeps teardown usable after the caller's context has ended.
func cleanupContext(ctx context.Context) context.Context {
	if ctx == nil || ctx.Err() != nil {
		return context.Background()
	}
	return ctx
}
