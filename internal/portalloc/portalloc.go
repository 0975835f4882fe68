package portalloc

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math/rand/v2"
	"net"
	"strconv"
	"time"
)

const (
	// MinPort and MaxPort bound the sampled range. It sits above the
	// registered ports and mostly above the Linux ephemeral range start.
	MinPort = 45001
	MaxPort = 65000

	// DefaultAttempts caps how many candidates are probed before giving up.
	DefaultAttempts = 1000

	probeTimeout = 250 * time.Millisecond
)

// ErrNoFreePort is returned when every sampled candidate was in use.
var ErrNoFreePort = errors.New("no free port found")

// Prober reports whether something on host is accepting connections on port.
type Prober func(ctx context.Context, host string, port int) bool

// Allocator picks unused local TCP ports by random sampling.
//
// The port is only observed free; nothing reserves it until the container
// runtime binds it, so a concurrent process can still take it in between.
type Allocator struct {
	host     string
	attempts int
	probe    Prober
	intn     func(int) int
	logger   *log.Logger
	verbose  bool
}

// New returns an Allocator that probes host. attempts <= 0 selects
// DefaultAttempts.
func New(host string, attempts int, logger *log.Logger, verbose bool) *Allocator {
	if attempts <= 0 {
		attempts = DefaultAttempts
	}
	return &Allocator{
		host:     host,
		attempts: attempts,
		probe:    DialProbe,
		intn:     rand.IntN,
		logger:   logger,
		verbose:  verbose,
	}
}

// Allocate returns the first sampled port in [MinPort, MaxPort] with no
// listener behind it.
func (a *Allocator) Allocate(ctx context.Context) (int, error) {
	for attempt := 0; attempt < a.attempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return 0, fmt.Errorf("allocate port: %w", err)
		}
		port := MinPort + a.intn(MaxPort-MinPort+1)
		if a.probe(ctx, a.host, port) {
			a.debugf("port %d is in use; sampling another", port)
			continue
		}
		return port, nil
	}
	return 0, fmt.Errorf("%w on %s after %d attempts", ErrNoFreePort, a.host, a.attempts)
}

func (a *Allocator) debugf(format string, args ...any) {
	if a.verbose && a.logger != nil {
		a.logger.Printf(format, args...)
	}
}

// DialProbe treats a completed TCP handshake as "in use".
func DialProbe(ctx context.Context, host string, port int) bool {
	d := net.Dialer{Timeout: probeTimeout}
	conn, err := d.DialContext(ctx, "tcp", net.JoinHostPort(host, strconv.Itoa(port)))
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
