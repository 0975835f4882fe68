package portalloc

import (
	"context"
	"errors"
	"io"
	"log"
	"net"
	"testing"
)

func newTestAllocator(attempts int, probe Prober, samples ...int) *Allocator {
	a := New("127.0.0.1", attempts, log.New(io.Discard, "", 0), true)
	a.probe = probe
	i := 0
	a.intn = func(n int) int {
		v := samples[i%len(samples)]
		i++
		return v % n
	}
	return a
}

func TestAllocateSkipsBusyPorts(t *testing.T) {
	t.Parallel()

	busy := map[int]bool{MinPort: true, MinPort + 1: true}
	var probed []int
	a := newTestAllocator(10, func(_ context.Context, _ string, port int) bool {
		probed = append(probed, port)
		return busy[port]
	}, 0, 1, 2)

	port, err := a.Allocate(context.Background())
	if err != nil {
		t.Fatalf("Allocate returned error: %v", err)
	}
	if got, want := port, MinPort+2; got != want {
		t.Fatalf("port mismatch: got %d want %d", got, want)
	}
	if got, want := len(probed), 3; got != want {
		t.Fatalf("probe count mismatch: got %d want %d", got, want)
	}
}

func TestAllocateStaysInRange(t *testing.T) {
	t.Parallel()

	a := New("127.0.0.1", 0, nil, false)
	a.probe = func(context.Context, string, int) bool { return false }
	for i := 0; i < 500; i++ {
		port, err := a.Allocate(context.Background())
		if err != nil {
			t.Fatalf("Allocate returned error: %v", err)
		}
		if port < MinPort || port > MaxPort {
			t.Fatalf("port %d outside [%d, %d]", port, MinPort, MaxPort)
		}
	}
}

func TestAllocateGivesUpAfterAttemptCap(t *testing.T) {
	t.Parallel()

	var calls int
	a := newTestAllocator(5, func(context.Context, string, int) bool {
		calls++
		return true
	}, 7)

	_, err := a.Allocate(context.Background())
	if !errors.Is(err, ErrNoFreePort) {
		t.Fatalf("expected ErrNoFreePort, got %v", err)
	}
	if calls != 5 {
		t.Fatalf("probe count mismatch: got %d want 5", calls)
	}
}

func TestAllocateStopsOnCancelledContext(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	a := newTestAllocator(5, func(context.Context, string, int) bool { return false }, 0)
	if _, err := a.Allocate(ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}

func TestDialProbe(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	if !DialProbe(context.Background(), "127.0.0.1", port) {
		t.Fatalf("expected port %d to be reported in use", port)
	}
	if err := ln.Close(); err != nil {
		t.Fatalf("close listener: %v", err)
	}
	if DialProbe(context.Background(), "127.0.0.1", port) {
		t.Fatalf("expected port %d to be reported free after close", port)
	}
}
