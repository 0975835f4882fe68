//go:build unix

package registry

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"golang.org/x/sys/unix"
)

const (
	signalChildEnv   = "REDISBOX_REGISTRY_SIGNAL_CHILD"
	signalRuntimeEnv = "REDISBOX_REGISTRY_SIGNAL_RUNTIME"
	childContainer   = "redisbox-child"
	shutdownMarker   = "shutdown completed"
)

// TestSignalChild is the body of the re-executed test binary used by the
// signal tests below. It does nothing in a normal run.
func TestSignalChild(t *testing.T) {
	mode := os.Getenv(signalChildEnv)
	if mode == "" {
		t.Skip("helper process only")
	}
	linger := 5 * time.Second
	if mode == "disabled" {
		DisableSignalHook()
		linger = 300 * time.Millisecond
	}

	ctx, stop := signal.NotifyContext(context.Background(), unix.SIGINT)
	defer stop()
	For(os.Getenv(signalRuntimeEnv)).Register(childContainer)
	if err := unix.Kill(os.Getpid(), unix.SIGINT); err != nil {
		t.Fatalf("kill: %v", err)
	}
	<-ctx.Done()
	// Stands in for the caller's own teardown.
	time.Sleep(linger)
	fmt.Println(shutdownMarker)
}

func runSignalChild(t *testing.T, mode string) (output string, runErr error, calls string) {
	t.Helper()
	dir := t.TempDir()
	logFile := filepath.Join(dir, "calls.log")
	bin := filepath.Join(dir, "fake-runtime")
	script := "#!/bin/sh\necho \"$*\" >> '" + logFile + "'\n"
	if err := os.WriteFile(bin, []byte(script), 0o755); err != nil {
		t.Fatalf("write fake runtime: %v", err)
	}

	cmd := exec.Command(os.Args[0], "-test.run=^TestSignalChild$")
	cmd.Env = append(os.Environ(), signalChildEnv+"="+mode, signalRuntimeEnv+"="+bin)
	out, err := cmd.CombinedOutput()

	data, readErr := os.ReadFile(logFile)
	if readErr != nil && !errors.Is(readErr, os.ErrNotExist) {
		t.Fatalf("read call log: %v", readErr)
	}
	return string(out), err, string(data)
}

func TestDisabledSignalHookLeavesShutdownToCaller(t *testing.T) {
	t.Parallel()

	out, err, calls := runSignalChild(t, "disabled")
	if err != nil {
		t.Fatalf("child failed: %v\n%s", err, out)
	}
	if !strings.Contains(out, shutdownMarker) {
		t.Fatalf("caller shutdown did not finish:\n%s", out)
	}
	if strings.Contains(calls, "stop") {
		t.Fatalf("disabled hook still swept: %q", calls)
	}
}

func TestSignalHookSweepsAndReraises(t *testing.T) {
	t.Parallel()

	out, err, calls := runSignalChild(t, "enabled")
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		t.Fatalf("expected child to die from the signal, got %v\n%s", err, out)
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() || status.Signal() != syscall.SIGINT {
		t.Fatalf("child status = %v, want killed by SIGINT", exitErr)
	}
	if strings.Contains(out, shutdownMarker) {
		t.Fatalf("child outlived the re-raised signal:\n%s", out)
	}
	if !strings.Contains(calls, "stop -t 1 "+childContainer) {
		t.Fatalf("sweep did not stop the registered container: %q", calls)
	}
}
