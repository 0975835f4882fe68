package redisbox

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/strongdm/redisbox/internal/envflag"
	"github.com/strongdm/redisbox/internal/registry"
)

// cleanupTimeout bounds GlobalCleanup.
const cleanupTimeout = 60 * time.Second

// keepEnv leaves containers running after WrapTestMain when set to a true
// value, for post-mortem inspection.
const keepEnv = "REDISBOX_KEEP"

var sweepAll = registry.SweepAll

// GlobalCleanup force-stops every container still registered by any
// Instance in this process. It blocks until the stops finish or time out,
// swallows their failures and is safe to call repeatedly.
func GlobalCleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	seamMu.Lock()
	sweep := sweepAll
	seamMu.Unlock()
	_ = sweep(ctx)
}

// DisableSignalHook stops redisbox from sweeping its containers and
// re-raising the signal on SIGINT, SIGTERM or SIGHUP. Programs that handle
// those signals themselves and stop their instances on the way out should
// call it, since the re-raised signal would otherwise end the process before
// their shutdown completes.
func DisableSignalHook() {
	registry.DisableSignalHook()
}

// TestingM is the subset of *testing.M used by WrapTestMain.
type TestingM interface {
	Run() int
}

// WrapTestMain runs the test binary, sweeps leftover containers, flushes
// telemetry and exits with the suite's status:
//
//	func TestMain(m *testing.M) { redisbox.WrapTestMain(m) }
func WrapTestMain(m TestingM) {
	os.Exit(runTestMain(m))
}

func runTestMain(m TestingM) int {
	code := m.Run()
	if envflag.Enabled(keepEnv) {
		fmt.Fprintf(os.Stderr, "redisbox: %s set, leaving containers running (code: %d)\n", keepEnv, code)
	} else {
		GlobalCleanup()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = shutdownTelemetry(ctx)
	return code
}
