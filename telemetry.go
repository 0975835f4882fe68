package redisbox

import (
	"context"
	"log"
	"os"
	"sync"

	"github.com/strongdm/redisbox/internal/telemetry/otel"
)

var (
	telemetryOnce     sync.Once
	telemetryProvider *otel.Provider
)

// instruments returns the process-wide lifecycle instruments, configured
// from REDISBOX_OTEL_* on first use. Nil when telemetry is off.
func instruments() *otel.LifecycleInstruments {
	telemetryOnce.Do(func() {
		p, err := otel.Setup(context.Background(), otel.LoadConfigFromEnv())
		if err != nil {
			log.New(os.Stderr, "redisbox: ", 0).Printf("telemetry disabled: %v", err)
			return
		}
		telemetryProvider = p
	})
	return telemetryProvider.Lifecycle()
}

func shutdownTelemetry(ctx context.Context) error {
	if telemetryProvider == nil {
		return nil
	}
	return telemetryProvider.Shutdown(ctx)
}

// FlushTelemetry exports pending spans and shuts the REDISBOX_OTEL_*
// providers down. WrapTestMain calls it; other programs should call it
// before exiting.
func FlushTelemetry(ctx context.Context) error {
	return shutdownTelemetry(ctx)
}
