package otel

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
)

const (
	instrumentationName = "github.com/strongdm/redisbox/lifecycle"
	defaultServiceName  = "redisbox"
)

// Config selects which signals are recorded and where spans go.
type Config struct {
	ServiceName   string
	EnableMetrics bool
	EnableTraces  bool
	// TraceOutput receives pretty-printed spans. TraceFile is opened in
	// append mode when TraceOutput is nil; stderr is the fallback.
	TraceOutput io.Writer
	TraceFile   string
	// Attributes are added to the resource, e.g. the container runtime.
	Attributes map[string]string
}

// Provider owns the meter and tracer providers behind the lifecycle
// instruments. A Provider with both signals off records nothing.
type Provider struct {
	meterProvider  *sdkmetric.MeterProvider
	tracerProvider *sdktrace.TracerProvider
	reader         *sdkmetric.ManualReader
	meter          metric.Meter
	tracer         trace.Tracer
	traceFile      *os.File

	lifecycle    *LifecycleInstruments
	shutdownOnce sync.Once
	shutdownErr  error
}

// Setup builds the providers requested by cfg and registers them globally.
func Setup(ctx context.Context, cfg Config) (*Provider, error) {
	p := &Provider{}
	if !cfg.EnableMetrics && !cfg.EnableTraces {
		return p, nil
	}

	res, err := buildResource(cfg)
	if err != nil {
		return nil, err
	}

	if cfg.EnableMetrics {
		p.reader = sdkmetric.NewManualReader()
		p.meterProvider = sdkmetric.NewMeterProvider(
			sdkmetric.WithReader(p.reader),
			sdkmetric.WithResource(res),
		)
		otel.SetMeterProvider(p.meterProvider)
		p.meter = p.meterProvider.Meter(instrumentationName)
	}

	if cfg.EnableTraces {
		out, err := p.traceWriter(cfg)
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, err
		}
		exp, err := stdouttrace.New(stdouttrace.WithWriter(out), stdouttrace.WithPrettyPrint())
		if err != nil {
			_ = p.Shutdown(ctx)
			return nil, fmt.Errorf("init stdout trace exporter: %w", err)
		}
		p.tracerProvider = sdktrace.NewTracerProvider(
			sdktrace.WithBatcher(exp, sdktrace.WithMaxExportBatchSize(64)),
			sdktrace.WithResource(res),
		)
		otel.SetTracerProvider(p.tracerProvider)
		p.tracer = p.tracerProvider.Tracer(instrumentationName)
	}

	p.lifecycle = newLifecycleInstruments(p)
	return p, nil
}

func buildResource(cfg Config) (*resource.Resource, error) {
	name := strings.TrimSpace(cfg.ServiceName)
	if name == "" {
		name = defaultServiceName
	}
	attrs := []attribute.KeyValue{attribute.String("service.name", name)}
	for k, v := range cfg.Attributes {
		attrs = append(attrs, attribute.String(k, v))
	}
	res, err := resource.Merge(resource.Default(), resource.NewSchemaless(attrs...))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}
	return res, nil
}

func (p *Provider) traceWriter(cfg Config) (io.Writer, error) {
	if cfg.TraceOutput != nil {
		return cfg.TraceOutput, nil
	}
	if path := strings.TrimSpace(cfg.TraceFile); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, fmt.Errorf("open trace file: %w", err)
		}
		p.traceFile = f
		return f, nil
	}
	return os.Stderr, nil
}

// Shutdown flushes pending spans and releases the providers. Later calls
// return the first result.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil {
		return nil
	}
	p.shutdownOnce.Do(func() {
		if p.meterProvider != nil {
			p.shutdownErr = multierr.Append(p.shutdownErr, p.meterProvider.Shutdown(ctx))
		}
		if p.tracerProvider != nil {
			p.shutdownErr = multierr.Append(p.shutdownErr, p.tracerProvider.Shutdown(ctx))
		}
		if p.traceFile != nil {
			p.shutdownErr = multierr.Append(p.shutdownErr, p.traceFile.Close())
		}
	})
	return p.shutdownErr
}

// Lifecycle returns the container lifecycle instruments, nil when
// telemetry is disabled.
func (p *Provider) Lifecycle() *LifecycleInstruments {
	if p == nil {
		return nil
	}
	return p.lifecycle
}

// Reader exposes the manual metric reader for on-demand collection.
func (p *Provider) Reader() *sdkmetric.ManualReader {
	if p == nil {
		return nil
	}
	return p.reader
}

// EnvBool interprets an on/off toggle, falling back to defaultOn for empty
// or unrecognised values.
func EnvBool(value string, defaultOn bool) bool {
	switch strings.TrimSpace(strings.ToLower(value)) {
	case "1", "true", "on", "enable", "enabled", "yes":
		return true
	case "0", "false", "off", "disable", "disabled", "no":
		return false
	default:
		return defaultOn
	}
}

// LoadConfigFromEnv reads REDISBOX_OTEL_METRICS, REDISBOX_OTEL_TRACES,
// REDISBOX_OTEL_TRACE_FILE and REDISBOX_OTEL_SERVICE_NAME.
func LoadConfigFromEnv() Config {
	return Config{
		ServiceName:   os.Getenv("REDISBOX_OTEL_SERVICE_NAME"),
		EnableMetrics: EnvBool(os.Getenv("REDISBOX_OTEL_METRICS"), false),
		EnableTraces:  EnvBool(os.Getenv("REDISBOX_OTEL_TRACES"), false),
		TraceFile:     os.Getenv("REDISBOX_OTEL_TRACE_FILE"),
	}
}
