package otel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

// Lifecycle phases recorded as span names and the "phase" attribute.
const (
	PhaseBuild    = "build"
	PhaseAllocate = "allocate"
	PhaseRun      = "run"
	PhaseReady    = "ready"
	PhaseConnect  = "connect"
	PhaseTeardown = "teardown"
	PhaseSweep    = "sweep"
)

// LifecycleInstruments publishes metrics and traces for container lifecycle phases.
type LifecycleInstruments struct {
	meterEnabled bool
	traceEnabled bool

	counterPhases metric.Int64Counter
	counterErrors metric.Int64Counter
	histDuration  metric.Int64Histogram

	tracer trace.Tracer
}

// PhaseHandle tracks one in-flight phase.
type PhaseHandle struct {
	ctx   context.Context
	span  trace.Span
	start time.Time
	attrs []attribute.KeyValue
}

func newLifecycleInstruments(p *Provider) *LifecycleInstruments {
	if p == nil {
		return nil
	}

	inst := &LifecycleInstruments{
		meterEnabled: p.meterProvider != nil,
		traceEnabled: p.tracerProvider != nil,
	}
	if p.meterProvider != nil {
		inst.counterPhases, _ = p.meter.Int64Counter(
			"redisbox.phase_total",
			metric.WithDescription("Number of lifecycle phases executed"),
		)
		inst.counterErrors, _ = p.meter.Int64Counter(
			"redisbox.phase_errors_total",
			metric.WithDescription("Number of lifecycle phases that ended in error"),
		)
		inst.histDuration, _ = p.meter.Int64Histogram(
			"redisbox.phase.duration",
			metric.WithDescription("Duration of lifecycle phases in milliseconds"),
		)
	}
	if p.tracerProvider != nil {
		inst.tracer = p.tracer
	}
	return inst
}

// Start opens a phase; the returned context carries the span when tracing is enabled.
func (i *LifecycleInstruments) Start(parent context.Context, phase, container string) (*PhaseHandle, context.Context) {
	if i == nil {
		return nil, parent
	}

	h := &PhaseHandle{
		ctx:   parent,
		start: time.Now(),
		attrs: []attribute.KeyValue{attribute.String("phase", phase)},
	}
	if container != "" {
		h.attrs = append(h.attrs, attribute.String("container", container))
	}

	if i.traceEnabled && i.tracer != nil {
		ctx, span := i.tracer.Start(parent, "redisbox."+phase, trace.WithAttributes(h.attrs...))
		h.ctx = ctx
		h.span = span
	}
	return h, h.ctx
}

// Finish records the phase outcome.
func (i *LifecycleInstruments) Finish(h *PhaseHandle, err error) {
	if i == nil || h == nil {
		return
	}
	elapsed := time.Since(h.start)
	attrs := append([]attribute.KeyValue{}, h.attrs...)
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	attrs = append(attrs, attribute.String("outcome", outcome))

	if i.meterEnabled {
		i.counterPhases.Add(h.ctx, 1, metric.WithAttributes(attrs...))
		if err != nil {
			i.counterErrors.Add(h.ctx, 1, metric.WithAttributes(attrs...))
		}
		i.histDuration.Record(h.ctx, elapsed.Milliseconds(), metric.WithAttributes(attrs...))
	}

	if h.span != nil {
		h.span.SetAttributes(attrs...)
		if err != nil {
			h.span.RecordError(err)
			h.span.SetStatus(codes.Error, err.Error())
		}
		h.span.End()
	}
}

// Observe runs fn as a phase.
func (i *LifecycleInstruments) Observe(ctx context.Context, phase, container string, fn func(context.Context) error) error {
	h, ctx := i.Start(ctx, phase, container)
	err := fn(ctx)
	i.Finish(h, err)
	return err
}
