package telemetry

import (
	"context"

	"go.opentelemetry.io/otel"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/KonstantinTomashevich/Kan-sub009/universe"
)

// Tracer adapts the global OpenTelemetry tracer (installed by whatever
// TracerProvider the host process configures) to universe.Tracer. With no
// SDK/exporter wired, the global provider defaults to a no-op tracer, so
// this is safe to install unconditionally.
type Tracer struct {
	inner oteltrace.Tracer
}

// NewTracer names the instrumentation scope, mirroring how each corpus
// service names its own tracer after itself.
func NewTracer(instrumentationName string) *Tracer {
	return &Tracer{inner: otel.Tracer(instrumentationName)}
}

func (t *Tracer) Start(ctx context.Context, name string) (context.Context, universe.TraceSpan) {
	spanCtx, span := t.inner.Start(ctx, name)
	return spanCtx, traceSpan{span: span}
}

type traceSpan struct {
	span oteltrace.Span
}

func (s traceSpan) End() { s.span.End() }

var _ universe.Tracer = (*Tracer)(nil)
var _ universe.TraceSpan = traceSpan{}
