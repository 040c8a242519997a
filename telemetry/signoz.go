package telemetry

import (
	"context"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	oteltrace "go.opentelemetry.io/otel/trace"

	"github.com/KonstantinTomashevich/Kan-sub009/universe"
)

// SigNozSpanExporter implements universe.SigNozExporter by emitting one
// already-closed OTel span per mutator summary: SigNoz ingests over the OTel
// protocol, so exporting *is* producing a span, not a bespoke JSON payload.
type SigNozSpanExporter struct {
	tracer oteltrace.Tracer
}

func NewSigNozSpanExporter(instrumentationName string) *SigNozSpanExporter {
	return &SigNozSpanExporter{tracer: NewTracer(instrumentationName).inner}
}

func (e *SigNozSpanExporter) ExportMutator(summary universe.MutatorSummary) {
	_, span := e.tracer.Start(context.Background(), "mutator:"+summary.Mutator)
	span.SetAttributes(
		attribute.String("pipeline", summary.Pipeline),
		attribute.String("world", summary.World),
		attribute.Int64("tick", int64(summary.Tick)),
		attribute.Int64("duration_ns", summary.Duration.Nanoseconds()),
		attribute.Bool("skipped", summary.Skipped),
		attribute.String("reads", strings.Join(summary.Reads, ",")),
		attribute.String("writes", strings.Join(summary.Writes, ",")),
	)
	if summary.Err != nil {
		span.RecordError(summary.Err)
		span.SetStatus(codes.Error, summary.Err.Error())
	}
	span.End()
}

var _ universe.SigNozExporter = (*SigNozSpanExporter)(nil)
