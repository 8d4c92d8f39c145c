package telemetry

import (
	"context"

	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"sentryd/pkg/log"
)

// logExporter satisfies sdktrace.SpanExporter by emitting one structured log
// line per finished span instead of shipping to an OTLP collector, since
// this daemon carries no OTLP exporter dependency.
type logExporter struct{}

func newLogExporter() *logExporter {
	return &logExporter{}
}

func (e *logExporter) ExportSpans(_ context.Context, spans []sdktrace.ReadOnlySpan) error {
	logger := log.WithComponent("telemetry")
	for _, s := range spans {
		logger.Debug().
			Str("span_name", s.Name()).
			Dur("duration", s.EndTime().Sub(s.StartTime())).
			Str("trace_id", s.SpanContext().TraceID().String()).
			Msg("span finished")
	}
	return nil
}

func (e *logExporter) Shutdown(_ context.Context) error {
	return nil
}
