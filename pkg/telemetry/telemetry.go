// Package telemetry wires a minimal OpenTelemetry tracer provider: one span
// per processed event record and one span per anomaly detection tick, so an
// external trace backend can be attached without touching the Prometheus
// metrics path (pkg/metrics already covers counters/gauges).
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	sdkresource "go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
)

// Config controls NewProvider.
type Config struct {
	// Enabled gates span export. When false, NewProvider installs nothing
	// and leaves OpenTelemetry's default no-op global tracer provider in
	// place, so spans created via Tracer cost nothing beyond the interface
	// call.
	Enabled        bool
	ServiceName    string
	ServiceVersion string
}

// Provider owns the process-wide tracer provider's lifecycle.
type Provider struct {
	tp *sdktrace.TracerProvider
}

// NewProvider builds and installs the global tracer provider. Spans are
// exported through a zerolog-backed exporter (logExporter) rather than an
// OTLP collector, since no exporter module is part of this daemon's
// dependency set; the SDK wiring itself (resource, batch span processor,
// sampler) is real go.opentelemetry.io/otel/sdk code.
func NewProvider(ctx context.Context, cfg Config) (*Provider, error) {
	if !cfg.Enabled {
		return &Provider{}, nil
	}

	res, err := sdkresource.New(ctx,
		sdkresource.WithAttributes(
			attribute.String("service.name", cfg.ServiceName),
			attribute.String("service.version", cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("sentryd: building telemetry resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithResource(res),
		sdktrace.WithBatcher(newLogExporter()),
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
	)
	otel.SetTracerProvider(tp)

	return &Provider{tp: tp}, nil
}

// Shutdown flushes and stops the tracer provider. Safe to call on a
// disabled (no-op) Provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.tp == nil {
		return nil
	}
	return p.tp.Shutdown(ctx)
}

// Tracer returns a named tracer from the installed global provider (or the
// no-op provider, if telemetry is disabled).
func Tracer(name string) trace.Tracer {
	return otel.Tracer(name)
}
