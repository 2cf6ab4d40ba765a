// Package telemetry wires OpenTelemetry tracing for deployd.
//
// Telemetry failures degrade gracefully: when disabled or misconfigured the
// package hands out no-op tracers and the run proceeds without spans.
package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// Config controls telemetry setup.
type Config struct {
	// Enabled turns span export on. Off by default.
	Enabled bool `koanf:"enabled"`

	// Endpoint is the OTLP gRPC collector endpoint, host:port.
	Endpoint string `koanf:"endpoint"`

	// ServiceName identifies this process in exported spans.
	ServiceName string `koanf:"service_name"`

	// SampleRatio is the parent-based trace sample ratio in [0, 1].
	SampleRatio float64 `koanf:"sample_ratio"`
}

// NewDefaultConfig returns telemetry defaults: disabled, local collector.
func NewDefaultConfig() *Config {
	return &Config{
		Enabled:     false,
		Endpoint:    "localhost:4317",
		ServiceName: "deployd",
		SampleRatio: 1.0,
	}
}

// Validate checks the config.
func (c *Config) Validate() error {
	if c.SampleRatio < 0 || c.SampleRatio > 1 {
		return fmt.Errorf("sample_ratio %v out of range [0, 1]", c.SampleRatio)
	}
	if c.Enabled && c.Endpoint == "" {
		return fmt.Errorf("endpoint required when telemetry is enabled")
	}
	return nil
}

// Telemetry owns the tracer provider and its shutdown.
type Telemetry struct {
	provider *sdktrace.TracerProvider
}

// New initializes tracing. With telemetry disabled the returned instance
// hands out no-op tracers and Shutdown is a no-op.
func New(ctx context.Context, cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid telemetry config: %w", err)
	}
	if !cfg.Enabled {
		return &Telemetry{}, nil
	}

	exporter, err := otlptracegrpc.New(ctx,
		otlptracegrpc.WithEndpoint(cfg.Endpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, fmt.Errorf("create otlp exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
	))
	if err != nil {
		return nil, fmt.Errorf("build resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SampleRatio))),
	)
	return &Telemetry{provider: provider}, nil
}

// Tracer returns a named tracer, no-op when telemetry is disabled.
func (t *Telemetry) Tracer(name string) trace.Tracer {
	if t.provider == nil {
		return noop.NewTracerProvider().Tracer(name)
	}
	return t.provider.Tracer(name)
}

// Shutdown flushes pending spans.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	if t.provider == nil {
		return nil
	}
	return t.provider.Shutdown(ctx)
}
