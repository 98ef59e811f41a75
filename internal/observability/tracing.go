package observability

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"
)

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	// ServiceName identifies the application in traces.
	ServiceName string

	// ServiceVersion is the application version.
	ServiceVersion string

	// Environment names the deployment environment.
	Environment string

	// OTLPEndpoint is the collector endpoint (host:port).
	OTLPEndpoint string

	// SamplingRate controls trace sampling in [0,1]; 0 defaults to 1.
	SamplingRate float64

	// Enabled controls whether tracing is active at all.
	Enabled bool

	// Logger for tracing lifecycle messages.
	Logger *slog.Logger
}

// TracerProvider wraps the SDK provider with shutdown capability. With
// tracing disabled it is a no-op shell so callers never branch.
type TracerProvider struct {
	provider *sdktrace.TracerProvider
	logger   *slog.Logger
}

// SetupTracing initializes the global OpenTelemetry trace provider with an
// OTLP/HTTP exporter and W3C propagation.
func SetupTracing(ctx context.Context, cfg TracingConfig) (*TracerProvider, error) {
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if !cfg.Enabled {
		return &TracerProvider{logger: cfg.Logger}, nil
	}

	if cfg.ServiceName == "" {
		cfg.ServiceName = "streamlens"
	}
	if cfg.ServiceVersion == "" {
		cfg.ServiceVersion = "dev"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4318"
	}
	if cfg.SamplingRate <= 0 || cfg.SamplingRate > 1 {
		cfg.SamplingRate = 1
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(
		otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		otlptracehttp.WithInsecure(),
	))
	if err != nil {
		return nil, fmt.Errorf("tracing: create exporter: %w", err)
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("tracing: create resource: %w", err)
	}

	provider := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(cfg.SamplingRate))),
	)

	otel.SetTracerProvider(provider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	cfg.Logger.Info("tracing initialized",
		"service", cfg.ServiceName, "endpoint", cfg.OTLPEndpoint, "sampling", cfg.SamplingRate)

	return &TracerProvider{provider: provider, logger: cfg.Logger}, nil
}

// Shutdown flushes pending spans and stops the provider.
func (p *TracerProvider) Shutdown(ctx context.Context) error {
	if p.provider == nil {
		return nil
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := p.provider.Shutdown(shutdownCtx); err != nil {
		p.logger.Error("trace provider shutdown failed", "error", err)
		return fmt.Errorf("tracing: shutdown: %w", err)
	}
	return nil
}

// Tracer returns the pipeline tracer.
func Tracer() trace.Tracer {
	return otel.Tracer("github.com/example/streamlens")
}
