// Package telemetry owns tracing setup, trace context propagation and
// logger construction.
package telemetry

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/aluiziolira/aragog/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
	"go.opentelemetry.io/otel/trace"
)

// Telemetry holds the process tracer provider. Setup it before the first
// crawl and Shutdown it after the last so buffered spans are flushed.
type Telemetry struct {
	TracerProvider *sdktrace.TracerProvider
}

// Tracer returns a named tracer from the provider.
func (t Telemetry) Tracer(name string) trace.Tracer {
	return t.TracerProvider.Tracer(name)
}

// Shutdown flushes pending spans and stops the provider.
func (t Telemetry) Shutdown(ctx context.Context) error {
	errlist := []error{}
	if t.TracerProvider != nil {
		if err := t.TracerProvider.Shutdown(ctx); err != nil {
			errlist = append(errlist, err)
		}
	}
	return errors.Join(errlist...)
}

// Setup installs a global tracer provider and the W3C trace context and
// baggage propagators. Without an endpoint spans are recorded but not
// exported, so trace carriers stay valid.
func Setup(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (Telemetry, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*15)
	defer cancel()

	if logger == nil {
		logger = slog.Default()
	}

	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "aragog"
	}
	r, err := newResource(serviceName)
	if err != nil {
		return Telemetry{}, fmt.Errorf("telemetry resource: %w", err)
	}

	opts := []sdktrace.TracerProviderOption{sdktrace.WithResource(r)}
	if cfg.Endpoint != "" {
		exporter, err := newExporter(ctx, cfg, logger)
		if err != nil {
			return Telemetry{}, fmt.Errorf("trace exporter: %w", err)
		}
		opts = append(opts, sdktrace.WithBatcher(exporter))
	} else {
		logger.Debug("trace export disabled, no endpoint configured")
	}

	tracerProvider := sdktrace.NewTracerProvider(opts...)
	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return Telemetry{TracerProvider: tracerProvider}, nil
}

func newResource(serviceName string) (*resource.Resource, error) {
	return resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(serviceName),
		),
	)
}

func newExporter(ctx context.Context, cfg config.TelemetryConfig, logger *slog.Logger) (sdktrace.SpanExporter, error) {
	ctx, cancel := context.WithTimeout(ctx, time.Second*3)
	defer cancel()

	var (
		exporter sdktrace.SpanExporter
		err      error
	)
	switch cfg.Protocol {
	case "http":
		exporter, err = otlptracehttp.New(
			ctx,
			otlptracehttp.WithEndpointURL(cfg.Endpoint),
			otlptracehttp.WithHeaders(cfg.Headers),
		)
	case "", "grpc":
		exporter, err = otlptracegrpc.New(
			ctx,
			otlptracegrpc.WithEndpointURL(cfg.Endpoint),
			otlptracegrpc.WithHeaders(cfg.Headers),
		)
	default:
		return nil, fmt.Errorf("unsupported protocol %q", cfg.Protocol)
	}
	if err != nil {
		return nil, err
	}

	logger.Info("tracer export initialized",
		slog.String("protocol", cfg.Protocol),
		slog.String("endpoint", cfg.Endpoint),
		slog.Bool("headers", len(cfg.Headers) > 0),
	)
	return exporter, nil
}
