// Package tracing sets up the OTLP trace exporter the workflow monitor
// mirrors its spans into.
package tracing

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.27.0"
	oteltrace "go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Config holds tracing configuration.
type Config struct {
	Enabled      bool
	ServiceName  string
	OTLPEndpoint string
}

// ShutdownFunc flushes and stops the tracer provider.
type ShutdownFunc func(ctx context.Context) error

// Initialize sets up OTLP tracing and returns a tracer handle plus a shutdown
// function. When tracing is disabled the returned tracer is a no-op and
// shutdown does nothing, so callers never branch on the enabled flag.
func Initialize(cfg Config, logger *zap.Logger) (oteltrace.Tracer, ShutdownFunc, error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "inframind-core"
	}

	if !cfg.Enabled {
		logger.Info("Tracing disabled")
		return otel.Tracer(cfg.ServiceName), func(context.Context) error { return nil }, nil
	}

	if cfg.OTLPEndpoint == "" {
		cfg.OTLPEndpoint = "localhost:4317"
	}

	exporter, err := otlptracegrpc.New(
		context.Background(),
		otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		otlptracegrpc.WithInsecure(),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create OTLP exporter: %w", err)
	}

	res, err := resource.New(context.Background(),
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion("1.0.0"),
		),
	)
	if err != nil {
		return nil, nil, fmt.Errorf("create resource: %w", err)
	}

	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
	)
	otel.SetTracerProvider(tp)

	shutdown := func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		return tp.Shutdown(ctx)
	}

	logger.Info("Tracing initialized", zap.String("endpoint", cfg.OTLPEndpoint))
	return otel.Tracer(cfg.ServiceName), shutdown, nil
}
