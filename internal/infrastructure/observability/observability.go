// Package observability wires OpenTelemetry tracing and metrics for the
// relay server. Without an OTLP endpoint configured it installs noop
// providers so instrumented code paths stay cheap.
package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlpmetric/otlpmetrichttp"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/propagation"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"

	"sidechat/internal/config"
)

const metricExportInterval = 30 * time.Second

// Shutdown flushes and releases telemetry resources.
type Shutdown func(ctx context.Context) error

// Setup installs the tracer and meter providers and the W3C propagators.
// The returned Shutdown must be called on exit.
func Setup(ctx context.Context, cfg *config.Config, log zerolog.Logger) (Shutdown, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			attribute.String("environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, err
	}

	tracerProvider, meterProvider, err := buildProviders(ctx, cfg, res, log)
	if err != nil {
		return nil, err
	}

	otel.SetTracerProvider(tracerProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return func(ctx context.Context) error {
		var firstErr error
		if err := meterProvider.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown meter provider")
			firstErr = err
		}
		if err := tracerProvider.Shutdown(ctx); err != nil {
			log.Error().Err(err).Msg("shutdown tracer provider")
			if firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}, nil
}

func buildProviders(ctx context.Context, cfg *config.Config, res *resource.Resource, log zerolog.Logger) (*sdktrace.TracerProvider, *sdkmetric.MeterProvider, error) {
	if !cfg.EnableTracing || cfg.OTLPEndpoint == "" {
		log.Info().Msg("telemetry export disabled, using noop providers")
		return sdktrace.NewTracerProvider(sdktrace.WithResource(res)),
			sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)),
			nil
	}

	endpoint, insecure := splitEndpoint(cfg.OTLPEndpoint)

	traceOpts := []otlptracehttp.Option{otlptracehttp.WithEndpoint(endpoint)}
	metricOpts := []otlpmetrichttp.Option{otlpmetrichttp.WithEndpoint(endpoint)}
	if insecure {
		traceOpts = append(traceOpts, otlptracehttp.WithInsecure())
		metricOpts = append(metricOpts, otlpmetrichttp.WithInsecure())
	}

	traceExporter, err := otlptracehttp.New(ctx, traceOpts...)
	if err != nil {
		return nil, nil, err
	}
	metricExporter, err := otlpmetrichttp.New(ctx, metricOpts...)
	if err != nil {
		return nil, nil, err
	}

	log.Info().Str("endpoint", cfg.OTLPEndpoint).Msg("exporting traces and metrics over OTLP")

	return sdktrace.NewTracerProvider(
			sdktrace.WithResource(res),
			sdktrace.WithBatcher(traceExporter),
			sdktrace.WithSampler(sdktrace.AlwaysSample()),
		),
		sdkmetric.NewMeterProvider(
			sdkmetric.WithResource(res),
			sdkmetric.WithReader(sdkmetric.NewPeriodicReader(metricExporter,
				sdkmetric.WithInterval(metricExportInterval))),
		),
		nil
}

// splitEndpoint strips the scheme from a configured OTLP endpoint. A plain
// http scheme, or no scheme at all, selects an insecure exporter.
func splitEndpoint(raw string) (endpoint string, insecure bool) {
	switch {
	case strings.HasPrefix(raw, "https://"):
		return strings.TrimPrefix(raw, "https://"), false
	case strings.HasPrefix(raw, "http://"):
		return strings.TrimPrefix(raw, "http://"), true
	default:
		return raw, true
	}
}
