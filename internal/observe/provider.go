package observe

import (
	"context"
	"errors"

	"go.opentelemetry.io/otel"
	promexporter "go.opentelemetry.io/otel/exporters/prometheus"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.26.0"
)

// ProviderConfig configures the OpenTelemetry SDK.
type ProviderConfig struct {
	// ServiceName is reported in telemetry. Default: "kurozu".
	ServiceName string

	// ServiceVersion is reported in telemetry.
	ServiceVersion string

	// PlaythroughID tags every metric and span resource with the current
	// playthrough.
	PlaythroughID string

	// TraceExporter is an optional span exporter. When nil, spans are
	// recorded but not exported.
	TraceExporter sdktrace.SpanExporter
}

// InitProvider installs global meter and tracer providers. Metrics are
// exported through the Prometheus registry so that promhttp can serve them
// on /metrics. The returned function flushes and shuts both down.
func InitProvider(ctx context.Context, cfg ProviderConfig) (shutdown func(context.Context) error, err error) {
	if cfg.ServiceName == "" {
		cfg.ServiceName = "kurozu"
	}

	attrs := resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(cfg.ServiceName),
		semconv.ServiceVersion(cfg.ServiceVersion),
	)
	if cfg.PlaythroughID != "" {
		attrs, err = resource.Merge(attrs, resource.NewSchemaless(
			semconv.ServiceInstanceID(cfg.PlaythroughID),
		))
		if err != nil {
			return nil, err
		}
	}
	res, err := resource.Merge(resource.Default(), attrs)
	if err != nil {
		return nil, err
	}

	exp, err := promexporter.New()
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithResource(res),
		sdkmetric.WithReader(exp),
	)
	otel.SetMeterProvider(mp)

	tpOpts := []sdktrace.TracerProviderOption{sdktrace.WithResource(res)}
	if cfg.TraceExporter != nil {
		tpOpts = append(tpOpts, sdktrace.WithBatcher(cfg.TraceExporter))
	}
	tp := sdktrace.NewTracerProvider(tpOpts...)
	otel.SetTracerProvider(tp)

	return func(ctx context.Context) error {
		return errors.Join(mp.Shutdown(ctx), tp.Shutdown(ctx))
	}, nil
}
