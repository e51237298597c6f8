package telemetry

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	promclient "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.30.0"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const instrumentationName = "github.com/satriahrh/ditado"

// Config selects the trace exporter and toggles the metrics endpoint
type Config struct {
	ServiceName   string `yaml:"service_name"`
	Environment   string `yaml:"environment"`
	TraceExporter string `yaml:"trace_exporter"` // none, stdout or otlp
	OTLPEndpoint  string `yaml:"otlp_endpoint"`
	OTLPInsecure  bool   `yaml:"otlp_insecure"`
	Metrics       bool   `yaml:"metrics"`
}

// Telemetry owns the tracer and meter providers
type Telemetry struct {
	Tracer         trace.Tracer
	Meter          metric.Meter
	MetricsHandler http.Handler
	shutdown       []func(context.Context) error
}

// Setup builds the providers and installs them globally
func Setup(ctx context.Context, cfg Config, logger *zap.Logger) (*Telemetry, error) {
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "ditado"
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(serviceName),
			attribute.String("deployment.environment", cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create telemetry resource: %w", err)
	}

	t := &Telemetry{}

	tp, err := initTracer(ctx, cfg, res, logger)
	if err != nil {
		return nil, err
	}
	otel.SetTracerProvider(tp)
	t.shutdown = append(t.shutdown, tp.Shutdown)
	t.Tracer = tp.Tracer(instrumentationName)

	mp, handler, err := initMetrics(cfg, res, logger)
	if err != nil {
		t.Shutdown(ctx)
		return nil, err
	}
	otel.SetMeterProvider(mp)
	t.shutdown = append(t.shutdown, mp.Shutdown)
	t.Meter = mp.Meter(instrumentationName)
	t.MetricsHandler = handler

	return t, nil
}

func initTracer(ctx context.Context, cfg Config, res *resource.Resource, logger *zap.Logger) (*sdktrace.TracerProvider, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.TraceExporter)) {
	case "otlp":
		endpoint := strings.TrimSpace(cfg.OTLPEndpoint)
		if endpoint == "" {
			return nil, errors.New("otlp endpoint is required for the otlp trace exporter")
		}
		opts := []otlptracegrpc.Option{otlptracegrpc.WithEndpoint(endpoint)}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		exporter, err := otlptracegrpc.New(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("create otlp exporter: %w", err)
		}
		logger.Info("Telemetry initialized", zap.String("exporter", "otlp"), zap.String("endpoint", endpoint))
		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
	case "stdout":
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return nil, fmt.Errorf("create stdout exporter: %w", err)
		}
		logger.Info("Telemetry initialized", zap.String("exporter", "stdout"))
		return sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter), sdktrace.WithResource(res)), nil
	case "", "none":
		return sdktrace.NewTracerProvider(sdktrace.WithResource(res)), nil
	default:
		return nil, fmt.Errorf("unknown trace exporter %q", cfg.TraceExporter)
	}
}

func initMetrics(cfg Config, res *resource.Resource, logger *zap.Logger) (*sdkmetric.MeterProvider, http.Handler, error) {
	if !cfg.Metrics {
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil, nil
	}

	registry := promclient.NewRegistry()
	promExporter, err := prometheus.New(prometheus.WithRegisterer(registry))
	if err != nil {
		logger.Warn("Failed to initialize prometheus exporter", zap.Error(err))
		return sdkmetric.NewMeterProvider(sdkmetric.WithResource(res)), nil, nil
	}

	mp := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(promExporter),
		sdkmetric.WithResource(res),
	)
	return mp, promhttp.HandlerFor(registry, promhttp.HandlerOpts{}), nil
}

// Shutdown flushes exporters
func (t *Telemetry) Shutdown(ctx context.Context) error {
	var errs []error
	for i := len(t.shutdown) - 1; i >= 0; i-- {
		if err := t.shutdown[i](ctx); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
