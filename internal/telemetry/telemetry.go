// Package telemetry holds the OpenTelemetry instruments used by the relay and the
// optional OTLP trace exporter setup.
package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/metric"
	metricnoop "go.opentelemetry.io/otel/metric/noop"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"go.opentelemetry.io/otel/trace"
	tracenoop "go.opentelemetry.io/otel/trace/noop"
)

const instrumentationName = "github.com/tinywideclouds/go-push-relay"

// Instruments bundles the tracer and meters shared by the credential provider and
// the dispatcher.
type Instruments struct {
	Tracer trace.Tracer

	deliveries    metric.Int64Counter
	exchanges     metric.Int64Counter
	batchDuration metric.Float64Histogram
}

// NewInstruments creates the relay instruments from the given providers.
// Nil providers fall back to the otel globals.
func NewInstruments(tp trace.TracerProvider, mp metric.MeterProvider) (*Instruments, error) {
	if tp == nil {
		tp = otel.GetTracerProvider()
	}
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	meter := mp.Meter(instrumentationName)

	deliveries, err := meter.Int64Counter(
		"pushrelay_deliveries_total",
		metric.WithDescription("Per-token delivery attempts by result"),
	)
	if err != nil {
		return nil, fmt.Errorf("create deliveries counter: %w", err)
	}
	exchanges, err := meter.Int64Counter(
		"pushrelay_credential_exchanges_total",
		metric.WithDescription("Credential exchanges against the identity backend"),
	)
	if err != nil {
		return nil, fmt.Errorf("create exchanges counter: %w", err)
	}
	batchDuration, err := meter.Float64Histogram(
		"pushrelay_batch_duration_seconds",
		metric.WithDescription("Wall time of one batch fan-out"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create batch duration histogram: %w", err)
	}

	return &Instruments{
		Tracer:        tp.Tracer(instrumentationName),
		deliveries:    deliveries,
		exchanges:     exchanges,
		batchDuration: batchDuration,
	}, nil
}

// Noop returns instruments that record nothing.
func Noop() *Instruments {
	i, _ := NewInstruments(tracenoop.NewTracerProvider(), metricnoop.NewMeterProvider())
	return i
}

func (i *Instruments) RecordDelivery(ctx context.Context, success bool) {
	result := "failure"
	if success {
		result = "success"
	}
	i.deliveries.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

func (i *Instruments) RecordExchange(ctx context.Context, err error) {
	i.exchanges.Add(ctx, 1, metric.WithAttributes(attribute.Bool("error", err != nil)))
}

func (i *Instruments) RecordBatch(ctx context.Context, elapsed time.Duration) {
	i.batchDuration.Record(ctx, elapsed.Seconds())
}

// Config controls the OTLP trace exporter.
type Config struct {
	ServiceName    string
	ServiceVersion string
	OTLPEndpoint   string
	SampleRate     float64
}

// Setup installs a global tracer provider exporting to OTLP over HTTP.
// With no endpoint configured it leaves the no-op globals in place.
func Setup(ctx context.Context, cfg Config) (func(context.Context) error, error) {
	if cfg.OTLPEndpoint == "" {
		return func(context.Context) error { return nil }, nil
	}

	res, err := resource.New(ctx,
		resource.WithAttributes(
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("create resource: %w", err)
	}

	exporter, err := otlptrace.New(ctx, otlptracehttp.NewClient(
		otlptracehttp.WithEndpointURL(cfg.OTLPEndpoint),
	))
	if err != nil {
		return nil, fmt.Errorf("create exporter: %w", err)
	}

	rate := cfg.SampleRate
	if rate <= 0 {
		rate = 1.0
	}
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sdktrace.ParentBased(sdktrace.TraceIDRatioBased(rate))),
	)
	otel.SetTracerProvider(tp)
	otel.SetTextMapPropagator(propagation.TraceContext{})

	return tp.Shutdown, nil
}
