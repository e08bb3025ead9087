package otel

import (
	"context"
	"errors"
	"fmt"

	"github.com/caseflow-io/caseflow/internal/config"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	metrics "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
	"go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.37.0"
)

// Request instruments of the REST server. Engine-level instruments live in
// pkg/otel; these only cover the HTTP surface.
var (
	RequestTotal    metrics.Int64Counter
	RequestUriTotal metrics.Int64Counter
	RequestDuration metrics.Float64Histogram
)

const requestMeter = "caseflow-rest"

type Otel struct {
	meterProvider  *metric.MeterProvider
	tracerprovider *trace.TracerProvider
}

func SetupOtel(conf config.Tracing) (*Otel, error) {
	o := Otel{}
	var err error

	o.meterProvider, err = setupMeterProvider(conf.Name)
	if err != nil {
		return nil, err
	}
	otel.SetMeterProvider(o.meterProvider)
	if conf.Enabled {
		o.tracerprovider, err = setupTraceProvider(conf)
		otel.SetTracerProvider(o.tracerprovider)
		if err != nil {
			return nil, fmt.Errorf("failed to set up tracer: %w", err)
		}
	}

	return &o, nil
}

func (o *Otel) Stop(ctx context.Context) {
	if o.meterProvider != nil {
		_ = o.meterProvider.Shutdown(ctx)
		o.meterProvider = nil
	}
	if o.tracerprovider != nil {
		_ = o.tracerprovider.Shutdown(ctx)
		o.tracerprovider = nil
	}
}

func setupMeterProvider(appName string) (*metric.MeterProvider, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, fmt.Errorf("failed to set up prometheus exporter: %w", err)
	}

	res, err := resource.Merge(resource.Default(), resource.NewWithAttributes(
		semconv.SchemaURL,
		semconv.ServiceName(appName),
		attribute.String("library.language", "go"),
	))
	if err != nil {
		return nil, err
	}

	meterProvider := metric.NewMeterProvider(
		metric.WithReader(exporter),
		metric.WithResource(res),
	)

	meter := meterProvider.Meter(requestMeter)
	var errJoin error
	RequestTotal, err = meter.Int64Counter("request_total",
		metrics.WithDescription("Requests served"))
	errJoin = errors.Join(errJoin, err)
	RequestUriTotal, err = meter.Int64Counter("request_uri_total",
		metrics.WithDescription("Requests served per route"))
	errJoin = errors.Join(errJoin, err)
	RequestDuration, err = meter.Float64Histogram("request_duration",
		metrics.WithUnit("ms"), metrics.WithDescription("Request handling time, milliseconds"))
	errJoin = errors.Join(errJoin, err)
	if errJoin != nil {
		return nil, fmt.Errorf("failed to create otel instruments: %w", errJoin)
	}
	return meterProvider, nil
}
