// Package otelsetup builds a minimal in-process OTel MeterProvider for
// hosts that don't already run their own OTel SDK wiring.
package otelsetup

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/resource"
)

// NewMeterProvider builds an sdk/metric MeterProvider with no exporter
// attached by default (readers are the caller's responsibility to add via
// Options); this is enough to back mcos.NewMetrics with real instruments
// even before a host wires a Prometheus/OTLP exporter.
func NewMeterProvider(ctx context.Context, serviceName string, opts ...sdkmetric.Option) (*sdkmetric.MeterProvider, error) {
	res, err := resource.New(ctx,
		resource.WithAttributes(attribute.String("service.name", serviceName)),
	)
	if err != nil {
		return nil, err
	}
	allOpts := append([]sdkmetric.Option{sdkmetric.WithResource(res)}, opts...)
	return sdkmetric.NewMeterProvider(allOpts...), nil
}

// Meter returns a metric.Meter for the MCOS instrumentation scope.
func Meter(mp metric.MeterProvider) metric.Meter {
	return mp.Meter("github.com/fernbank/mcos")
}
