package telemetry

import (
	"context"
	"net/http"

	"go.opentelemetry.io/otel"
	otelprom "go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Provider bundles a meter provider with the handler that exposes it
type Provider struct {
	Meter    metric.MeterProvider
	registry *prometheus.Registry
	sdk      *sdkmetric.MeterProvider
}

// NewProvider returns a prometheus-backed provider, or a no-op one when disabled
func NewProvider(enabled bool) (*Provider, error) {
	if !enabled {
		return &Provider{Meter: noop.NewMeterProvider()}, nil
	}

	reg := prometheus.NewRegistry()
	exporter, err := otelprom.New(otelprom.WithRegisterer(reg))
	if err != nil {
		return nil, err
	}
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(exporter))
	otel.SetMeterProvider(mp)

	return &Provider{Meter: mp, registry: reg, sdk: mp}, nil
}

// Handler serves the prometheus exposition format, 404 when disabled
func (p *Provider) Handler() http.Handler {
	if p == nil || p.registry == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(p.registry, promhttp.HandlerOpts{})
}

// Shutdown flushes the sdk provider if one was created
func (p *Provider) Shutdown(ctx context.Context) error {
	if p == nil || p.sdk == nil {
		return nil
	}
	return p.sdk.Shutdown(ctx)
}
