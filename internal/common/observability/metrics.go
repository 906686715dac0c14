// internal/common/observability/metrics.go
package observability

import (
	"context"
	"log"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/exporters/prometheus"
	otelmetric "go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/sdk/metric"
)

// Sources of an analysis.
const (
	SourceForm   = "form"
	SourceWorker = "worker"
)

// Observability records chart analyses through an OpenTelemetry meter.
// The zero value is usable and records nothing.
type Observability struct {
	provider *metric.MeterProvider
	analyses otelmetric.Int64Counter
	latency  otelmetric.Float64Histogram
}

// New registers a meter provider exporting through the default Prometheus
// registry. On exporter failure it returns a no-op value.
func New(serviceName string) *Observability {
	exporter, err := prometheus.New()
	if err != nil {
		log.Printf("Failed to create Prometheus exporter: %v", err)
		return &Observability{}
	}

	o := newWithReader(serviceName, exporter)
	otel.SetMeterProvider(o.provider)
	return o
}

func newWithReader(serviceName string, reader metric.Reader) *Observability {
	provider := metric.NewMeterProvider(metric.WithReader(reader))
	meter := provider.Meter(serviceName)

	analyses, _ := meter.Int64Counter(
		"chart.analyses",
		otelmetric.WithDescription("Number of chart analyses by source and outcome"),
	)
	latency, _ := meter.Float64Histogram(
		"chart.analysis.duration",
		otelmetric.WithDescription("Chart analysis duration"),
		otelmetric.WithUnit("ms"),
	)

	return &Observability{
		provider: provider,
		analyses: analyses,
		latency:  latency,
	}
}

// RecordAnalysis counts one finished analysis and its duration.
func (o *Observability) RecordAnalysis(ctx context.Context, source, outcome string, elapsed time.Duration) {
	if o == nil || o.analyses == nil {
		return
	}
	attrs := otelmetric.WithAttributes(
		attribute.String("source", source),
		attribute.String("outcome", outcome),
	)
	o.analyses.Add(ctx, 1, attrs)
	o.latency.Record(ctx, float64(elapsed.Milliseconds()), attrs)
}

func (o *Observability) Shutdown() {
	if o == nil || o.provider == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = o.provider.Shutdown(ctx)
}
