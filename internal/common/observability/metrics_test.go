package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func collect(t *testing.T, reader *metric.ManualReader) map[string]metricdata.Aggregation {
	t.Helper()
	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	out := map[string]metricdata.Aggregation{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			out[m.Name] = m.Data
		}
	}
	return out
}

func TestRecordAnalysis(t *testing.T) {
	reader := metric.NewManualReader()
	o := newWithReader("bi-test", reader)
	defer o.Shutdown()

	ctx := context.Background()
	o.RecordAnalysis(ctx, SourceForm, "succeeded", 1200*time.Millisecond)
	o.RecordAnalysis(ctx, SourceForm, "succeeded", 800*time.Millisecond)
	o.RecordAnalysis(ctx, SourceWorker, "failed", 50*time.Millisecond)

	data := collect(t, reader)

	sum, ok := data["chart.analyses"].(metricdata.Sum[int64])
	require.True(t, ok)
	counts := map[attribute.Distinct]int64{}
	for _, dp := range sum.DataPoints {
		counts[dp.Attributes.Equivalent()] = dp.Value
	}
	formOK := attribute.NewSet(attribute.String("source", SourceForm), attribute.String("outcome", "succeeded"))
	workerFailed := attribute.NewSet(attribute.String("source", SourceWorker), attribute.String("outcome", "failed"))
	assert.Equal(t, int64(2), counts[formOK.Equivalent()])
	assert.Equal(t, int64(1), counts[workerFailed.Equivalent()])

	hist, ok := data["chart.analysis.duration"].(metricdata.Histogram[float64])
	require.True(t, ok)
	var total uint64
	for _, dp := range hist.DataPoints {
		total += dp.Count
	}
	assert.Equal(t, uint64(3), total)
}

func TestZeroValueIsNoOp(t *testing.T) {
	var nilObs *Observability
	assert.NotPanics(t, func() {
		(&Observability{}).RecordAnalysis(context.Background(), SourceForm, "succeeded", time.Second)
		nilObs.RecordAnalysis(context.Background(), SourceForm, "succeeded", time.Second)
		nilObs.Shutdown()
	})
}
