package observability

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
)

func TestRecordCall(t *testing.T) {
	reader := metric.NewManualReader()
	obs := NewWithReader(reader, "portal-bff-test")
	defer obs.Shutdown()

	obs.RecordCall(context.Background(), "login", "ok", 120*time.Millisecond)
	obs.RecordCall(context.Background(), "login", "ok", 80*time.Millisecond)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))
	require.Len(t, rm.ScopeMetrics, 1)

	names := map[string]bool{}
	for _, m := range rm.ScopeMetrics[0].Metrics {
		names[m.Name] = true
		if m.Name == "backend.calls" {
			sum, ok := m.Data.(metricdata.Sum[int64])
			require.True(t, ok)
			require.Len(t, sum.DataPoints, 1)
			assert.Equal(t, int64(2), sum.DataPoints[0].Value)
		}
	}
	assert.True(t, names["backend.calls"])
	assert.True(t, names["backend.call.duration"])
}

func TestRecordCall_NilReceiver(t *testing.T) {
	var obs *Observability
	assert.NotPanics(t, func() {
		obs.RecordCall(context.Background(), "apply", "error", time.Second)
		obs.Shutdown()
	})
}
