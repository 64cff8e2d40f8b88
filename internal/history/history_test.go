package history

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qstorm/internal/metrics"
)

func burst(qps float64) metrics.BurstMetrics {
	return metrics.BurstMetrics{QPS: qps, QueryCount: 1, SuccessCount: 1}
}

func TestPushEvictsOldest(t *testing.T) {
	h := New(100)
	for i := 0; i < 150; i++ {
		h.Push(burst(float64(i)))
	}

	require.Equal(t, 100, h.Len())
	bursts := h.Bursts()
	assert.Equal(t, 50.0, bursts[0].QPS)
	assert.Equal(t, 149.0, bursts[99].QPS)

	latest, ok := h.Latest()
	require.True(t, ok)
	assert.Equal(t, 149.0, latest.QPS)
}

func TestDefaultCapacity(t *testing.T) {
	h := New(0)
	assert.Equal(t, DefaultCapacity, h.Capacity())

	_, ok := h.Latest()
	assert.False(t, ok)
}

func TestSeries(t *testing.T) {
	h := New(10)
	r := 0.5
	h.Push(metrics.BurstMetrics{QPS: 10, Latency: metrics.LatencyMetrics{P50Us: 1500, P99Us: 9000}})
	h.Push(metrics.BurstMetrics{QPS: 20, Latency: metrics.LatencyMetrics{P50Us: 2500, P99Us: 12000}, RecallAtK: &r})

	assert.Equal(t, []Point{{0, 10}, {1, 20}}, h.QPSSeries())
	assert.Equal(t, []Point{{0, 1.5}, {1, 2.5}}, h.P50Series())
	assert.Equal(t, []Point{{0, 9}, {1, 12}}, h.P99Series())
	assert.Equal(t, []Point{{1, 50}}, h.RecallSeries())

	assert.Equal(t, 15.0, Average(h.QPSSeries()))
	assert.Equal(t, 0.0, Average(nil))
	assert.Equal(t, []float64{10, 20}, Values(h.QPSSeries()))
}
