// Package metrics turns per-query outcomes into burst and run statistics.
package metrics

import (
	"math"
	"sort"
	"time"
)

type LatencyMetrics struct {
	MinUs  uint64  `json:"min_us"`
	MaxUs  uint64  `json:"max_us"`
	MeanUs float64 `json:"mean_us"`
	P50Us  uint64  `json:"p50_us"`
	P90Us  uint64  `json:"p90_us"`
	P95Us  uint64  `json:"p95_us"`
	P99Us  uint64  `json:"p99_us"`
}

func (l LatencyMetrics) P50Ms() float64 { return float64(l.P50Us) / 1000 }
func (l LatencyMetrics) P90Ms() float64 { return float64(l.P90Us) / 1000 }
func (l LatencyMetrics) P99Ms() float64 { return float64(l.P99Us) / 1000 }

// BurstMetrics is the finished summary of one burst.
type BurstMetrics struct {
	Timestamp    time.Time      `json:"timestamp"`
	DurationMs   uint64         `json:"duration_ms"`
	QueryCount   int            `json:"query_count"`
	SuccessCount int            `json:"success_count"`
	FailureCount int            `json:"failure_count"`
	Latency      LatencyMetrics `json:"latency"`
	QPS          float64        `json:"qps"`
	RecallAtK    *float64       `json:"recall_at_k"`
}

type burstState struct {
	start     time.Time
	latencies []uint64
	successes int
	failures  int
	recalls   []float64
}

// Metrics accumulates outcomes for the lifetime of a run. At most one burst is
// active at a time. Not safe for concurrent use; the owning runner records
// outcomes only after a burst's calls have completed.
type Metrics struct {
	hist    *runHistogram
	bursts  []BurstMetrics
	current *burstState
}

func New() *Metrics {
	return &Metrics{hist: newRunHistogram()}
}

// StartBurst begins a burst, discarding any unfinished one.
func (m *Metrics) StartBurst() {
	m.current = &burstState{start: time.Now()}
}

// RecordSuccess is a no-op when no burst is active.
func (m *Metrics) RecordSuccess(latency time.Duration, recall *float64) {
	if m.current == nil {
		return
	}
	m.record(latency)
	m.current.successes++
	if recall != nil {
		m.current.recalls = append(m.current.recalls, *recall)
	}
}

// RecordFailure is a no-op when no burst is active.
func (m *Metrics) RecordFailure(latency time.Duration) {
	if m.current == nil {
		return
	}
	m.record(latency)
	m.current.failures++
}

func (m *Metrics) record(latency time.Duration) {
	us := uint64(latency / time.Microsecond)
	if latency < 0 {
		us = 0
	}
	m.current.latencies = append(m.current.latencies, us)
	m.hist.Record(us)
}

// FinishBurst closes the active burst and appends its summary to the run.
func (m *Metrics) FinishBurst() (BurstMetrics, bool) {
	b := m.current
	if b == nil {
		return BurstMetrics{}, false
	}
	m.current = nil

	durationMs := uint64(time.Since(b.start) / time.Millisecond)
	count := b.successes + b.failures

	var qps float64
	if durationMs > 0 {
		qps = float64(count) / (float64(durationMs) / 1000)
	}

	res := BurstMetrics{
		Timestamp:    b.start,
		DurationMs:   durationMs,
		QueryCount:   count,
		SuccessCount: b.successes,
		FailureCount: b.failures,
		Latency:      ComputeLatency(b.latencies),
		QPS:          qps,
		RecallAtK:    mean(b.recalls),
	}
	m.bursts = append(m.bursts, res)
	return res, true
}

// AbortBurst drops the active burst without recording anything.
func (m *Metrics) AbortBurst() { m.current = nil }

func (m *Metrics) Active() bool { return m.current != nil }

func (m *Metrics) Bursts() []BurstMetrics {
	out := make([]BurstMetrics, len(m.bursts))
	copy(out, m.bursts)
	return out
}

func (m *Metrics) LastBurst() (BurstMetrics, bool) {
	if len(m.bursts) == 0 {
		return BurstMetrics{}, false
	}
	return m.bursts[len(m.bursts)-1], true
}

func (m *Metrics) TotalQueries() int {
	total := 0
	for _, b := range m.bursts {
		total += b.QueryCount
	}
	return total
}

// AverageQPS is the mean of per-burst QPS, 0 before the first burst.
func (m *Metrics) AverageQPS() float64 {
	if len(m.bursts) == 0 {
		return 0
	}
	var sum float64
	for _, b := range m.bursts {
		sum += b.QPS
	}
	return sum / float64(len(m.bursts))
}

// AggregateLatency summarises every recorded latency of the run from the HDR
// histogram. It can differ slightly from the exact per-burst figures.
func (m *Metrics) AggregateLatency() LatencyMetrics {
	return m.hist.Latency()
}

// ComputeLatency returns exact statistics for a sample using nearest-rank
// percentiles. The input is not modified.
func ComputeLatency(latenciesUs []uint64) LatencyMetrics {
	n := len(latenciesUs)
	if n == 0 {
		return LatencyMetrics{}
	}
	sorted := make([]uint64, n)
	copy(sorted, latenciesUs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })

	var sum float64
	for _, v := range sorted {
		sum += float64(v)
	}
	return LatencyMetrics{
		MinUs:  sorted[0],
		MaxUs:  sorted[n-1],
		MeanUs: sum / float64(n),
		P50Us:  percentile(sorted, 50),
		P90Us:  percentile(sorted, 90),
		P95Us:  percentile(sorted, 95),
		P99Us:  percentile(sorted, 99),
	}
}

func percentile(sorted []uint64, p float64) uint64 {
	idx := int(math.Round(p / 100 * float64(len(sorted)-1)))
	if idx >= len(sorted) {
		idx = len(sorted) - 1
	}
	return sorted[idx]
}

func mean(vs []float64) *float64 {
	if len(vs) == 0 {
		return nil
	}
	var sum float64
	for _, v := range vs {
		sum += v
	}
	avg := sum / float64(len(vs))
	return &avg
}
