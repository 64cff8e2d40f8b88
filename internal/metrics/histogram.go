package metrics

import (
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	histogramMinUs   = 1
	histogramMaxUs   = int64(60 * time.Second / time.Microsecond)
	histogramSigFigs = 3
)

// runHistogram accumulates every latency of a run. It is owned by a single
// Metrics value and needs no locking.
type runHistogram struct {
	hist *hdrhistogram.Histogram
}

func newRunHistogram() *runHistogram {
	// 1us to 60s, 3 significant figures
	return &runHistogram{hist: hdrhistogram.New(histogramMinUs, histogramMaxUs, histogramSigFigs)}
}

// Record adds a latency in microseconds, clamped to the trackable range.
func (h *runHistogram) Record(us uint64) {
	v := int64(us)
	if us > uint64(histogramMaxUs) {
		v = histogramMaxUs
	}
	if v < histogramMinUs {
		v = histogramMinUs
	}
	_ = h.hist.RecordValue(v)
}

func (h *runHistogram) Latency() LatencyMetrics {
	if h.hist.TotalCount() == 0 {
		return LatencyMetrics{}
	}
	return LatencyMetrics{
		MinUs:  uint64(h.hist.Min()),
		MaxUs:  uint64(h.hist.Max()),
		MeanUs: h.hist.Mean(),
		P50Us:  uint64(h.hist.ValueAtQuantile(50)),
		P90Us:  uint64(h.hist.ValueAtQuantile(90)),
		P95Us:  uint64(h.hist.ValueAtQuantile(95)),
		P99Us:  uint64(h.hist.ValueAtQuantile(99)),
	}
}

func (h *runHistogram) TotalCount() int64 {
	return h.hist.TotalCount()
}
