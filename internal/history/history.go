// Package history keeps a bounded window of recent burst results for charting.
package history

import (
	"qstorm/internal/metrics"
)

const DefaultCapacity = 100

// Point is one chart sample; X is the position within the window.
type Point struct {
	X float64
	Y float64
}

// History is a FIFO of the most recent bursts. It is owned by the control loop
// and is not safe for concurrent use.
type History struct {
	capacity int
	items    []metrics.BurstMetrics
}

func New(capacity int) *History {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &History{capacity: capacity, items: make([]metrics.BurstMetrics, 0, capacity)}
}

// Push appends b, evicting the oldest entry once over capacity.
func (h *History) Push(b metrics.BurstMetrics) {
	h.items = append(h.items, b)
	if len(h.items) > h.capacity {
		h.items = append(h.items[:0], h.items[len(h.items)-h.capacity:]...)
	}
}

func (h *History) Latest() (metrics.BurstMetrics, bool) {
	if len(h.items) == 0 {
		return metrics.BurstMetrics{}, false
	}
	return h.items[len(h.items)-1], true
}

func (h *History) Len() int { return len(h.items) }

func (h *History) Capacity() int { return h.capacity }

// Bursts returns a copy, oldest first.
func (h *History) Bursts() []metrics.BurstMetrics {
	res := make([]metrics.BurstMetrics, len(h.items))
	copy(res, h.items)
	return res
}

func (h *History) QPSSeries() []Point {
	return h.series(func(b metrics.BurstMetrics) (float64, bool) { return b.QPS, true })
}

// P50Series is in milliseconds.
func (h *History) P50Series() []Point {
	return h.series(func(b metrics.BurstMetrics) (float64, bool) { return b.Latency.P50Ms(), true })
}

// P99Series is in milliseconds.
func (h *History) P99Series() []Point {
	return h.series(func(b metrics.BurstMetrics) (float64, bool) { return b.Latency.P99Ms(), true })
}

// RecallSeries is in percent and skips bursts without recall.
func (h *History) RecallSeries() []Point {
	return h.series(func(b metrics.BurstMetrics) (float64, bool) {
		if b.RecallAtK == nil {
			return 0, false
		}
		return *b.RecallAtK * 100, true
	})
}

func (h *History) series(value func(metrics.BurstMetrics) (float64, bool)) []Point {
	points := make([]Point, 0, len(h.items))
	for i, b := range h.items {
		if y, ok := value(b); ok {
			points = append(points, Point{X: float64(i), Y: y})
		}
	}
	return points
}

// Average of the Y values, 0 for an empty series.
func Average(points []Point) float64 {
	if len(points) == 0 {
		return 0
	}
	var sum float64
	for _, p := range points {
		sum += p.Y
	}
	return sum / float64(len(points))
}

// Values strips the X coordinates.
func Values(points []Point) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.Y
	}
	return out
}
