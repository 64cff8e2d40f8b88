// Package telemetry exposes burst results as Prometheus metrics.
package telemetry

import (
	"context"
	"net/http"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	"qstorm/internal/metrics"
)

const namespace = "qstorm"

// Exporter keeps one registry per run so labels never leak across runs.
type Exporter struct {
	registry *prometheus.Registry

	bursts   prometheus.Counter
	queries  *prometheus.CounterVec
	qps      prometheus.Gauge
	latency  *prometheus.GaugeVec
	recall   prometheus.Gauge
	duration prometheus.Histogram
}

func NewExporter(provider string) *Exporter {
	labels := prometheus.Labels{"provider": provider}
	e := &Exporter{
		registry: prometheus.NewRegistry(),
		bursts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "bursts_total",
			Help:        "Number of completed bursts",
			ConstLabels: labels,
		}),
		queries: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "queries_total",
			Help:        "Number of queries issued, by outcome",
			ConstLabels: labels,
		}, []string{"outcome"}),
		qps: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "burst_qps",
			Help:        "Throughput of the latest burst",
			ConstLabels: labels,
		}),
		latency: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "burst_latency_ms",
			Help:        "Latency percentiles of the latest burst in milliseconds",
			ConstLabels: labels,
		}, []string{"quantile"}),
		recall: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "burst_recall_at_k",
			Help:        "Mean recall@k of the latest burst",
			ConstLabels: labels,
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace:   namespace,
			Name:        "burst_duration_ms",
			Help:        "Wall-clock duration of bursts in milliseconds",
			Buckets:     []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000, 10000},
			ConstLabels: labels,
		}),
	}
	e.registry.MustRegister(e.bursts, e.queries, e.qps, e.latency, e.recall, e.duration)
	return e
}

// Observe folds one finished burst into the exported series.
func (e *Exporter) Observe(b metrics.BurstMetrics) {
	e.bursts.Inc()
	e.queries.WithLabelValues("success").Add(float64(b.SuccessCount))
	e.queries.WithLabelValues("failure").Add(float64(b.FailureCount))
	e.qps.Set(b.QPS)
	e.latency.WithLabelValues("0.5").Set(b.Latency.P50Ms())
	e.latency.WithLabelValues("0.9").Set(b.Latency.P90Ms())
	e.latency.WithLabelValues("0.99").Set(b.Latency.P99Ms())
	if b.RecallAtK != nil {
		e.recall.Set(*b.RecallAtK)
	}
	e.duration.Observe(float64(b.DurationMs))
}

func (e *Exporter) Registry() *prometheus.Registry { return e.registry }

func (e *Exporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (e *Exporter) Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", e.Handler())
	srv := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("addr", addr).Info("serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return errors.Wrapf(err, "metrics server on %s", addr)
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "shutdown metrics server")
	}
	return nil
}
