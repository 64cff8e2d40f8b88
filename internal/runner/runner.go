package runner

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/semaphore"

	"qstorm/internal/config"
	"qstorm/internal/metrics"
	"qstorm/internal/queries"
	"qstorm/internal/search"
)

// Runner drives bursts of queries against one provider. It owns the provider
// connection and the run's Metrics; a Runner is used by one goroutine at a
// time and handed over by moving the pointer.
type Runner struct {
	provider search.Provider
	cfg      config.Benchmark
	metrics  *metrics.Metrics
	queries  []queries.EmbeddedQuery
	log      *log.Entry
}

func New(provider search.Provider, cfg config.Benchmark, logger *log.Entry) *Runner {
	if logger == nil {
		logger = log.NewEntry(log.StandardLogger())
	}
	return &Runner{
		provider: provider,
		cfg:      cfg,
		metrics:  metrics.New(),
		log:      logger.WithField("provider", provider.Name()),
	}
}

// WithQueries sets the pre-embedded query pool used by every burst.
func (r *Runner) WithQueries(qs []queries.EmbeddedQuery) *Runner {
	r.queries = qs
	return r
}

func (r *Runner) QueryCount() int { return len(r.queries) }

func (r *Runner) ProviderName() string { return r.provider.Name() }

func (r *Runner) SearchMode() config.SearchMode { return r.cfg.Mode }

func (r *Runner) Capabilities() search.Capabilities { return r.provider.Capabilities() }

func (r *Runner) Config() config.Benchmark { return r.cfg }

func (r *Runner) Metrics() *metrics.Metrics { return r.metrics }

func (r *Runner) Connect(ctx context.Context) error {
	if err := r.provider.Connect(ctx); err != nil {
		return errors.WithMessagef(err, "connect %s", r.provider.Name())
	}
	r.log.Info("connected")
	return nil
}

func (r *Runner) Disconnect(ctx context.Context) error {
	if err := r.provider.Disconnect(ctx); err != nil {
		return errors.WithMessagef(err, "disconnect %s", r.provider.Name())
	}
	r.log.Info("disconnected")
	return nil
}

func (r *Runner) HealthCheck(ctx context.Context) (bool, error) {
	return r.provider.HealthCheck(ctx)
}

// Warmup issues warmup_iterations queries one after another. Results and
// failures are discarded and nothing reaches the metrics.
func (r *Runner) Warmup(ctx context.Context) error {
	if len(r.queries) == 0 {
		r.log.Warn("no queries configured for warmup")
		return nil
	}
	r.log.WithField("iterations", r.cfg.WarmupIterations).Info("starting warmup")

	params := r.cfg.Params()
	for i := 0; i < r.cfg.WarmupIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		q := r.queries[i%len(r.queries)]
		_, _ = r.execute(ctx, q, params)
	}

	r.log.Info("warmup complete")
	return nil
}

// RunBurst executes burst_size queries with at most concurrency of them in
// flight, then records every outcome and returns the burst summary. If ctx is
// cancelled before every query is dispatched the burst is dropped and
// ctx.Err() returned. A panicking provider call is re-raised here, on the
// caller's goroutine, once the rest of the burst has reported back.
func (r *Runner) RunBurst(ctx context.Context) (metrics.BurstMetrics, error) {
	if len(r.queries) == 0 {
		return metrics.BurstMetrics{}, search.Config("no queries configured")
	}

	size := r.cfg.BurstSize
	params := r.cfg.Params()
	sem := semaphore.NewWeighted(int64(r.cfg.Concurrency))
	done := make(chan outcome, size)

	r.metrics.StartBurst()

	// 1. Dispatch
	dispatched := 0
	var interrupted error
	for i := 0; i < size; i++ {
		q := r.queries[i%len(r.queries)]
		if err := sem.Acquire(ctx, 1); err != nil {
			interrupted = err
			break
		}
		dispatched++
		go r.query(ctx, sem, q, params, done)
	}

	// 2. Collect in completion order
	collected := make([]outcome, 0, dispatched)
	for len(collected) < dispatched {
		collected = append(collected, <-done)
	}
	for _, o := range collected {
		if o.panicked != nil {
			r.metrics.AbortBurst()
			panic(errors.Errorf("query %q panicked: %v", o.query.Text, o.panicked))
		}
	}
	if interrupted != nil {
		r.metrics.AbortBurst()
		r.log.WithField("dispatched", dispatched).Info("burst interrupted")
		return metrics.BurstMetrics{}, interrupted
	}

	// 3. Record
	for _, o := range collected {
		r.record(o, params.TopK)
	}

	b, ok := r.metrics.FinishBurst()
	if !ok {
		return metrics.BurstMetrics{}, search.Config("no burst in progress")
	}
	r.log.WithFields(log.Fields{
		"qps":     b.QPS,
		"success": b.SuccessCount,
		"failure": b.FailureCount,
		"p99_us":  b.Latency.P99Us,
	}).Debug("burst complete")
	return b, nil
}

// query runs one search and always reports on done, also when the provider
// panics.
func (r *Runner) query(ctx context.Context, sem *semaphore.Weighted, q queries.EmbeddedQuery, params search.Params, done chan<- outcome) {
	defer sem.Release(1)
	start := time.Now()
	defer func() {
		if p := recover(); p != nil {
			done <- outcome{query: q, panicked: p, latency: time.Since(start)}
		}
	}()
	res, err := r.execute(ctx, q, params)
	done <- outcome{query: q, results: res, err: err, latency: time.Since(start)}
}

func (r *Runner) record(o outcome, topK int) {
	if o.err != nil {
		r.metrics.RecordFailure(o.latency)
		r.log.WithError(o.err).WithField("latency_ms", o.latency.Milliseconds()).Warn("query failed")
		return
	}

	var recall *float64
	if o.query.HasGroundTruth() {
		v := metrics.RecallAtK(o.results.IDs(), o.query.ExpectedIDs, topK)
		recall = &v
	}
	r.metrics.RecordSuccess(o.latency, recall)
	r.log.WithFields(log.Fields{
		"latency_ms": o.latency.Milliseconds(),
		"hits":       len(o.results.Results),
		"query":      o.query.Text,
	}).Trace("query succeeded")
}

// RunSampleQuery runs the first loaded query with payloads, for inspection.
// It does not touch burst metrics.
func (r *Runner) RunSampleQuery(ctx context.Context) (string, search.Results, error) {
	if len(r.queries) == 0 {
		return "", search.Results{}, search.Config("no queries configured")
	}
	return r.RunCustomQuery(ctx, r.queries[0])
}

// RunCustomQuery runs q with payloads, for inspection.
func (r *Runner) RunCustomQuery(ctx context.Context, q queries.EmbeddedQuery) (string, search.Results, error) {
	params := r.cfg.Params()
	params.IncludePayload = true
	res, err := r.execute(ctx, q, params)
	if err != nil {
		return q.Text, search.Results{}, err
	}
	return q.Text, res, nil
}

func (r *Runner) execute(ctx context.Context, q queries.EmbeddedQuery, params search.Params) (search.Results, error) {
	if r.cfg.Mode == config.ModeHybrid {
		return r.provider.HybridSearch(ctx, q.Text, q.Vector, params)
	}
	return r.provider.VectorSearch(ctx, q.Vector, params)
}
