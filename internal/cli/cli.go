// Package cli drives a run without the terminal UI and streams one record
// per burst to stdout.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"qstorm/internal/embed"
	"qstorm/internal/metrics"
	"qstorm/internal/queries"
	"qstorm/internal/runner"
)

type Options struct {
	// Bursts is the number of bursts to run; 0 runs until ctx is cancelled.
	Bursts   int
	Format   Format
	Out      io.Writer
	Progress io.Writer
	OnBurst  func(metrics.BurstMetrics)
	Logger   *log.Entry
}

// PrepareQueries loads the query file and embeds every query once.
func PrepareQueries(ctx context.Context, path string, e embed.Embedder, progress io.Writer) ([]queries.EmbeddedQuery, error) {
	if progress == nil {
		progress = io.Discard
	}
	fmt.Fprintf(progress, "Loading and embedding queries with %s...\n", e.Name())
	qs, err := queries.Load(path)
	if err != nil {
		return nil, err
	}
	embedded, err := embed.EmbedQueries(ctx, e, qs)
	if err != nil {
		return nil, errors.WithMessage(err, "embed queries")
	}
	fmt.Fprintf(progress, "Embedded %d queries\n", len(embedded))
	return embedded, nil
}

// Run connects, warms up and runs bursts back to back, writing each finished
// burst in the chosen format. The runner is always disconnected on the way
// out once connected.
func Run(ctx context.Context, r *runner.Runner, opts Options) (err error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}
	if opts.Progress == nil {
		opts.Progress = os.Stderr
	}
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	logger := opts.Logger.WithField("component", "headless")

	enc, err := newEncoder(opts.Format, opts.Out)
	if err != nil {
		return err
	}

	printHeader(opts.Progress, r, opts.Bursts)

	fmt.Fprintln(opts.Progress, "Connecting to provider...")
	if err := r.Connect(ctx); err != nil {
		return err
	}
	defer func() {
		dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if derr := r.Disconnect(dctx); derr != nil && err == nil {
			err = derr
		}
	}()

	fmt.Fprintln(opts.Progress, "Running warmup...")
	if err := r.Warmup(ctx); err != nil {
		return errors.WithMessage(err, "warmup")
	}

	fmt.Fprintln(opts.Progress, "Starting benchmark...")
	if err := enc.header(); err != nil {
		return err
	}

	start := time.Now()
	for i := 0; opts.Bursts == 0 || i < opts.Bursts; i++ {
		if ctx.Err() != nil {
			logger.Info("interrupted, stopping")
			break
		}
		b, err := r.RunBurst(ctx)
		if err != nil {
			if ctx.Err() != nil {
				logger.Info("interrupted during dispatch, discarding burst")
				break
			}
			return errors.WithMessagef(err, "burst %d", i+1)
		}
		if ctx.Err() != nil {
			logger.Info("interrupted mid-burst, discarding it")
			break
		}
		if err := enc.write(b); err != nil {
			return err
		}
		if opts.OnBurst != nil {
			opts.OnBurst(b)
		}
		printProgress(opts.Progress, i+1, opts.Bursts, b)
	}

	printSummary(opts.Progress, r.Metrics(), time.Since(start))
	return nil
}

func printHeader(w io.Writer, r *runner.Runner, bursts int) {
	cfg := r.Config()
	count := "until interrupted"
	if bursts > 0 {
		count = fmt.Sprintf("%d", bursts)
	}
	fmt.Fprintf(w, "\nQSTORM HEADLESS RUN\n")
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(w, "Provider    : %s\n", r.ProviderName())
	fmt.Fprintf(w, "Mode        : %s\n", cfg.Mode)
	fmt.Fprintf(w, "Queries     : %d\n", r.QueryCount())
	fmt.Fprintf(w, "Burst       : %d queries, %d concurrent\n", cfg.BurstSize, cfg.Concurrency)
	fmt.Fprintf(w, "Bursts      : %s\n", count)
	fmt.Fprintf(w, "%s\n\n", strings.Repeat("=", 70))
}

func printProgress(w io.Writer, done, total int, b metrics.BurstMetrics) {
	of := "∞"
	if total > 0 {
		of = fmt.Sprintf("%d", total)
	}
	fmt.Fprintf(w, "burst %d/%s | QPS: %.1f | p50: %.2fms | p99: %.2fms | OK: %d | Err: %d\n",
		done, of, b.QPS, b.Latency.P50Ms(), b.Latency.P99Ms(), b.SuccessCount, b.FailureCount)
}

func printSummary(w io.Writer, m *metrics.Metrics, elapsed time.Duration) {
	agg := m.AggregateLatency()
	fmt.Fprintf(w, "\nRESULTS\n")
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", 70))
	fmt.Fprintf(w, "Total Duration : %s\n", elapsed.Round(time.Millisecond))
	fmt.Fprintf(w, "Bursts         : %d\n", len(m.Bursts()))
	fmt.Fprintf(w, "Queries        : %d\n", m.TotalQueries())
	fmt.Fprintf(w, "Average QPS    : %.2f\n", m.AverageQPS())
	fmt.Fprintf(w, "\nLATENCY (ms) [run aggregate]\n")
	fmt.Fprintf(w, "   P50 : %.2f\n", agg.P50Ms())
	fmt.Fprintf(w, "   P90 : %.2f\n", agg.P90Ms())
	fmt.Fprintf(w, "   P99 : %.2f\n", agg.P99Ms())
	fmt.Fprintf(w, "   Max : %.2f\n", float64(agg.MaxUs)/1000)
	fmt.Fprintf(w, "%s\n", strings.Repeat("=", 70))
}
