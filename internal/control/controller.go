// Package control holds the interactive run state machine. It is driven by a
// single goroutine (the terminal UI loop) and hands the runner to a background
// goroutine for each burst.
package control

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"

	"qstorm/internal/config"
	"qstorm/internal/embed"
	"qstorm/internal/history"
	"qstorm/internal/metrics"
	"qstorm/internal/runner"
	"qstorm/internal/search"
)

const (
	DefaultBurstInterval = time.Second
	DefaultGrace         = 2 * time.Second
)

// ErrBurstLost is reported when a burst goroutine exits without a result.
var ErrBurstLost = errors.New("burst task ended without a result")

// RunnerFactory builds a fresh, unconnected runner for a new connect cycle.
type RunnerFactory func() (*runner.Runner, error)

type Options struct {
	BurstInterval time.Duration
	// Grace bounds how long Quit waits for an in-flight burst.
	Grace       time.Duration
	HistorySize int
	Embedder    embed.Embedder
	NewRunner   RunnerFactory
	// OnBurst observes every completed burst, e.g. for metrics export.
	OnBurst func(metrics.BurstMetrics)
	Logger  *log.Entry
}

// Sample is the cached result set shown in the results view.
type Sample struct {
	Query   string
	Results search.Results
}

// RunStats is the run-wide summary captured whenever the runner comes home.
type RunStats struct {
	Bursts       int
	TotalQueries int
	AverageQPS   float64
	Latency      metrics.LatencyMetrics
}

type burstResult struct {
	runner  *runner.Runner
	metrics metrics.BurstMetrics
	err     error
}

type Controller struct {
	opts Options
	log  *log.Entry

	// runner is nil while a burst owns it, or after it was lost.
	runner  *runner.Runner
	pending chan burstResult

	providerName string
	mode         config.SearchMode
	queryCount   int

	state     State
	view      View
	history   *history.History
	stats     RunStats
	lastBurst time.Time
	lastErr   error
	status    string

	sample  *Sample
	scroll  int
	editing bool
	input   []rune

	terminated bool

	// burst runs one burst on the background goroutine.
	burst func(*runner.Runner, context.Context) (metrics.BurstMetrics, error)
}

func New(r *runner.Runner, opts Options) *Controller {
	if opts.BurstInterval <= 0 {
		opts.BurstInterval = DefaultBurstInterval
	}
	if opts.Grace <= 0 {
		opts.Grace = DefaultGrace
	}
	if opts.Logger == nil {
		opts.Logger = log.NewEntry(log.StandardLogger())
	}
	c := &Controller{
		opts:    opts,
		log:     opts.Logger.WithField("component", "control"),
		runner:  r,
		history: history.New(opts.HistorySize),
		burst:   (*runner.Runner).RunBurst,
	}
	if r != nil {
		c.adopt(r)
	}
	return c
}

func (c *Controller) State() State { return c.state }
func (c *Controller) View() View { return c.view }
func (c *Controller) History() *history.History { return c.history }
func (c *Controller) Stats() RunStats { return c.stats }
func (c *Controller) Err() error { return c.lastErr }
func (c *Controller) Status() string { return c.status }
func (c *Controller) Sample() *Sample { return c.sample }
func (c *Controller) Scroll() int { return c.scroll }
func (c *Controller) Editing() bool { return c.editing }
func (c *Controller) Input() string { return string(c.input) }
func (c *Controller) ProviderName() string { return c.providerName }
func (c *Controller) SearchMode() config.SearchMode { return c.mode }
func (c *Controller) QueryCount() int { return c.queryCount }
func (c *Controller) HasRunner() bool { return c.runner != nil }
func (c *Controller) InFlight() bool { return c.pending != nil }
func (c *Controller) Terminated() bool { return c.terminated }

func (c *Controller) adopt(r *runner.Runner) {
	c.runner = r
	c.providerName = r.ProviderName()
	c.mode = r.SearchMode()
	c.queryCount = r.QueryCount()
}

func (c *Controller) fail(err error) {
	c.state = StateError
	c.lastErr = err
	c.status = err.Error()
	c.log.WithError(err).Error("run entered error state")
}

// Connect starts a connect cycle. It clears a previous Error and rebuilds the
// runner through the factory if the last one was lost.
func (c *Controller) Connect(ctx context.Context) error {
	if c.pending != nil {
		return errors.New("cannot connect while a burst is in flight")
	}
	if c.runner == nil {
		if c.opts.NewRunner == nil {
			err := search.Config("no runner available")
			c.fail(err)
			return err
		}
		r, err := c.opts.NewRunner()
		if err != nil {
			c.fail(err)
			return err
		}
		c.adopt(r)
	}

	c.state = StateConnecting
	if err := c.runner.Connect(ctx); err != nil {
		c.fail(err)
		return err
	}
	c.state = StateIdle
	c.lastErr = nil
	c.status = fmt.Sprintf("connected to %s", c.providerName)
	return nil
}

func (c *Controller) Warmup(ctx context.Context) error {
	if c.runner == nil {
		return nil
	}
	c.state = StateWarming
	if err := c.runner.Warmup(ctx); err != nil {
		c.fail(err)
		return err
	}
	c.state = StateIdle
	return nil
}

// TogglePause moves Idle or Running to Paused, and Paused back to Idle.
func (c *Controller) TogglePause() {
	switch c.state {
	case StateIdle, StateRunning:
		c.state = StatePaused
	case StatePaused:
		c.state = StateIdle
	}
}

// Tick collects a finished burst without blocking and dispatches the next
// one when the interval has elapsed.
func (c *Controller) Tick(now time.Time) {
	if c.terminated {
		return
	}
	c.poll()
	c.maybeDispatch(now)
}

func (c *Controller) poll() {
	if c.pending == nil {
		return
	}
	select {
	case res, ok := <-c.pending:
		c.pending = nil
		if !ok {
			c.fail(ErrBurstLost)
			return
		}
		c.complete(res)
	default:
	}
}

func (c *Controller) complete(res burstResult) {
	c.runner = res.runner
	c.snapshot()
	if res.err != nil {
		c.fail(res.err)
		return
	}
	c.history.Push(res.metrics)
	if c.opts.OnBurst != nil {
		c.opts.OnBurst(res.metrics)
	}
	if c.state != StatePaused {
		c.state = StateIdle
	}
}

func (c *Controller) snapshot() {
	m := c.runner.Metrics()
	c.stats = RunStats{
		Bursts:       len(m.Bursts()),
		TotalQueries: m.TotalQueries(),
		AverageQPS:   m.AverageQPS(),
		Latency:      m.AggregateLatency(),
	}
}

func (c *Controller) maybeDispatch(now time.Time) {
	if c.pending != nil || c.runner == nil {
		return
	}
	if c.state == StatePaused || c.state == StateError {
		return
	}
	if !c.lastBurst.IsZero() && now.Sub(c.lastBurst) < c.opts.BurstInterval {
		return
	}

	r := c.runner
	c.runner = nil
	ch := make(chan burstResult, 1)
	c.pending = ch
	c.lastBurst = now
	c.state = StateRunning
	go c.runBurst(r, ch)
}

// runBurst owns r until it sends it back. The channel is always closed so a
// panicking burst is seen as a lost runner rather than a hang.
func (c *Controller) runBurst(r *runner.Runner, ch chan<- burstResult) {
	defer close(ch)
	defer func() {
		if p := recover(); p != nil {
			c.log.WithField("panic", p).Error("burst task crashed")
		}
	}()
	b, err := c.burst(r, context.Background())
	ch <- burstResult{runner: r, metrics: b, err: err}
}

// Quit waits up to the grace period for an in-flight burst, disconnects if the
// runner is held, and terminates the controller. A burst finishing later is
// discarded.
func (c *Controller) Quit(ctx context.Context) error {
	if c.terminated {
		return nil
	}
	if c.pending != nil {
		timer := time.NewTimer(c.opts.Grace)
		select {
		case res, ok := <-c.pending:
			if ok {
				c.complete(res)
			}
		case <-timer.C:
			c.log.WithField("grace", c.opts.Grace).Warn("abandoning in-flight burst")
		case <-ctx.Done():
		}
		timer.Stop()
		c.pending = nil
	}

	c.terminated = true
	if c.runner == nil {
		return nil
	}
	return c.runner.Disconnect(ctx)
}

// ToggleView switches views; entering Results runs a sample query if none is
// cached and the runner is available.
func (c *Controller) ToggleView(ctx context.Context) {
	if c.view == ViewResults {
		c.view = ViewDashboard
		c.editing = false
		return
	}
	c.view = ViewResults
	if c.sample == nil && c.runner != nil {
		c.RefreshSample(ctx)
	}
}

// RefreshSample reruns the first query. Failures only update the status line.
func (c *Controller) RefreshSample(ctx context.Context) {
	if c.runner == nil {
		c.status = "burst in flight, try again"
		return
	}
	text, res, err := c.runner.RunSampleQuery(ctx)
	if err != nil {
		c.status = fmt.Sprintf("sample query failed: %v", err)
		return
	}
	c.sample = &Sample{Query: text, Results: res}
	c.scroll = 0
}

func (c *Controller) StartEditing() {
	if c.view != ViewResults {
		return
	}
	c.editing = true
	c.input = c.input[:0]
}

func (c *Controller) CancelEditing() {
	c.editing = false
	c.input = c.input[:0]
}

func (c *Controller) InputRune(r rune) {
	if c.editing {
		c.input = append(c.input, r)
	}
}

func (c *Controller) Backspace() {
	if c.editing && len(c.input) > 0 {
		c.input = c.input[:len(c.input)-1]
	}
}

// SubmitQuery embeds the typed text and runs it with payloads, replacing the
// cached sample.
func (c *Controller) SubmitQuery(ctx context.Context) error {
	text := strings.TrimSpace(string(c.input))
	c.CancelEditing()
	if text == "" {
		return nil
	}
	if c.runner == nil {
		c.status = "burst in flight, try again"
		return nil
	}
	if c.opts.Embedder == nil {
		err := search.Config("no embedder configured")
		c.status = err.Error()
		return err
	}

	q, err := embed.EmbedText(ctx, c.opts.Embedder, text)
	if err != nil {
		c.status = fmt.Sprintf("embedding failed: %v", err)
		return err
	}
	qtext, res, err := c.runner.RunCustomQuery(ctx, q)
	if err != nil {
		c.status = fmt.Sprintf("query failed: %v", err)
		return err
	}
	c.sample = &Sample{Query: qtext, Results: res}
	c.scroll = 0
	return nil
}

// ScrollBy moves the results cursor, clamped to the cached result count.
func (c *Controller) ScrollBy(delta int) {
	if c.sample == nil || len(c.sample.Results.Results) == 0 {
		c.scroll = 0
		return
	}
	c.scroll += delta
	if last := len(c.sample.Results.Results) - 1; c.scroll > last {
		c.scroll = last
	}
	if c.scroll < 0 {
		c.scroll = 0
	}
}

func (c *Controller) ClearStatus() { c.status = "" }
