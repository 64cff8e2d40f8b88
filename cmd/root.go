package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"qstorm/internal/banner"
	"qstorm/internal/cli"
	"qstorm/internal/config"
	"qstorm/internal/control"
	"qstorm/internal/embed"
	"qstorm/internal/logging"
	"qstorm/internal/metrics"
	"qstorm/internal/provider"
	"qstorm/internal/runner"
	"qstorm/internal/telemetry"
	"qstorm/internal/tui/app"
)

var (
	cfgFile     string
	queriesFile string
	headless    bool
	bursts      int
	output      string
	metricsAddr string
	logLevel    string
	logFile     string
)

var rootCmd = &cobra.Command{
	Use:   "qstorm",
	Short: "qstorm - vector search load testing",
	Long: `
qstorm fires bursts of concurrent queries at a vector search backend and
reports throughput, latency percentiles and recall@k per burst.

It supports two modes:
1. TUI Mode (Default): live dashboard with pause and result inspection
2. Headless Mode (--headless): one JSON or CSV record per burst on stdout`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return run(cmd.Context())
	},
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.String())
		_ = cmd.Usage()
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", "qstorm.yaml", "config file")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&logFile, "log-file", "", "write logs to this file (TUI mode discards logs otherwise)")

	rootCmd.Flags().StringVarP(&queriesFile, "queries", "q", "", "queries file (YAML list of text queries to embed)")
	rootCmd.Flags().BoolVar(&headless, "headless", false, "run without the TUI and print one record per burst")
	rootCmd.Flags().IntVarP(&bursts, "bursts", "b", 0, "number of bursts in headless mode (0 = until interrupted)")
	rootCmd.Flags().StringVar(&output, "output", "json", "headless output format (json or csv)")
	rootCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address, e.g. :9090")
}

// resolveQueries picks the --queries flag over the config file's entry and
// checks the file exists before anything connects.
func resolveQueries(cfg *config.Config) (string, error) {
	path := queriesFile
	if path == "" {
		path = cfg.Queries
	}
	if path == "" {
		return "", errors.New("a queries file is required (--queries)")
	}
	if _, err := os.Stat(path); err != nil {
		return "", errors.Errorf("queries file not found: %s", path)
	}
	return path, nil
}

func run(ctx context.Context) error {
	format, err := cli.ParseFormat(output)
	if err != nil {
		return err
	}
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return err
	}
	path, err := resolveQueries(cfg)
	if err != nil {
		return err
	}

	closer, err := logging.Setup(logLevel, logFile, !headless)
	if err != nil {
		return err
	}
	defer closer.Close()
	logger := logging.RunEntry().WithField("provider", cfg.Provider.DisplayName())

	embedder, err := embed.New(cfg.Embedding)
	if err != nil {
		return err
	}
	qs, err := cli.PrepareQueries(ctx, path, embedder, os.Stderr)
	if err != nil {
		return err
	}

	newRunner := func() (*runner.Runner, error) {
		p, err := provider.New(cfg.Provider)
		if err != nil {
			return nil, err
		}
		return runner.New(p, cfg.Benchmark, logger).WithQueries(qs), nil
	}
	r, err := newRunner()
	if err != nil {
		return err
	}

	onBurst := serveMetrics(ctx, cfg.Provider.DisplayName())

	if headless {
		return cli.Run(ctx, r, cli.Options{
			Bursts:   bursts,
			Format:   format,
			Out:      os.Stdout,
			Progress: os.Stderr,
			OnBurst:  onBurst,
			Logger:   logger,
		})
	}
	return runTUI(ctx, r, cfg, embedder, newRunner, onBurst, logger)
}

// serveMetrics starts the exporter when --metrics-addr is set and returns
// the burst observer to wire into the run.
func serveMetrics(ctx context.Context, providerName string) func(metrics.BurstMetrics) {
	if metricsAddr == "" {
		return nil
	}
	exporter := telemetry.NewExporter(providerName)
	go func() {
		if err := exporter.Serve(ctx, metricsAddr); err != nil {
			log.WithError(err).Error("metrics server stopped")
		}
	}()
	return exporter.Observe
}

func runTUI(
	ctx context.Context,
	r *runner.Runner,
	cfg *config.Config,
	embedder embed.Embedder,
	newRunner control.RunnerFactory,
	onBurst func(metrics.BurstMetrics),
	logger *log.Entry,
) error {
	ctrl := control.New(r, control.Options{
		BurstInterval: time.Duration(cfg.Benchmark.BurstIntervalMs) * time.Millisecond,
		HistorySize:   cfg.Benchmark.HistorySize,
		Embedder:      embedder,
		NewRunner:     newRunner,
		OnBurst:       onBurst,
		Logger:        logger,
	})

	// Failures here land in the Error state; the TUI shows them and can retry.
	fmt.Fprintf(os.Stderr, "Connecting to %s...\n", ctrl.ProviderName())
	if err := ctrl.Connect(ctx); err == nil {
		fmt.Fprintln(os.Stderr, "Running warmup...")
		_ = ctrl.Warmup(ctx)
	}

	p := tea.NewProgram(app.NewModel(ctrl), tea.WithAltScreen(), tea.WithContext(ctx))
	final, err := p.Run()
	m, ok := final.(app.Model)
	if err != nil {
		if !errors.Is(err, tea.ErrProgramKilled) {
			return errors.Wrap(err, "run TUI")
		}
		// Killed, possibly mid-quit: finish the drain and disconnect first.
		qctx, cancel := context.WithTimeout(context.Background(), control.DefaultGrace+time.Second)
		defer cancel()
		if !ok {
			return ctrl.Quit(qctx)
		}
		return m.Shutdown(qctx)
	}
	return m.Err()
}
