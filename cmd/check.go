package cmd

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"qstorm/internal/config"
	"qstorm/internal/logging"
	"qstorm/internal/provider"
	"qstorm/internal/search"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Connect to the configured provider and report its health",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		closer, err := logging.Setup(logLevel, logFile, false)
		if err != nil {
			return err
		}
		defer closer.Close()

		cfg, err := config.Load(cfgFile)
		if err != nil {
			return err
		}
		p, err := provider.New(cfg.Provider)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
		defer cancel()
		return check(ctx, os.Stdout, p, cfg)
	},
}

func init() {
	rootCmd.AddCommand(checkCmd)
}

// check connects, reports health and capabilities, and disconnects.
func check(ctx context.Context, w io.Writer, p search.Provider, cfg *config.Config) error {
	fmt.Fprintf(w, "Provider : %s (%s)\n", p.Name(), cfg.Provider.Type)
	if cfg.Provider.URL != "" {
		fmt.Fprintf(w, "URL      : %s\n", cfg.Provider.URL)
	}
	if err := p.Connect(ctx); err != nil {
		fmt.Fprintf(w, "Connect  : FAILED\n")
		return err
	}
	defer func() { _ = p.Disconnect(context.Background()) }()
	fmt.Fprintf(w, "Connect  : ok\n")

	healthy, err := p.HealthCheck(ctx)
	switch {
	case err != nil:
		fmt.Fprintf(w, "Health   : error (%v)\n", err)
	case healthy:
		fmt.Fprintf(w, "Health   : ok\n")
	default:
		fmt.Fprintf(w, "Health   : unhealthy\n")
	}

	caps := p.Capabilities()
	fmt.Fprintf(w, "Vector   : %t\n", caps.VectorSearch)
	fmt.Fprintf(w, "Hybrid   : %t\n", caps.NativeHybrid)
	if caps.VectorDimension > 0 {
		fmt.Fprintf(w, "Dimension: %d\n", caps.VectorDimension)
	}
	if cfg.Benchmark.Mode == config.ModeHybrid && !caps.NativeHybrid {
		fmt.Fprintf(w, "Warning  : benchmark.mode is hybrid but %s has no native hybrid search\n", p.Name())
	}
	if err == nil && !healthy {
		return search.Connection(nil, "%s reported unhealthy", p.Name())
	}
	return err
}
