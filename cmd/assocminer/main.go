// Package main provides the assocminer CLI entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"

	"github.com/orneryd/assocminer/pkg/config"
	"github.com/orneryd/assocminer/pkg/logging"
	"github.com/orneryd/assocminer/pkg/metrics"
)

var (
	version = "0.1.0"
	commit  = "dev"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	env := config.LoadFromEnv()

	rootCmd := &cobra.Command{
		Use:   "assocminer",
		Short: "assocminer - association rules between spatio-temporal event images",
		Long: `assocminer turns timestamped, component-located event occurrences and
metric samples into images (time x component grids of counts) and mines
association rules "A -> T" between them.

Workflow:
  1. assocminer create  --workspace ws
  2. assocminer extract --workspace ws --recipe recipe.yaml --occurrences events.csv
  3. assocminer mine    --workspace ws --target ev9 --offset 1`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			log, err := logging.New(level, format, os.Stderr)
			if err != nil {
				return err
			}
			slog.SetDefault(log)
			return nil
		},
	}
	rootCmd.PersistentFlags().String("log-level", env.Logging.Level, "Log level (DEBUG, INFO, WARN, ERROR)")
	rootCmd.PersistentFlags().String("log-format", env.Logging.Format, "Log format (text, json)")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("assocminer v%s (%s)\n", version, commit)
		},
	})

	// Create command
	createCmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new workspace",
		RunE:  runCreate,
	}
	createCmd.Flags().String("workspace", "", "Workspace directory (must not exist)")
	createCmd.Flags().Int64("sec-per-pixel", config.DefaultSecondsPerPixel, "Seconds covered by one pixel")
	createCmd.Flags().Uint64("node-per-pixel", config.DefaultNodesPerPixel, "Components covered by one pixel")
	createCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(createCmd)

	// Info command
	infoCmd := &cobra.Command{
		Use:   "info",
		Short: "Show workspace geometry and images",
		RunE:  runInfo,
	}
	infoCmd.Flags().String("workspace", "", "Workspace directory")
	infoCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(infoCmd)

	// Extract command
	extractCmd := &cobra.Command{
		Use:   "extract",
		Short: "Build images from occurrence or metric input",
		RunE:  runExtract,
	}
	extractCmd.Flags().String("workspace", "", "Workspace directory")
	extractCmd.Flags().String("recipe", "", "Recipe file (YAML)")
	extractCmd.Flags().String("occurrences", "", "Occurrence CSV (event,comp,sec[,count])")
	extractCmd.Flags().Bool("histograms", false, "Merge occurrences per component instead of per event")
	extractCmd.Flags().String("metrics", "", "Metric CSV (sec,comp,<metric>...), '-' for stdin")
	extractCmd.Flags().String("begin", "", "First timestamp to keep (epoch or 2006-01-02 15:04:05)")
	extractCmd.Flags().String("end", "", "Last timestamp to keep")
	extractCmd.Flags().String("components", "", "Components to keep, e.g. 1,4-7")
	extractCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	extractCmd.MarkFlagRequired("workspace")
	extractCmd.MarkFlagRequired("recipe")
	rootCmd.AddCommand(extractCmd)

	// Mine command
	mineCmd := &cobra.Command{
		Use:   "mine",
		Short: "Mine association rules towards target images",
		RunE:  runMine,
	}
	mineCmd.Flags().String("workspace", "", "Workspace directory")
	mineCmd.Flags().StringSlice("target", env.Mine.Targets, "Target image name (repeatable)")
	mineCmd.Flags().String("target-file", "", "File listing target image names")
	mineCmd.Flags().Int("offset", env.Mine.OffsetPixels, "Shift targets by this many pixels in time")
	mineCmd.Flags().Bool("black-white", env.Mine.BlackWhite, "Measure images by pixel count instead of occurrences")
	mineCmd.Flags().Int("threads", env.Mine.Threads, "Mining workers")
	mineCmd.Flags().Float64P("confidence", "K", env.Mine.Confidence, "Accept rules with confidence above this")
	mineCmd.Flags().Float64P("significance", "S", env.Mine.Significance, "Discard candidates with significance below this")
	mineCmd.Flags().Float64P("difference", "D", env.Mine.Difference, "Discard children narrowing their parent by less than this")
	mineCmd.Flags().Int("max-depth", env.Mine.MaxDepth, "Maximum antecedent length")
	mineCmd.Flags().String("output", "", "Write rules to this file instead of stdout")
	mineCmd.Flags().String("format", "text", "Rule output format (text, json)")
	mineCmd.Flags().String("metrics-addr", "", "Serve Prometheus metrics on this address while running")
	mineCmd.MarkFlagRequired("workspace")
	rootCmd.AddCommand(mineCmd)

	return rootCmd
}

// closeInto runs fn and joins its error into *err.
func closeInto(err *error, fn func() error) {
	*err = errors.Join(*err, fn())
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
}

// serveMetrics registers the instruments and, when addr is set, serves
// them until the returned stop function is called.
func serveMetrics(addr string) (*metrics.Metrics, func()) {
	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	if addr == "" {
		return m, func() {}
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", "addr", addr, "error", err)
		}
	}()
	slog.Info("serving metrics", "addr", addr)

	return m, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(ctx); err != nil {
			slog.Warn("metrics server shutdown", "error", err)
		}
	}
}
