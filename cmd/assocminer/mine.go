package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/orneryd/assocminer/pkg/config"
	"github.com/orneryd/assocminer/pkg/miner"
	"github.com/orneryd/assocminer/pkg/recipe"
	"github.com/orneryd/assocminer/pkg/workspace"
)

func mineFlags(cmd *cobra.Command) (config.MineConfig, error) {
	mc := config.MineConfig{}
	mc.Targets, _ = cmd.Flags().GetStringSlice("target")
	mc.OffsetPixels, _ = cmd.Flags().GetInt("offset")
	mc.BlackWhite, _ = cmd.Flags().GetBool("black-white")
	mc.Threads, _ = cmd.Flags().GetInt("threads")
	mc.Confidence, _ = cmd.Flags().GetFloat64("confidence")
	mc.Significance, _ = cmd.Flags().GetFloat64("significance")
	mc.Difference, _ = cmd.Flags().GetFloat64("difference")
	mc.MaxDepth, _ = cmd.Flags().GetInt("max-depth")

	if path, _ := cmd.Flags().GetString("target-file"); path != "" {
		names, err := recipe.LoadTargets(path)
		if err != nil {
			return mc, err
		}
		mc.Targets = append(mc.Targets, names...)
	}
	if len(mc.Targets) == 0 {
		return mc, fmt.Errorf("no targets: pass --target or --target-file")
	}
	return mc, mc.Validate()
}

func runMine(cmd *cobra.Command, args []string) (err error) {
	dir, _ := cmd.Flags().GetString("workspace")
	output, _ := cmd.Flags().GetString("output")
	format, _ := cmd.Flags().GetString("format")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	mc, err := mineFlags(cmd)
	if err != nil {
		return err
	}

	var out io.Writer = os.Stdout
	if output != "" {
		f, ferr := os.Create(output)
		if ferr != nil {
			return fmt.Errorf("creating output: %w", ferr)
		}
		defer closeInto(&err, f.Close)
		out = f
	}
	sink, err := miner.NewSink(format, out)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	met, stop := serveMetrics(metricsAddr)
	defer stop()

	runID := uuid.NewString()
	log := slog.Default().With("run", runID)
	log.Info("mine configuration", "config", mc.String())

	ws, err := workspace.Open(dir, workspace.Options{Logger: log, Metrics: met})
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	defer closeInto(&err, ws.Close)

	images, err := ws.LoadImages()
	if err != nil {
		return err
	}
	defer closeInto(&err, func() error { return workspace.Release(images) })

	targets, err := ws.PrepareTargets(mc.Targets, mc.OffsetPixels)
	if err != nil {
		return err
	}
	defer closeInto(&err, func() error { return workspace.Release(targets) })

	m, err := miner.New(miner.Universe{Images: images, Targets: targets}, miner.ConfigFrom(mc), sink, miner.Options{
		Logger:  slog.Default(),
		Metrics: met,
		RunID:   runID,
	})
	if err != nil {
		return err
	}
	m.SeedAll()
	if err := m.Run(ctx); err != nil {
		return err
	}

	st := m.Stats()
	fmt.Fprintf(os.Stderr, "✅ %d rules from %d candidates (%d intersections)\n",
		st.Accepted, st.Evaluated, st.Intersections)
	return nil
}
