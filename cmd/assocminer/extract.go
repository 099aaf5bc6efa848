package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/orneryd/assocminer/pkg/extract"
	"github.com/orneryd/assocminer/pkg/recipe"
	"github.com/orneryd/assocminer/pkg/source"
	"github.com/orneryd/assocminer/pkg/workspace"
)

func filterFlags(cmd *cobra.Command) (source.Filter, error) {
	var f source.Filter
	begin, _ := cmd.Flags().GetString("begin")
	end, _ := cmd.Flags().GetString("end")
	comps, _ := cmd.Flags().GetString("components")

	var err error
	if begin != "" {
		if f.Begin, err = source.ParseTime(begin); err != nil {
			return f, fmt.Errorf("--begin: %w", err)
		}
	}
	if end != "" {
		if f.End, err = source.ParseTime(end); err != nil {
			return f, fmt.Errorf("--end: %w", err)
		}
	}
	if comps != "" {
		if f.Components, err = source.ParseComponents(comps); err != nil {
			return f, fmt.Errorf("--components: %w", err)
		}
	}
	return f, nil
}

func runExtract(cmd *cobra.Command, args []string) (err error) {
	dir, _ := cmd.Flags().GetString("workspace")
	recipePath, _ := cmd.Flags().GetString("recipe")
	occPath, _ := cmd.Flags().GetString("occurrences")
	histograms, _ := cmd.Flags().GetBool("histograms")
	metricPath, _ := cmd.Flags().GetString("metrics")
	metricsAddr, _ := cmd.Flags().GetString("metrics-addr")

	if occPath == "" && metricPath == "" {
		return fmt.Errorf("nothing to extract: pass --occurrences and/or --metrics")
	}
	filter, err := filterFlags(cmd)
	if err != nil {
		return err
	}
	rcp, err := recipe.Load(recipePath)
	if err != nil {
		return err
	}

	ctx, cancel := signalContext()
	defer cancel()
	met, stop := serveMetrics(metricsAddr)
	defer stop()

	log := slog.Default()
	ws, err := workspace.Open(dir, workspace.Options{Logger: log, Metrics: met})
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	defer closeInto(&err, ws.Close)

	cfg := ws.Config()
	ex := extract.New(ws.Images(), extract.Options{
		SecondsPerPixel: cfg.SecondsPerPixel,
		NodesPerPixel:   cfg.NodesPerPixel,
		Logger:          log,
		Metrics:         met,
	})

	start := time.Now()
	if occPath != "" {
		tbl, lerr := source.LoadTable(occPath, filter)
		if lerr != nil {
			return lerr
		}
		var n int
		if histograms {
			n, err = ex.FromHistograms(ctx, tbl, rcp)
		} else {
			n, err = ex.FromOccurrences(ctx, tbl, rcp)
		}
		if err != nil {
			return fmt.Errorf("extracting %s: %w", occPath, err)
		}
		fmt.Printf("✅ %d occurrence records applied from %s\n", n, occPath)
	}

	if metricPath != "" {
		var in io.Reader = os.Stdin
		if metricPath != "-" {
			f, ferr := os.Open(metricPath)
			if ferr != nil {
				return fmt.Errorf("opening metrics: %w", ferr)
			}
			defer closeInto(&err, f.Close)
			in = f
		}
		rd, rerr := source.NewMetricReader(in, filter)
		if rerr != nil {
			return rerr
		}
		var n int
		n, err = ex.FromMetrics(ctx, rd, rcp)
		if err != nil {
			return fmt.Errorf("extracting %s: %w", metricPath, err)
		}
		fmt.Printf("✅ %d metric rows applied from %s\n", n, metricPath)
	}

	if err := ws.Images().Flush(); err != nil {
		return err
	}
	fmt.Printf("   Done in %v\n", time.Since(start).Round(time.Millisecond))
	return nil
}
