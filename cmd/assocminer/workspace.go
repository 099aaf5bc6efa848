package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/orneryd/assocminer/pkg/workspace"
)

func runCreate(cmd *cobra.Command, args []string) error {
	dir, _ := cmd.Flags().GetString("workspace")
	spp, _ := cmd.Flags().GetInt64("sec-per-pixel")
	npp, _ := cmd.Flags().GetUint64("node-per-pixel")

	cfg, err := workspace.Create(dir, spp, npp)
	if err != nil {
		return fmt.Errorf("creating workspace: %w", err)
	}
	fmt.Printf("✅ Workspace created in %s\n", dir)
	fmt.Printf("   Seconds per pixel: %d\n", cfg.SecondsPerPixel)
	fmt.Printf("   Nodes per pixel:   %d\n", cfg.NodesPerPixel)
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  1. Build images: assocminer extract --workspace", dir, "--recipe recipe.yaml --occurrences events.csv")
	fmt.Println("  2. Mine rules:   assocminer mine --workspace", dir, "--target <image>")
	return nil
}

func runInfo(cmd *cobra.Command, args []string) (err error) {
	dir, _ := cmd.Flags().GetString("workspace")

	ws, err := workspace.Open(dir, workspace.Options{Logger: slog.Default()})
	if err != nil {
		return fmt.Errorf("opening workspace: %w", err)
	}
	defer closeInto(&err, ws.Close)

	info, err := ws.Info()
	if err != nil {
		return err
	}
	fmt.Printf("Workspace:         %s\n", info.Dir)
	fmt.Printf("Seconds per pixel: %d\n", info.Config.SecondsPerPixel)
	fmt.Printf("Nodes per pixel:   %d\n", info.Config.NodesPerPixel)
	if !info.Config.CreatedAt.IsZero() {
		fmt.Printf("Created:           %s\n", info.Config.CreatedAt.Format("2006-01-02 15:04:05"))
	}
	fmt.Printf("Images (%d):\n", len(info.Images))
	for _, name := range info.Images {
		fmt.Printf("  %s\n", name)
	}
	fmt.Printf("Targets (%d):\n", len(info.Targets))
	for _, name := range info.Targets {
		fmt.Printf("  %s\n", name)
	}
	return nil
}
