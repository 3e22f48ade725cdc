package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/housecount/internal/config"
)

var cfg *config.Config

var rootCmd = &cobra.Command{
	Use:   "housecount",
	Short: "Count buildings around a point from ML-derived footprints",
	Long:  "Queries Microsoft/Overture building footprints within a radius of a point, renders satellite maps with footprint overlays, and compares counts against OpenStreetMap.",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.Load()
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}
		cfg = c

		if err := config.InitLogger(cfg.Log); err != nil {
			return fmt.Errorf("init logger: %w", err)
		}

		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		_ = zap.L().Sync()
	},
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
