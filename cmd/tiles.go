package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/housecount/internal/geo"
)

var tilesCmd = &cobra.Command{
	Use:   "tiles",
	Short: "Manage the basemap tile cache",
}

var warmFlags queryFlags

var tilesWarmCmd = &cobra.Command{
	Use:   "warm",
	Short: "Prefetch every tile covering the search area into the cache",
	RunE: func(cmd *cobra.Command, args []string) error {
		fetcher, index, _, err := newFetcher()
		if err != nil {
			return err
		}
		defer index.Close()

		q := warmFlags.query()
		if err := q.Validate(); err != nil {
			return err
		}

		zoom := q.Zoom
		if zoom == 0 {
			zoom = geo.AutoZoom(q.RadiusMeters())
		}
		cover := geo.TileCover(geo.BoundingBox(q.Lat, q.Lon, q.RadiusKM), zoom)

		fmt.Printf("Warming %d tiles at zoom %d\n", len(cover), zoom)
		fetched, degraded, err := fetcher.FetchGrid(cmd.Context(), cover)
		if err != nil {
			return err
		}

		fmt.Printf("Cached %d tiles, %d failed\n", len(fetched), len(degraded))
		for _, t := range degraded {
			zap.L().Warn("tile warm failed", zap.Stringer("tile", t))
		}
		return nil
	},
}

var tilesStatsJSON bool

var tilesStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show tile cache inventory by zoom level",
	RunE: func(cmd *cobra.Command, args []string) error {
		_, index, _, err := newFetcher()
		if err != nil {
			return err
		}
		defer index.Close()

		stats, err := index.Stats()
		if err != nil {
			return err
		}

		if tilesStatsJSON {
			return json.NewEncoder(os.Stdout).Encode(stats)
		}

		fmt.Printf("%d tiles cached, %.1f MB\n", stats.TileCount, stats.TotalMB)
		for _, z := range stats.ByZoom {
			fmt.Printf("  zoom %2d: %6d tiles, %d bytes\n", z.Zoom, z.TileCount, z.Bytes)
		}
		return nil
	},
}

func init() {
	warmFlags.register(tilesWarmCmd, true)
	tilesStatsCmd.Flags().BoolVar(&tilesStatsJSON, "json", false, "emit JSON instead of text")
	tilesCmd.AddCommand(tilesWarmCmd, tilesStatsCmd)
	rootCmd.AddCommand(tilesCmd)
}
