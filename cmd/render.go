package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/parcelworks/housecount/internal/geo"
)

var renderFlags queryFlags
var renderOut string

var renderCmd = &cobra.Command{
	Use:   "render",
	Short: "Render a satellite map of the search area with footprint overlay",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initService(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		q := renderFlags.query()
		grid := geo.RenderGrid(q.Lat, q.Lon, q.RadiusKM, q.Zoom)
		fmt.Printf("Fetching %d tiles at zoom %d (~%.1fs)\n",
			grid.Size*grid.Size, grid.Zoom, geo.EstimateSeconds(grid.Size*grid.Size))

		res, err := env.service.Map(cmd.Context(), q)
		if err != nil {
			return err
		}

		out := renderOut
		if out == "" {
			out = filepath.Join(cfg.Render.OutputDir,
				fmt.Sprintf("map_%s_%dx%d.png", res.Grid.Origin, res.Grid.Size, res.Grid.Size))
		}
		if err := os.WriteFile(out, res.PNG, 0o644); err != nil {
			return err
		}

		fmt.Println(env.service.CountMessage(q, res.Count))
		fmt.Printf("Wrote %s (%dx%d px)\n", out, res.Grid.PixelSize(), res.Grid.PixelSize())
		if len(res.DegradedTiles) > 0 {
			zap.L().Warn("some tiles rendered blank", zap.Int("count", len(res.DegradedTiles)))
			fmt.Printf("Warning: %d tiles failed and rendered blank\n", len(res.DegradedTiles))
		}
		return nil
	},
}

func init() {
	renderFlags.register(renderCmd, true)
	renderCmd.Flags().StringVarP(&renderOut, "out", "o", "", "output PNG path (default derived from grid)")
	rootCmd.AddCommand(renderCmd)
}
