package main

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/parcelworks/housecount/internal/housecount"
	"github.com/parcelworks/housecount/internal/render"
)

var zoomFlags queryFlags
var zoomJSON bool

var zoomInfoCmd = &cobra.Command{
	Use:   "zoom-info",
	Short: "Show the grid size and fetch cost of each zoom level for a query",
	RunE: func(cmd *cobra.Command, args []string) error {
		// Pure math, no dataset or tile provider needed.
		svc := housecount.NewService(nil, nil, nil, render.NewCompositor(render.DefaultStyle()))

		info, err := svc.ZoomInfo(zoomFlags.query())
		if err != nil {
			return err
		}

		if zoomJSON {
			return json.NewEncoder(os.Stdout).Encode(info)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ZOOM\tGRID\tTILES\tCANVAS\tM/PX\tEST")
		for _, lvl := range info.Levels {
			marker := ""
			if lvl.Auto {
				marker = " (auto)"
			}
			fmt.Fprintf(w, "%d%s\t%dx%d\t%d\t%dpx\t%.2f\t%.1fs\n",
				lvl.Zoom, marker, lvl.GridSize, lvl.GridSize,
				lvl.TileCount, lvl.PixelSize, lvl.MetersPerPixel, lvl.EstimateSeconds)
		}
		return w.Flush()
	},
}

func init() {
	zoomFlags.register(zoomInfoCmd, false)
	zoomInfoCmd.Flags().BoolVar(&zoomJSON, "json", false, "emit JSON instead of text")
	rootCmd.AddCommand(zoomInfoCmd)
}
