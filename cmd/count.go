package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/parcelworks/housecount/internal/geo"
)

var countFlags queryFlags
var countJSON bool
var countEstimate bool

var countCmd = &cobra.Command{
	Use:   "count",
	Short: "Count buildings within the radius of a point",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initService(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		q := countFlags.query()

		if countEstimate {
			if err := q.Validate(); err != nil {
				return err
			}
			n, err := env.store.Count(cmd.Context(), geo.BoundingBox(q.Lat, q.Lon, q.RadiusKM))
			if err != nil {
				return err
			}
			if countJSON {
				return json.NewEncoder(os.Stdout).Encode(map[string]int{"estimated_count": n})
			}
			fmt.Printf("~%d buildings overlap the search envelope (coarse estimate)\n", n)
			return nil
		}

		res, err := env.service.Count(cmd.Context(), q)
		if err != nil {
			return err
		}

		if countJSON {
			return json.NewEncoder(os.Stdout).Encode(res)
		}

		fmt.Println(env.service.CountMessage(q, res))
		fmt.Printf("Total area: %.2f sqm, average: %.2f sqm\n",
			res.TotalAreaSqm, res.AvgBuildingAreaSqm)
		return nil
	},
}

func init() {
	countFlags.register(countCmd, false)
	countCmd.Flags().BoolVar(&countJSON, "json", false, "emit JSON instead of text")
	countCmd.Flags().BoolVar(&countEstimate, "estimate", false,
		"fast bbox-overlap count without geometry transfer or radius filtering")
	rootCmd.AddCommand(countCmd)
}
