package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var compareFlags queryFlags
var compareJSON bool

var compareCmd = &cobra.Command{
	Use:   "compare",
	Short: "Compare the footprint count against OpenStreetMap",
	RunE: func(cmd *cobra.Command, args []string) error {
		env, err := initService(cmd.Context())
		if err != nil {
			return err
		}
		defer env.Close()

		res, err := env.service.Compare(cmd.Context(), compareFlags.query())
		if err != nil {
			return err
		}

		if compareJSON {
			return json.NewEncoder(os.Stdout).Encode(res)
		}

		if res.Primary.Error != "" {
			fmt.Printf("%s: error: %s\n", res.Primary.Source, res.Primary.Error)
		} else {
			fmt.Printf("%s: %d buildings\n", res.Primary.Source, res.Primary.Count.BuildingCount)
		}
		if res.Reference.Error != "" {
			fmt.Printf("%s: error: %s\n", res.Reference.Source, res.Reference.Error)
		} else {
			fmt.Printf("%s: %d buildings\n", res.Reference.Source, res.Reference.Count.BuildingCount)
		}
		if res.Summary != "" {
			fmt.Printf("Delta: %s\n", res.Summary)
		}
		return nil
	},
}

func init() {
	compareFlags.register(compareCmd, false)
	compareCmd.Flags().BoolVar(&compareJSON, "json", false, "emit JSON instead of text")
	rootCmd.AddCommand(compareCmd)
}
