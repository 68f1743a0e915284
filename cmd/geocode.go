package main

import (
	"github.com/spf13/cobra"

	"github.com/talentgrid/jobpipe/internal/pipeline"
)

var geocodeCmd = &cobra.Command{
	Use:   "geocode",
	Short: "Resolve classified locations to coordinates",
	Long:  "Joins location-classified records against the geolocations table. Misses still advance; non-US records are invalidated.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return pipeline.NewGeocoder(st).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(geocodeCmd)
}
