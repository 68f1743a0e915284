package main

import (
	"fmt"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/talentgrid/jobpipe/internal/geocode"
)

var geoloadCmd = &cobra.Command{
	Use:   "geoload",
	Short: "Seed the geolocations table from the city-coordinates CSV",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		path := cfg.Data.GeocodeCSV
		if path == "" {
			return eris.New("geoload: data.geocode_csv is not configured")
		}
		locations, err := geocode.LoadCSV(path)
		if err != nil {
			return err
		}

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		n, err := st.SeedGeolocations(ctx, locations)
		if err != nil {
			return err
		}
		fmt.Printf("Seeded %d geolocations from %s\n", n, path)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(geoloadCmd)
}
