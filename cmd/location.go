package main

import (
	"github.com/spf13/cobra"

	"github.com/talentgrid/jobpipe/internal/pipeline"
)

var locationCmd = &cobra.Command{
	Use:   "location",
	Short: "Location normalization batch lifecycle",
	Long:  "Normalizes raw posting locations to city/state/country via OpenAI chat batches, with a lookup cache to skip previously-seen locations.",
}

func init() {
	addDomainCommands(locationCmd, pipeline.LocationDomain)
	rootCmd.AddCommand(locationCmd)
}
