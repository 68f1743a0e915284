package main

import (
	"github.com/spf13/cobra"

	"github.com/talentgrid/jobpipe/internal/pipeline"
)

var workplaceCmd = &cobra.Command{
	Use:   "workplace",
	Short: "Workplace classification batch lifecycle",
	Long:  "Classifies each posting as REMOTE, HYBRID, or ONSITE via OpenAI chat batches.",
}

func init() {
	addDomainCommands(workplaceCmd, pipeline.WorkplaceDomain)
	rootCmd.AddCommand(workplaceCmd)
}
