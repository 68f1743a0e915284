package main

import (
	"github.com/spf13/cobra"

	"github.com/talentgrid/jobpipe/internal/ingest"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load one raw JSONL file into the store",
	Long:  "Reads the oldest file from the Ingestable folder, inserts its records, and moves it to Ingested.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		return ingest.New(st, cfg.Data).Run(ctx)
	},
}

func init() {
	rootCmd.AddCommand(ingestCmd)
}
