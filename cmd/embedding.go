package main

import (
	"github.com/spf13/cobra"

	"github.com/talentgrid/jobpipe/internal/pipeline"
)

var embeddingCmd = &cobra.Command{
	Use:   "embedding",
	Short: "Embedding batch lifecycle",
	Long:  "Generates pgvector embeddings for valid US postings via OpenAI embedding batches.",
}

func init() {
	addDomainCommands(embeddingCmd, pipeline.EmbeddingDomain)
	rootCmd.AddCommand(embeddingCmd)
}
