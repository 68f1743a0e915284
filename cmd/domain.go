package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/talentgrid/jobpipe/internal/batch"
	"github.com/talentgrid/jobpipe/internal/config"
)

// addDomainCommands attaches the four lifecycle subcommands (generate, submit,
// check, results) to a domain's parent command. All three enrichment domains
// share the same lifecycle; only the Domain descriptor differs.
func addDomainCommands(parent *cobra.Command, domainFn func(*config.Config) batch.Domain) {
	generateCmd := &cobra.Command{
		Use:   "generate",
		Short: "Write batch artifacts for eligible records",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := batch.NewGenerator(st, domainFn(cfg)).Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Generated %d batches\n", n)
			return nil
		},
	}

	submitCmd := &cobra.Command{
		Use:   "submit",
		Short: "Submit pending batches up to the in-flight cap",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := batch.NewSubmitter(st, newOpenAIClient(), domainFn(cfg)).Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Submitted %d batches\n", n)
			return nil
		},
	}

	checkCmd := &cobra.Command{
		Use:   "check",
		Short: "Poll submitted batches and download finished results",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			n, err := batch.NewPoller(st, newOpenAIClient(), domainFn(cfg)).Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("%d batches settled\n", n)
			return nil
		},
	}

	resultsCmd := &cobra.Command{
		Use:   "results",
		Short: "Apply downloaded result files to the store",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			st, err := openStore(ctx)
			if err != nil {
				return err
			}
			defer st.Close()

			stats, err := batch.NewApplicator(st, domainFn(cfg), cfg.Batch.FlushSize).Run(ctx)
			if err != nil {
				return err
			}
			fmt.Printf("Applied %d results from %d files (%d escalated, %d parse errors, %d unknown)\n",
				stats.Applied, stats.Files, stats.Escalated, stats.ParseErrs, stats.Unknown)
			return nil
		},
	}

	parent.AddCommand(generateCmd, submitCmd, checkCmd, resultsCmd)
}
