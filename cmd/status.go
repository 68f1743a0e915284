package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/internal/store"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show record and batch counts by status",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		domains := []model.Domain{model.DomainWorkplace, model.DomainLocation, model.DomainEmbedding}

		var records []store.StatusCount
		batches := make([][]store.StatusCount, len(domains))

		g, gctx := errgroup.WithContext(ctx)
		g.Go(func() error {
			var err error
			records, err = st.RecordStatusCounts(gctx)
			return err
		})
		for i, d := range domains {
			g.Go(func() error {
				var err error
				batches[i], err = st.BatchStatusCounts(gctx, d)
				return err
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}

		fmt.Println("Records:")
		formatStatusCounts(os.Stdout, records)

		for i, d := range domains {
			if len(batches[i]) == 0 {
				continue
			}
			fmt.Printf("\n%s batches:\n", d)
			formatStatusCounts(os.Stdout, batches[i])
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func formatStatusCounts(out io.Writer, counts []store.StatusCount) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "STATUS\tCOUNT")
	for _, c := range counts {
		_, _ = fmt.Fprintf(w, "%s\t%d\n", c.Status, c.Count)
	}
	_ = w.Flush()
}
