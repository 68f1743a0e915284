package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/talentgrid/jobpipe/internal/batch"
	"github.com/talentgrid/jobpipe/internal/config"
	"github.com/talentgrid/jobpipe/internal/ingest"
	"github.com/talentgrid/jobpipe/internal/pipeline"
	"github.com/talentgrid/jobpipe/internal/store"
	"github.com/talentgrid/jobpipe/pkg/openai"
)

var runCmd = &cobra.Command{
	Use:   "run [stage ...]",
	Short: "Run pipeline stages in order",
	Long: `Run pipeline stages in sequence. With no arguments runs the full
pipeline:

  ` + strings.Join(stageOrder, " ") + `

Name specific stages to run a subset, in the order given. Batch stages do
not wait for remote completion; a full enrichment needs repeated runs.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		st, err := openStore(ctx)
		if err != nil {
			return err
		}
		defer st.Close()

		stages, err := resolveStages(st, newOpenAIClient(), args)
		if err != nil {
			return err
		}
		if err := pipeline.NewRunner(stages...).Run(ctx); err != nil {
			return err
		}
		fmt.Println("Run complete")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}

// stageOrder is the full pipeline sequence. One pass generates and submits
// each domain's batches and applies whatever results have already landed.
var stageOrder = []string{
	"ingest",
	"workplace-generate", "workplace-submit", "workplace-check", "workplace-results",
	"location-generate", "location-submit", "location-check", "location-results",
	"geocode",
	"embedding-generate", "embedding-submit", "embedding-check", "embedding-results",
}

// resolveStages maps stage names to runnable stages. No arguments means the
// full sequence.
func resolveStages(st store.Store, client openai.Client, names []string) ([]pipeline.Stage, error) {
	byName := stageRegistry(st, client)

	if len(names) == 0 {
		names = stageOrder
	}
	stages := make([]pipeline.Stage, 0, len(names))
	for _, name := range names {
		stage, ok := byName[name]
		if !ok {
			return nil, eris.Errorf("run: unknown stage %q (known: %s)", name, strings.Join(stageOrder, ", "))
		}
		stages = append(stages, stage)
	}
	return stages, nil
}

func stageRegistry(st store.Store, client openai.Client) map[string]pipeline.Stage {
	stages := map[string]pipeline.Stage{
		"ingest":  ingest.New(st, cfg.Data),
		"geocode": pipeline.NewGeocoder(st),
	}

	domains := map[string]func(*config.Config) batch.Domain{
		"workplace": pipeline.WorkplaceDomain,
		"location":  pipeline.LocationDomain,
		"embedding": pipeline.EmbeddingDomain,
	}
	for name, domainFn := range domains {
		d := domainFn(cfg)
		stages[name+"-generate"] = pipeline.StageFunc{
			StageName: name + "-generate",
			Fn: func(ctx context.Context) error {
				_, err := batch.NewGenerator(st, d).Run(ctx)
				return err
			},
		}
		stages[name+"-submit"] = pipeline.StageFunc{
			StageName: name + "-submit",
			Fn: func(ctx context.Context) error {
				_, err := batch.NewSubmitter(st, client, d).Run(ctx)
				return err
			},
		}
		stages[name+"-check"] = pipeline.StageFunc{
			StageName: name + "-check",
			Fn: func(ctx context.Context) error {
				_, err := batch.NewPoller(st, client, d).Run(ctx)
				return err
			},
		}
		stages[name+"-results"] = pipeline.StageFunc{
			StageName: name + "-results",
			Fn: func(ctx context.Context) error {
				_, err := batch.NewApplicator(st, d, cfg.Batch.FlushSize).Run(ctx)
				return err
			},
		}
	}
	return stages
}
