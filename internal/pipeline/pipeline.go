// Package pipeline defines the enrichment stages and the runner that
// sequences them: ingest, the three batch domains, and geocoding.
package pipeline

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
)

// Stage is one runnable pipeline step.
type Stage interface {
	Name() string
	Run(ctx context.Context) error
}

// StageFunc adapts a function to the Stage interface.
type StageFunc struct {
	StageName string
	Fn        func(ctx context.Context) error
}

func (s StageFunc) Name() string                  { return s.StageName }
func (s StageFunc) Run(ctx context.Context) error { return s.Fn(ctx) }

// Runner executes stages in order and stops at the first failure. Each stage
// persists its own progress, so a failed run resumes by re-running.
type Runner struct {
	stages []Stage
}

func NewRunner(stages ...Stage) *Runner {
	return &Runner{stages: stages}
}

// Run executes the stages in sequence. The returned error names the stage
// that failed.
func (r *Runner) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "runner"))
	for _, stage := range r.stages {
		start := time.Now()
		log.Info("stage starting", zap.String("stage", stage.Name()))

		if err := stage.Run(ctx); err != nil {
			log.Error("stage failed",
				zap.String("stage", stage.Name()),
				zap.Int64("duration_ms", time.Since(start).Milliseconds()),
				zap.Error(err),
			)
			return eris.Wrapf(err, "pipeline: stage %s", stage.Name())
		}

		log.Info("stage complete",
			zap.String("stage", stage.Name()),
			zap.Int64("duration_ms", time.Since(start).Milliseconds()),
		)
	}
	return nil
}
