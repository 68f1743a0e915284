package batch

import (
	"context"
	"os"
	"path/filepath"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/internal/resilience"
	"github.com/talentgrid/jobpipe/internal/store"
	"github.com/talentgrid/jobpipe/pkg/openai"
)

// Submitter uploads pending artifacts and creates remote batches, oldest
// first, up to the domain's in-flight cap. A batch already known remotely
// under the artifact's filename is adopted instead of re-submitted, which
// makes re-running submission after a crash safe.
type Submitter struct {
	st     store.Store
	client openai.Client
	d      Domain
}

func NewSubmitter(st store.Store, client openai.Client, d Domain) *Submitter {
	return &Submitter{st: st, client: client, d: d}
}

var apiRetry = resilience.RetryConfig{
	MaxAttempts: 4,
	ShouldRetry: func(err error) bool {
		return openai.IsRetryable(err) || resilience.IsTransient(err)
	},
}

// Run submits as many pending batches as the in-flight cap allows and returns
// the number submitted. A failure on one batch marks it failed and moves on.
func (s *Submitter) Run(ctx context.Context) (int, error) {
	log := zap.L().With(zap.String("component", "submitter"), zap.String("domain", string(s.d.Name)))

	inFlight, err := s.st.CountInFlight(ctx, s.d.Name)
	if err != nil {
		return 0, err
	}
	capacity := s.d.MaxInFlight - inFlight
	if capacity <= 0 {
		log.Info("in-flight cap reached", zap.Int("in_flight", inFlight))
		return 0, nil
	}

	pending, err := s.st.PendingBatches(ctx, s.d.Name)
	if err != nil {
		return 0, err
	}
	if len(pending) == 0 {
		return 0, nil
	}
	if len(pending) > capacity {
		pending = pending[:capacity]
	}

	remote, err := s.remoteByDescription(ctx)
	if err != nil {
		return 0, err
	}

	submitted := 0
	for _, b := range pending {
		if err := s.submitOne(ctx, log, b, remote); err != nil {
			log.Error("batch submission failed",
				zap.String("batch_id", b.ID.String()),
				zap.String("artifact", b.ArtifactPath),
				zap.Error(err),
			)
			if markErr := s.st.MarkBatchStatus(ctx, s.d.Name, b.ID, model.BatchFailed, err.Error()); markErr != nil {
				log.Error("mark batch failed", zap.String("batch_id", b.ID.String()), zap.Error(markErr))
			}
			continue
		}
		submitted++
	}
	log.Info("submission complete", zap.Int("submitted", submitted), zap.Int("pending", len(pending)))
	return submitted, nil
}

func (s *Submitter) submitOne(ctx context.Context, log *zap.Logger, b model.BatchRecord, remote map[string]openai.Batch) error {
	path := filepath.Join(s.d.BatchDir, b.ArtifactPath)

	// Crash window guard: the remote batch may already exist from a previous
	// run that died before recording its handles.
	if rb, ok := remote[b.ArtifactPath]; ok {
		log.Info("adopting existing remote batch",
			zap.String("artifact", b.ArtifactPath),
			zap.String("remote_batch_id", rb.ID),
		)
		if err := s.st.MarkBatchSubmitted(ctx, s.d.Name, b.ID, rb.InputFileID, rb.ID); err != nil {
			return err
		}
		os.Remove(path)
		return nil
	}

	f, err := os.Open(path)
	if err != nil {
		return eris.Wrapf(err, "batch: open artifact %s", b.ArtifactPath)
	}
	defer f.Close()

	file, err := resilience.DoVal(ctx, apiRetry, func(ctx context.Context) (*openai.File, error) {
		if _, err := f.Seek(0, 0); err != nil {
			return nil, eris.Wrap(err, "batch: rewind artifact")
		}
		return s.client.UploadFile(ctx, b.ArtifactPath, f)
	})
	if err != nil {
		return err
	}

	created, err := resilience.DoVal(ctx, apiRetry, func(ctx context.Context) (*openai.Batch, error) {
		return s.client.CreateBatch(ctx, file.ID, s.d.Endpoint, b.ArtifactPath)
	})
	if err != nil {
		return err
	}

	if err := s.st.MarkBatchSubmitted(ctx, s.d.Name, b.ID, file.ID, created.ID); err != nil {
		return err
	}
	os.Remove(path)
	log.Info("batch submitted",
		zap.String("artifact", b.ArtifactPath),
		zap.String("remote_batch_id", created.ID),
	)
	return nil
}

// remoteByDescription indexes every remote batch by its metadata description,
// which submission sets to the artifact filename.
func (s *Submitter) remoteByDescription(ctx context.Context) (map[string]openai.Batch, error) {
	remote := make(map[string]openai.Batch)
	after := ""
	for {
		page, err := resilience.DoVal(ctx, apiRetry, func(ctx context.Context) (*openai.BatchPage, error) {
			return s.client.ListBatches(ctx, after, 100)
		})
		if err != nil {
			return nil, err
		}
		for _, b := range page.Data {
			if desc := b.Description(); desc != "" {
				remote[desc] = b
			}
		}
		if !page.HasMore || page.LastID == "" {
			return remote, nil
		}
		after = page.LastID
	}
}
