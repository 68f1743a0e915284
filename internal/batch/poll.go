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

// Poller reconciles submitted batches with their remote state. A batch flips
// to completed locally only after its result file is durably downloaded, so a
// crash mid-download re-polls and re-downloads on the next run.
type Poller struct {
	st     store.Store
	client openai.Client
	d      Domain
	retry  resilience.RetryConfig
}

func NewPoller(st store.Store, client openai.Client, d Domain) *Poller {
	cfg := resilience.DownloadRetryConfig()
	cfg.ShouldRetry = apiRetry.ShouldRetry
	return &Poller{st: st, client: client, d: d, retry: cfg}
}

// Run checks every submitted batch and returns the number that reached a
// terminal state. Network failures leave the batch submitted for the next
// poll.
func (p *Poller) Run(ctx context.Context) (int, error) {
	log := zap.L().With(zap.String("component", "poller"), zap.String("domain", string(p.d.Name)))

	if err := os.MkdirAll(p.d.ResultDir, 0o755); err != nil {
		return 0, eris.Wrapf(err, "batch: create dir %s", p.d.ResultDir)
	}

	submitted, err := p.st.SubmittedBatches(ctx, p.d.Name)
	if err != nil {
		return 0, err
	}

	settled := 0
	for _, b := range submitted {
		done, err := p.pollOne(ctx, log, b)
		if err != nil {
			log.Warn("poll failed, will retry next run",
				zap.String("batch_id", b.ID.String()),
				zap.Error(err),
			)
			continue
		}
		if done {
			settled++
		}
	}
	log.Info("poll complete", zap.Int("submitted", len(submitted)), zap.Int("settled", settled))
	return settled, nil
}

func (p *Poller) pollOne(ctx context.Context, log *zap.Logger, b model.BatchRecord) (bool, error) {
	if b.RemoteBatch == nil {
		return false, eris.Errorf("batch: submitted batch %s has no remote id", b.ID)
	}

	remote, err := resilience.DoVal(ctx, apiRetry, func(ctx context.Context) (*openai.Batch, error) {
		return p.client.GetBatch(ctx, *b.RemoteBatch)
	})
	if err != nil {
		return false, err
	}

	local, settled, err := model.RemoteBatchStatus(remote.Status)
	if err != nil {
		return false, err
	}
	if !settled {
		return false, nil
	}

	if local == model.BatchCompleted {
		if err := p.download(ctx, b, remote); err != nil {
			return false, err
		}
	}

	errMsg := ""
	if local != model.BatchCompleted {
		errMsg = "remote batch " + remote.Status
	}
	if err := p.st.MarkBatchStatus(ctx, p.d.Name, b.ID, local, errMsg); err != nil {
		return false, err
	}
	log.Info("batch settled",
		zap.String("batch_id", b.ID.String()),
		zap.String("status", string(local)),
	)
	return true, nil
}

// download pulls the output file, and the error file when present, into the
// result dir. Files land under a temp name and rename into place so a partial
// download is never mistaken for a result.
func (p *Poller) download(ctx context.Context, b model.BatchRecord, remote *openai.Batch) error {
	if remote.OutputFileID == "" {
		return eris.Errorf("batch: completed batch %s has no output file", remote.ID)
	}
	if err := p.downloadFile(ctx, remote.OutputFileID, b.ArtifactPath); err != nil {
		return err
	}
	if remote.ErrorFileID != "" {
		if err := p.downloadFile(ctx, remote.ErrorFileID, errorFileName(b.ArtifactPath)); err != nil {
			return err
		}
	}
	return nil
}

func (p *Poller) downloadFile(ctx context.Context, fileID, filename string) error {
	dest := filepath.Join(p.d.ResultDir, filename)
	tmp := dest + ".partial"

	err := resilience.Do(ctx, p.retry, func(ctx context.Context) error {
		f, err := os.Create(tmp)
		if err != nil {
			return eris.Wrapf(err, "batch: create %s", tmp)
		}
		defer f.Close()

		if err := p.client.DownloadFile(ctx, fileID, f); err != nil {
			return err
		}
		return eris.Wrapf(f.Sync(), "batch: sync %s", tmp)
	})
	if err != nil {
		os.Remove(tmp)
		return err
	}
	return eris.Wrapf(os.Rename(tmp, dest), "batch: rename %s", dest)
}

// errorFileName names the downloaded request-level error file alongside the
// result file.
func errorFileName(artifact string) string {
	return artifact + ".errors"
}
