package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/internal/store"
)

// Generator chunks eligible records into JSONL artifacts and registers one
// pending tracking row per artifact. The tracking row and the records' status
// advance commit together, so a crash leaves at worst an orphan artifact that
// submission deduplicates.
type Generator struct {
	st store.Store
	d  Domain
}

func NewGenerator(st store.Store, d Domain) *Generator {
	return &Generator{st: st, d: d}
}

// Run generates artifacts for all currently eligible records and returns the
// number of batches created.
func (g *Generator) Run(ctx context.Context) (int, error) {
	log := zap.L().With(zap.String("component", "generator"), zap.String("domain", string(g.d.Name)))

	if err := os.MkdirAll(g.d.BatchDir, 0o755); err != nil {
		return 0, eris.Wrapf(err, "batch: create dir %s", g.d.BatchDir)
	}

	if !g.d.FileScoped() {
		return g.runUnscoped(ctx, log)
	}

	fileIDs, err := g.st.EligibleFileIDs(ctx, g.d.Name)
	if err != nil {
		return 0, err
	}

	created := 0
	for _, fileID := range fileIDs {
		n, err := g.runFile(ctx, log, fileID)
		if err != nil {
			return created, err
		}
		created += n
	}
	log.Info("generation complete", zap.Int("batches", created), zap.Int("files", len(fileIDs)))
	return created, nil
}

// runFile drains one origin file. Creating a batch advances the chunk's
// records out of the entry status, so the query repeats at offset zero until
// nothing is eligible.
func (g *Generator) runFile(ctx context.Context, log *zap.Logger, fileID uuid.UUID) (int, error) {
	created := 0
	for {
		records, err := g.st.EligibleRecordsByFile(ctx, g.d.Name, fileID, g.d.ChunkSize, 0)
		if err != nil {
			return created, err
		}
		if len(records) == 0 {
			return created, nil
		}

		if g.d.Prefilter != nil {
			remaining, err := g.d.Prefilter(ctx, g.st, records)
			if err != nil {
				return created, err
			}
			if len(remaining) == 0 && len(records) < g.d.ChunkSize {
				// Everything in the final partial chunk resolved locally.
				return created, nil
			}
			if len(remaining) == 0 {
				continue
			}
			records = remaining
		}

		batchID := uuid.New()
		filename := fmt.Sprintf("%s_%s_%s.jsonl", g.d.Name, fileID, shortID(batchID))
		ids, skipped, err := g.writeArtifact(filename, records)
		if err != nil {
			return created, err
		}

		// Records the builder could not render would stay eligible forever;
		// route them through the retry policy instead.
		if err := g.st.EscalateRecords(ctx, g.d.Name, skipped, g.d.Name.EntryStatus()); err != nil {
			return created, err
		}
		if len(ids) == 0 {
			os.Remove(filepath.Join(g.d.BatchDir, filename))
			continue
		}

		err = g.st.CreateBatch(ctx, model.BatchRecord{
			ID:           batchID,
			Domain:       g.d.Name,
			FileID:       &fileID,
			ArtifactPath: filename,
			Status:       model.BatchPending,
			CreatedAt:    time.Now().UTC(),
		}, ids)
		if err != nil {
			return created, err
		}
		created++
		log.Info("batch generated",
			zap.String("artifact", filename),
			zap.Int("records", len(ids)),
		)
	}
}

// runUnscoped pages through eligible records without file grouping. Records
// stay eligible until results apply, so paging advances by offset.
func (g *Generator) runUnscoped(ctx context.Context, log *zap.Logger) (int, error) {
	created := 0
	offset := 0
	for {
		records, err := g.st.EligibleEmbeddingRecords(ctx, g.d.ChunkSize, offset)
		if err != nil {
			return created, err
		}
		if len(records) == 0 {
			break
		}
		offset += len(records)

		batchID := uuid.New()
		filename := fmt.Sprintf("%s_%s.jsonl", g.d.Name, shortID(batchID))
		ids, _, err := g.writeArtifact(filename, records)
		if err != nil {
			return created, err
		}
		if len(ids) == 0 {
			os.Remove(filepath.Join(g.d.BatchDir, filename))
			continue
		}

		err = g.st.CreateBatch(ctx, model.BatchRecord{
			ID:           batchID,
			Domain:       g.d.Name,
			ArtifactPath: filename,
			Status:       model.BatchPending,
			CreatedAt:    time.Now().UTC(),
		}, ids)
		if err != nil {
			return created, err
		}
		created++
		log.Info("batch generated",
			zap.String("artifact", filename),
			zap.Int("records", len(ids)),
		)
	}
	log.Info("generation complete", zap.Int("batches", created))
	return created, nil
}

// writeArtifact renders records as JSONL and returns the IDs of the records
// actually written alongside those the builder rejected.
func (g *Generator) writeArtifact(filename string, records []model.Record) ([]uuid.UUID, []uuid.UUID, error) {
	path := filepath.Join(g.d.BatchDir, filename)
	f, err := os.Create(path)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "batch: create artifact %s", filename)
	}
	defer f.Close()

	w := bufio.NewWriter(f)
	ids := make([]uuid.UUID, 0, len(records))
	var skipped []uuid.UUID
	for _, r := range records {
		line, err := g.d.BuildLine(r)
		if err != nil {
			zap.L().Warn("skipping record in batch generation",
				zap.String("domain", string(g.d.Name)),
				zap.String("record_id", r.ID.String()),
				zap.Error(err),
			)
			skipped = append(skipped, r.ID)
			continue
		}
		encoded, err := json.Marshal(line)
		if err != nil {
			return nil, nil, eris.Wrapf(err, "batch: marshal request line for %s", r.ID)
		}
		if _, err := w.Write(append(encoded, '\n')); err != nil {
			return nil, nil, eris.Wrapf(err, "batch: write artifact %s", filename)
		}
		ids = append(ids, r.ID)
	}
	if err := w.Flush(); err != nil {
		return nil, nil, eris.Wrapf(err, "batch: flush artifact %s", filename)
	}
	if err := f.Sync(); err != nil {
		return nil, nil, eris.Wrapf(err, "batch: sync artifact %s", filename)
	}
	return ids, skipped, nil
}

func shortID(id uuid.UUID) string {
	return id.String()[:8]
}
