// Package ingest loads raw JSONL job files from the Ingestable folder into
// the record store.
package ingest

import (
	"bufio"
	"compress/gzip"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentgrid/jobpipe/internal/config"
	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/internal/store"
)

// insertChunkSize bounds one bulk insert.
const insertChunkSize = 5000

// maxLineBytes bounds a single source line; descriptions can be large.
const maxLineBytes = 8 << 20

// Ingester processes one source file per run: insert an origin-file row, bulk
// load its records, then move the file to Ingested. A re-run after a crash
// re-reads the file; the url unique constraint swallows the duplicates.
type Ingester struct {
	st   store.Store
	data config.DataConfig
}

func New(st store.Store, data config.DataConfig) *Ingester {
	return &Ingester{st: st, data: data}
}

func (i *Ingester) Name() string { return "ingest" }

func (i *Ingester) Run(ctx context.Context) error {
	log := zap.L().With(zap.String("component", "ingester"))

	name, ok, err := i.nextFile()
	if err != nil {
		return err
	}
	if !ok {
		log.Info("nothing to ingest")
		return nil
	}
	path := filepath.Join(i.data.IngestableDir(), name)
	log.Info("ingesting file", zap.String("file", name))

	origin, err := i.st.InsertFile(ctx, name, time.Now())
	if err != nil {
		return err
	}

	inserted, duplicates, skipped, err := i.loadRecords(ctx, path, origin.ID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(i.data.IngestedDir(), 0o755); err != nil {
		return eris.Wrap(err, "ingest: create ingested dir")
	}
	if err := os.Rename(path, filepath.Join(i.data.IngestedDir(), name)); err != nil {
		return eris.Wrapf(err, "ingest: move %s", name)
	}

	log.Info("ingest complete",
		zap.String("file", name),
		zap.Int("inserted", inserted),
		zap.Int("duplicates", duplicates),
		zap.Int("skipped", skipped),
	)
	return nil
}

// nextFile picks the alphabetically first ingestable file, one per run.
func (i *Ingester) nextFile() (string, bool, error) {
	entries, err := os.ReadDir(i.data.IngestableDir())
	if err != nil {
		if os.IsNotExist(err) {
			return "", false, nil
		}
		return "", false, eris.Wrap(err, "ingest: read ingestable dir")
	}

	var names []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() {
			continue
		}
		if strings.HasSuffix(name, ".jsonl") || strings.HasSuffix(name, ".jsonl.gz") {
			names = append(names, name)
		}
	}
	if len(names) == 0 {
		return "", false, nil
	}
	sort.Strings(names)
	return names[0], true, nil
}

func (i *Ingester) loadRecords(ctx context.Context, path string, fileID uuid.UUID) (inserted, duplicates, skipped int, err error) {
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, eris.Wrapf(err, "ingest: open %s", path)
	}
	defer f.Close()

	var reader io.Reader = f
	if strings.HasSuffix(path, ".gz") {
		gz, err := gzip.NewReader(f)
		if err != nil {
			return 0, 0, 0, eris.Wrapf(err, "ingest: gzip %s", path)
		}
		defer gz.Close()
		reader = gz
	}

	var chunk []model.Record
	flush := func() error {
		ins, dup, err := i.st.InsertRecords(ctx, chunk)
		inserted += ins
		duplicates += dup
		chunk = chunk[:0]
		return err
	}

	sc := bufio.NewScanner(reader)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		var src sourceJob
		if err := json.Unmarshal(line, &src); err != nil {
			skipped++
			continue
		}
		r, ok := mapRecord(src, fileID)
		if !ok {
			skipped++
			continue
		}
		chunk = append(chunk, r)

		if len(chunk) >= insertChunkSize {
			if err := flush(); err != nil {
				return inserted, duplicates, skipped, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return inserted, duplicates, skipped, eris.Wrapf(err, "ingest: scan %s", path)
	}
	return inserted, duplicates, skipped, flush()
}
