package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/internal/resilience"
	"github.com/talentgrid/jobpipe/internal/store"
)

// maxLineBytes bounds a single result line; chat responses are small but
// descriptions echoed in refusals can be long.
const maxLineBytes = 4 << 20

// Applicator consumes downloaded result files. Content-level problems (parse
// failures, rejected requests, invalid payloads) never abort a file; they are
// counted and the affected records escalate. Only storage failures abandon a
// file, leaving it for the next invocation.
type Applicator struct {
	st        store.Store
	d         Domain
	flushSize int
}

func NewApplicator(st store.Store, d Domain, flushSize int) *Applicator {
	if flushSize <= 0 {
		flushSize = 5000
	}
	return &Applicator{st: st, d: d, flushSize: flushSize}
}

// ApplyStats summarizes one results run.
type ApplyStats struct {
	Files     int
	Applied   int
	Escalated int
	ParseErrs int
	Unknown   int
}

// Run applies every result file in the domain's result dir. Consumed files
// are deleted; abandoned ones are kept and reported in the error.
func (a *Applicator) Run(ctx context.Context) (ApplyStats, error) {
	log := zap.L().With(zap.String("component", "applicator"), zap.String("domain", string(a.d.Name)))

	entries, err := os.ReadDir(a.d.ResultDir)
	if err != nil {
		if os.IsNotExist(err) {
			return ApplyStats{}, nil
		}
		return ApplyStats{}, eris.Wrapf(err, "batch: read result dir %s", a.d.ResultDir)
	}

	var stats ApplyStats
	var abandoned []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(name, ".jsonl") {
			continue
		}

		fileStats, err := a.applyFile(ctx, name)
		stats.Applied += fileStats.Applied
		stats.Escalated += fileStats.Escalated
		stats.ParseErrs += fileStats.ParseErrs
		stats.Unknown += fileStats.Unknown
		if err != nil {
			log.Error("result file abandoned", zap.String("file", name), zap.Error(err))
			abandoned = append(abandoned, name)
			continue
		}
		stats.Files++

		os.Remove(filepath.Join(a.d.ResultDir, name))
		os.Remove(filepath.Join(a.d.ResultDir, errorFileName(name)))
		log.Info("result file applied",
			zap.String("file", name),
			zap.Int("applied", fileStats.Applied),
			zap.Int("escalated", fileStats.Escalated),
			zap.Int("parse_errors", fileStats.ParseErrs),
			zap.Int("unknown_ids", fileStats.Unknown),
		)
	}

	if len(abandoned) > 0 {
		return stats, eris.Errorf("batch: abandoned result files: %s", strings.Join(abandoned, ", "))
	}
	return stats, nil
}

// applyFile runs the two-pass protocol: first collect every correlation ID
// and bulk-load the records, then walk the lines again applying or escalating
// each one, flushing mutations in bounded batches.
func (a *Applicator) applyFile(ctx context.Context, name string) (ApplyStats, error) {
	var stats ApplyStats
	path := filepath.Join(a.d.ResultDir, name)

	ids, err := a.collectIDs(path)
	if err != nil {
		return stats, err
	}
	errIDs, err := a.collectErrorIDs(name)
	if err != nil {
		return stats, err
	}
	records, err := a.st.RecordsByIDs(ctx, append(ids, errIDs...))
	if err != nil {
		return stats, err
	}
	known := make(map[uuid.UUID]model.Record, len(records))
	for _, r := range records {
		known[r.ID] = r
	}

	f, err := os.Open(path)
	if err != nil {
		return stats, eris.Wrapf(err, "batch: open result file %s", name)
	}
	defer f.Close()

	applier := a.d.NewApplier(a.st, known)
	var escalate []uuid.UUID

	flush := func() error {
		err := resilience.Do(ctx, storageRetry(), func(ctx context.Context) error {
			if err := applier.Flush(ctx); err != nil {
				return err
			}
			if err := a.st.EscalateRecords(ctx, a.d.Name, escalate, a.d.Name.GeneratedStatus()); err != nil {
				return err
			}
			return nil
		})
		if err != nil {
			return err
		}
		escalate = escalate[:0]
		return nil
	}

	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}

		id, body, ok := a.parseLine(line)
		if !ok {
			stats.ParseErrs++
			continue
		}
		if _, ok := known[id]; !ok {
			stats.Unknown++
			continue
		}

		if body == nil {
			// Request-level failure reported by the API.
			escalate = append(escalate, id)
			stats.Escalated++
		} else if err := applier.Add(id, body); err != nil {
			zap.L().Debug("result line rejected",
				zap.String("domain", string(a.d.Name)),
				zap.String("record_id", id.String()),
				zap.Error(err),
			)
			escalate = append(escalate, id)
			stats.Escalated++
		} else {
			stats.Applied++
		}

		if applier.Staged()+len(escalate) >= a.flushSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return stats, eris.Wrapf(err, "batch: scan result file %s", name)
	}

	// Requests the API rejected outright land in a separate error file.
	for _, id := range errIDs {
		if _, ok := known[id]; !ok {
			stats.Unknown++
			continue
		}
		escalate = append(escalate, id)
		stats.Escalated++
		if applier.Staged()+len(escalate) >= a.flushSize {
			if err := flush(); err != nil {
				return stats, err
			}
		}
	}

	return stats, flush()
}

// collectErrorIDs reads the batch error file when present.
func (a *Applicator) collectErrorIDs(name string) ([]uuid.UUID, error) {
	path := filepath.Join(a.d.ResultDir, errorFileName(name))
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return nil, nil
	}
	return a.collectIDs(path)
}

// collectIDs is the first pass: every well-formed correlation ID in the file.
func (a *Applicator) collectIDs(path string) ([]uuid.UUID, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, eris.Wrapf(err, "batch: open result file %s", path)
	}
	defer f.Close()

	var ids []uuid.UUID
	sc := bufio.NewScanner(f)
	sc.Buffer(make([]byte, 64*1024), maxLineBytes)
	for sc.Scan() {
		line := sc.Bytes()
		if len(line) == 0 {
			continue
		}
		var head struct {
			CustomID string `json:"custom_id"`
		}
		if err := json.Unmarshal(line, &head); err != nil {
			continue
		}
		if id, err := ParseCustomID(head.CustomID); err == nil {
			ids = append(ids, id)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, eris.Wrapf(err, "batch: scan result file %s", path)
	}
	return ids, nil
}

// parseLine extracts the record ID and, for successful requests, the response
// body. body is nil when the request itself failed.
func (a *Applicator) parseLine(line []byte) (uuid.UUID, json.RawMessage, bool) {
	var parsed struct {
		CustomID string `json:"custom_id"`
		Response *struct {
			StatusCode int             `json:"status_code"`
			Body       json.RawMessage `json:"body"`
		} `json:"response"`
		Error *struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(line, &parsed); err != nil {
		return uuid.Nil, nil, false
	}
	id, err := ParseCustomID(parsed.CustomID)
	if err != nil {
		return uuid.Nil, nil, false
	}
	if parsed.Error != nil || parsed.Response == nil || parsed.Response.StatusCode != http.StatusOK {
		return id, nil, true
	}
	return id, parsed.Response.Body, true
}

// storageRetry is the per-flush policy: storage errors of any kind retry with
// backoff up to a fixed ceiling before the file is abandoned.
func storageRetry() resilience.RetryConfig {
	cfg := resilience.DefaultRetryConfig()
	cfg.MaxAttempts = 4
	cfg.ShouldRetry = func(error) bool { return true }
	return cfg
}
