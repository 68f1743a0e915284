// Package batch implements the generic batch lifecycle shared by the three
// enrichment domains: generate artifacts, submit them, poll the remote batch,
// and apply downloaded results.
package batch

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/internal/store"
	"github.com/talentgrid/jobpipe/pkg/openai"
)

// TokenPrefix prefixes every correlation token in batch request lines.
const TokenPrefix = "job_"

// CustomID builds the correlation token for a record.
func CustomID(id uuid.UUID) string {
	return TokenPrefix + id.String()
}

// ParseCustomID recovers the record ID from a correlation token.
func ParseCustomID(token string) (uuid.UUID, error) {
	raw, ok := strings.CutPrefix(token, TokenPrefix)
	if !ok {
		return uuid.Nil, eris.Errorf("batch: custom_id %q missing %q prefix", token, TokenPrefix)
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, eris.Wrapf(err, "batch: parse custom_id %q", token)
	}
	return id, nil
}

// Applier stages parsed result bodies for one domain and flushes them to the
// store in bulk.
type Applier interface {
	// Add validates one result body for the given record and stages its
	// mutation. A returned error routes the record to escalation.
	Add(id uuid.UUID, body json.RawMessage) error

	// Staged reports the number of mutations waiting to be flushed.
	Staged() int

	// Flush writes all staged mutations and clears the stage.
	Flush(ctx context.Context) error
}

// Domain describes one enrichment domain to the four lifecycle components.
// The components carry all the sequencing; a Domain only supplies what
// differs: statuses, dirs, request shape, and result semantics.
type Domain struct {
	Name        model.Domain
	Endpoint    string
	ChunkSize   int
	MaxInFlight int
	BatchDir    string
	ResultDir   string

	// BuildLine renders one record as a batch request line.
	BuildLine func(r model.Record) (openai.RequestLine, error)

	// Prefilter may resolve records without a remote batch (e.g. via the
	// location lookup cache) and returns the records that still need one.
	// Nil means no prefilter.
	Prefilter func(ctx context.Context, st store.Store, records []model.Record) ([]model.Record, error)

	// NewApplier builds the domain's result applier for one result file.
	// records holds the bulk-loaded records the file's lines refer to.
	NewApplier func(st store.Store, records map[uuid.UUID]model.Record) Applier
}

// FileScoped reports whether the domain chunks records per origin file.
func (d Domain) FileScoped() bool {
	return d.Name != model.DomainEmbedding
}
