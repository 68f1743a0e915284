// Package model defines the record, batch-tracking, and status types shared by
// every pipeline stage.
package model

import (
	"time"

	"github.com/google/uuid"
)

// Record is one enrichable job posting. Enrichment fields are written
// progressively by later stages; nil means "not yet produced".
type Record struct {
	ID           uuid.UUID
	FileID       uuid.UUID
	Status       Status
	IsValid      bool
	DateInserted time.Time

	// Fields captured at ingestion.
	Portal         *string
	Source         *string
	Locale         *string
	Title          *string
	URL            *string
	Description    *string
	CompanyName    *string
	CompanyURL     *string
	EmploymentType *string
	DatePosted     *time.Time
	ValidThrough   *time.Time

	// Raw location strings from the source document.
	Location *string
	Locality *string
	Region   *string
	Country  *string
	Postcode *string

	// Workplace classification outputs.
	GeneratedWorkplace           *string
	GeneratedWorkplaceInferred   *bool
	GeneratedWorkplaceConfidence *string

	// Location normalization outputs.
	GeneratedCity    *string
	GeneratedState   *string
	GeneratedCountry *string

	// Geocoding outputs.
	Latitude  *float64
	Longitude *float64

	// Per-domain retry counters, monotone until the record goes terminal.
	WorkplaceRetries int
	LocationRetries  int
}

// OriginFile is one ingested source file; it owns many Records and is
// immutable after creation.
type OriginFile struct {
	ID          uuid.UUID
	Filename    string
	ProcessedAt time.Time
}

// EmbeddingDim is the width of the vectors produced by the embedding domain.
const EmbeddingDim = 1536

// Embedding is the vector row owned one-to-one by a record.
type Embedding struct {
	RecordID uuid.UUID
	Vector   []float32
}
