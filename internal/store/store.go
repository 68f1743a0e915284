// Package store persists job records, batch tracking rows, and geocoding
// reference data in PostgreSQL.
package store

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/talentgrid/jobpipe/internal/model"
)

// WorkplaceUpdate is one successfully parsed workplace classification.
type WorkplaceUpdate struct {
	ID         uuid.UUID
	Workplace  string
	Inferred   bool
	Confidence string
}

// LocationUpdate is one successfully parsed location normalization. Status is
// the resulting record status; Valid is false for non-US postings.
type LocationUpdate struct {
	ID      uuid.UUID
	City    string
	State   string
	Country string
	Status  model.Status
	Valid   bool
}

// CoordinateUpdate writes geocoded coordinates onto a record.
type CoordinateUpdate struct {
	ID        uuid.UUID
	Latitude  float64
	Longitude float64
}

// StatusCount is one row of a status breakdown.
type StatusCount struct {
	Status string
	Count  int
}

// Store defines the persistence operations used by the pipeline stages.
type Store interface {
	Ping(ctx context.Context) error
	Migrate(ctx context.Context) error
	Close() error

	// Ingestion.
	InsertFile(ctx context.Context, filename string, processedAt time.Time) (*model.OriginFile, error)
	InsertRecords(ctx context.Context, records []model.Record) (inserted, duplicates int, err error)

	// Generation.
	EligibleFileIDs(ctx context.Context, d model.Domain) ([]uuid.UUID, error)
	EligibleRecordsByFile(ctx context.Context, d model.Domain, fileID uuid.UUID, limit, offset int) ([]model.Record, error)
	EligibleEmbeddingRecords(ctx context.Context, limit, offset int) ([]model.Record, error)
	CreateBatch(ctx context.Context, batch model.BatchRecord, recordIDs []uuid.UUID) error

	// Submission and polling.
	PendingBatches(ctx context.Context, d model.Domain) ([]model.BatchRecord, error)
	SubmittedBatches(ctx context.Context, d model.Domain) ([]model.BatchRecord, error)
	CountInFlight(ctx context.Context, d model.Domain) (int, error)
	MarkBatchSubmitted(ctx context.Context, d model.Domain, id uuid.UUID, remoteFileID, remoteBatchID string) error
	MarkBatchStatus(ctx context.Context, d model.Domain, id uuid.UUID, status model.BatchStatus, errMsg string) error

	// Result application.
	RecordsByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Record, error)
	ApplyWorkplace(ctx context.Context, updates []WorkplaceUpdate) error
	ApplyLocation(ctx context.Context, updates []LocationUpdate) error
	ApplyCoordinates(ctx context.Context, updates []CoordinateUpdate) error
	ApplyEmbeddings(ctx context.Context, embeddings []model.Embedding) error
	EscalateRecords(ctx context.Context, d model.Domain, ids []uuid.UUID, from model.Status) error
	MarkRecordsStatus(ctx context.Context, ids []uuid.UUID, status model.Status) error
	MarkRecordsInvalid(ctx context.Context, ids []uuid.UUID, status model.Status) error

	// Geocoding reference data.
	SeedGeolocations(ctx context.Context, locations []model.Geolocation) (int64, error)
	AllGeolocations(ctx context.Context) ([]model.Geolocation, error)
	GeocodeCandidates(ctx context.Context, limit int) ([]model.Record, error)

	// Location lookup cache.
	LookupLocations(ctx context.Context, keys []string) (map[string]model.LocationLookup, error)
	SaveLocationLookups(ctx context.Context, lookups []model.LocationLookup) error
	ApplyLocationLookups(ctx context.Context, updates []LocationUpdate) error

	// Reporting.
	RecordStatusCounts(ctx context.Context) ([]StatusCount, error)
	BatchStatusCounts(ctx context.Context, d model.Domain) ([]StatusCount, error)
}
