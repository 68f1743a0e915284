package store

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rotisserie/eris"

	"github.com/talentgrid/jobpipe/internal/db"
	"github.com/talentgrid/jobpipe/internal/model"
)

// recordColumns is the canonical column order for jobs selects and inserts.
var recordColumns = []string{
	"id", "file_id", "status", "is_valid", "date_inserted",
	"portal", "source", "locale", "title", "url", "description",
	"company_name", "company_url", "employment_type", "date_posted", "valid_through",
	"location", "locality", "region", "country", "postcode",
	"generated_workplace", "generated_workplace_inferred", "generated_workplace_confidence",
	"generated_city", "generated_state", "generated_country",
	"latitude", "longitude", "workplace_retries", "location_retries",
}

const recordSelect = `SELECT id, file_id, status, is_valid, date_inserted,
	portal, source, locale, title, url, description,
	company_name, company_url, employment_type, date_posted, valid_through,
	location, locality, region, country, postcode,
	generated_workplace, generated_workplace_inferred, generated_workplace_confidence,
	generated_city, generated_state, generated_country,
	latitude, longitude, workplace_retries, location_retries
FROM jobs`

func scanRecord(row pgx.Row) (model.Record, error) {
	var r model.Record
	err := row.Scan(
		&r.ID, &r.FileID, &r.Status, &r.IsValid, &r.DateInserted,
		&r.Portal, &r.Source, &r.Locale, &r.Title, &r.URL, &r.Description,
		&r.CompanyName, &r.CompanyURL, &r.EmploymentType, &r.DatePosted, &r.ValidThrough,
		&r.Location, &r.Locality, &r.Region, &r.Country, &r.Postcode,
		&r.GeneratedWorkplace, &r.GeneratedWorkplaceInferred, &r.GeneratedWorkplaceConfidence,
		&r.GeneratedCity, &r.GeneratedState, &r.GeneratedCountry,
		&r.Latitude, &r.Longitude, &r.WorkplaceRetries, &r.LocationRetries,
	)
	return r, err
}

func collectRecords(rows pgx.Rows) ([]model.Record, error) {
	defer rows.Close()
	var records []model.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan record")
		}
		records = append(records, r)
	}
	return records, eris.Wrap(rows.Err(), "postgres: iterate records")
}

func recordRow(r model.Record) []any {
	return []any{
		r.ID, r.FileID, string(r.Status), r.IsValid, r.DateInserted,
		r.Portal, r.Source, r.Locale, r.Title, r.URL, r.Description,
		r.CompanyName, r.CompanyURL, r.EmploymentType, r.DatePosted, r.ValidThrough,
		r.Location, r.Locality, r.Region, r.Country, r.Postcode,
		r.GeneratedWorkplace, r.GeneratedWorkplaceInferred, r.GeneratedWorkplaceConfidence,
		r.GeneratedCity, r.GeneratedState, r.GeneratedCountry,
		r.Latitude, r.Longitude, r.WorkplaceRetries, r.LocationRetries,
	}
}

func (s *PostgresStore) InsertFile(ctx context.Context, filename string, processedAt time.Time) (*model.OriginFile, error) {
	f := model.OriginFile{
		ID:          uuid.New(),
		Filename:    filename,
		ProcessedAt: processedAt.UTC(),
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO files (id, filename, processed_at) VALUES ($1, $2, $3)`,
		f.ID, f.Filename, f.ProcessedAt,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: insert file %s", filename)
	}
	return &f, nil
}

// InsertRecords bulk-inserts records via COPY. On a unique violation the whole
// COPY aborts, so it degrades to row-at-a-time inserts that skip duplicates.
func (s *PostgresStore) InsertRecords(ctx context.Context, records []model.Record) (int, int, error) {
	if len(records) == 0 {
		return 0, 0, nil
	}

	rows := make([][]any, len(records))
	for i, r := range records {
		rows[i] = recordRow(r)
	}

	n, err := db.CopyFrom(ctx, s.pool, "jobs", recordColumns, rows)
	if err == nil {
		return int(n), 0, nil
	}

	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != "23505" {
		return 0, 0, eris.Wrap(err, "postgres: bulk insert records")
	}

	// Duplicate in the batch: insert one row at a time, skipping conflicts.
	inserted, duplicates := 0, 0
	for _, r := range records {
		tag, err := s.pool.Exec(ctx,
			`INSERT INTO jobs (`+joinColumns(recordColumns)+`)
			 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29,$30,$31)
			 ON CONFLICT (url) DO NOTHING`,
			recordRow(r)...,
		)
		if err != nil {
			return inserted, duplicates, eris.Wrapf(err, "postgres: insert record %s", r.ID)
		}
		if tag.RowsAffected() == 0 {
			duplicates++
		} else {
			inserted++
		}
	}
	return inserted, duplicates, nil
}

func joinColumns(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

// eligibleWhere is the per-domain eligibility predicate: entry status, output
// not yet produced, record still valid.
func eligibleWhere(d model.Domain) string {
	switch d {
	case model.DomainWorkplace:
		return `status = 'ingested' AND is_valid AND generated_workplace IS NULL`
	case model.DomainLocation:
		return `status = 'workplace_classified' AND is_valid AND generated_city IS NULL`
	default:
		return `is_valid AND generated_country = 'US'
			AND NOT EXISTS (SELECT 1 FROM job_embeddings e WHERE e.job_id = jobs.id)`
	}
}

func (s *PostgresStore) EligibleFileIDs(ctx context.Context, d model.Domain) ([]uuid.UUID, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT DISTINCT file_id FROM jobs WHERE `+eligibleWhere(d)+` ORDER BY file_id`,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: eligible file ids for %s", d)
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, eris.Wrap(err, "postgres: scan file id")
		}
		ids = append(ids, id)
	}
	return ids, eris.Wrap(rows.Err(), "postgres: iterate file ids")
}

func (s *PostgresStore) EligibleRecordsByFile(ctx context.Context, d model.Domain, fileID uuid.UUID, limit, offset int) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		recordSelect+` WHERE file_id = $1 AND `+eligibleWhere(d)+`
		 ORDER BY date_inserted, id LIMIT $2 OFFSET $3`,
		fileID, limit, offset,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: eligible records for %s file %s", d, fileID)
	}
	return collectRecords(rows)
}

func (s *PostgresStore) EligibleEmbeddingRecords(ctx context.Context, limit, offset int) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		recordSelect+` WHERE `+eligibleWhere(model.DomainEmbedding)+`
		 ORDER BY date_inserted, id LIMIT $1 OFFSET $2`,
		limit, offset,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: eligible embedding records")
	}
	return collectRecords(rows)
}

func (s *PostgresStore) RecordsByIDs(ctx context.Context, ids []uuid.UUID) ([]model.Record, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, recordSelect+` WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: records by ids")
	}
	return collectRecords(rows)
}

func (s *PostgresStore) ApplyWorkplace(ctx context.Context, updates []WorkplaceUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin apply workplace")
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		// Status guard keeps re-applied result files idempotent.
		_, err := tx.Exec(ctx,
			`UPDATE jobs SET generated_workplace = $2, generated_workplace_inferred = $3,
			        generated_workplace_confidence = $4, status = 'workplace_classified'
			 WHERE id = $1 AND status = 'llm_batches_generated'`,
			u.ID, u.Workplace, u.Inferred, u.Confidence,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: apply workplace %s", u.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit apply workplace")
}

func (s *PostgresStore) ApplyLocation(ctx context.Context, updates []LocationUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin apply location")
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		_, err := tx.Exec(ctx,
			`UPDATE jobs SET generated_city = $2, generated_state = $3, generated_country = $4,
			        status = $5, is_valid = $6
			 WHERE id = $1 AND status = 'location_batches_generated'`,
			u.ID, u.City, u.State, u.Country, string(u.Status), u.Valid,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: apply location %s", u.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit apply location")
}

// ApplyLocationLookups resolves records straight from the lookup cache,
// jumping them from workplace_classified past the location batch.
func (s *PostgresStore) ApplyLocationLookups(ctx context.Context, updates []LocationUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin apply lookups")
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		_, err := tx.Exec(ctx,
			`UPDATE jobs SET generated_city = $2, generated_state = $3, generated_country = $4,
			        status = $5, is_valid = $6
			 WHERE id = $1 AND status = 'workplace_classified'`,
			u.ID, u.City, u.State, u.Country, string(u.Status), u.Valid,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: apply lookup %s", u.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit apply lookups")
}

func (s *PostgresStore) ApplyCoordinates(ctx context.Context, updates []CoordinateUpdate) error {
	if len(updates) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin apply coordinates")
	}
	defer tx.Rollback(ctx)

	for _, u := range updates {
		_, err := tx.Exec(ctx,
			`UPDATE jobs SET latitude = $2, longitude = $3, status = 'geocoded'
			 WHERE id = $1 AND status = 'location_classified'`,
			u.ID, u.Latitude, u.Longitude,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: apply coordinates %s", u.ID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit apply coordinates")
}

// ApplyEmbeddings stores vectors and advances records to embedded. Records
// that already have a vector are left untouched.
func (s *PostgresStore) ApplyEmbeddings(ctx context.Context, embeddings []model.Embedding) error {
	if len(embeddings) == 0 {
		return nil
	}
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin apply embeddings")
	}
	defer tx.Rollback(ctx)

	for _, e := range embeddings {
		_, err := tx.Exec(ctx,
			`INSERT INTO job_embeddings (job_id, embedding) VALUES ($1, $2::vector)
			 ON CONFLICT (job_id) DO NOTHING`,
			e.RecordID, encodeVector(e.Vector),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: insert embedding %s", e.RecordID)
		}
		_, err = tx.Exec(ctx,
			`UPDATE jobs SET status = 'embedded' WHERE id = $1`,
			e.RecordID,
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: mark embedded %s", e.RecordID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: commit apply embeddings")
}

// EscalateRecords routes failed records through the retry policy in one
// statement: increment the domain counter, then either roll back one step or
// mark the record permanently failed and invalid. Only records still at the
// caller's observed status are touched, so replaying a result file after a
// crash cannot increment a counter twice for the same failure.
func (s *PostgresStore) EscalateRecords(ctx context.Context, d model.Domain, ids []uuid.UUID, from model.Status) error {
	if len(ids) == 0 {
		return nil
	}

	var query string
	switch d {
	case model.DomainWorkplace:
		query = `UPDATE jobs SET workplace_retries = workplace_retries + 1,
			status = CASE WHEN workplace_retries + 1 >= $2 THEN 'failed - llm-workplace-generation' ELSE 'ingested' END,
			is_valid = CASE WHEN workplace_retries + 1 >= $2 THEN false ELSE is_valid END
			WHERE id = ANY($1) AND status = $3`
	case model.DomainLocation:
		query = `UPDATE jobs SET location_retries = location_retries + 1,
			status = CASE WHEN location_retries + 1 >= $2 THEN 'failed - llm-location-generation' ELSE 'workplace_classified' END,
			is_valid = CASE WHEN location_retries + 1 >= $2 THEN false ELSE is_valid END
			WHERE id = ANY($1) AND status = $3`
	default:
		// The embedding domain has no retry counter; failed lines are simply
		// re-selected on the next generation pass.
		return nil
	}

	_, err := s.pool.Exec(ctx, query, ids, model.MaxDomainRetries, string(from))
	return eris.Wrapf(err, "postgres: escalate %s records", d)
}

func (s *PostgresStore) MarkRecordsStatus(ctx context.Context, ids []uuid.UUID, status model.Status) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2 WHERE id = ANY($1)`,
		ids, string(status),
	)
	return eris.Wrapf(err, "postgres: mark records %s", status)
}

func (s *PostgresStore) MarkRecordsInvalid(ctx context.Context, ids []uuid.UUID, status model.Status) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $2, is_valid = false WHERE id = ANY($1)`,
		ids, string(status),
	)
	return eris.Wrapf(err, "postgres: mark records invalid %s", status)
}

// GeocodeCandidates returns valid location_classified records. Processed rows
// leave the status, so callers page by re-querying until empty.
func (s *PostgresStore) GeocodeCandidates(ctx context.Context, limit int) ([]model.Record, error) {
	rows, err := s.pool.Query(ctx,
		recordSelect+` WHERE status = 'location_classified' AND is_valid
		 ORDER BY date_inserted, id LIMIT $1`,
		limit,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: geocode candidates")
	}
	return collectRecords(rows)
}

func (s *PostgresStore) RecordStatusCounts(ctx context.Context) ([]StatusCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM jobs GROUP BY status ORDER BY COUNT(*) DESC`,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: record status counts")
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan status count")
		}
		counts = append(counts, c)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate status counts")
}
