package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/talentgrid/jobpipe/internal/db"
	"github.com/talentgrid/jobpipe/internal/model"
)

// PostgresStore implements Store using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32
	MinConns int32
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the hottest store operations.
var preparedStatements = map[string]string{
	"count_in_flight_workplace": `SELECT COUNT(*) FROM workplace_batches WHERE status = 'submitted'`,
	"count_in_flight_location":  `SELECT COUNT(*) FROM location_batches WHERE status = 'submitted'`,
	"count_in_flight_embedding": `SELECT COUNT(*) FROM embedding_batches WHERE status = 'submitted'`,
	"insert_file":               `INSERT INTO files (id, filename, processed_at) VALUES ($1, $2, $3)`,
	"lookup_location":           `SELECT location, city, state, country, confidence FROM location_lookups WHERE lower(location) = ANY($1)`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresWithPool wraps an existing pool, used by tests with pgxmock.
func NewPostgresWithPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need direct
// query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE EXTENSION IF NOT EXISTS vector;

CREATE TABLE IF NOT EXISTS files (
	id           UUID PRIMARY KEY,
	filename     TEXT NOT NULL UNIQUE,
	processed_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS jobs (
	id                             UUID PRIMARY KEY,
	file_id                        UUID NOT NULL REFERENCES files(id),
	status                         TEXT NOT NULL DEFAULT 'ingested',
	is_valid                       BOOLEAN NOT NULL DEFAULT true,
	date_inserted                  TIMESTAMPTZ NOT NULL DEFAULT now(),
	portal                         TEXT,
	source                         TEXT,
	locale                         TEXT,
	title                          TEXT,
	url                            TEXT UNIQUE,
	description                    TEXT,
	company_name                   TEXT,
	company_url                    TEXT,
	employment_type                TEXT,
	date_posted                    TIMESTAMPTZ,
	valid_through                  TIMESTAMPTZ,
	location                       TEXT,
	locality                       TEXT,
	region                         TEXT,
	country                        TEXT,
	postcode                       TEXT,
	generated_workplace            TEXT,
	generated_workplace_inferred   BOOLEAN,
	generated_workplace_confidence TEXT,
	generated_city                 TEXT,
	generated_state                TEXT,
	generated_country              TEXT,
	latitude                       DOUBLE PRECISION,
	longitude                      DOUBLE PRECISION,
	workplace_retries              INTEGER NOT NULL DEFAULT 0,
	location_retries               INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status) WHERE is_valid;
CREATE INDEX IF NOT EXISTS idx_jobs_file_id ON jobs(file_id);

CREATE TABLE IF NOT EXISTS job_embeddings (
	job_id    UUID PRIMARY KEY REFERENCES jobs(id),
	embedding VECTOR(1536) NOT NULL
);

CREATE TABLE IF NOT EXISTS workplace_batches (
	id              UUID PRIMARY KEY,
	file_id         UUID REFERENCES files(id),
	artifact_path   TEXT NOT NULL,
	remote_file_id  TEXT,
	remote_batch_id TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	submitted_at    TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS location_batches (
	id              UUID PRIMARY KEY,
	file_id         UUID REFERENCES files(id),
	artifact_path   TEXT NOT NULL,
	remote_file_id  TEXT,
	remote_batch_id TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	submitted_at    TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ
);

CREATE TABLE IF NOT EXISTS embedding_batches (
	id              UUID PRIMARY KEY,
	file_id         UUID REFERENCES files(id),
	artifact_path   TEXT NOT NULL,
	remote_file_id  TEXT,
	remote_batch_id TEXT,
	status          TEXT NOT NULL DEFAULT 'pending',
	error           TEXT,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
	submitted_at    TIMESTAMPTZ,
	completed_at    TIMESTAMPTZ
);

CREATE INDEX IF NOT EXISTS idx_workplace_batches_status ON workplace_batches(status);
CREATE INDEX IF NOT EXISTS idx_location_batches_status ON location_batches(status);
CREATE INDEX IF NOT EXISTS idx_embedding_batches_status ON embedding_batches(status);

CREATE TABLE IF NOT EXISTS location_lookups (
	location   TEXT PRIMARY KEY,
	city       TEXT NOT NULL,
	state      TEXT NOT NULL,
	country    TEXT NOT NULL,
	confidence INTEGER NOT NULL DEFAULT 0
);

CREATE INDEX IF NOT EXISTS idx_location_lookups_lower ON location_lookups (lower(location));

CREATE TABLE IF NOT EXISTS geolocations (
	city      TEXT NOT NULL,
	state     TEXT NOT NULL,
	latitude  DOUBLE PRECISION NOT NULL,
	longitude DOUBLE PRECISION NOT NULL,
	PRIMARY KEY (city, state)
);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

// batchTable maps a domain to its tracking table. The three tables share one
// shape; only the name differs.
func batchTable(d model.Domain) string {
	switch d {
	case model.DomainWorkplace:
		return "workplace_batches"
	case model.DomainLocation:
		return "location_batches"
	default:
		return "embedding_batches"
	}
}
