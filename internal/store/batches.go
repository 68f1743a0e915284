package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/talentgrid/jobpipe/internal/model"
)

const batchColumns = `id, file_id, artifact_path, remote_file_id, remote_batch_id,
	status, error, created_at, submitted_at, completed_at`

func scanBatch(row pgx.Row, d model.Domain) (model.BatchRecord, error) {
	b := model.BatchRecord{Domain: d}
	err := row.Scan(
		&b.ID, &b.FileID, &b.ArtifactPath, &b.RemoteFileID, &b.RemoteBatch,
		&b.Status, &b.Error, &b.CreatedAt, &b.SubmittedAt, &b.CompletedAt,
	)
	return b, err
}

func (s *PostgresStore) collectBatches(ctx context.Context, d model.Domain, where string) ([]model.BatchRecord, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT `+batchColumns+` FROM `+batchTable(d)+` WHERE `+where+` ORDER BY created_at`,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: list %s batches", d)
	}
	defer rows.Close()

	var batches []model.BatchRecord
	for rows.Next() {
		b, err := scanBatch(rows, d)
		if err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch")
		}
		batches = append(batches, b)
	}
	return batches, eris.Wrap(rows.Err(), "postgres: iterate batches")
}

// CreateBatch inserts the tracking row and advances the chunk's records to the
// domain's generated status in one transaction.
func (s *PostgresStore) CreateBatch(ctx context.Context, batch model.BatchRecord, recordIDs []uuid.UUID) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: begin create batch")
	}
	defer tx.Rollback(ctx)

	_, err = tx.Exec(ctx,
		`INSERT INTO `+batchTable(batch.Domain)+` (id, file_id, artifact_path, status, created_at)
		 VALUES ($1, $2, $3, $4, $5)`,
		batch.ID, batch.FileID, batch.ArtifactPath, string(batch.Status), batch.CreatedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: insert %s batch", batch.Domain)
	}

	// The embedding domain leaves record statuses alone until results apply.
	from := batch.Domain.EntryStatus()
	to := batch.Domain.GeneratedStatus()
	if from != to && len(recordIDs) > 0 {
		_, err = tx.Exec(ctx,
			`UPDATE jobs SET status = $2 WHERE id = ANY($1) AND status = $3`,
			recordIDs, string(to), string(from),
		)
		if err != nil {
			return eris.Wrapf(err, "postgres: advance records for %s batch", batch.Domain)
		}
	}

	return eris.Wrap(tx.Commit(ctx), "postgres: commit create batch")
}

func (s *PostgresStore) PendingBatches(ctx context.Context, d model.Domain) ([]model.BatchRecord, error) {
	return s.collectBatches(ctx, d, `status = 'pending'`)
}

func (s *PostgresStore) SubmittedBatches(ctx context.Context, d model.Domain) ([]model.BatchRecord, error) {
	return s.collectBatches(ctx, d, `status = 'submitted'`)
}

// CountInFlight counts submitted batches. The in-flight cap is enforced by
// counting rows, not by locks; concurrent submitters may briefly overshoot.
func (s *PostgresStore) CountInFlight(ctx context.Context, d model.Domain) (int, error) {
	var count int
	err := s.pool.QueryRow(ctx,
		`SELECT COUNT(*) FROM `+batchTable(d)+` WHERE status = 'submitted'`,
	).Scan(&count)
	return count, eris.Wrapf(err, "postgres: count in-flight %s batches", d)
}

func (s *PostgresStore) MarkBatchSubmitted(ctx context.Context, d model.Domain, id uuid.UUID, remoteFileID, remoteBatchID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE `+batchTable(d)+`
		 SET status = 'submitted', remote_file_id = $2, remote_batch_id = $3, submitted_at = $4
		 WHERE id = $1`,
		id, remoteFileID, remoteBatchID, time.Now().UTC(),
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark batch submitted %s", id)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) MarkBatchStatus(ctx context.Context, d model.Domain, id uuid.UUID, status model.BatchStatus, errMsg string) error {
	var msg *string
	if errMsg != "" {
		msg = &errMsg
	}
	var completedAt *time.Time
	if status.Terminal() {
		now := time.Now().UTC()
		completedAt = &now
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE `+batchTable(d)+`
		 SET status = $2, error = COALESCE($3, error), completed_at = COALESCE($4, completed_at)
		 WHERE id = $1`,
		id, string(status), msg, completedAt,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: mark batch %s %s", id, status)
	}
	if tag.RowsAffected() == 0 {
		return eris.Errorf("batch not found: %s", id)
	}
	return nil
}

func (s *PostgresStore) BatchStatusCounts(ctx context.Context, d model.Domain) ([]StatusCount, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT status, COUNT(*) FROM `+batchTable(d)+` GROUP BY status ORDER BY COUNT(*) DESC`,
	)
	if err != nil {
		return nil, eris.Wrapf(err, "postgres: %s batch status counts", d)
	}
	defer rows.Close()

	var counts []StatusCount
	for rows.Next() {
		var c StatusCount
		if err := rows.Scan(&c.Status, &c.Count); err != nil {
			return nil, eris.Wrap(err, "postgres: scan batch status count")
		}
		counts = append(counts, c)
	}
	return counts, eris.Wrap(rows.Err(), "postgres: iterate batch status counts")
}
