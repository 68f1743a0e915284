package model

import (
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
)

// BatchStatus is the strict state machine of a batch tracking record. Unlike
// record statuses there are no resets: pending -> submitted -> one terminal.
type BatchStatus string

const (
	BatchPending   BatchStatus = "pending"
	BatchSubmitted BatchStatus = "submitted"
	BatchCompleted BatchStatus = "completed"
	BatchFailed    BatchStatus = "failed"
	BatchExpired   BatchStatus = "expired"
	BatchCancelled BatchStatus = "cancelled"
)

var batchTransitions = map[BatchStatus][]BatchStatus{
	BatchPending:   {BatchSubmitted, BatchFailed},
	BatchSubmitted: {BatchCompleted, BatchFailed, BatchExpired, BatchCancelled},
}

// CanTransition reports whether from -> to is legal for a tracking record.
func (s BatchStatus) CanTransition(to BatchStatus) bool {
	for _, next := range batchTransitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether the batch will never change state again.
func (s BatchStatus) Terminal() bool {
	switch s {
	case BatchCompleted, BatchFailed, BatchExpired, BatchCancelled:
		return true
	}
	return false
}

// RemoteBatchStatus maps an OpenAI batch status string to the local
// BatchStatus. ok is false while the remote batch is still processing
// (validating, in_progress, finalizing, cancelling) and the tracking record
// must be left untouched for the next poll.
func RemoteBatchStatus(remote string) (BatchStatus, bool, error) {
	switch remote {
	case "completed":
		return BatchCompleted, true, nil
	case "failed":
		return BatchFailed, true, nil
	case "expired":
		return BatchExpired, true, nil
	case "cancelled":
		return BatchCancelled, true, nil
	case "validating", "in_progress", "finalizing", "cancelling":
		return "", false, nil
	default:
		return "", false, eris.Errorf("model: unknown remote batch status %q", remote)
	}
}

// BatchRecord is the local ledger row for one outstanding unit of remote
// asynchronous work. Each enrichment domain has its own table of these with
// an identical shape.
type BatchRecord struct {
	ID           uuid.UUID
	Domain       Domain
	FileID       *uuid.UUID // nil for embedding batches, which are not file-scoped
	ArtifactPath string
	RemoteFileID *string
	RemoteBatch  *string
	Status       BatchStatus
	Error        *string
	CreatedAt    time.Time
	SubmittedAt  *time.Time
	CompletedAt  *time.Time
}
