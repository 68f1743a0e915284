package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBatchStatusCanTransition(t *testing.T) {
	assert.True(t, BatchPending.CanTransition(BatchSubmitted))
	assert.True(t, BatchPending.CanTransition(BatchFailed))
	assert.True(t, BatchSubmitted.CanTransition(BatchCompleted))
	assert.True(t, BatchSubmitted.CanTransition(BatchExpired))
	assert.True(t, BatchSubmitted.CanTransition(BatchCancelled))

	assert.False(t, BatchPending.CanTransition(BatchCompleted), "pending may not skip submission")
	assert.False(t, BatchCompleted.CanTransition(BatchSubmitted), "terminal states have no exits")
	assert.False(t, BatchFailed.CanTransition(BatchSubmitted))
}

func TestBatchStatusTerminal(t *testing.T) {
	for _, s := range []BatchStatus{BatchCompleted, BatchFailed, BatchExpired, BatchCancelled} {
		assert.True(t, s.Terminal(), "%s should be terminal", s)
	}
	assert.False(t, BatchPending.Terminal())
	assert.False(t, BatchSubmitted.Terminal())
}

func TestRemoteBatchStatus(t *testing.T) {
	tests := []struct {
		remote  string
		want    BatchStatus
		settled bool
	}{
		{"completed", BatchCompleted, true},
		{"failed", BatchFailed, true},
		{"expired", BatchExpired, true},
		{"cancelled", BatchCancelled, true},
		{"validating", "", false},
		{"in_progress", "", false},
		{"finalizing", "", false},
		{"cancelling", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.remote, func(t *testing.T) {
			got, settled, err := RemoteBatchStatus(tt.remote)
			require.NoError(t, err)
			assert.Equal(t, tt.settled, settled)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRemoteBatchStatus_Unknown(t *testing.T) {
	_, _, err := RemoteBatchStatus("exploded")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown remote batch status")
}
