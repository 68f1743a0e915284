package batch

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/pkg/openai"
)

func submittedBatch(d Domain, remoteID string) model.BatchRecord {
	now := time.Now().UTC()
	return model.BatchRecord{
		ID:           uuid.New(),
		Domain:       d.Name,
		ArtifactPath: "workplace_f1_aaaa.jsonl",
		RemoteBatch:  &remoteID,
		Status:       model.BatchSubmitted,
		CreatedAt:    now,
		SubmittedAt:  &now,
	}
}

func TestPollerRun_InProgressLeavesBatch(t *testing.T) {
	st := newFakeStore()
	d := testDomain(t, &fakeApplier{})
	b := submittedBatch(d, "batch-1")
	st.active = []model.BatchRecord{b}

	client := &fakeClient{getBatches: map[string]*openai.Batch{
		"batch-1": {ID: "batch-1", Status: "in_progress"},
	}}

	n, err := NewPoller(st, client, d).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, st.statuses, "tracking row untouched while remote is processing")
}

func TestPollerRun_CompletedDownloadsResults(t *testing.T) {
	st := newFakeStore()
	d := testDomain(t, &fakeApplier{})
	b := submittedBatch(d, "batch-1")
	st.active = []model.BatchRecord{b}

	client := &fakeClient{
		getBatches: map[string]*openai.Batch{
			"batch-1": {ID: "batch-1", Status: "completed", OutputFileID: "file-out", ErrorFileID: "file-err"},
		},
		fileContents: map[string]string{
			"file-out": "result line\n",
			"file-err": "error line\n",
		},
	}

	n, err := NewPoller(st, client, d).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.BatchCompleted, st.statuses[b.ID])

	out, err := os.ReadFile(filepath.Join(d.ResultDir, b.ArtifactPath))
	require.NoError(t, err)
	assert.Equal(t, "result line\n", string(out))

	errFile, err := os.ReadFile(filepath.Join(d.ResultDir, b.ArtifactPath+".errors"))
	require.NoError(t, err)
	assert.Equal(t, "error line\n", string(errFile))

	// No partial files left behind.
	entries, err := os.ReadDir(d.ResultDir)
	require.NoError(t, err)
	assert.Len(t, entries, 2)
}

func TestPollerRun_FailedMarksWithoutDownload(t *testing.T) {
	st := newFakeStore()
	d := testDomain(t, &fakeApplier{})
	b := submittedBatch(d, "batch-1")
	st.active = []model.BatchRecord{b}

	client := &fakeClient{getBatches: map[string]*openai.Batch{
		"batch-1": {ID: "batch-1", Status: "expired"},
	}}

	n, err := NewPoller(st, client, d).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, model.BatchExpired, st.statuses[b.ID])
	assert.Equal(t, "remote batch expired", st.statusErrs[b.ID])

	entries, err := os.ReadDir(d.ResultDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestPollerRun_DownloadFailureLeavesSubmitted(t *testing.T) {
	st := newFakeStore()
	d := testDomain(t, &fakeApplier{})
	b := submittedBatch(d, "batch-1")
	st.active = []model.BatchRecord{b}

	client := &fakeClient{
		getBatches: map[string]*openai.Batch{
			"batch-1": {ID: "batch-1", Status: "completed", OutputFileID: "file-out"},
		},
		downloadErr: &openai.APIError{StatusCode: 403, Body: "forbidden"},
	}

	n, err := NewPoller(st, client, d).Run(context.Background())
	require.NoError(t, err, "poll failures are retried next run, not fatal")
	assert.Zero(t, n)
	assert.Empty(t, st.statuses, "batch stays submitted until the download lands")

	entries, err := os.ReadDir(d.ResultDir)
	require.NoError(t, err)
	assert.Empty(t, entries, "partial download removed")
}

func TestPollerRun_DownloadRecoversAfterRetries(t *testing.T) {
	st := newFakeStore()
	d := testDomain(t, &fakeApplier{})
	b := submittedBatch(d, "batch-1")
	st.active = []model.BatchRecord{b}

	client := &fakeClient{
		getBatches: map[string]*openai.Batch{
			"batch-1": {ID: "batch-1", Status: "completed", OutputFileID: "file-out"},
		},
		fileContents:     map[string]string{"file-out": "result line\n"},
		downloadFailures: 2,
	}

	p := NewPoller(st, client, d)
	p.retry.InitialBackoff = time.Millisecond
	p.retry.MaxBackoff = 5 * time.Millisecond

	n, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 3, client.downloads, "two failures then a success")
	assert.Equal(t, model.BatchCompleted, st.statuses[b.ID])

	out, err := os.ReadFile(filepath.Join(d.ResultDir, b.ArtifactPath))
	require.NoError(t, err)
	assert.Equal(t, "result line\n", string(out))
}

func TestPollerRun_MissingRemoteIDIsSkipped(t *testing.T) {
	st := newFakeStore()
	d := testDomain(t, &fakeApplier{})
	st.active = []model.BatchRecord{{
		ID:           uuid.New(),
		Domain:       d.Name,
		ArtifactPath: "workplace_f1_aaaa.jsonl",
		Status:       model.BatchSubmitted,
	}}

	n, err := NewPoller(st, &fakeClient{}, d).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}
