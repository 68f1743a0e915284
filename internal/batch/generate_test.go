package batch

import (
	"bufio"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/internal/store"
	"github.com/talentgrid/jobpipe/pkg/openai"
)

func readArtifactIDs(t *testing.T, path string) []string {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var ids []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		var line openai.RequestLine
		require.NoError(t, json.Unmarshal(sc.Bytes(), &line))
		ids = append(ids, line.CustomID)
	}
	require.NoError(t, sc.Err())
	return ids
}

func TestGeneratorRun_ChunksOneFile(t *testing.T) {
	st := newFakeStore()
	d := testDomain(t, &fakeApplier{})

	fileID := uuid.New()
	page1 := []model.Record{titledRecord("a"), titledRecord("b")}
	page2 := []model.Record{titledRecord("c")}
	st.filePages[fileID] = [][]model.Record{page1, page2}

	n, err := NewGenerator(st, d).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	require.Len(t, st.created, 2)
	for i, b := range st.created {
		assert.Equal(t, model.DomainWorkplace, b.Domain)
		require.NotNil(t, b.FileID)
		assert.Equal(t, fileID, *b.FileID)
		assert.Equal(t, model.BatchPending, b.Status)
		assert.True(t, strings.HasPrefix(b.ArtifactPath, "workplace_"+fileID.String()), "artifact %d named %s", i, b.ArtifactPath)
		assert.True(t, strings.HasSuffix(b.ArtifactPath, ".jsonl"))
	}

	// Artifact lines correlate back to the chunk's records.
	got := readArtifactIDs(t, filepath.Join(d.BatchDir, st.created[0].ArtifactPath))
	want := []string{CustomID(page1[0].ID), CustomID(page1[1].ID)}
	assert.Equal(t, want, got)
	assert.Equal(t, []uuid.UUID{page1[0].ID, page1[1].ID}, st.createdIDs[0])
}

func TestGeneratorRun_EscalatesUnbuildableRecords(t *testing.T) {
	st := newFakeStore()
	d := testDomain(t, &fakeApplier{})

	fileID := uuid.New()
	good := titledRecord("good")
	bad := model.Record{ID: uuid.New(), FileID: fileID, Status: model.StatusIngested, IsValid: true}
	st.filePages[fileID] = [][]model.Record{{good, bad}}

	n, err := NewGenerator(st, d).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	assert.Equal(t, []uuid.UUID{bad.ID}, st.allEscalated())
	assert.Equal(t, []model.Status{model.StatusIngested}, st.escalatedFrom,
		"skipped records escalate from the entry status")
	assert.Equal(t, []uuid.UUID{good.ID}, st.createdIDs[0])
}

func TestGeneratorRun_AllUnbuildableSkipsBatch(t *testing.T) {
	st := newFakeStore()
	d := testDomain(t, &fakeApplier{})

	fileID := uuid.New()
	bad := model.Record{ID: uuid.New(), FileID: fileID, Status: model.StatusIngested, IsValid: true}
	st.filePages[fileID] = [][]model.Record{{bad}, nil}

	n, err := NewGenerator(st, d).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, st.created)
	assert.Equal(t, []uuid.UUID{bad.ID}, st.allEscalated())

	// The empty artifact must not linger.
	entries, err := os.ReadDir(d.BatchDir)
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestGeneratorRun_PrefilterResolvesFinalChunk(t *testing.T) {
	st := newFakeStore()
	d := testDomain(t, &fakeApplier{})
	d.Prefilter = func(_ context.Context, _ store.Store, records []model.Record) ([]model.Record, error) {
		return nil, nil
	}

	fileID := uuid.New()
	st.filePages[fileID] = [][]model.Record{{titledRecord("a")}}

	n, err := NewGenerator(st, d).Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
	assert.Empty(t, st.created, "everything resolved locally, no batch needed")
}

func TestGeneratorRun_Unscoped(t *testing.T) {
	st := newFakeStore()
	d := testDomain(t, &fakeApplier{})
	d.Name = model.DomainEmbedding
	d.Endpoint = openai.EndpointEmbeddings

	page1 := []model.Record{titledRecord("a"), titledRecord("b")}
	page2 := []model.Record{titledRecord("c")}
	st.embeddingPages = [][]model.Record{page1, page2}

	n, err := NewGenerator(st, d).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, b := range st.created {
		assert.Nil(t, b.FileID, "embedding batches are not file-scoped")
		assert.True(t, strings.HasPrefix(b.ArtifactPath, "embedding_"))
	}
}
