package pipeline

import (
	"context"
	"encoding/json"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/pkg/openai"
)

// embeddingResponse wraps a vector the way an embeddings result body carries it.
func embeddingResponse(t *testing.T, vector []float32) json.RawMessage {
	t.Helper()
	body, err := json.Marshal(map[string]any{
		"data": []map[string]any{{"embedding": vector}},
	})
	require.NoError(t, err)
	return body
}

// geocodedRecord is a record awaiting its embedding result.
func geocodedRecord() model.Record {
	return model.Record{
		ID:      uuid.New(),
		Status:  model.StatusGeocoded,
		IsValid: true,
	}
}

func TestEmbeddingApplierAdd(t *testing.T) {
	r := geocodedRecord()
	a := &embeddingApplier{st: newPipeStore(), records: recordsByID(r)}

	require.NoError(t, a.Add(r.ID, embeddingResponse(t, make([]float32, model.EmbeddingDim))))
	assert.Equal(t, 1, a.Staged())
	assert.Equal(t, r.ID, a.embeddings[0].RecordID)
}

func TestEmbeddingApplierAdd_WrongDimension(t *testing.T) {
	a := &embeddingApplier{st: newPipeStore()}

	err := a.Add(uuid.New(), embeddingResponse(t, make([]float32, 768)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "768 dimensions")
	assert.Zero(t, a.Staged())
}

func TestEmbeddingApplierAdd_RejectsReplayedResult(t *testing.T) {
	r := geocodedRecord()
	r.Status = model.StatusEmbedded
	a := &embeddingApplier{st: newPipeStore(), records: recordsByID(r)}

	err := a.Add(r.ID, embeddingResponse(t, make([]float32, model.EmbeddingDim)))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal status transition")
	assert.Zero(t, a.Staged())
}

func TestEmbeddingApplierAdd_EmptyResponse(t *testing.T) {
	a := &embeddingApplier{st: newPipeStore()}

	err := a.Add(uuid.New(), json.RawMessage(`{"data":[]}`))
	require.Error(t, err, "a result with no vector cannot be applied")
	assert.Zero(t, a.Staged())
}

func TestEmbeddingApplierFlush(t *testing.T) {
	st := newPipeStore()
	r := geocodedRecord()
	a := &embeddingApplier{st: st, records: recordsByID(r)}
	id := r.ID

	require.NoError(t, a.Add(id, embeddingResponse(t, make([]float32, model.EmbeddingDim))))
	require.NoError(t, a.Flush(context.Background()))

	require.Len(t, st.vectors, 1)
	require.Len(t, st.vectors[0], 1)
	assert.Equal(t, id, st.vectors[0][0].RecordID)
	assert.Len(t, st.vectors[0][0].Vector, model.EmbeddingDim)
	assert.Zero(t, a.Staged())
}

func TestBuildEmbeddingLine(t *testing.T) {
	r := model.Record{
		ID:          uuid.New(),
		Title:       strp("Staff Engineer"),
		Description: strp("Build things."),
	}

	line, err := buildEmbeddingLine(testOpenAIConfig(), r)
	require.NoError(t, err)
	assert.Equal(t, "job_"+r.ID.String(), line.CustomID)
	assert.Equal(t, "POST", line.Method)
	assert.Equal(t, openai.EndpointEmbeddings, line.URL)

	var body openai.EmbeddingBody
	require.NoError(t, json.Unmarshal(line.Body, &body))
	assert.Equal(t, "text-embedding-3-small", body.Model)
	assert.Equal(t, "Staff Engineer\n\nBuild things.", body.Input)
}

func TestBuildEmbeddingLine_TruncatesInput(t *testing.T) {
	long := strings.Repeat("y", embeddingInputMaxLen+500)
	r := model.Record{ID: uuid.New(), Title: strp("t"), Description: &long}

	line, err := buildEmbeddingLine(testOpenAIConfig(), r)
	require.NoError(t, err)

	var body openai.EmbeddingBody
	require.NoError(t, json.Unmarshal(line.Body, &body))
	assert.Len(t, body.Input, embeddingInputMaxLen)
}
