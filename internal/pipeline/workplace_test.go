package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/talentgrid/jobpipe/internal/config"
	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/pkg/openai"
)

// chatResponse wraps content the way a chat-completion result body carries it.
func chatResponse(content string) json.RawMessage {
	body, _ := json.Marshal(map[string]any{
		"choices": []map[string]any{
			{"message": map[string]string{"content": content}},
		},
	})
	return body
}

func testOpenAIConfig() config.OpenAIConfig {
	return config.OpenAIConfig{
		ChatModel:      "gpt-4o-mini",
		EmbeddingModel: "text-embedding-3-small",
		MaxTokens:      500,
	}
}

// batchedRecord is a record whose workplace batch is outstanding, the state
// results apply against.
func batchedRecord() model.Record {
	return model.Record{
		ID:      uuid.New(),
		Status:  model.StatusWorkplaceBatched,
		IsValid: true,
	}
}

func TestWorkplaceApplierAdd(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "explicit remote",
			content: `{"type":"REMOTE","inferred":false,"confidence":"EXPLICIT"}`,
		},
		{
			name:    "inferred hybrid",
			content: `{"type":"HYBRID","inferred":true,"confidence":"LIKELY"}`,
		},
		{
			name:    "onsite",
			content: `{"type":"ONSITE","inferred":true,"confidence":"GUESS"}`,
		},
		{
			name:    "empty content",
			content: "   ",
			wantErr: "empty workplace response",
		},
		{
			name:    "prose instead of json",
			content: "This job looks remote to me.",
			wantErr: "parse workplace payload",
		},
		{
			name:    "unknown type",
			content: `{"type":"WFH","inferred":true,"confidence":"GUESS"}`,
			wantErr: `unknown workplace type "WFH"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := batchedRecord()
			a := &workplaceApplier{st: newPipeStore(), records: recordsByID(r)}
			err := a.Add(r.ID, chatResponse(tt.content))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				assert.Zero(t, a.Staged())
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 1, a.Staged())
		})
	}
}

func TestWorkplaceApplierAdd_MalformedBody(t *testing.T) {
	a := &workplaceApplier{st: newPipeStore()}
	err := a.Add(uuid.New(), json.RawMessage(`"not an object`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse workplace response")
}

func TestWorkplaceApplierAdd_RejectsReplayedResult(t *testing.T) {
	// After a crash between flush and artifact cleanup the same result file is
	// read again; records already past the batched status must not re-stage.
	r := batchedRecord()
	r.Status = model.StatusWorkplaceClassified
	a := &workplaceApplier{st: newPipeStore(), records: recordsByID(r)}

	err := a.Add(r.ID, chatResponse(`{"type":"REMOTE","inferred":false,"confidence":"EXPLICIT"}`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "illegal status transition")
	assert.Zero(t, a.Staged())
}

func TestWorkplaceApplierFlush(t *testing.T) {
	st := newPipeStore()
	r := batchedRecord()
	a := &workplaceApplier{st: st, records: recordsByID(r)}
	id := r.ID

	require.NoError(t, a.Add(id, chatResponse(`{"type":"REMOTE","inferred":true,"confidence":"PROBABLY"}`)))
	require.NoError(t, a.Flush(context.Background()))

	require.Len(t, st.workplace, 1)
	require.Len(t, st.workplace[0], 1)
	got := st.workplace[0][0]
	assert.Equal(t, id, got.ID)
	assert.Equal(t, "REMOTE", got.Workplace)
	assert.True(t, got.Inferred)
	assert.Equal(t, "PROBABLY", got.Confidence)
	assert.Zero(t, a.Staged(), "flush resets the staging buffer")
}

func TestBuildWorkplaceLine(t *testing.T) {
	r := model.Record{
		ID:          uuid.New(),
		Title:       strp("Staff Engineer"),
		CompanyName: strp("Acme Corp"),
		Locality:    strp("Austin"),
		Region:      strp("TX"),
		Country:     strp("US"),
		Description: strp("Build things."),
	}

	line, err := buildWorkplaceLine(testOpenAIConfig(), r)
	require.NoError(t, err)
	assert.Equal(t, "job_"+r.ID.String(), line.CustomID)
	assert.Equal(t, "POST", line.Method)
	assert.Equal(t, openai.EndpointChatCompletions, line.URL)

	var body openai.ChatBody
	require.NoError(t, json.Unmarshal(line.Body, &body))
	assert.Equal(t, "gpt-4o-mini", body.Model)
	assert.Equal(t, 500, body.MaxCompletionTokens)
	require.NotNil(t, body.ResponseFormat)
	assert.Equal(t, "json_object", body.ResponseFormat.Type)

	require.Len(t, body.Messages, 2)
	assert.Equal(t, "system", body.Messages[0].Role)
	user := body.Messages[1].Content
	assert.Contains(t, user, "Title: Staff Engineer")
	assert.Contains(t, user, "Company: Acme Corp")
	assert.Contains(t, user, "Location: Austin, TX, US")
	assert.Contains(t, user, "Description: Build things.")
}

func TestBuildWorkplaceLine_MissingFields(t *testing.T) {
	r := model.Record{ID: uuid.New()}

	line, err := buildWorkplaceLine(testOpenAIConfig(), r)
	require.NoError(t, err)

	var body openai.ChatBody
	require.NoError(t, json.Unmarshal(line.Body, &body))
	user := body.Messages[1].Content
	assert.Contains(t, user, "Title: Not specified")
	assert.Contains(t, user, "Location: Not specified")
	assert.Contains(t, user, "Description: No description provided")
}

func TestBuildWorkplaceLine_TruncatesDescription(t *testing.T) {
	long := strings.Repeat("x", descriptionMaxLen+100)
	r := model.Record{ID: uuid.New(), Description: &long}

	line, err := buildWorkplaceLine(testOpenAIConfig(), r)
	require.NoError(t, err)

	var body openai.ChatBody
	require.NoError(t, json.Unmarshal(line.Body, &body))
	user := body.Messages[1].Content
	assert.Contains(t, user, strings.Repeat("x", descriptionMaxLen)+"...")
	assert.NotContains(t, user, strings.Repeat("x", descriptionMaxLen+1))
}

func TestLocationContext(t *testing.T) {
	tests := []struct {
		name   string
		record model.Record
		want   string
	}{
		{
			name:   "structured fields joined",
			record: model.Record{Locality: strp("Norfolk"), Region: strp("VA"), Country: strp("US")},
			want:   "Norfolk, VA, US",
		},
		{
			name:   "empty parts skipped",
			record: model.Record{Locality: strp("Norfolk"), Region: strp(""), Country: strp("US")},
			want:   "Norfolk, US",
		},
		{
			name:   "falls back to raw location",
			record: model.Record{Location: strp("Hampton Roads area")},
			want:   "Hampton Roads area",
		},
		{
			name:   "nothing known",
			record: model.Record{},
			want:   "Not specified",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, locationContext(tt.record))
		})
	}
}

func TestWorkplaceDomain_BuildLineUsesConfig(t *testing.T) {
	cfg := &config.Config{}
	cfg.OpenAI = testOpenAIConfig()
	cfg.Batch.Workplace.ChunkSize = 100
	cfg.Batch.Workplace.MaxInFlight = 2

	d := WorkplaceDomain(cfg)
	assert.Equal(t, model.DomainWorkplace, d.Name)
	assert.Equal(t, openai.EndpointChatCompletions, d.Endpoint)
	assert.Equal(t, 100, d.ChunkSize)

	line, err := d.BuildLine(model.Record{ID: uuid.New(), Title: strp("t")})
	require.NoError(t, err)
	var body openai.ChatBody
	require.NoError(t, json.Unmarshal(line.Body, &body))
	assert.Equal(t, "gpt-4o-mini", body.Model)
}

func TestWorkplaceApplierAdd_ManyStaged(t *testing.T) {
	records := []model.Record{batchedRecord(), batchedRecord(), batchedRecord()}
	a := &workplaceApplier{st: newPipeStore(), records: recordsByID(records...)}
	for i, r := range records {
		content := fmt.Sprintf(`{"type":"ONSITE","inferred":true,"confidence":"GUESS%d"}`, i)
		require.NoError(t, a.Add(r.ID, chatResponse(content)))
	}
	assert.Equal(t, 3, a.Staged())
}
