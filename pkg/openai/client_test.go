package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClient("test-key", WithBaseURL(srv.URL), WithRateLimit(0))
}

func TestUploadFile(t *testing.T) {
	var gotAuth, gotPurpose, gotContent string
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/files", r.URL.Path)
		gotAuth = r.Header.Get("Authorization")

		require.NoError(t, r.ParseMultipartForm(1<<20))
		gotPurpose = r.FormValue("purpose")
		f, _, err := r.FormFile("file")
		require.NoError(t, err)
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(f)
		gotContent = buf.String()

		_ = json.NewEncoder(w).Encode(File{ID: "file-123", Filename: "batch.jsonl", Bytes: 42, Purpose: "batch"})
	})

	file, err := client.UploadFile(context.Background(), "batch.jsonl", strings.NewReader(`{"custom_id":"job_1"}`))
	require.NoError(t, err)
	assert.Equal(t, "file-123", file.ID)
	assert.Equal(t, "Bearer test-key", gotAuth)
	assert.Equal(t, "batch", gotPurpose)
	assert.Equal(t, `{"custom_id":"job_1"}`, gotContent)
}

func TestCreateBatch(t *testing.T) {
	var payload map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/batches", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&payload))

		_ = json.NewEncoder(w).Encode(Batch{ID: "batch-abc", Status: "validating"})
	})

	batch, err := client.CreateBatch(context.Background(), "file-123", EndpointChatCompletions, "workplace_f1_ab.jsonl")
	require.NoError(t, err)
	assert.Equal(t, "batch-abc", batch.ID)

	assert.Equal(t, "file-123", payload["input_file_id"])
	assert.Equal(t, EndpointChatCompletions, payload["endpoint"])
	assert.Equal(t, CompletionWindow, payload["completion_window"])
	meta, ok := payload["metadata"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "workplace_f1_ab.jsonl", meta["description"])
}

func TestGetBatch(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/batches/batch-abc", r.URL.Path)
		_ = json.NewEncoder(w).Encode(Batch{
			ID:           "batch-abc",
			Status:       "completed",
			OutputFileID: "file-out",
			Metadata:     map[string]string{"description": "workplace_f1_ab.jsonl"},
		})
	})

	batch, err := client.GetBatch(context.Background(), "batch-abc")
	require.NoError(t, err)
	assert.Equal(t, "completed", batch.Status)
	assert.Equal(t, "file-out", batch.OutputFileID)
	assert.Equal(t, "workplace_f1_ab.jsonl", batch.Description())
}

func TestListBatches_Pagination(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "batch-1", r.URL.Query().Get("after"))
		assert.Equal(t, "100", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(BatchPage{
			Data:    []Batch{{ID: "batch-2"}, {ID: "batch-3"}},
			HasMore: true,
			LastID:  "batch-3",
		})
	})

	page, err := client.ListBatches(context.Background(), "batch-1", 100)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.True(t, page.HasMore)
	assert.Equal(t, "batch-3", page.LastID)
}

func TestDownloadFile(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/files/file-out/content", r.URL.Path)
		_, _ = fmt.Fprint(w, "line1\nline2\n")
	})

	var buf bytes.Buffer
	require.NoError(t, client.DownloadFile(context.Background(), "file-out", &buf))
	assert.Equal(t, "line1\nline2\n", buf.String())
}

func TestDownloadFile_Error(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	})

	var buf bytes.Buffer
	err := client.DownloadFile(context.Background(), "file-out", &buf)
	require.Error(t, err)

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusNotFound, ae.StatusCode)
}

func TestAPIError_NonOKStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
	})

	_, err := client.GetBatch(context.Background(), "batch-abc")
	require.Error(t, err)

	var ae *APIError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, http.StatusTooManyRequests, ae.StatusCode)
	assert.Contains(t, ae.Body, "rate limited")
}

func TestIsRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"rate limited", &APIError{StatusCode: 429}, true},
		{"request timeout", &APIError{StatusCode: 408}, true},
		{"server error", &APIError{StatusCode: 500}, true},
		{"bad gateway", &APIError{StatusCode: 502}, true},
		{"bad request", &APIError{StatusCode: 400}, false},
		{"unauthorized", &APIError{StatusCode: 401}, false},
		{"wrapped", fmt.Errorf("get batch: %w", &APIError{StatusCode: 503}), true},
		{"not an api error", errors.New("boom"), false},
		{"nil", nil, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsRetryable(tt.err))
		})
	}
}

func TestChatResult_Content(t *testing.T) {
	var r ChatResult
	require.NoError(t, json.Unmarshal([]byte(`{"choices":[{"message":{"content":"{\"type\":\"REMOTE\"}"}}]}`), &r))
	assert.Equal(t, `{"type":"REMOTE"}`, r.Content())

	var empty ChatResult
	assert.Empty(t, empty.Content())
}

func TestEmbeddingResult_Vector(t *testing.T) {
	var r EmbeddingResult
	require.NoError(t, json.Unmarshal([]byte(`{"data":[{"embedding":[0.1,0.2,0.3]}]}`), &r))
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, r.Vector())

	var empty EmbeddingResult
	assert.Nil(t, empty.Vector())
}
