// Package openai wraps the OpenAI Files and Batches APIs used by the batch
// enrichment lifecycle.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/rotisserie/eris"
	"golang.org/x/time/rate"
)

const (
	defaultBaseURL = "https://api.openai.com/v1"

	// CompletionWindow is the only window the Batch API currently accepts.
	CompletionWindow = "24h"

	// EndpointChatCompletions and EndpointEmbeddings are the batch target
	// endpoints referenced by both the batch object and each request line.
	EndpointChatCompletions = "/v1/chat/completions"
	EndpointEmbeddings      = "/v1/embeddings"
)

// Client defines the OpenAI operations used by this application.
type Client interface {
	UploadFile(ctx context.Context, filename string, content io.Reader) (*File, error)
	CreateBatch(ctx context.Context, inputFileID, endpoint, description string) (*Batch, error)
	GetBatch(ctx context.Context, batchID string) (*Batch, error)
	ListBatches(ctx context.Context, after string, limit int) (*BatchPage, error)
	DownloadFile(ctx context.Context, fileID string, w io.Writer) error
}

// File is an uploaded batch input file.
type File struct {
	ID       string `json:"id"`
	Filename string `json:"filename"`
	Bytes    int64  `json:"bytes"`
	Purpose  string `json:"purpose"`
}

// Batch is a remote batch object.
type Batch struct {
	ID           string            `json:"id"`
	Status       string            `json:"status"`
	Endpoint     string            `json:"endpoint"`
	InputFileID  string            `json:"input_file_id"`
	OutputFileID string            `json:"output_file_id"`
	ErrorFileID  string            `json:"error_file_id"`
	Metadata     map[string]string `json:"metadata"`
	CreatedAt    int64             `json:"created_at"`
}

// Description returns the metadata description, empty when unset.
func (b *Batch) Description() string {
	return b.Metadata["description"]
}

// BatchPage is one page of a batch listing.
type BatchPage struct {
	Data    []Batch `json:"data"`
	HasMore bool    `json:"has_more"`
	LastID  string  `json:"last_id"`
}

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("openai: unexpected status %d: %s", e.StatusCode, e.Body)
}

// IsRetryable reports whether err is an APIError with a status code that is
// safe to retry (408, 429, 5xx).
func IsRetryable(err error) bool {
	var ae *APIError
	if !errors.As(err, &ae) {
		return false
	}
	switch ae.StatusCode {
	case http.StatusRequestTimeout, http.StatusTooManyRequests:
		return true
	}
	return ae.StatusCode >= 500
}

// Option configures the client.
type Option func(*httpClient)

// WithBaseURL overrides the default API base URL.
func WithBaseURL(u string) Option {
	return func(c *httpClient) {
		c.baseURL = u
	}
}

// WithHTTPClient overrides the default http.Client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *httpClient) {
		c.http = hc
	}
}

// WithRateLimit overrides the default request rate (5 req/s).
func WithRateLimit(rps float64) Option {
	return func(c *httpClient) {
		if rps > 0 {
			c.limiter = rate.NewLimiter(rate.Limit(rps), max(int(rps), 1))
		} else {
			c.limiter = nil
		}
	}
}

type httpClient struct {
	apiKey  string
	baseURL string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates an OpenAI API client. By default, calls are throttled to
// 5 req/s; batch result downloads can be large, so the client has no overall
// request timeout and relies on context deadlines instead.
func NewClient(apiKey string, opts ...Option) Client {
	c := &httpClient{
		apiKey:  apiKey,
		baseURL: defaultBaseURL,
		http: &http.Client{
			Transport: &http.Transport{
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		limiter: rate.NewLimiter(5, 5),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// wait blocks until the rate limiter allows one event, or ctx is cancelled.
func (c *httpClient) wait(ctx context.Context) error {
	if c.limiter == nil {
		return nil
	}
	return c.limiter.Wait(ctx)
}

func (c *httpClient) UploadFile(ctx context.Context, filename string, content io.Reader) (*File, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "openai: rate limit")
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)
	if err := mw.WriteField("purpose", "batch"); err != nil {
		return nil, eris.Wrap(err, "openai: write purpose field")
	}
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		return nil, eris.Wrap(err, "openai: create form file")
	}
	if _, err := io.Copy(part, content); err != nil {
		return nil, eris.Wrap(err, "openai: copy file content")
	}
	if err := mw.Close(); err != nil {
		return nil, eris.Wrap(err, "openai: close multipart writer")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/files", &body)
	if err != nil {
		return nil, eris.Wrap(err, "openai: create request")
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var file File
	if err := c.do(req, &file); err != nil {
		return nil, eris.Wrapf(err, "openai: upload file %s", filename)
	}
	return &file, nil
}

func (c *httpClient) CreateBatch(ctx context.Context, inputFileID, endpoint, description string) (*Batch, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "openai: rate limit")
	}

	payload := map[string]any{
		"input_file_id":     inputFileID,
		"endpoint":          endpoint,
		"completion_window": CompletionWindow,
		"metadata":          map[string]string{"description": description},
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, eris.Wrap(err, "openai: marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/batches", bytes.NewReader(body))
	if err != nil {
		return nil, eris.Wrap(err, "openai: create request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var batch Batch
	if err := c.do(req, &batch); err != nil {
		return nil, eris.Wrapf(err, "openai: create batch for file %s", inputFileID)
	}
	return &batch, nil
}

func (c *httpClient) GetBatch(ctx context.Context, batchID string) (*Batch, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "openai: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/batches/"+batchID, nil)
	if err != nil {
		return nil, eris.Wrap(err, "openai: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var batch Batch
	if err := c.do(req, &batch); err != nil {
		return nil, eris.Wrapf(err, "openai: get batch %s", batchID)
	}
	return &batch, nil
}

func (c *httpClient) ListBatches(ctx context.Context, after string, limit int) (*BatchPage, error) {
	if err := c.wait(ctx); err != nil {
		return nil, eris.Wrap(err, "openai: rate limit")
	}

	q := url.Values{}
	if after != "" {
		q.Set("after", after)
	}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	u := c.baseURL + "/batches"
	if len(q) > 0 {
		u += "?" + q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, eris.Wrap(err, "openai: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	var page BatchPage
	if err := c.do(req, &page); err != nil {
		return nil, eris.Wrap(err, "openai: list batches")
	}
	return &page, nil
}

func (c *httpClient) DownloadFile(ctx context.Context, fileID string, w io.Writer) error {
	if err := c.wait(ctx); err != nil {
		return eris.Wrap(err, "openai: rate limit")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/files/"+fileID+"/content", nil)
	if err != nil {
		return eris.Wrap(err, "openai: create request")
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrapf(err, "openai: download file %s", fileID)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		return eris.Wrapf(err, "openai: stream file %s", fileID)
	}
	return nil
}

// do sends the request and decodes a JSON response into out.
func (c *httpClient) do(req *http.Request, out any) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return eris.Wrap(err, "send request")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return eris.Wrap(err, "read response")
	}

	if resp.StatusCode != http.StatusOK {
		return &APIError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	if err := json.Unmarshal(body, out); err != nil {
		return eris.Wrap(err, "unmarshal response")
	}
	return nil
}
