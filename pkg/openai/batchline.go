package openai

import "encoding/json"

// RequestLine is one line of a batch input JSONL file.
type RequestLine struct {
	CustomID string          `json:"custom_id"`
	Method   string          `json:"method"`
	URL      string          `json:"url"`
	Body     json.RawMessage `json:"body"`
}

// ChatBody is the request body for a /v1/chat/completions line.
type ChatBody struct {
	Model               string          `json:"model"`
	Messages            []ChatMessage   `json:"messages"`
	MaxCompletionTokens int             `json:"max_completion_tokens,omitempty"`
	ResponseFormat      *ResponseFormat `json:"response_format,omitempty"`
}

// ChatMessage is a single message in a chat-completion request.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ResponseFormat constrains the model output format.
type ResponseFormat struct {
	Type string `json:"type"`
}

// EmbeddingBody is the request body for a /v1/embeddings line.
type EmbeddingBody struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

// ResultLine is one line of a batch output or error JSONL file.
type ResultLine struct {
	ID       string          `json:"id"`
	CustomID string          `json:"custom_id"`
	Response *ResultResponse `json:"response"`
	Error    *ResultError    `json:"error"`
}

// ResultResponse carries the per-request HTTP outcome.
type ResultResponse struct {
	StatusCode int             `json:"status_code"`
	Body       json.RawMessage `json:"body"`
}

// ResultError is the request-level error reported by the Batch API.
type ResultError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ChatResult is the chat-completion response body inside a result line.
type ChatResult struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// Content returns the first choice's message content, empty when absent.
func (r *ChatResult) Content() string {
	if len(r.Choices) == 0 {
		return ""
	}
	return r.Choices[0].Message.Content
}

// EmbeddingResult is the embeddings response body inside a result line.
type EmbeddingResult struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// Vector returns the first embedding vector, nil when absent.
func (r *EmbeddingResult) Vector() []float32 {
	if len(r.Data) == 0 {
		return nil
	}
	return r.Data[0].Embedding
}
