package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/talentgrid/jobpipe/internal/batch"
	"github.com/talentgrid/jobpipe/internal/config"
	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/internal/store"
	"github.com/talentgrid/jobpipe/pkg/openai"
)

// descriptionMaxLen truncates job descriptions in workplace prompts, roughly
// 500 tokens.
const descriptionMaxLen = 2000

const workplaceSystemPrompt = `You are a workplace type classifier. Analyze the job posting and determine the workplace type.

Respond with ONLY a JSON object in this format:
{"type":"REMOTE|HYBRID|ONSITE","inferred":true|false,"confidence":"EXPLICIT|LIKELY|PROBABLY|GUESS"}

- type: REMOTE, HYBRID, or ONSITE
- inferred: true if the workplace type is not explicitly stated, false if it is clearly stated
- confidence: EXPLICIT if clearly stated, LIKELY if strong indicators, PROBABLY if moderate indicators, GUESS if weak indicators`

// WorkplaceDomain wires the workplace classification domain into the generic
// batch lifecycle.
func WorkplaceDomain(cfg *config.Config) batch.Domain {
	return batch.Domain{
		Name:        model.DomainWorkplace,
		Endpoint:    openai.EndpointChatCompletions,
		ChunkSize:   cfg.Batch.Workplace.ChunkSize,
		MaxInFlight: cfg.Batch.Workplace.MaxInFlight,
		BatchDir:    cfg.Data.WorkplaceBatchDir(),
		ResultDir:   cfg.Data.WorkplaceResultDir(),
		BuildLine: func(r model.Record) (openai.RequestLine, error) {
			return buildWorkplaceLine(cfg.OpenAI, r)
		},
		NewApplier: func(st store.Store, records map[uuid.UUID]model.Record) batch.Applier {
			return &workplaceApplier{st: st, records: records}
		},
	}
}

func buildWorkplaceLine(cfg config.OpenAIConfig, r model.Record) (openai.RequestLine, error) {
	user := fmt.Sprintf("Title: %s\nCompany: %s\nLocation: %s\nDescription: %s",
		deref(r.Title, "Not specified"),
		deref(r.CompanyName, "Not specified"),
		locationContext(r),
		truncate(deref(r.Description, "No description provided"), descriptionMaxLen),
	)

	body, err := json.Marshal(openai.ChatBody{
		Model: cfg.ChatModel,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: workplaceSystemPrompt},
			{Role: "user", Content: user},
		},
		MaxCompletionTokens: cfg.MaxTokens,
		ResponseFormat:      &openai.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return openai.RequestLine{}, eris.Wrap(err, "pipeline: marshal workplace body")
	}

	return openai.RequestLine{
		CustomID: batch.CustomID(r.ID),
		Method:   "POST",
		URL:      openai.EndpointChatCompletions,
		Body:     body,
	}, nil
}

// workplaceApplier stages workplace classifications parsed from chat results.
type workplaceApplier struct {
	st      store.Store
	records map[uuid.UUID]model.Record
	updates []store.WorkplaceUpdate
}

type workplacePayload struct {
	Type       string `json:"type"`
	Inferred   bool   `json:"inferred"`
	Confidence string `json:"confidence"`
}

func (a *workplaceApplier) Add(id uuid.UUID, body json.RawMessage) error {
	var result openai.ChatResult
	if err := json.Unmarshal(body, &result); err != nil {
		return eris.Wrap(err, "pipeline: parse workplace response")
	}
	content := result.Content()
	if strings.TrimSpace(content) == "" {
		return eris.New("pipeline: empty workplace response")
	}

	var payload workplacePayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return eris.Wrap(err, "pipeline: parse workplace payload")
	}
	switch payload.Type {
	case "REMOTE", "HYBRID", "ONSITE":
	default:
		return eris.Errorf("pipeline: unknown workplace type %q", payload.Type)
	}

	r, ok := a.records[id]
	if !ok {
		return eris.Errorf("pipeline: result for unknown record %s", id)
	}
	if _, err := model.Transition(r.Status, model.StatusWorkplaceClassified); err != nil {
		return err
	}

	a.updates = append(a.updates, store.WorkplaceUpdate{
		ID:         id,
		Workplace:  payload.Type,
		Inferred:   payload.Inferred,
		Confidence: payload.Confidence,
	})
	return nil
}

func (a *workplaceApplier) Staged() int {
	return len(a.updates)
}

func (a *workplaceApplier) Flush(ctx context.Context) error {
	if err := a.st.ApplyWorkplace(ctx, a.updates); err != nil {
		return err
	}
	a.updates = a.updates[:0]
	return nil
}

// deref returns *s or fallback when s is nil or empty.
func deref(s *string, fallback string) string {
	if s == nil || *s == "" {
		return fallback
	}
	return *s
}

// locationContext joins the structured location fields, falling back to the
// raw location string.
func locationContext(r model.Record) string {
	var parts []string
	for _, p := range []*string{r.Locality, r.Region, r.Country} {
		if p != nil && *p != "" {
			parts = append(parts, *p)
		}
	}
	if len(parts) > 0 {
		return strings.Join(parts, ", ")
	}
	return deref(r.Location, "Not specified")
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
