package pipeline

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/talentgrid/jobpipe/internal/batch"
	"github.com/talentgrid/jobpipe/internal/config"
	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/internal/store"
	"github.com/talentgrid/jobpipe/pkg/openai"
)

// embeddingInputMaxLen keeps the embedding input under the model's token
// limit, roughly 4 chars per token.
const embeddingInputMaxLen = 32000

// EmbeddingDomain wires the embedding domain into the generic batch
// lifecycle. Unlike the chat domains it is not file-scoped and carries no
// retry counter: a failed line is simply re-selected on the next pass.
func EmbeddingDomain(cfg *config.Config) batch.Domain {
	return batch.Domain{
		Name:        model.DomainEmbedding,
		Endpoint:    openai.EndpointEmbeddings,
		ChunkSize:   cfg.Batch.Embedding.ChunkSize,
		MaxInFlight: cfg.Batch.Embedding.MaxInFlight,
		BatchDir:    cfg.Data.EmbeddingBatchDir(),
		ResultDir:   cfg.Data.EmbeddingResultDir(),
		BuildLine: func(r model.Record) (openai.RequestLine, error) {
			return buildEmbeddingLine(cfg.OpenAI, r)
		},
		NewApplier: func(st store.Store, records map[uuid.UUID]model.Record) batch.Applier {
			return &embeddingApplier{st: st, records: records}
		},
	}
}

func buildEmbeddingLine(cfg config.OpenAIConfig, r model.Record) (openai.RequestLine, error) {
	input := deref(r.Title, "") + "\n\n" + deref(r.Description, "")
	if len(input) > embeddingInputMaxLen {
		input = input[:embeddingInputMaxLen]
	}

	body, err := json.Marshal(openai.EmbeddingBody{
		Model: cfg.EmbeddingModel,
		Input: input,
	})
	if err != nil {
		return openai.RequestLine{}, eris.Wrap(err, "pipeline: marshal embedding body")
	}

	return openai.RequestLine{
		CustomID: batch.CustomID(r.ID),
		Method:   "POST",
		URL:      openai.EndpointEmbeddings,
		Body:     body,
	}, nil
}

// embeddingApplier stages vectors parsed from embedding results.
type embeddingApplier struct {
	st         store.Store
	records    map[uuid.UUID]model.Record
	embeddings []model.Embedding
}

func (a *embeddingApplier) Add(id uuid.UUID, body json.RawMessage) error {
	var result openai.EmbeddingResult
	if err := json.Unmarshal(body, &result); err != nil {
		return eris.Wrap(err, "pipeline: parse embedding response")
	}
	vector := result.Vector()
	if len(vector) != model.EmbeddingDim {
		return eris.Errorf("pipeline: embedding has %d dimensions, want %d", len(vector), model.EmbeddingDim)
	}

	r, ok := a.records[id]
	if !ok {
		return eris.Errorf("pipeline: result for unknown record %s", id)
	}
	if _, err := model.Transition(r.Status, model.StatusEmbedded); err != nil {
		return err
	}

	a.embeddings = append(a.embeddings, model.Embedding{RecordID: id, Vector: vector})
	return nil
}

func (a *embeddingApplier) Staged() int {
	return len(a.embeddings)
}

func (a *embeddingApplier) Flush(ctx context.Context) error {
	if err := a.st.ApplyEmbeddings(ctx, a.embeddings); err != nil {
		return err
	}
	a.embeddings = a.embeddings[:0]
	return nil
}
