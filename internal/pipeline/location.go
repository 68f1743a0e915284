package pipeline

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/talentgrid/jobpipe/internal/batch"
	"github.com/talentgrid/jobpipe/internal/config"
	"github.com/talentgrid/jobpipe/internal/model"
	"github.com/talentgrid/jobpipe/internal/store"
	"github.com/talentgrid/jobpipe/pkg/openai"
)

const locationSystemPrompt = `You are a location normalizer for US job postings. Extract the city, state, and country from the location string.

Respond with ONLY a JSON object in this format:
{"city":"CityName","state":"XX","country":"US"}

Rules:
- city: Extract the city name if present. For metro areas like "San Francisco Bay Area" or "Hampton Roads", extract the primary city (e.g., "San Francisco", "Norfolk"). Only set to null if truly vague like "Remote", "USA", or state-only.
- state: 2-letter state code (e.g., "CA", "TX", "NY", "DC"). Use "DC" for Washington D.C. Return null if not a US location.
- country: "US" for United States jobs, null otherwise.
- Handle common formats: "City, State", "City, ST", "City, State, USA"
- For Washington D.C., use city="Washington" and state="DC", not "WA"
- Extract city from localities, even if they include the state name (e.g., "Oklahoma City, Oklahoma" -> city="Oklahoma City")
- Be generous in extraction - prefer extracting a city over returning null`

// LocationDomain wires the location normalization domain into the generic
// batch lifecycle. Its prefilter resolves records from the lookup cache
// before any batch is generated.
func LocationDomain(cfg *config.Config) batch.Domain {
	return batch.Domain{
		Name:        model.DomainLocation,
		Endpoint:    openai.EndpointChatCompletions,
		ChunkSize:   cfg.Batch.Location.ChunkSize,
		MaxInFlight: cfg.Batch.Location.MaxInFlight,
		BatchDir:    cfg.Data.LocationBatchDir(),
		ResultDir:   cfg.Data.LocationResultDir(),
		BuildLine: func(r model.Record) (openai.RequestLine, error) {
			return buildLocationLine(cfg.OpenAI, r)
		},
		Prefilter: resolveFromLookupCache,
		NewApplier: func(st store.Store, records map[uuid.UUID]model.Record) batch.Applier {
			return &locationApplier{st: st, records: records}
		},
	}
}

func buildLocationLine(cfg config.OpenAIConfig, r model.Record) (openai.RequestLine, error) {
	body, err := json.Marshal(openai.ChatBody{
		Model: cfg.ChatModel,
		Messages: []openai.ChatMessage{
			{Role: "system", Content: locationSystemPrompt},
			{Role: "user", Content: "Location: " + locationContext(r)},
		},
		MaxCompletionTokens: cfg.MaxTokens,
		ResponseFormat:      &openai.ResponseFormat{Type: "json_object"},
	})
	if err != nil {
		return openai.RequestLine{}, eris.Wrap(err, "pipeline: marshal location body")
	}

	return openai.RequestLine{
		CustomID: batch.CustomID(r.ID),
		Method:   "POST",
		URL:      openai.EndpointChatCompletions,
		Body:     body,
	}, nil
}

// resolveFromLookupCache short-circuits records whose raw location string was
// already resolved. Matching ignores case. Cache hits jump straight to
// location_classified and never reach a batch; only US resolutions are ever
// cached, so the geocoder still owns non-US invalidation.
func resolveFromLookupCache(ctx context.Context, st store.Store, records []model.Record) ([]model.Record, error) {
	keys := make([]string, 0, len(records))
	for _, r := range records {
		keys = append(keys, locationContext(r))
	}
	hits, err := st.LookupLocations(ctx, keys)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return records, nil
	}

	var resolved []store.LocationUpdate
	var remaining []model.Record
	for _, r := range records {
		hit, ok := hits[strings.ToLower(locationContext(r))]
		if !ok {
			remaining = append(remaining, r)
			continue
		}
		status, err := model.Transition(r.Status, model.StatusLocationClassified)
		if err != nil {
			return nil, err
		}
		resolved = append(resolved, store.LocationUpdate{
			ID:      r.ID,
			City:    hit.City,
			State:   hit.State,
			Country: hit.Country,
			Status:  status,
			Valid:   true,
		})
	}
	if err := st.ApplyLocationLookups(ctx, resolved); err != nil {
		return nil, err
	}
	zap.L().Info("location lookup cache hits",
		zap.Int("resolved", len(resolved)),
		zap.Int("remaining", len(remaining)),
	)
	return remaining, nil
}

// locationUpdate builds the staged mutation for one resolved location,
// routing non-US postings to the invalid terminal status.
func locationUpdate(id uuid.UUID, city, state, country string) store.LocationUpdate {
	if country == "USA" {
		country = "US"
	}
	u := store.LocationUpdate{
		ID:      id,
		City:    city,
		State:   state,
		Country: country,
		Status:  model.StatusLocationClassified,
		Valid:   true,
	}
	if country != "US" {
		u.Status = model.StatusInvalidNonUS
		u.Valid = false
	}
	return u
}

// locationApplier stages normalized locations parsed from chat results and
// feeds successful resolutions back into the lookup cache.
type locationApplier struct {
	st      store.Store
	records map[uuid.UUID]model.Record
	updates []store.LocationUpdate
	lookups []model.LocationLookup
}

type locationPayload struct {
	City    *string `json:"city"`
	State   *string `json:"state"`
	Country *string `json:"country"`
}

func (a *locationApplier) Add(id uuid.UUID, body json.RawMessage) error {
	var result openai.ChatResult
	if err := json.Unmarshal(body, &result); err != nil {
		return eris.Wrap(err, "pipeline: parse location response")
	}
	content := result.Content()
	if strings.TrimSpace(content) == "" {
		return eris.New("pipeline: empty location response")
	}

	var payload locationPayload
	if err := json.Unmarshal([]byte(content), &payload); err != nil {
		return eris.Wrap(err, "pipeline: parse location payload")
	}

	city := deref(payload.City, "")
	state := deref(payload.State, "")
	country := deref(payload.Country, "")
	if country == "USA" {
		country = "US"
	}
	// A state or country longer than a 2-letter code means the model ignored
	// the format; retry rather than store junk.
	if len(state) > 2 {
		return eris.Errorf("pipeline: state %q is not a 2-letter code", state)
	}
	if len(country) > 2 {
		return eris.Errorf("pipeline: country %q is not a 2-letter code", country)
	}

	r, ok := a.records[id]
	if !ok {
		return eris.Errorf("pipeline: result for unknown record %s", id)
	}
	u := locationUpdate(id, city, state, country)
	if _, err := model.Transition(r.Status, u.Status); err != nil {
		return err
	}
	a.updates = append(a.updates, u)

	if u.Valid {
		if key := locationContext(r); key != "Not specified" {
			a.lookups = append(a.lookups, model.LocationLookup{
				Location: key,
				City:     city,
				State:    state,
				Country:  country,
			})
		}
	}
	return nil
}

func (a *locationApplier) Staged() int {
	return len(a.updates)
}

func (a *locationApplier) Flush(ctx context.Context) error {
	if err := a.st.ApplyLocation(ctx, a.updates); err != nil {
		return err
	}
	if err := a.st.SaveLocationLookups(ctx, a.lookups); err != nil {
		return err
	}
	a.updates = a.updates[:0]
	a.lookups = a.lookups[:0]
	return nil
}
