package main

import (
	"context"

	"github.com/talentgrid/jobpipe/internal/store"
	"github.com/talentgrid/jobpipe/pkg/openai"
)

// openStore connects to Postgres using the configured pool limits.
func openStore(ctx context.Context) (*store.PostgresStore, error) {
	return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
		MaxConns: cfg.Store.MaxConns,
		MinConns: cfg.Store.MinConns,
	})
}

// newOpenAIClient builds the batch API client from config.
func newOpenAIClient() openai.Client {
	opts := []openai.Option{
		openai.WithRateLimit(cfg.OpenAI.RequestsPerSec),
	}
	if cfg.OpenAI.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(cfg.OpenAI.BaseURL))
	}
	return openai.NewClient(cfg.OpenAI.Key, opts...)
}
