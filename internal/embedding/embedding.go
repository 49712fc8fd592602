package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"multimodal-rag/internal/config"
	"multimodal-rag/internal/models"
)

// TextEmbedder maps text to vectors in the text embedding space.
// Chunks and audio transcripts are embedded with EmbedDocuments, questions with EmbedQuery.
type TextEmbedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// LangchainEmbedder adapts a langchaingo embedder and tags its failures as upstream errors.
type LangchainEmbedder struct {
	impl  embeddings.Embedder
	model string
}

func NewLangchainEmbedder(impl embeddings.Embedder, model string) *LangchainEmbedder {
	return &LangchainEmbedder{impl: impl, model: model}
}

// NewTextEmbedder builds an ollama or OpenAI-compatible embedder from cfg.
func NewTextEmbedder(cfg *config.LLMConfig) (*LangchainEmbedder, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating text embedder")

	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case "ollama":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize ollama: %w", err)
		}
		client = llm
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithEmbeddingModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize openai: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("unknown embedding provider %q", cfg.Provider)
	}

	impl, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(cfg.BatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return NewLangchainEmbedder(impl, cfg.Model), nil
}

func (e *LangchainEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	vectors, err := e.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("%w: embed %d texts with %s: %v", models.ErrUpstreamUnavailable, len(texts), e.model, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("%w: %s returned %d vectors for %d texts", models.ErrUpstreamUnavailable, e.model, len(vectors), len(texts))
	}
	return vectors, nil
}

func (e *LangchainEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	vector, err := e.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query with %s: %v", models.ErrUpstreamUnavailable, e.model, err)
	}
	return vector, nil
}
