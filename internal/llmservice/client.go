package llmservice

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"multimodal-rag/internal/config"
	"multimodal-rag/internal/models"
)

var thinkRe = regexp.MustCompile(models.ThinkTag)

// Options tunes one completion. A nil Temperature leaves the provider
// default in place; zero is a valid setting.
type Options struct {
	Temperature *float64
	MaxTokens   int
}

// Temperature returns a pointer for Options.Temperature.
func Temperature(v float64) *float64 {
	return &v
}

// Generator completes a single prompt.
type Generator interface {
	Complete(ctx context.Context, prompt string, opts Options) (string, error)
}

// LLMGenerator is a Generator over a langchaingo model.
type LLMGenerator struct {
	llm   llms.Model
	model string
}

// NewGenerator builds an ollama or OpenAI-compatible chat model from cfg.
func NewGenerator(cfg *config.LLMConfig) (*LLMGenerator, error) {
	var (
		llm llms.Model
		err error
	)
	switch cfg.Provider {
	case "ollama":
		llm, err = ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
	case "openai":
		opts := []openai.Option{
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
			openai.WithModel(cfg.Model),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err = openai.New(opts...)
	default:
		return nil, fmt.Errorf("unknown llm provider %q", cfg.Provider)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to initialize llm: %w", err)
	}
	return &LLMGenerator{llm: llm, model: cfg.Model}, nil
}

// NewGeneratorFromModel wraps an existing langchaingo model.
func NewGeneratorFromModel(llm llms.Model, model string) *LLMGenerator {
	return &LLMGenerator{llm: llm, model: model}
}

// Complete sends prompt as one human message and returns the first choice
// with any <think> block removed.
func (g *LLMGenerator) Complete(ctx context.Context, prompt string, opts Options) (string, error) {
	log.Debug().Str("model", g.model).Int("prompt_chars", len(prompt)).Msg("Generating content")

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeHuman, prompt),
	}
	var callOpts []llms.CallOption
	if opts.Temperature != nil {
		callOpts = append(callOpts, llms.WithTemperature(*opts.Temperature))
	}
	if opts.MaxTokens > 0 {
		callOpts = append(callOpts, llms.WithMaxTokens(opts.MaxTokens))
	}

	res, err := g.llm.GenerateContent(ctx, messages, callOpts...)
	if err != nil {
		return "", fmt.Errorf("%w: generate with %s: %v", models.ErrUpstreamUnavailable, g.model, err)
	}
	if len(res.Choices) == 0 {
		return "", fmt.Errorf("%w: %s returned no choices", models.ErrUpstreamUnavailable, g.model)
	}
	return strings.TrimSpace(thinkRe.ReplaceAllString(res.Choices[0].Content, "")), nil
}
