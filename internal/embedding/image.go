package embedding

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/philippgille/chromem-go"

	"multimodal-rag/internal/config"
	"multimodal-rag/internal/models"
)

// ImageEmbedder maps image bytes into the image embedding space.
type ImageEmbedder interface {
	EmbedImage(ctx context.Context, data []byte) ([]float32, error)
}

// QueryEmbedder maps a text query into some embedding space.
type QueryEmbedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// HTTPImageEmbedder posts base64 images to a CLIP-style service:
// POST {base_url}/embed/image {"model": ..., "image": ...} -> {"embedding": [...]}.
type HTTPImageEmbedder struct {
	baseURL string
	key     string
	model   string
	client  *http.Client
}

func NewHTTPImageEmbedder(cfg *config.ServiceConfig) *HTTPImageEmbedder {
	return &HTTPImageEmbedder{
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		key:     cfg.Key,
		model:   cfg.Model,
		client:  &http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second},
	}
}

func (e *HTTPImageEmbedder) EmbedImage(ctx context.Context, data []byte) ([]float32, error) {
	payload := struct {
		Model string `json:"model,omitempty"`
		Image string `json:"image"`
	}{
		Model: e.model,
		Image: base64.StdEncoding.EncodeToString(data),
	}
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, e.baseURL+"/embed/image", bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	if e.key != "" {
		req.Header.Set("Authorization", "Bearer "+strings.TrimPrefix(e.key, "Bearer "))
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: image embedding request: %v", models.ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("%w: image embedding failed: %d, %s", models.ErrUpstreamUnavailable, resp.StatusCode, string(body))
	}

	var out struct {
		Embedding []float32 `json:"embedding"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("%w: decode image embedding: %v", models.ErrUpstreamUnavailable, err)
	}
	if len(out.Embedding) == 0 {
		return nil, fmt.Errorf("%w: empty image embedding", models.ErrUpstreamUnavailable)
	}
	return out.Embedding, nil
}

// ChromemQueryEmbedder embeds text queries into the image space through the
// text tower of the image model, served behind an OpenAI-compatible endpoint.
type ChromemQueryEmbedder struct {
	fn    chromem.EmbeddingFunc
	model string
}

func NewImageQueryEmbedder(cfg *config.ServiceConfig) *ChromemQueryEmbedder {
	fn := chromem.NewEmbeddingFuncOpenAICompat(strings.TrimSuffix(cfg.BaseURL, "/"), cfg.Key, cfg.Model, nil)
	return &ChromemQueryEmbedder{fn: fn, model: cfg.Model}
}

// NewQueryEmbedderFunc wraps any chromem embedding function.
func NewQueryEmbedderFunc(fn chromem.EmbeddingFunc, model string) *ChromemQueryEmbedder {
	return &ChromemQueryEmbedder{fn: fn, model: model}
}

func (e *ChromemQueryEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	v, err := e.fn(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("%w: embed query with %s: %v", models.ErrUpstreamUnavailable, e.model, err)
	}
	return v, nil
}
