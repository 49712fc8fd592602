// Package transcribe turns audio into timed transcript segments.
package transcribe

import (
	"context"
	"fmt"
	"io"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
	openai "github.com/sashabaranov/go-openai"

	"multimodal-rag/internal/config"
	"multimodal-rag/internal/models"
)

// Segment is one timed piece of a transcript. Times are seconds from the start.
type Segment struct {
	Text       string
	Start      float64
	End        float64
	Confidence float64
	Speaker    string
}

// Transcriber returns the segments of a recording and metadata about the
// whole recording, such as its language and duration.
type Transcriber interface {
	Transcribe(ctx context.Context, filename string, audio io.Reader) ([]Segment, map[string]any, error)
}

// WhisperClient calls an OpenAI-compatible /v1/audio/transcriptions endpoint
// with verbose_json output to get segment timestamps.
type WhisperClient struct {
	client *openai.Client
	model  string
}

func NewWhisperClient(cfg *config.ServiceConfig) *WhisperClient {
	oc := openai.DefaultConfig(strings.TrimPrefix(cfg.Key, "Bearer "))
	if cfg.BaseURL != "" {
		base := strings.TrimSuffix(cfg.BaseURL, "/")
		if !strings.HasSuffix(base, "/v1") {
			base += "/v1"
		}
		oc.BaseURL = base
	}
	oc.HTTPClient = &http.Client{Timeout: time.Duration(cfg.TimeoutSecs) * time.Second}

	model := cfg.Model
	if model == "" {
		model = openai.Whisper1
	}
	return &WhisperClient{client: openai.NewClientWithConfig(oc), model: model}
}

func (c *WhisperClient) Transcribe(ctx context.Context, filename string, audio io.Reader) ([]Segment, map[string]any, error) {
	resp, err := c.client.CreateTranscription(ctx, openai.AudioRequest{
		Model:    c.model,
		FilePath: filename,
		Reader:   audio,
		Format:   openai.AudioResponseFormatVerboseJSON,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("%w: transcription failed: %v", models.ErrUpstreamUnavailable, err)
	}

	segments := make([]Segment, 0, len(resp.Segments))
	for _, s := range resp.Segments {
		text := strings.TrimSpace(s.Text)
		if text == "" {
			continue
		}
		segments = append(segments, Segment{
			Text:       text,
			Start:      s.Start,
			End:        s.End,
			Confidence: math.Exp(s.AvgLogprob),
		})
	}
	// servers without segment output still return the full text
	if len(segments) == 0 && strings.TrimSpace(resp.Text) != "" {
		segments = append(segments, Segment{Text: strings.TrimSpace(resp.Text), End: resp.Duration, Confidence: 1})
	}

	meta := map[string]any{"duration": resp.Duration}
	if resp.Language != "" {
		meta["language"] = resp.Language
	}

	log.Debug().Str("file", filename).Int("segments", len(segments)).Str("language", resp.Language).Msg("Transcribed audio")
	return segments, meta, nil
}
