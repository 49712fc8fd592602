// Package testutil holds in-process collaborators for package tests: a sqlite
// record store, a local blob store, a bag-of-words embedder and scripted
// extractor, transcriber and generator.
package testutil

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"multimodal-rag/internal/blob"
	"multimodal-rag/internal/config"
	"multimodal-rag/internal/db"
	"multimodal-rag/internal/llmservice"
	"multimodal-rag/internal/parser"
	"multimodal-rag/internal/transcribe"
	"multimodal-rag/internal/vectorindex"
)

// Quiet disables logging for the test binary.
func Quiet() {
	zerolog.SetGlobalLevel(zerolog.Disabled)
}

func NewStore(t *testing.T) *db.BunStore {
	t.Helper()
	s, err := db.OpenStore(context.Background(), &config.DatabaseConfig{
		Driver: "sqlite",
		DSN:    filepath.Join(t.TempDir(), "metadata.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func NewBlobs(t *testing.T) *blob.LocalStore {
	t.Helper()
	s, err := blob.NewLocalStore(filepath.Join(t.TempDir(), "blobs"))
	require.NoError(t, err)
	return s
}

func NewIndices(t *testing.T, textDim, imageDim int) *vectorindex.Manager {
	t.Helper()
	m, err := vectorindex.NewManager(filepath.Join(t.TempDir(), "indices"), textDim, imageDim)
	require.NoError(t, err)
	return m
}

var wordRe = regexp.MustCompile(`[\p{L}\p{N}]+`)

// BagOfWords embeds text as counts of vocabulary words plus one constant
// component, so no vector is zero. Images are embedded as their bytes' text.
type BagOfWords struct {
	Vocab []string
	Err   error

	mu    sync.Mutex
	Calls int
}

func (b *BagOfWords) Dim() int { return len(b.Vocab) + 1 }

func (b *BagOfWords) vector(text string) []float32 {
	v := make([]float32, b.Dim())
	v[len(b.Vocab)] = 0.1
	for _, w := range wordRe.FindAllString(strings.ToLower(text), -1) {
		for i, term := range b.Vocab {
			if w == term {
				v[i]++
			}
		}
	}
	return v
}

func (b *BagOfWords) record() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.Calls++
	return b.Err
}

func (b *BagOfWords) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if err := b.record(); err != nil {
		return nil, err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = b.vector(t)
	}
	return out, nil
}

func (b *BagOfWords) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if err := b.record(); err != nil {
		return nil, err
	}
	return b.vector(text), nil
}

func (b *BagOfWords) EmbedImage(_ context.Context, data []byte) ([]float32, error) {
	if err := b.record(); err != nil {
		return nil, err
	}
	return b.vector(string(data)), nil
}

// PagedExtractor reads the file as text and treats form feeds as page breaks.
// A file without form feeds has no pages.
type PagedExtractor struct{}

func (PagedExtractor) Extract(_ context.Context, path string) (*parser.Extraction, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	text := string(data)
	if !strings.Contains(text, "\f") {
		return &parser.Extraction{Text: strings.TrimSpace(text)}, nil
	}
	ex := &parser.Extraction{}
	var texts []string
	for i, page := range strings.Split(text, "\f") {
		page = strings.TrimSpace(page)
		ex.Pages = append(ex.Pages, parser.Page{Number: i + 1, Text: page})
		texts = append(texts, page)
	}
	ex.Text = strings.Join(texts, "\n\n")
	return ex, nil
}

// StaticTranscriber returns the same segments and metadata for every file.
type StaticTranscriber struct {
	Segments []transcribe.Segment
	Metadata map[string]any
	Err      error
}

func (s StaticTranscriber) Transcribe(_ context.Context, _ string, audio io.Reader) ([]transcribe.Segment, map[string]any, error) {
	if _, err := io.Copy(io.Discard, audio); err != nil {
		return nil, nil, err
	}
	if s.Err != nil {
		return nil, nil, s.Err
	}
	meta := make(map[string]any, len(s.Metadata))
	for k, v := range s.Metadata {
		meta[k] = v
	}
	return append([]transcribe.Segment(nil), s.Segments...), meta, nil
}

// ScriptedGenerator replies with Responses in order, repeating the last one,
// and records every prompt.
type ScriptedGenerator struct {
	Responses []string
	Err       error

	mu      sync.Mutex
	Prompts []string
	Opts    []llmservice.Options
}

func (g *ScriptedGenerator) Complete(_ context.Context, prompt string, opts llmservice.Options) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.Prompts = append(g.Prompts, prompt)
	g.Opts = append(g.Opts, opts)
	if g.Err != nil {
		return "", g.Err
	}
	if len(g.Responses) == 0 {
		return "", nil
	}
	i := len(g.Prompts) - 1
	if i >= len(g.Responses) {
		i = len(g.Responses) - 1
	}
	return g.Responses[i], nil
}
