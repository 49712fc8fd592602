package ingest

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multimodal-rag/internal/chunker"
	"multimodal-rag/internal/models"
	"multimodal-rag/internal/parser"
	"multimodal-rag/internal/testutil"
	"multimodal-rag/internal/transcribe"
)

func TestMain(m *testing.M) {
	testutil.Quiet()
	os.Exit(m.Run())
}

var vocab = []string{"alpha", "beta", "gamma", "delta", "page", "speech", "image"}

type fixture struct {
	p        *Pipeline
	embedder *testutil.BagOfWords
	deps     Deps
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	emb := &testutil.BagOfWords{Vocab: vocab}
	deps := Deps{
		Store:         testutil.NewStore(t),
		Blobs:         testutil.NewBlobs(t),
		Indices:       testutil.NewIndices(t, emb.Dim(), emb.Dim()),
		Extractor:     testutil.PagedExtractor{},
		Chunker:       chunker.New(512, 50),
		TextEmbedder:  emb,
		ImageEmbedder: emb,
		Transcriber: testutil.StaticTranscriber{Segments: []transcribe.Segment{
			{Text: "alpha speech", Start: 0, End: 2, Confidence: 0.9},
			{Text: "continues", Start: 2, End: 6, Confidence: 0.7},
			{Text: "beta speech", Start: 6, End: 12, Confidence: 0.8},
		}, Metadata: map[string]any{"language": "english", "duration": 12.0}},
	}
	return &fixture{p: NewPipeline(deps, Options{MinSegmentSecs: 5, TempDir: t.TempDir()}), embedder: emb, deps: deps}
}

func (f *fixture) ingest(t *testing.T, name, content string) *models.Document {
	t.Helper()
	ctx := context.Background()
	doc, err := f.p.Upload(ctx, name, strings.NewReader(content), int64(len(content)))
	require.NoError(t, err)
	require.NoError(t, f.p.Process(ctx, doc.ID))
	return doc
}

func TestUpload_RejectsUnknownExtension(t *testing.T) {
	f := newFixture(t)
	_, err := f.p.Upload(context.Background(), "virus.exe", strings.NewReader("x"), 1)
	assert.ErrorIs(t, err, models.ErrUnsupportedType)
}

func TestProcess_TextPages(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	doc := f.ingest(t, "report.pdf", "Page 1 is about alpha.\fPage 2 is about beta.\fPage 3 is about gamma. Write to ops@example.com.")
	assert.True(t, strings.HasPrefix(doc.StoragePath, "documents/"))
	assert.Equal(t, "pdf", doc.FileType)

	got, err := f.deps.Store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Equal(t, models.StageIndexed, got.Stage)
	assert.Equal(t, 3.0, got.Metadata["pages"])
	assert.Equal(t, 3.0, got.Metadata["chunks"])
	assert.Contains(t, got.Metadata, "characters")

	chunks, err := f.deps.Store.ChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 3)
	for i, c := range chunks {
		assert.Equal(t, i, c.ChunkIndex)
		require.NotNil(t, c.PageNumber)
		assert.Equal(t, i+1, *c.PageNumber)
	}
	assert.Equal(t, []any{"ops@example.com"}, chunks[2].Metadata["emails"])

	ix, err := f.deps.Indices.Get(models.ModalityText)
	require.NoError(t, err)
	assert.Equal(t, []int64{chunks[0].ID, chunks[1].ID, chunks[2].ID}, ix.IDs())
}

func TestProcess_UnpaginatedTextHasNoPageNumber(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.ingest(t, "notes.txt", "Just delta here.")

	chunks, err := f.deps.Store.ChunksByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Nil(t, chunks[0].PageNumber)
}

func TestProcess_Image(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 5, 4))))
	doc := f.ingest(t, "photo.png", buf.String())

	images, err := f.deps.Store.ImagesByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, 5, images[0].Width)
	assert.Equal(t, 4, images[0].Height)
	assert.Equal(t, "png", images[0].Format)
	assert.Equal(t, doc.StoragePath, images[0].ImagePath)
	assert.Equal(t, "L", images[0].Metadata["mode"])
	assert.Equal(t, float64(buf.Len()), images[0].Metadata["size_bytes"])

	got, err := f.deps.Store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{
		"width": 5.0, "height": 4.0, "format": "png", "mode": "L", "size_bytes": float64(buf.Len()),
	}, got.Metadata)

	ix, err := f.deps.Indices.Get(models.ModalityImage)
	require.NoError(t, err)
	assert.Equal(t, []int64{images[0].ID}, ix.IDs())
}

func TestProcess_AudioMergesShortSegments(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.ingest(t, "talk.mp3", "fake-audio")

	segs, err := f.deps.Store.AudioSegmentsByDocument(ctx, doc.ID)
	require.NoError(t, err)
	require.Len(t, segs, 2)
	assert.Equal(t, "alpha speech continues", segs[0].Transcript)
	assert.Equal(t, 0.0, segs[0].StartTime)
	assert.Equal(t, 6.0, segs[0].EndTime)
	assert.InDelta(t, 0.8, segs[0].Confidence, 1e-9)
	assert.Equal(t, "beta speech", segs[1].Transcript)
	assert.Equal(t, "english", segs[1].Metadata["language"])

	got, err := f.deps.Store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, map[string]any{"language": "english", "duration": 12.0, "segments_count": 2.0}, got.Metadata)

	ix, err := f.deps.Indices.Get(models.ModalityAudio)
	require.NoError(t, err)
	assert.Equal(t, 2, ix.TotalCount())
}

func TestProcess_FailureMarksDocumentFailed(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.embedder.Err = errors.New("embedding service down")

	doc, err := f.p.Upload(ctx, "a.txt", strings.NewReader("Some alpha text."), 16)
	require.NoError(t, err)
	err = f.p.Process(ctx, doc.ID)
	require.Error(t, err)

	got, err := f.deps.Store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
	assert.Contains(t, got.Error, "embedding service down")
	assert.Equal(t, models.StageRecordsWritten, got.Stage)

	// resuming re-embeds the written chunks without extracting again
	f.embedder.Err = nil
	require.NoError(t, f.p.Process(ctx, doc.ID))
	got, err = f.deps.Store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusCompleted, got.Status)
	assert.Empty(t, got.Error)

	ix, err := f.deps.Indices.Get(models.ModalityText)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.TotalCount())
}

func TestProcess_IsIdempotent(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	doc := f.ingest(t, "a.txt", "Alpha one. Beta two.")
	calls := f.embedder.Calls

	require.NoError(t, f.p.Process(ctx, doc.ID))
	assert.Equal(t, calls, f.embedder.Calls)

	ix, err := f.deps.Indices.Get(models.ModalityText)
	require.NoError(t, err)
	assert.Equal(t, 1, ix.TotalCount())
}

func TestProcess_PanicIsRecorded(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	f.p.Extractor = panickingExtractor{}

	doc, err := f.p.Upload(ctx, "a.txt", strings.NewReader("alpha"), 5)
	require.NoError(t, err)
	err = f.p.Process(ctx, doc.ID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic")

	got, err := f.deps.Store.GetDocument(ctx, doc.ID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusFailed, got.Status)
}

func TestDelete_RemovesVectorsBlobAndRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)

	keep := f.ingest(t, "keep.txt", "Alpha stays here.")
	gone := f.ingest(t, "gone.txt", "Gamma is unique to this file. Gamma again.")
	goneChunks, err := f.deps.Store.ChunksByDocument(ctx, gone.ID)
	require.NoError(t, err)
	require.NotEmpty(t, goneChunks)

	require.NoError(t, f.p.Delete(ctx, gone.ID))

	ix, err := f.deps.Indices.Get(models.ModalityText)
	require.NoError(t, err)
	for _, c := range goneChunks {
		assert.NotContains(t, ix.IDs(), c.ID)
	}

	q, err := f.embedder.EmbedQuery(ctx, "gamma")
	require.NoError(t, err)
	ids, _, err := ix.SearchOne(q, 10)
	require.NoError(t, err)
	for _, c := range goneChunks {
		assert.NotContains(t, ids, c.ID)
	}

	_, err = f.deps.Store.GetDocument(ctx, gone.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.deps.Blobs.Get(ctx, gone.StoragePath)
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, err = f.deps.Store.GetDocument(ctx, keep.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, f.p.Delete(ctx, gone.ID), models.ErrNotFound)
}

func TestReindex_RebuildsFromRecords(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	a := f.ingest(t, "a.txt", "Alpha text.")
	b := f.ingest(t, "b.txt", "Beta text.")

	ix, err := f.deps.Indices.Get(models.ModalityText)
	require.NoError(t, err)
	before := ix.IDs()
	require.NoError(t, ix.DeleteByIDs(before))
	require.Zero(t, ix.TotalCount())

	n, err := f.p.Reindex(ctx, models.ModalityText)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.ElementsMatch(t, before, ix.IDs())

	for _, id := range []int64{a.ID, b.ID} {
		doc, err := f.deps.Store.GetDocument(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, models.StatusCompleted, doc.Status)
	}
}

type panickingExtractor struct{}

func (panickingExtractor) Extract(context.Context, string) (*parser.Extraction, error) {
	panic("malformed file")
}
