// Package ingest stores uploads, extracts their content and indexes it per modality.
package ingest

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/rs/zerolog/log"

	"multimodal-rag/internal/blob"
	"multimodal-rag/internal/chunker"
	"multimodal-rag/internal/db"
	"multimodal-rag/internal/embedding"
	"multimodal-rag/internal/helper"
	"multimodal-rag/internal/models"
	"multimodal-rag/internal/parser"
	"multimodal-rag/internal/transcribe"
	"multimodal-rag/internal/vectorindex"
)

// Deps are the collaborators of a Pipeline.
type Deps struct {
	Store         db.Store
	Blobs         blob.Store
	Indices       *vectorindex.Manager
	Extractor     parser.Extractor
	Chunker       *chunker.Chunker
	TextEmbedder  embedding.TextEmbedder
	ImageEmbedder embedding.ImageEmbedder
	Transcriber   transcribe.Transcriber
}

type Options struct {
	// MinSegmentSecs is the shortest audio segment kept without merging.
	MinSegmentSecs float64
	// TempDir holds downloaded files during extraction; empty means the OS default.
	TempDir string
}

type Pipeline struct {
	Deps
	opts Options
}

func NewPipeline(deps Deps, opts Options) *Pipeline {
	return &Pipeline{Deps: deps, opts: opts}
}

var blobPrefix = map[models.Modality]string{
	models.ModalityText:  "documents",
	models.ModalityImage: "images",
	models.ModalityAudio: "audio",
}

// Upload stores the file and creates a pending document for it.
func (p *Pipeline) Upload(ctx context.Context, filename string, r io.Reader, size int64) (*models.Document, error) {
	ext := strings.ToLower(filepath.Ext(filename))
	modality, err := models.ModalityForExtension(ext)
	if err != nil {
		return nil, err
	}
	uid, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}

	storedName := uid + ext
	objectName := blobPrefix[modality] + "/" + storedName
	if err := p.Blobs.Put(ctx, objectName, r, size, mime.TypeByExtension(ext)); err != nil {
		return nil, err
	}

	doc := &models.Document{
		Filename:         storedName,
		OriginalFilename: filepath.Base(filename),
		FileType:         strings.TrimPrefix(ext, "."),
		Modality:         modality,
		FileSize:         size,
		StoragePath:      objectName,
		Status:           models.StatusPending,
	}
	if err := p.Store.CreateDocument(ctx, doc); err != nil {
		if derr := p.Blobs.Delete(ctx, objectName); derr != nil {
			log.Warn().Err(derr).Str("object", objectName).Msg("Failed to remove orphaned upload")
		}
		return nil, err
	}

	log.Info().Int64("document_id", doc.ID).Str("filename", doc.OriginalFilename).Str("modality", string(modality)).Msg("Uploaded document")
	return doc, nil
}

// Process runs ingestion for one document. The stage column is a checkpoint:
// an indexed document is only marked completed, a document whose records were
// written is re-embedded from them, anything else starts over.
func (p *Pipeline) Process(ctx context.Context, documentID int64) (err error) {
	doc, err := p.Store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}
	logger := log.With().Int64("document_id", doc.ID).Str("modality", string(doc.Modality)).Logger()

	if doc.Stage == models.StageIndexed {
		return p.Store.UpdateStatus(ctx, doc.ID, models.StatusCompleted, "")
	}
	if err := p.Store.UpdateStatus(ctx, doc.ID, models.StatusProcessing, ""); err != nil {
		return err
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic during ingestion: %v", r)
		}
		if err != nil {
			logger.Error().Err(err).Msg("Document processing failed")
			if uerr := p.Store.UpdateStatus(context.WithoutCancel(ctx), doc.ID, models.StatusFailed, err.Error()); uerr != nil {
				logger.Error().Err(uerr).Msg("Failed to record document failure")
			}
		}
	}()

	if doc.Stage != models.StageRecordsWritten {
		if err := p.clear(ctx, doc); err != nil {
			return err
		}
		if err := p.writeRecords(ctx, doc); err != nil {
			return err
		}
		if err := p.Store.SetStage(ctx, doc.ID, models.StageRecordsWritten); err != nil {
			return err
		}
	}

	n, err := p.index(ctx, doc)
	if err != nil {
		return err
	}
	if err := p.Store.SetStage(ctx, doc.ID, models.StageIndexed); err != nil {
		return err
	}
	if err := p.Store.UpdateStatus(ctx, doc.ID, models.StatusCompleted, ""); err != nil {
		return err
	}
	logger.Info().Int("vectors", n).Msg("Document processed")
	return nil
}

// childIDs returns the ids of the document's records of one modality.
func (p *Pipeline) childIDs(ctx context.Context, documentID int64, modality models.Modality) ([]int64, error) {
	var ids []int64
	switch modality {
	case models.ModalityText:
		chunks, err := p.Store.ChunksByDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		for _, c := range chunks {
			ids = append(ids, c.ID)
		}
	case models.ModalityImage:
		images, err := p.Store.ImagesByDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		for _, img := range images {
			ids = append(ids, img.ID)
		}
	case models.ModalityAudio:
		segments, err := p.Store.AudioSegmentsByDocument(ctx, documentID)
		if err != nil {
			return nil, err
		}
		for _, s := range segments {
			ids = append(ids, s.ID)
		}
	}
	return ids, nil
}

// clear removes records and vectors left by an earlier, interrupted run.
func (p *Pipeline) clear(ctx context.Context, doc *models.Document) error {
	ids, err := p.childIDs(ctx, doc.ID, doc.Modality)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		return nil
	}
	ix, err := p.Indices.Get(doc.Modality)
	if err != nil {
		return err
	}
	if err := ix.DeleteByIDs(ids); err != nil {
		return err
	}
	log.Debug().Int64("document_id", doc.ID).Int("records", len(ids)).Msg("Cleared stale records")
	return p.Store.DeleteChildren(ctx, doc.ID)
}

// writeRecords extracts the document's records and stores them together with
// the document-level metadata the extractor reported.
func (p *Pipeline) writeRecords(ctx context.Context, doc *models.Document) error {
	var (
		meta map[string]any
		err  error
	)
	switch doc.Modality {
	case models.ModalityText:
		meta, err = p.writeChunks(ctx, doc)
	case models.ModalityImage:
		meta, err = p.writeImage(ctx, doc)
	case models.ModalityAudio:
		meta, err = p.writeSegments(ctx, doc)
	default:
		return fmt.Errorf("%w: modality %q", models.ErrUnsupportedType, doc.Modality)
	}
	if err != nil {
		return err
	}
	if err := p.Store.SetMetadata(ctx, doc.ID, meta); err != nil {
		return err
	}
	doc.Metadata = meta
	return nil
}

func (p *Pipeline) readBlob(ctx context.Context, name string) ([]byte, error) {
	rc, err := p.Blobs.Get(ctx, name)
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// download copies the blob into a temp file keeping its extension, for
// extractors that need a path.
func (p *Pipeline) download(ctx context.Context, doc *models.Document) (string, error) {
	rc, err := p.Blobs.Get(ctx, doc.StoragePath)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	f, err := os.CreateTemp(p.opts.TempDir, "ingest-*"+filepath.Ext(doc.Filename))
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	if _, err := io.Copy(f, rc); err != nil {
		f.Close()
		os.Remove(f.Name())
		return "", fmt.Errorf("failed to download %s: %w", doc.StoragePath, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(f.Name())
		return "", err
	}
	return f.Name(), nil
}

func (p *Pipeline) writeChunks(ctx context.Context, doc *models.Document) (map[string]any, error) {
	path, err := p.download(ctx, doc)
	if err != nil {
		return nil, err
	}
	defer os.Remove(path)

	ex, err := p.Extractor.Extract(ctx, path)
	if err != nil {
		return nil, err
	}

	pages := ex.Pages
	if len(pages) == 0 {
		pages = []parser.Page{{Text: ex.Text}}
	}

	var chunks []models.Chunk
	for _, page := range pages {
		var pageNumber *int
		if page.Number > 0 {
			n := page.Number
			pageNumber = &n
		}
		for _, piece := range p.Chunker.Split(page.Text) {
			chunks = append(chunks, models.Chunk{
				DocumentID: doc.ID,
				Content:    piece.Text,
				ChunkIndex: len(chunks),
				TokenCount: piece.TokenCount,
				PageNumber: pageNumber,
				Metadata:   parser.ContactInfo(piece.Text),
			})
		}
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: no chunks produced", models.ErrExtractionFailure)
	}
	if err := p.Store.InsertChunks(ctx, chunks); err != nil {
		return nil, err
	}
	return map[string]any{
		"pages":      len(ex.Pages),
		"chunks":     len(chunks),
		"characters": utf8.RuneCountInString(ex.Text),
	}, nil
}

func (p *Pipeline) writeImage(ctx context.Context, doc *models.Document) (map[string]any, error) {
	data, err := p.readBlob(ctx, doc.StoragePath)
	if err != nil {
		return nil, err
	}
	info, err := parser.DecodeImageInfo(bytes.NewReader(data))
	if err != nil {
		return nil, err
	}
	err = p.Store.InsertImage(ctx, &models.ImageRecord{
		DocumentID: doc.ID,
		ImagePath:  doc.StoragePath,
		Width:      info.Width,
		Height:     info.Height,
		Format:     info.Format,
		Metadata:   map[string]any{"mode": info.Mode, "size_bytes": len(data)},
	})
	if err != nil {
		return nil, err
	}
	return info.Metadata(len(data)), nil
}

func (p *Pipeline) writeSegments(ctx context.Context, doc *models.Document) (map[string]any, error) {
	rc, err := p.Blobs.Get(ctx, doc.StoragePath)
	if err != nil {
		return nil, err
	}
	defer rc.Close()

	segments, meta, err := p.Transcriber.Transcribe(ctx, doc.Filename, rc)
	if err != nil {
		return nil, err
	}
	segments = MergeShortSegments(segments, p.opts.MinSegmentSecs)
	if len(segments) == 0 {
		return nil, fmt.Errorf("%w: no speech transcribed", models.ErrExtractionFailure)
	}
	if meta == nil {
		meta = map[string]any{}
	}
	meta["segments_count"] = len(segments)

	var segMeta map[string]any
	if lang, ok := meta["language"]; ok {
		segMeta = map[string]any{"language": lang}
	}
	records := make([]models.AudioSegment, 0, len(segments))
	for _, s := range segments {
		records = append(records, models.AudioSegment{
			DocumentID: doc.ID,
			Transcript: s.Text,
			StartTime:  s.Start,
			EndTime:    s.End,
			Confidence: s.Confidence,
			Speaker:    s.Speaker,
			Metadata:   segMeta,
		})
	}
	if err := p.Store.InsertAudioSegments(ctx, records); err != nil {
		return nil, err
	}
	return meta, nil
}

// index embeds the document's records and adds them to the modality index,
// replacing any vectors already stored under the same ids.
func (p *Pipeline) index(ctx context.Context, doc *models.Document) (int, error) {
	ix, err := p.Indices.Get(doc.Modality)
	if err != nil {
		return 0, err
	}

	var (
		ids     []int64
		vectors [][]float32
	)
	switch doc.Modality {
	case models.ModalityText:
		chunks, err := p.Store.ChunksByDocument(ctx, doc.ID)
		if err != nil {
			return 0, err
		}
		texts := make([]string, 0, len(chunks))
		for _, c := range chunks {
			ids = append(ids, c.ID)
			texts = append(texts, c.Content)
		}
		if vectors, err = p.TextEmbedder.EmbedDocuments(ctx, texts); err != nil {
			return 0, err
		}
	case models.ModalityImage:
		images, err := p.Store.ImagesByDocument(ctx, doc.ID)
		if err != nil {
			return 0, err
		}
		for _, img := range images {
			data, err := p.readBlob(ctx, img.ImagePath)
			if err != nil {
				return 0, err
			}
			v, err := p.ImageEmbedder.EmbedImage(ctx, data)
			if err != nil {
				return 0, err
			}
			ids = append(ids, img.ID)
			vectors = append(vectors, v)
		}
	case models.ModalityAudio:
		segments, err := p.Store.AudioSegmentsByDocument(ctx, doc.ID)
		if err != nil {
			return 0, err
		}
		texts := make([]string, 0, len(segments))
		for _, s := range segments {
			ids = append(ids, s.ID)
			texts = append(texts, s.Transcript)
		}
		if vectors, err = p.TextEmbedder.EmbedDocuments(ctx, texts); err != nil {
			return 0, err
		}
	default:
		return 0, fmt.Errorf("%w: modality %q", models.ErrUnsupportedType, doc.Modality)
	}

	if err := ix.DeleteByIDs(ids); err != nil {
		return 0, err
	}
	if err := ix.Add(vectors, ids); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// Delete removes a document's vectors, then its stored file, then its records.
func (p *Pipeline) Delete(ctx context.Context, documentID int64) error {
	doc, err := p.Store.GetDocument(ctx, documentID)
	if err != nil {
		return err
	}

	for _, modality := range models.AllModalities {
		ids, err := p.childIDs(ctx, doc.ID, modality)
		if err != nil {
			return err
		}
		if len(ids) == 0 {
			continue
		}
		ix, err := p.Indices.Get(modality)
		if err != nil {
			return err
		}
		if err := ix.DeleteByIDs(ids); err != nil {
			return fmt.Errorf("failed to remove vectors of document %d: %w", doc.ID, err)
		}
	}

	if err := p.Blobs.Delete(ctx, doc.StoragePath); err != nil && !errors.Is(err, models.ErrNotFound) {
		return fmt.Errorf("failed to delete stored file of document %d: %w", doc.ID, err)
	}
	if err := p.Store.DeleteDocument(ctx, doc.ID); err != nil {
		return err
	}

	log.Info().Int64("document_id", doc.ID).Str("filename", doc.OriginalFilename).Msg("Deleted document")
	return nil
}

// Reindex rebuilds one modality index from the records of indexed documents.
func (p *Pipeline) Reindex(ctx context.Context, modality models.Modality) (int, error) {
	ix, err := p.Indices.Get(modality)
	if err != nil {
		return 0, err
	}
	if err := ix.DeleteByIDs(ix.IDs()); err != nil {
		return 0, err
	}

	docs, err := p.Store.ListDocuments(ctx, db.DocumentFilter{Modality: modality})
	if err != nil {
		return 0, err
	}
	total := 0
	for i := range docs {
		doc := &docs[i]
		if doc.Stage != models.StageIndexed && doc.Stage != models.StageRecordsWritten {
			continue
		}
		n, err := p.index(ctx, doc)
		if err != nil {
			return total, fmt.Errorf("failed to reindex document %d: %w", doc.ID, err)
		}
		if doc.Stage != models.StageIndexed {
			if err := p.Store.SetStage(ctx, doc.ID, models.StageIndexed); err != nil {
				return total, err
			}
			if err := p.Store.UpdateStatus(ctx, doc.ID, models.StatusCompleted, ""); err != nil {
				return total, err
			}
		}
		total += n
	}
	log.Info().Str("modality", string(modality)).Int("documents", len(docs)).Int("vectors", total).Msg("Rebuilt index")
	return total, nil
}
