package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"

	"multimodal-rag/internal/models"
)

// Store persists documents and their per-modality child records.
type Store interface {
	CreateDocument(ctx context.Context, doc *models.Document) error
	GetDocument(ctx context.Context, id int64) (*models.Document, error)
	ListDocuments(ctx context.Context, filter DocumentFilter) ([]models.Document, error)
	UpdateStatus(ctx context.Context, id int64, status models.Status, errMsg string) error
	SetStage(ctx context.Context, id int64, stage models.Stage) error
	SetMetadata(ctx context.Context, id int64, metadata map[string]any) error
	DeleteDocument(ctx context.Context, id int64) error
	DeleteChildren(ctx context.Context, documentID int64) error

	InsertChunks(ctx context.Context, chunks []models.Chunk) error
	InsertImage(ctx context.Context, image *models.ImageRecord) error
	InsertAudioSegments(ctx context.Context, segments []models.AudioSegment) error

	GetChunk(ctx context.Context, id int64) (*models.Chunk, error)
	GetImage(ctx context.Context, id int64) (*models.ImageRecord, error)
	GetAudioSegment(ctx context.Context, id int64) (*models.AudioSegment, error)

	ChunksByDocument(ctx context.Context, documentID int64) ([]models.Chunk, error)
	ImagesByDocument(ctx context.Context, documentID int64) ([]models.ImageRecord, error)
	AudioSegmentsByDocument(ctx context.Context, documentID int64) ([]models.AudioSegment, error)
}

// DocumentFilter narrows ListDocuments. Zero values match everything.
type DocumentFilter struct {
	Modality models.Modality
	Status   models.Status
	Limit    int
	Offset   int
}

type BunStore struct {
	db *bun.DB
}

func NewBunStore(db *bun.DB) *BunStore {
	return &BunStore{db: db}
}

func (s *BunStore) DB() *bun.DB { return s.db }

func (s *BunStore) Close() error { return s.db.Close() }

func notFound(err error, what string, id int64) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %s %d", models.ErrNotFound, what, id)
	}
	return fmt.Errorf("failed to load %s %d: %w", what, id, err)
}

func (s *BunStore) CreateDocument(ctx context.Context, doc *models.Document) error {
	now := time.Now().UTC()
	doc.CreatedAt, doc.UpdatedAt = now, now
	if doc.Status == "" {
		doc.Status = models.StatusPending
	}
	if _, err := s.db.NewInsert().Model(doc).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert document: %w", err)
	}
	return nil
}

func (s *BunStore) GetDocument(ctx context.Context, id int64) (*models.Document, error) {
	doc := new(models.Document)
	if err := s.db.NewSelect().Model(doc).Where("d.id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "document", id)
	}
	return doc, nil
}

func (s *BunStore) ListDocuments(ctx context.Context, filter DocumentFilter) ([]models.Document, error) {
	var docs []models.Document
	q := s.db.NewSelect().Model(&docs).Order("d.id ASC")
	if filter.Modality != "" {
		q = q.Where("d.modality = ?", filter.Modality)
	}
	if filter.Status != "" {
		q = q.Where("d.status = ?", filter.Status)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}
	if filter.Offset > 0 {
		q = q.Offset(filter.Offset)
	}
	if err := q.Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list documents: %w", err)
	}
	return docs, nil
}

func (s *BunStore) updateDocument(ctx context.Context, id int64, set func(*bun.UpdateQuery) *bun.UpdateQuery) error {
	q := s.db.NewUpdate().
		Model((*models.Document)(nil)).
		Set("updated_at = ?", time.Now().UTC()).
		Where("id = ?", id)
	res, err := set(q).Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update document %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: document %d", models.ErrNotFound, id)
	}
	return nil
}

func (s *BunStore) UpdateStatus(ctx context.Context, id int64, status models.Status, errMsg string) error {
	return s.updateDocument(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("status = ?", status).Set("error = ?", errMsg)
	})
}

func (s *BunStore) SetStage(ctx context.Context, id int64, stage models.Stage) error {
	return s.updateDocument(ctx, id, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Set("stage = ?", stage)
	})
}

// SetMetadata replaces the document's extraction metadata.
func (s *BunStore) SetMetadata(ctx context.Context, id int64, metadata map[string]any) error {
	doc := &models.Document{ID: id, Metadata: metadata, UpdatedAt: time.Now().UTC()}
	res, err := s.db.NewUpdate().Model(doc).Column("metadata", "updated_at").WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update metadata of document %d: %w", id, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: document %d", models.ErrNotFound, id)
	}
	return nil
}

func deleteChildren(ctx context.Context, tx bun.IDB, documentID int64) error {
	children := []any{
		(*models.Chunk)(nil),
		(*models.ImageRecord)(nil),
		(*models.AudioSegment)(nil),
	}
	for _, model := range children {
		if _, err := tx.NewDelete().Model(model).Where("document_id = ?", documentID).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete %T rows of document %d: %w", model, documentID, err)
		}
	}
	return nil
}

// DeleteDocument removes the document and its children in one transaction.
// Children are deleted explicitly so drivers without enforced foreign keys
// behave the same as postgres.
func (s *BunStore) DeleteDocument(ctx context.Context, id int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := deleteChildren(ctx, tx, id); err != nil {
			return err
		}
		res, err := tx.NewDelete().Model((*models.Document)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to delete document %d: %w", id, err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return fmt.Errorf("%w: document %d", models.ErrNotFound, id)
		}
		return nil
	})
}

func (s *BunStore) DeleteChildren(ctx context.Context, documentID int64) error {
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return deleteChildren(ctx, tx, documentID)
	})
}

// InsertChunks inserts in slice order, so ids ascend with chunk order.
func (s *BunStore) InsertChunks(ctx context.Context, chunks []models.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range chunks {
		chunks[i].CreatedAt = now
	}
	if _, err := s.db.NewInsert().Model(&chunks).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert chunks: %w", err)
	}
	return nil
}

func (s *BunStore) InsertImage(ctx context.Context, image *models.ImageRecord) error {
	image.CreatedAt = time.Now().UTC()
	if _, err := s.db.NewInsert().Model(image).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert image record: %w", err)
	}
	return nil
}

func (s *BunStore) InsertAudioSegments(ctx context.Context, segments []models.AudioSegment) error {
	if len(segments) == 0 {
		return nil
	}
	now := time.Now().UTC()
	for i := range segments {
		segments[i].CreatedAt = now
	}
	if _, err := s.db.NewInsert().Model(&segments).Exec(ctx); err != nil {
		return fmt.Errorf("failed to insert audio segments: %w", err)
	}
	return nil
}

func (s *BunStore) GetChunk(ctx context.Context, id int64) (*models.Chunk, error) {
	c := new(models.Chunk)
	if err := s.db.NewSelect().Model(c).Where("c.id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "chunk", id)
	}
	return c, nil
}

func (s *BunStore) GetImage(ctx context.Context, id int64) (*models.ImageRecord, error) {
	img := new(models.ImageRecord)
	if err := s.db.NewSelect().Model(img).Where("ie.id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "image", id)
	}
	return img, nil
}

func (s *BunStore) GetAudioSegment(ctx context.Context, id int64) (*models.AudioSegment, error) {
	seg := new(models.AudioSegment)
	if err := s.db.NewSelect().Model(seg).Where("aseg.id = ?", id).Scan(ctx); err != nil {
		return nil, notFound(err, "audio segment", id)
	}
	return seg, nil
}

func (s *BunStore) ChunksByDocument(ctx context.Context, documentID int64) ([]models.Chunk, error) {
	var chunks []models.Chunk
	err := s.db.NewSelect().Model(&chunks).
		Where("c.document_id = ?", documentID).
		Order("c.chunk_index ASC", "c.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chunks of document %d: %w", documentID, err)
	}
	return chunks, nil
}

func (s *BunStore) ImagesByDocument(ctx context.Context, documentID int64) ([]models.ImageRecord, error) {
	var images []models.ImageRecord
	err := s.db.NewSelect().Model(&images).
		Where("ie.document_id = ?", documentID).
		Order("ie.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list images of document %d: %w", documentID, err)
	}
	return images, nil
}

func (s *BunStore) AudioSegmentsByDocument(ctx context.Context, documentID int64) ([]models.AudioSegment, error) {
	var segments []models.AudioSegment
	err := s.db.NewSelect().Model(&segments).
		Where("aseg.document_id = ?", documentID).
		Order("aseg.start_time ASC", "aseg.id ASC").
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list audio segments of document %d: %w", documentID, err)
	}
	return segments, nil
}
