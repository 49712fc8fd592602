// Package linker finds records of other modalities that belong to the same
// document as a source record, and audio segments that overlap in time.
package linker

import (
	"context"
	"fmt"
	"math"
	"sort"

	"github.com/rs/zerolog/log"

	"multimodal-rag/internal/db"
	"multimodal-rag/internal/models"
)

type Linker struct {
	store db.Store
}

func New(store db.Store) *Linker {
	return &Linker{store: store}
}

func (l *Linker) documentOf(ctx context.Context, sourceID int64, modality models.Modality) (int64, error) {
	switch modality {
	case models.ModalityText:
		c, err := l.store.GetChunk(ctx, sourceID)
		if err != nil {
			return 0, err
		}
		return c.DocumentID, nil
	case models.ModalityImage:
		img, err := l.store.GetImage(ctx, sourceID)
		if err != nil {
			return 0, err
		}
		return img.DocumentID, nil
	case models.ModalityAudio:
		s, err := l.store.GetAudioSegment(ctx, sourceID)
		if err != nil {
			return 0, err
		}
		return s.DocumentID, nil
	}
	return 0, fmt.Errorf("%w: modality %q", models.ErrUnsupportedType, modality)
}

// RelatedContent lists every record of the source's document in the
// modalities other than the source's own.
func (l *Linker) RelatedContent(ctx context.Context, sourceID int64, modality models.Modality) (models.Related, error) {
	related := models.Related{Text: []models.ChunkLink{}, Images: []models.ImageLink{}, Audio: []models.AudioLink{}}

	docID, err := l.documentOf(ctx, sourceID, modality)
	if err != nil {
		return related, err
	}

	if modality != models.ModalityText {
		chunks, err := l.store.ChunksByDocument(ctx, docID)
		if err != nil {
			return related, err
		}
		for _, c := range chunks {
			related.Text = append(related.Text, models.ChunkLink{
				ChunkID:    c.ID,
				DocumentID: c.DocumentID,
				Content:    c.Content,
				PageNumber: c.PageNumber,
			})
		}
	}
	if modality != models.ModalityImage {
		images, err := l.store.ImagesByDocument(ctx, docID)
		if err != nil {
			return related, err
		}
		for _, img := range images {
			related.Images = append(related.Images, models.ImageLink{
				ImageID:    img.ID,
				DocumentID: img.DocumentID,
				Path:       img.ImagePath,
				Caption:    img.Caption,
			})
		}
	}
	if modality != models.ModalityAudio {
		segs, err := l.store.AudioSegmentsByDocument(ctx, docID)
		if err != nil {
			return related, err
		}
		for _, s := range segs {
			related.Audio = append(related.Audio, audioLink(s))
		}
	}

	log.Debug().
		Int64("document_id", docID).
		Str("modality", string(modality)).
		Int("text", len(related.Text)).
		Int("images", len(related.Images)).
		Int("audio", len(related.Audio)).
		Msg("Resolved related content")
	return related, nil
}

// RelatedByTimestamp returns the other segments of the source segment's
// recording that fall within window seconds around it, ordered by start time.
func (l *Linker) RelatedByTimestamp(ctx context.Context, segmentID int64, window float64) ([]models.TimedSegment, error) {
	src, err := l.store.GetAudioSegment(ctx, segmentID)
	if err != nil {
		return nil, err
	}
	segs, err := l.store.AudioSegmentsByDocument(ctx, src.DocumentID)
	if err != nil {
		return nil, err
	}

	lo, hi := src.StartTime-window, src.EndTime+window
	out := []models.TimedSegment{}
	for _, s := range segs {
		if s.ID == src.ID || s.StartTime < lo || s.EndTime > hi {
			continue
		}
		out = append(out, models.TimedSegment{
			AudioLink:  audioLink(s),
			TimeOffset: math.Abs(s.StartTime - src.StartTime),
		})
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].StartTime < out[j].StartTime })
	return out, nil
}

func audioLink(s models.AudioSegment) models.AudioLink {
	return models.AudioLink{
		SegmentID:  s.ID,
		DocumentID: s.DocumentID,
		Transcript: s.Transcript,
		StartTime:  s.StartTime,
		EndTime:    s.EndTime,
	}
}
