// Package rag retrieves evidence across modalities and generates cited answers from it.
package rag

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"multimodal-rag/internal/blob"
	"multimodal-rag/internal/db"
	"multimodal-rag/internal/embedding"
	"multimodal-rag/internal/llmservice"
	"multimodal-rag/internal/models"
	"multimodal-rag/internal/vectorindex"
)

type Deps struct {
	Store     db.Store
	Blobs     blob.Store
	Indices   *vectorindex.Manager
	Text      embedding.TextEmbedder
	ImageText embedding.QueryEmbedder
	Generator llmservice.Generator
	// Abstention defaults to the phrase list in models.AbstentionPhrases.
	Abstention AbstentionDetector
}

type Options struct {
	Temperature          float64
	MaxTokens            int
	ExpansionTemperature float64
	ExpansionMaxTokens   int
}

type Engine struct {
	Deps
	opts Options
}

func NewEngine(deps Deps, opts Options) *Engine {
	if deps.Abstention == nil {
		deps.Abstention = NewPhraseDetector(models.AbstentionPhrases)
	}
	return &Engine{Deps: deps, opts: opts}
}

func modalitiesOrAll(modalities []models.Modality) []models.Modality {
	if len(modalities) == 0 {
		return models.AllModalities
	}
	return modalities
}

// Retrieve searches each requested modality index for topK hits and resolves
// them against the record store. Hits whose records are gone are dropped.
func (e *Engine) Retrieve(ctx context.Context, question string, topK int, modalities []models.Modality) (models.Evidence, error) {
	var (
		ev        models.Evidence
		textQuery []float32
	)
	for _, modality := range modalitiesOrAll(modalities) {
		ix, err := e.Indices.Get(modality)
		if err != nil {
			return ev, err
		}
		if ix.TotalCount() == 0 {
			continue
		}

		var query []float32
		switch modality {
		case models.ModalityImage:
			if query, err = e.ImageText.EmbedQuery(ctx, question); err != nil {
				return ev, err
			}
		default:
			if textQuery == nil {
				if textQuery, err = e.Text.EmbedQuery(ctx, question); err != nil {
					return ev, err
				}
			}
			query = textQuery
		}

		ids, scores, err := ix.SearchOne(query, topK)
		if err != nil {
			return ev, fmt.Errorf("search %s index: %w", modality, err)
		}
		for i, id := range ids {
			hit, err := e.resolve(ctx, modality, id, scores[i])
			if err != nil {
				log.Debug().Err(err).Str("modality", string(modality)).Int64("id", id).Msg("Dropping unresolvable hit")
				continue
			}
			switch modality {
			case models.ModalityText:
				ev.Text = append(ev.Text, hit)
			case models.ModalityImage:
				ev.Image = append(ev.Image, hit)
			case models.ModalityAudio:
				ev.Audio = append(ev.Audio, hit)
			}
		}
	}
	log.Debug().Int("text", len(ev.Text)).Int("images", len(ev.Image)).Int("audio", len(ev.Audio)).Msg("Retrieved evidence")
	return ev, nil
}

func (e *Engine) resolve(ctx context.Context, modality models.Modality, id int64, score float32) (models.Hit, error) {
	hit := models.Hit{Modality: modality, ID: id, Score: score}
	var objectName string

	switch modality {
	case models.ModalityText:
		c, err := e.Store.GetChunk(ctx, id)
		if err != nil {
			return hit, err
		}
		hit.DocumentID = c.DocumentID
		hit.Content = c.Content
		hit.PageNumber = c.PageNumber
		hit.ChunkIndex = c.ChunkIndex
		hit.Metadata = c.Metadata
	case models.ModalityImage:
		img, err := e.Store.GetImage(ctx, id)
		if err != nil {
			return hit, err
		}
		hit.DocumentID = img.DocumentID
		hit.Caption = img.Caption
		hit.Width = img.Width
		hit.Height = img.Height
		objectName = img.ImagePath
	case models.ModalityAudio:
		s, err := e.Store.GetAudioSegment(ctx, id)
		if err != nil {
			return hit, err
		}
		start, end := s.StartTime, s.EndTime
		hit.DocumentID = s.DocumentID
		hit.Content = s.Transcript
		hit.StartTime = &start
		hit.EndTime = &end
		hit.Confidence = s.Confidence
	default:
		return hit, fmt.Errorf("%w: modality %q", models.ErrUnsupportedType, modality)
	}

	doc, err := e.Store.GetDocument(ctx, hit.DocumentID)
	if err != nil {
		return hit, err
	}
	hit.Filename = doc.OriginalFilename
	if objectName == "" {
		objectName = doc.StoragePath
	}
	if u, err := e.Blobs.URL(ctx, objectName); err != nil {
		log.Warn().Err(err).Str("object", objectName).Msg("Failed to sign url")
	} else {
		hit.URL = u
	}
	return hit, nil
}
