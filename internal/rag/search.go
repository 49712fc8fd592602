package rag

import (
	"context"
	"sort"

	"github.com/rs/zerolog/log"

	"multimodal-rag/internal/models"
)

// Search returns retrieved hits of every modality ranked by score.
func (e *Engine) Search(ctx context.Context, question string, topK int, modalities []models.Modality) ([]models.Hit, error) {
	ev, err := e.Retrieve(ctx, question, topK, modalities)
	if err != nil {
		return nil, err
	}
	hits := ev.Flatten()
	sortHits(hits)
	return truncate(hits, topK*len(modalitiesOrAll(modalities))), nil
}

// HybridSearch runs Search for the question and its expansions and merges
// hits of the same record by their mean score.
func (e *Engine) HybridSearch(ctx context.Context, question string, topK int, modalities []models.Modality) ([]models.Hit, error) {
	queries := e.ExpandQuery(ctx, question)
	log.Debug().Strs("queries", queries).Msg("Hybrid search")

	var runs [][]models.Hit
	for _, q := range queries {
		hits, err := e.Search(ctx, q, topK, modalities)
		if err != nil {
			return nil, err
		}
		runs = append(runs, hits)
	}
	hits := mergeByMean(runs)
	return truncate(hits, topK*len(modalitiesOrAll(modalities))), nil
}

type hitKey struct {
	modality models.Modality
	id       int64
}

// mergeByMean keeps the first occurrence of each record with its score
// replaced by the mean over every run it appeared in.
func mergeByMean(runs [][]models.Hit) []models.Hit {
	var (
		order []hitKey
		first = map[hitKey]models.Hit{}
		sums  = map[hitKey]float64{}
		count = map[hitKey]int{}
	)
	for _, run := range runs {
		for _, h := range run {
			k := hitKey{h.Modality, h.ID}
			if _, ok := first[k]; !ok {
				first[k] = h
				order = append(order, k)
			}
			sums[k] += float64(h.Score)
			count[k]++
		}
	}

	out := make([]models.Hit, 0, len(order))
	for _, k := range order {
		h := first[k]
		h.Score = float32(sums[k] / float64(count[k]))
		out = append(out, h)
	}
	sortHits(out)
	return out
}

func sortHits(hits []models.Hit) {
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
}

func truncate(hits []models.Hit, n int) []models.Hit {
	if n >= 0 && len(hits) > n {
		return hits[:n]
	}
	return hits
}
