// Package vectorindex is a flat inner-product vector index per modality.
//
// Vectors are L2-normalized on the way in so the inner product equals the
// cosine similarity. The index has no notion of external identity: an ordinal
// mapping, kept in insertion order, translates positions back to record ids.
// Deletion rebuilds the index from the retained vectors, which is O(n) in the
// surviving vectors and is the main scaling limit of the system.
package vectorindex

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"

	"multimodal-rag/internal/models"
)

// Index stores fixed-dimension unit vectors and the ordinal -> record id mapping.
type Index struct {
	name      string
	dim       int
	indexPath string
	idsPath   string

	// writeMu serializes the read-modify-persist cycle of Add and DeleteByIDs.
	writeMu sync.Mutex

	// mu guards the slice headers below. The slices themselves are never
	// mutated after being published, so readers may use a snapshot unlocked.
	mu      sync.RWMutex
	vectors []float32
	ids     []int64

	loadErr error
}

// Open loads the index called name from dir, or starts empty when no files exist.
// A dimension mismatch with the persisted index is returned as an error; unreadable
// or inconsistent files are logged and the index starts empty (see LoadError).
func Open(dir, name string, dim int) (*Index, error) {
	if dim <= 0 {
		return nil, fmt.Errorf("vectorindex: invalid dimension %d for %s", dim, name)
	}
	ix := &Index{
		name:      name,
		dim:       dim,
		indexPath: filepath.Join(dir, name+"_embeddings.index"),
		idsPath:   filepath.Join(dir, name+"_embeddings.ids"),
	}

	vectors, ids, err := load(ix.indexPath, ix.idsPath, dim)
	switch {
	case err == nil:
		ix.vectors, ix.ids = vectors, ids
	case isDimensionMismatch(err):
		return nil, err
	default:
		log.Error().Err(err).Str("index", name).Msg("Persisted index unusable, starting empty")
		ix.loadErr = err
	}

	log.Info().Str("index", name).Int("dimension", dim).Int("total", len(ix.ids)).Msg("Opened vector index")
	return ix, nil
}

func (ix *Index) Name() string { return ix.name }

func (ix *Index) Dimension() int { return ix.dim }

// LoadError reports why persisted files were discarded at startup, if they were.
func (ix *Index) LoadError() error { return ix.loadErr }

// TotalCount returns the number of stored vectors.
func (ix *Index) TotalCount() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return len(ix.ids)
}

// IDs returns a copy of the ordinal mapping.
func (ix *Index) IDs() []int64 {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return append([]int64(nil), ix.ids...)
}

func (ix *Index) snapshot() ([]float32, []int64) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.vectors, ix.ids
}

func (ix *Index) publish(vectors []float32, ids []int64) {
	ix.mu.Lock()
	ix.vectors, ix.ids = vectors, ids
	ix.mu.Unlock()
}

// Add normalizes vectors and appends them with their ids, then persists both files.
func (ix *Index) Add(vectors [][]float32, ids []int64) error {
	if len(vectors) != len(ids) {
		return fmt.Errorf("vectorindex: %d vectors but %d ids", len(vectors), len(ids))
	}
	for _, v := range vectors {
		if len(v) != ix.dim {
			return fmt.Errorf("%w: index %s expects %d, got %d", models.ErrDimensionMismatch, ix.name, ix.dim, len(v))
		}
	}
	if len(vectors) == 0 {
		return nil
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	curVectors, curIDs := ix.snapshot()
	newVectors := make([]float32, len(curVectors), len(curVectors)+len(vectors)*ix.dim)
	copy(newVectors, curVectors)
	for _, v := range vectors {
		newVectors = append(newVectors, normalize(v)...)
	}
	newIDs := make([]int64, len(curIDs), len(curIDs)+len(ids))
	copy(newIDs, curIDs)
	newIDs = append(newIDs, ids...)

	if err := ix.persist(newVectors, newIDs); err != nil {
		return err
	}
	ix.publish(newVectors, newIDs)

	log.Info().Str("index", ix.name).Int("added", len(ids)).Int("total", len(newIDs)).Msg("Added embeddings to index")
	return nil
}

// Search returns, per query, up to k record ids and scores by descending similarity.
// k is clamped to the stored count; an empty index yields empty results.
func (ix *Index) Search(queries [][]float32, k int) ([][]int64, [][]float32, error) {
	for _, q := range queries {
		if len(q) != ix.dim {
			return nil, nil, fmt.Errorf("%w: index %s expects %d, got %d", models.ErrDimensionMismatch, ix.name, ix.dim, len(q))
		}
	}

	vectors, ids := ix.snapshot()
	n := len(ids)
	if k > n {
		k = n
	}

	outIDs := make([][]int64, len(queries))
	outScores := make([][]float32, len(queries))
	if k <= 0 {
		for i := range queries {
			outIDs[i] = []int64{}
			outScores[i] = []float32{}
		}
		return outIDs, outScores, nil
	}

	scores := make([]float32, n)
	order := make([]int, n)
	for qi, q := range queries {
		qn := normalize(q)
		for j := 0; j < n; j++ {
			scores[j] = dot(qn, vectors[j*ix.dim:(j+1)*ix.dim])
			order[j] = j
		}
		sort.SliceStable(order, func(a, b int) bool { return scores[order[a]] > scores[order[b]] })

		resIDs := make([]int64, k)
		resScores := make([]float32, k)
		for r := 0; r < k; r++ {
			resIDs[r] = ids[order[r]]
			resScores[r] = scores[order[r]]
		}
		outIDs[qi] = resIDs
		outScores[qi] = resScores
	}
	return outIDs, outScores, nil
}

// SearchOne is Search for a single query vector.
func (ix *Index) SearchOne(query []float32, k int) ([]int64, []float32, error) {
	ids, scores, err := ix.Search([][]float32{query}, k)
	if err != nil {
		return nil, nil, err
	}
	return ids[0], scores[0], nil
}

// DeleteByIDs rebuilds the index without the vectors mapped to ids.
// When nothing matches, no file is rewritten.
func (ix *Index) DeleteByIDs(ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	drop := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		drop[id] = struct{}{}
	}

	ix.writeMu.Lock()
	defer ix.writeMu.Unlock()

	curVectors, curIDs := ix.snapshot()
	keptVectors := make([]float32, 0, len(curVectors))
	keptIDs := make([]int64, 0, len(curIDs))
	for ord, id := range curIDs {
		if _, ok := drop[id]; ok {
			continue
		}
		keptVectors = append(keptVectors, curVectors[ord*ix.dim:(ord+1)*ix.dim]...)
		keptIDs = append(keptIDs, id)
	}
	removed := len(curIDs) - len(keptIDs)
	if removed == 0 {
		return nil
	}

	if err := ix.persist(keptVectors, keptIDs); err != nil {
		return err
	}
	ix.publish(keptVectors, keptIDs)

	log.Info().Str("index", ix.name).Int("deleted", removed).Int("remaining", len(keptIDs)).Msg("Rebuilt index after delete")
	return nil
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float32 {
	var s float64
	for i := range a {
		s += float64(a[i]) * float64(b[i])
	}
	return float32(s)
}
