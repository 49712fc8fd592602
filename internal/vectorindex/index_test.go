package vectorindex

import (
	"bytes"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"multimodal-rag/internal/models"
)

func openTest(t *testing.T, dir string, dim int) *Index {
	t.Helper()
	ix, err := Open(dir, "text", dim)
	require.NoError(t, err)
	return ix
}

func TestSearch_SelfSimilarityRanksFirst(t *testing.T) {
	ix := openTest(t, t.TempDir(), 3)
	require.NoError(t, ix.Add([][]float32{{1, 0, 0}, {0, 1, 0}, {1, 1, 0}}, []int64{10, 20, 30}))

	ids, scores, err := ix.SearchOne([]float32{2, 0, 0}, 3)
	require.NoError(t, err)
	require.Len(t, ids, 3)
	assert.Equal(t, int64(10), ids[0])
	assert.InDelta(t, 1.0, scores[0], 1e-6)
	assert.Equal(t, int64(30), ids[1])
	assert.InDelta(t, 0.7071, scores[1], 1e-3)
	assert.GreaterOrEqual(t, scores[1], scores[2])
}

func TestSearch_ClampsKAndHandlesEmpty(t *testing.T) {
	ix := openTest(t, t.TempDir(), 2)

	ids, scores, err := ix.SearchOne([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Empty(t, ids)
	assert.Empty(t, scores)

	require.NoError(t, ix.Add([][]float32{{1, 0}, {0, 1}}, []int64{1, 2}))
	ids, _, err = ix.SearchOne([]float32{1, 0}, 5)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	batchIDs, _, err := ix.Search([][]float32{{1, 0}, {0, 1}}, 1)
	require.NoError(t, err)
	assert.Equal(t, [][]int64{{1}, {2}}, batchIDs)
}

func TestAddAndSearch_RejectWrongDimension(t *testing.T) {
	ix := openTest(t, t.TempDir(), 3)

	err := ix.Add([][]float32{{1, 0}}, []int64{1})
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
	assert.Equal(t, 0, ix.TotalCount())

	_, _, err = ix.SearchOne([]float32{1, 0}, 1)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)

	assert.Error(t, ix.Add([][]float32{{1, 0, 0}}, []int64{1, 2}))
}

func TestDeleteByIDs_RoundTrip(t *testing.T) {
	dir := t.TempDir()
	ix := openTest(t, dir, 2)
	require.NoError(t, ix.Add([][]float32{{1, 0}, {0, 1}, {1, 1}}, []int64{1, 2, 3}))

	require.NoError(t, ix.DeleteByIDs([]int64{2}))
	assert.Equal(t, 2, ix.TotalCount())
	assert.Equal(t, []int64{1, 3}, ix.IDs())

	ids, _, err := ix.SearchOne([]float32{0, 1}, 3)
	require.NoError(t, err)
	assert.NotContains(t, ids, int64(2))

	reopened := openTest(t, dir, 2)
	assert.Equal(t, []int64{1, 3}, reopened.IDs())
}

func TestDeleteByIDs_NoMatchLeavesFilesUntouched(t *testing.T) {
	dir := t.TempDir()
	ix := openTest(t, dir, 2)
	require.NoError(t, ix.Add([][]float32{{1, 0}, {0, 1}}, []int64{1, 2}))

	indexBefore, err := os.ReadFile(ix.indexPath)
	require.NoError(t, err)
	idsBefore, err := os.ReadFile(ix.idsPath)
	require.NoError(t, err)
	statBefore, err := os.Stat(ix.indexPath)
	require.NoError(t, err)

	require.NoError(t, ix.DeleteByIDs([]int64{99}))
	require.NoError(t, ix.DeleteByIDs(nil))

	indexAfter, err := os.ReadFile(ix.indexPath)
	require.NoError(t, err)
	idsAfter, err := os.ReadFile(ix.idsPath)
	require.NoError(t, err)
	statAfter, err := os.Stat(ix.indexPath)
	require.NoError(t, err)

	assert.True(t, bytes.Equal(indexBefore, indexAfter))
	assert.True(t, bytes.Equal(idsBefore, idsAfter))
	assert.Equal(t, statBefore.ModTime(), statAfter.ModTime())
}

func TestOpen_ReloadsPersistedState(t *testing.T) {
	dir := t.TempDir()
	ix := openTest(t, dir, 2)
	require.NoError(t, ix.Add([][]float32{{3, 4}}, []int64{7}))

	reopened := openTest(t, dir, 2)
	require.NoError(t, reopened.LoadError())
	ids, scores, err := reopened.SearchOne([]float32{3, 4}, 1)
	require.NoError(t, err)
	assert.Equal(t, []int64{7}, ids)
	assert.InDelta(t, 1.0, scores[0], 1e-6)
}

func TestAdd_WritesNamedFiles(t *testing.T) {
	dir := t.TempDir()
	ix := openTest(t, dir, 2)
	require.NoError(t, ix.Add([][]float32{{1, 0}}, []int64{1}))

	assert.FileExists(t, filepath.Join(dir, "text_embeddings.index"))
	assert.FileExists(t, filepath.Join(dir, "text_embeddings.ids"))
}

func TestOpen_DimensionMismatchIsFatal(t *testing.T) {
	dir := t.TempDir()
	ix := openTest(t, dir, 2)
	require.NoError(t, ix.Add([][]float32{{1, 0}}, []int64{1}))

	_, err := Open(dir, "text", 3)
	assert.ErrorIs(t, err, models.ErrDimensionMismatch)
}

func TestOpen_CorruptionStartsEmpty(t *testing.T) {
	t.Run("truncated index", func(t *testing.T) {
		dir := t.TempDir()
		ix := openTest(t, dir, 2)
		require.NoError(t, ix.Add([][]float32{{1, 0}, {0, 1}}, []int64{1, 2}))
		data, err := os.ReadFile(ix.indexPath)
		require.NoError(t, err)
		require.NoError(t, os.WriteFile(ix.indexPath, data[:len(data)-3], 0o644))

		reopened := openTest(t, dir, 2)
		assert.ErrorIs(t, reopened.LoadError(), models.ErrIndexCorruption)
		assert.Equal(t, 0, reopened.TotalCount())
	})

	t.Run("mapping from another index", func(t *testing.T) {
		dir := t.TempDir()
		ix := openTest(t, dir, 2)
		require.NoError(t, ix.Add([][]float32{{1, 0}}, []int64{1}))
		staleIDs, err := os.ReadFile(ix.idsPath)
		require.NoError(t, err)
		require.NoError(t, ix.Add([][]float32{{0, 1}}, []int64{2}))
		// same length mapping, different index contents
		require.NoError(t, ix.DeleteByIDs([]int64{1}))
		require.NoError(t, os.WriteFile(ix.idsPath, staleIDs, 0o644))

		reopened := openTest(t, dir, 2)
		assert.ErrorIs(t, reopened.LoadError(), models.ErrIndexCorruption)
		assert.Equal(t, 0, reopened.TotalCount())
	})

	t.Run("missing mapping", func(t *testing.T) {
		dir := t.TempDir()
		ix := openTest(t, dir, 2)
		require.NoError(t, ix.Add([][]float32{{1, 0}}, []int64{1}))
		require.NoError(t, os.Remove(ix.idsPath))

		reopened := openTest(t, dir, 2)
		assert.ErrorIs(t, reopened.LoadError(), models.ErrIndexCorruption)
	})
}

func TestIndex_ConcurrentAddAndSearch(t *testing.T) {
	ix := openTest(t, t.TempDir(), 4)

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				id := int64(w*100 + i)
				assert.NoError(t, ix.Add([][]float32{{float32(w + 1), float32(i), 1, 0}}, []int64{id}))
			}
		}(w)
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 20; i++ {
				ids, scores, err := ix.SearchOne([]float32{1, 1, 1, 1}, 5)
				assert.NoError(t, err)
				assert.Equal(t, len(ids), len(scores))
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, 40, ix.TotalCount())
	reopened := openTest(t, filepath.Dir(ix.indexPath), 4)
	assert.Equal(t, 40, reopened.TotalCount())
}

func TestManager_OpensAllModalities(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "indices"), 3, 2)
	require.NoError(t, err)

	text, err := m.Get(models.ModalityText)
	require.NoError(t, err)
	assert.Equal(t, 3, text.Dimension())
	image, err := m.Get(models.ModalityImage)
	require.NoError(t, err)
	assert.Equal(t, 2, image.Dimension())
	audio, err := m.Get(models.ModalityAudio)
	require.NoError(t, err)
	assert.Equal(t, 3, audio.Dimension())

	require.NoError(t, image.Add([][]float32{{1, 1}}, []int64{5}))
	assert.Equal(t, map[models.Modality]int{models.ModalityText: 0, models.ModalityImage: 1, models.ModalityAudio: 0}, m.Stats())
	assert.Empty(t, m.Unhealthy())

	_, err = m.Get(models.Modality("video"))
	assert.Error(t, err)
}
