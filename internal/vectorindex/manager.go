package vectorindex

import (
	"fmt"

	"multimodal-rag/internal/helper"
	"multimodal-rag/internal/models"
)

// Manager owns one Index per modality. Text and audio share the text
// embedding space; images live in the image model's space.
type Manager struct {
	dir     string
	indices map[models.Modality]*Index
}

func NewManager(dir string, textDim, imageDim int) (*Manager, error) {
	if err := helper.CreateFolder(dir); err != nil {
		return nil, fmt.Errorf("failed to create index directory: %w", err)
	}
	dims := map[models.Modality]int{
		models.ModalityText:  textDim,
		models.ModalityImage: imageDim,
		models.ModalityAudio: textDim,
	}
	m := &Manager{dir: dir, indices: make(map[models.Modality]*Index, len(dims))}
	for _, modality := range models.AllModalities {
		ix, err := Open(dir, string(modality), dims[modality])
		if err != nil {
			return nil, err
		}
		m.indices[modality] = ix
	}
	return m, nil
}

// Get returns the index for modality.
func (m *Manager) Get(modality models.Modality) (*Index, error) {
	ix, ok := m.indices[modality]
	if !ok {
		return nil, fmt.Errorf("no index for modality %q", modality)
	}
	return ix, nil
}

// Stats returns the vector count per modality.
func (m *Manager) Stats() map[models.Modality]int {
	out := make(map[models.Modality]int, len(m.indices))
	for modality, ix := range m.indices {
		out[modality] = ix.TotalCount()
	}
	return out
}

// Unhealthy lists modalities whose persisted files were discarded at load.
func (m *Manager) Unhealthy() []models.Modality {
	var out []models.Modality
	for _, modality := range models.AllModalities {
		if m.indices[modality].LoadError() != nil {
			out = append(out, modality)
		}
	}
	return out
}
