package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig_MissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "sqlite", cfg.Database.Driver)
	assert.Equal(t, 512, cfg.RAG.ChunkSize)
	assert.Equal(t, 50, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 384, cfg.Index.TextDim)
	assert.Equal(t, 512, cfg.Index.ImageDim)
	assert.Equal(t, 5.0, cfg.RAG.MinSegmentSecs)
	assert.Equal(t, 2, cfg.Ingest.Workers)
	require.NotNil(t, cfg.RAG.Temperature)
	assert.Equal(t, 0.1, *cfg.RAG.Temperature)
	require.NotNil(t, cfg.RAG.ExpansionTemperature)
	assert.Equal(t, 0.7, *cfg.RAG.ExpansionTemperature)
}

func TestLoadConfig_KeepsZeroTemperature(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
rag:
  temperature: 0
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	require.NotNil(t, cfg.RAG.Temperature)
	assert.Equal(t, 0.0, *cfg.RAG.Temperature)
	require.NotNil(t, cfg.RAG.ExpansionTemperature)
	assert.Equal(t, 0.7, *cfg.RAG.ExpansionTemperature)
}

func TestLoadConfig_ExpandsEnvironment(t *testing.T) {
	t.Setenv("RAG_TEST_SECRET", "s3cr3t")
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
storage:
  backend: minio
  endpoint: localhost:9000
  secret_key: ${RAG_TEST_SECRET}
rag:
  chunk_size: 128
  chunk_overlap: 16
index:
  text_dim: 768
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "minio", cfg.Storage.Backend)
	assert.Equal(t, "s3cr3t", cfg.Storage.SecretKey)
	assert.Equal(t, 128, cfg.RAG.ChunkSize)
	assert.Equal(t, 16, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 768, cfg.Index.TextDim)
	assert.Equal(t, 512, cfg.Index.ImageDim)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("rag: [unclosed"), 0o644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}
