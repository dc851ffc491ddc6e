package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func TestLoadConfigMissingFileUsesDefaults(t *testing.T) {
	cfg, err := LoadConfig(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)

	assert.Equal(t, 200, cfg.RAG.ChunkSize)
	assert.Equal(t, 20, cfg.RAG.ChunkOverlap)
	assert.Equal(t, 10, cfg.RAG.TopK)
	assert.Equal(t, 3, cfg.RAG.HistoryWindow)
	assert.Equal(t, "chromem", cfg.VectorStore.Type)
	assert.Equal(t, 5000, cfg.VectorStore.ListLimit)
	assert.Equal(t, "memory", cfg.History.Type)
	assert.Equal(t, "http://localhost:11434", cfg.EmbedLLM.BaseURL)
	assert.InDelta(t, 0.5, cfg.RAG.RelevanceThreshold, 1e-6)
}

func TestLoadConfigExpandsEnv(t *testing.T) {
	t.Setenv("TEST_CHAT_KEY", "secret")
	path := writeConfig(t, `
chat_llm:
  provider: openai
  base_url: https://openrouter.ai/api/v1
  key: ${TEST_CHAT_KEY}
  model: some-model
rag:
  chunk_size: 120
  chunk_overlap: 10
  relevance_threshold: 0.4
`)
	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "secret", cfg.ChatLLM.Key)
	assert.Equal(t, "openai", cfg.ChatLLM.Provider)
	assert.Equal(t, 120, cfg.RAG.ChunkSize)
	assert.Equal(t, 10, cfg.RAG.ChunkOverlap)
	assert.InDelta(t, 0.4, cfg.RAG.RelevanceThreshold, 1e-6)
	assert.Equal(t, "ollama", cfg.EmbedLLM.Provider)
}

func TestLoadConfigRejectsInvalidValues(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"overlap not below chunk size", "rag:\n  chunk_size: 10\n  chunk_overlap: 10\n"},
		{"unknown store", "vector_store:\n  type: faiss\n"},
		{"pgvector without dsn", "vector_store:\n  type: pgvector\n"},
		{"redis without addr", "history:\n  type: redis\n"},
		{"unknown provider", "chat_llm:\n  provider: bard\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := LoadConfig(writeConfig(t, tt.body))
			assert.Error(t, err)
		})
	}
}

func TestLoadConfigMalformedYAML(t *testing.T) {
	_, err := LoadConfig(writeConfig(t, "rag: [unclosed"))
	assert.Error(t, err)
}

func TestLoadConfigKeepsExplicitZeros(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "rag:\n  chunk_overlap: 0\n  relevance_threshold: 0\nembed_llm:\n  provider: openai\n"))
	require.NoError(t, err)

	assert.Zero(t, cfg.RAG.ChunkOverlap)
	assert.Zero(t, cfg.RAG.RelevanceThreshold)
	assert.Empty(t, cfg.EmbedLLM.BaseURL)
	assert.Equal(t, "nomic-embed-text", cfg.EmbedLLM.Model)
}

func TestRelevanceThresholdFor(t *testing.T) {
	tests := []struct {
		model string
		want  float32
	}{
		{"nomic-embed-text", 0.5},
		{"nomic-embed-text:v1.5", 0.5},
		{"all-minilm:l6-v2", 0.15},
		{"openai/text-embedding-3-small", 0.3},
		{"Text-Embedding-Ada-002", 0.78},
		{"some-new-model", DefaultRelevanceThreshold},
	}
	for _, tt := range tests {
		t.Run(tt.model, func(t *testing.T) {
			assert.InDelta(t, tt.want, RelevanceThresholdFor(tt.model), 1e-6)
		})
	}
}

func TestLoadConfigDerivesThresholdFromEmbedModel(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "embed_llm:\n  provider: openai\n  model: text-embedding-3-small\n"))
	require.NoError(t, err)
	assert.InDelta(t, 0.3, cfg.RAG.RelevanceThreshold, 1e-6)
}

func TestLoadConfigIgnoresRetiredDimensionKey(t *testing.T) {
	cfg, err := LoadConfig(writeConfig(t, "database:\n  driver: pq\n  dimension: 1536\n"))
	require.NoError(t, err)
	assert.Equal(t, "pq", cfg.Database.Driver)
}
