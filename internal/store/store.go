// Package store defines the vector store contract shared by the chromem and
// pgvector backends.
package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"doc-assistant/internal/models"
)

const DefaultListLimit = 5000

var (
	ErrSourceExists      = errors.New("source already exists")
	ErrDimensionMismatch = errors.New("vector dimension mismatch")
	ErrInvalidBatch      = errors.New("invalid batch")
	ErrInvalidRecord     = errors.New("invalid record")
)

// VectorStore persists chunk vectors of every ingested source in one
// logical collection. Scores are cosine similarities in [-1, 1].
type VectorStore interface {
	Exists(ctx context.Context, sourceName string) (bool, error)
	// Upsert stores one source atomically and returns its file group id, or
	// ErrSourceExists without writing when the source is already present.
	Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32) (string, error)
	Search(ctx context.Context, vector []float32, topK int) ([]models.SearchResult, error)
	DeleteBySource(ctx context.Context, sourceName string) error
	ListSources(ctx context.Context) ([]models.Source, error)
	Count(ctx context.Context) (int, error)
	Close() error
}

// Resetter is implemented by stores that can drop everything they hold.
type Resetter interface {
	Reset(ctx context.Context) error
}

// ValidateBatch checks that chunks and vectors pair up, belong to a single
// source and share one dimension. It returns the source name and dimension.
func ValidateBatch(chunks []models.Chunk, vectors [][]float32) (string, int, error) {
	if len(chunks) == 0 {
		return "", 0, fmt.Errorf("%w: no chunks", ErrInvalidBatch)
	}
	if len(chunks) != len(vectors) {
		return "", 0, fmt.Errorf("%w: %d chunks but %d vectors", ErrInvalidBatch, len(chunks), len(vectors))
	}
	source := chunks[0].Source
	if source == "" {
		return "", 0, fmt.Errorf("%w: chunk without source", ErrInvalidBatch)
	}
	dim := len(vectors[0])
	if dim == 0 {
		return "", 0, fmt.Errorf("%w: empty vector", ErrInvalidBatch)
	}
	for i := range chunks {
		if chunks[i].Source != source {
			return "", 0, fmt.Errorf("%w: mixed sources %q and %q", ErrInvalidBatch, source, chunks[i].Source)
		}
		if len(vectors[i]) != dim {
			return "", 0, fmt.Errorf("%w: vector %d has %d dimensions, expected %d", ErrDimensionMismatch, i, len(vectors[i]), dim)
		}
	}
	return source, dim, nil
}

// RecordFromMetadata rebuilds a record from flat string metadata, rejecting
// entries that are missing required fields.
func RecordFromMetadata(id, text string, meta map[string]string) (models.Record, error) {
	rec := models.Record{
		ID:          id,
		Text:        text,
		SourceName:  meta[models.MetaSourceName],
		FileGroupID: meta[models.MetaFileGroupID],
	}
	if rec.Text == "" {
		return rec, fmt.Errorf("%w: empty text", ErrInvalidRecord)
	}
	if rec.SourceName == "" || rec.FileGroupID == "" {
		return rec, fmt.Errorf("%w: missing source name or file group", ErrInvalidRecord)
	}
	page, err := strconv.Atoi(meta[models.MetaPage])
	if err != nil || page < 1 {
		return rec, fmt.Errorf("%w: bad page %q", ErrInvalidRecord, meta[models.MetaPage])
	}
	rec.Page = page
	return rec, nil
}
