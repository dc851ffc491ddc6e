package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strconv"
	"sync"

	"github.com/google/uuid"
	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"doc-assistant/internal/models"
	"doc-assistant/internal/store"
)

// catalog documents carry a constant one dimensional embedding so that a
// query returns every entry
var catalogEmbedding = []float32{1}

const (
	compress      = false
	catalogSuffix = "_sources"
)

type Options struct {
	Path          string
	Collection    string
	InMemory      bool
	EncryptionKey string
	ListLimit     int
}

// VectorDBManager encapsulates the chromem-go database operations. Chunk
// records live in one collection; a companion catalog collection holds one
// document per source, keyed by source name.
type VectorDBManager struct {
	mu             sync.RWMutex
	db             *chromem.DB
	collection     *chromem.Collection
	sources        *chromem.Collection
	collectionName string
	dbPath         string
	inMemory       bool
	encryptionKey  string
	filePath       string
	listLimit      int
	dimension      int
}

// precomputedOnly refuses to embed, every document and query arrives with
// its vector already computed
func precomputedOnly(_ context.Context, _ string) ([]float32, error) {
	return nil, errors.New("chromemdb: embeddings must be computed by the caller")
}

// NewVectorDBManager opens (or creates) the database. Collections are not
// created until the first write.
func NewVectorDBManager(opts Options) (*VectorDBManager, error) {
	if opts.Collection == "" {
		return nil, errors.New("collection name is required")
	}
	if opts.ListLimit <= 0 {
		opts.ListLimit = store.DefaultListLimit
	}

	m := &VectorDBManager{
		collectionName: opts.Collection,
		dbPath:         opts.Path,
		inMemory:       opts.InMemory,
		encryptionKey:  opts.EncryptionKey,
		listLimit:      opts.ListLimit,
		filePath:       filepath.Join(opts.Path, opts.Collection+".chromem"),
	}

	if opts.InMemory {
		m.db = chromem.NewDB()
		if err := m.importSnapshot(); err != nil {
			return nil, err
		}
	} else {
		db, err := chromem.NewPersistentDB(opts.Path, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
		m.db = db
	}

	m.collection = m.db.GetCollection(m.collectionName, precomputedOnly)
	m.sources = m.db.GetCollection(m.collectionName+catalogSuffix, precomputedOnly)
	if err := m.loadDimension(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *VectorDBManager) loadDimension() error {
	if m.sources == nil || m.sources.Count() == 0 {
		return nil
	}
	res, err := m.sources.QueryEmbedding(context.Background(), catalogEmbedding, 1, nil, nil)
	if err != nil {
		return fmt.Errorf("failed to read catalog: %w", err)
	}
	if len(res) > 0 {
		m.dimension, _ = strconv.Atoi(res[0].Metadata[models.MetaDimension])
	}
	return nil
}

// create collections on first write; an existing collection is reused
func (m *VectorDBManager) getOrCreateCollections() error {
	if m.collection == nil {
		c, err := m.db.GetOrCreateCollection(m.collectionName, nil, precomputedOnly)
		if err != nil {
			return fmt.Errorf("failed to create/get collection: %w", err)
		}
		m.collection = c
	}
	if m.sources == nil {
		c, err := m.db.GetOrCreateCollection(m.collectionName+catalogSuffix, nil, precomputedOnly)
		if err != nil {
			return fmt.Errorf("failed to create/get catalog collection: %w", err)
		}
		m.sources = c
	}
	return nil
}

func (m *VectorDBManager) existsLocked(ctx context.Context, sourceName string) bool {
	if m.sources == nil || sourceName == "" {
		return false
	}
	_, err := m.sources.GetByID(ctx, sourceName)
	return err == nil
}

// Exists reports whether any record of sourceName is stored.
func (m *VectorDBManager) Exists(ctx context.Context, sourceName string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.existsLocked(ctx, sourceName), nil
}

// Upsert writes all chunks of one source under a fresh file group id. The
// existence check and the write happen under the same lock, a source that
// is already stored yields store.ErrSourceExists and nothing is written.
func (m *VectorDBManager) Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32) (string, error) {
	sourceName, dim, err := store.ValidateBatch(chunks, vectors)
	if err != nil {
		return "", err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.dimension != 0 && dim != m.dimension {
		return "", fmt.Errorf("%w: collection has %d, got %d", store.ErrDimensionMismatch, m.dimension, dim)
	}
	if err := m.getOrCreateCollections(); err != nil {
		return "", err
	}
	if m.existsLocked(ctx, sourceName) {
		return "", store.ErrSourceExists
	}

	fileGroupID := uuid.NewString()
	docs := make([]chromem.Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = chromem.Document{
			ID:      uuid.NewString(),
			Content: chunk.Text,
			Metadata: map[string]string{
				models.MetaPage:        strconv.Itoa(chunk.Page),
				models.MetaSource:      chunk.Source,
				models.MetaSourceName:  sourceName,
				models.MetaFileGroupID: fileGroupID,
			},
			Embedding: vectors[i],
		}
	}

	if err := m.collection.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		m.rollback(fileGroupID)
		return "", fmt.Errorf("failed to add documents: %w", err)
	}

	entry := chromem.Document{
		ID:      sourceName,
		Content: sourceName,
		Metadata: map[string]string{
			models.MetaSourceName:  sourceName,
			models.MetaFileGroupID: fileGroupID,
			models.MetaDimension:   strconv.Itoa(dim),
		},
		Embedding: catalogEmbedding,
	}
	if err := m.sources.AddDocument(ctx, entry); err != nil {
		m.rollback(fileGroupID)
		return "", fmt.Errorf("failed to add catalog entry: %w", err)
	}

	m.dimension = dim
	log.Debug().Str("source", sourceName).Str("file_id", fileGroupID).Int("records", len(docs)).Msg("Stored records")
	return fileGroupID, nil
}

// rollback removes records of a failed write so a source is never half stored
func (m *VectorDBManager) rollback(fileGroupID string) {
	err := m.collection.Delete(context.Background(), map[string]string{models.MetaFileGroupID: fileGroupID}, nil)
	if err != nil {
		log.Error().Err(err).Str("file_id", fileGroupID).Msg("Failed to roll back partial write")
	}
}

// Search returns up to topK records by descending cosine similarity.
func (m *VectorDBManager) Search(ctx context.Context, vector []float32, topK int) ([]models.SearchResult, error) {
	if len(vector) == 0 {
		return nil, errors.New("query embedding must be provided")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.collection == nil || topK <= 0 {
		return nil, nil
	}
	if m.dimension != 0 && len(vector) != m.dimension {
		return nil, fmt.Errorf("%w: collection has %d, got %d", store.ErrDimensionMismatch, m.dimension, len(vector))
	}
	n := min(topK, m.collection.Count())
	if n == 0 {
		return nil, nil
	}

	results, err := m.collection.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		rec, err := store.RecordFromMetadata(r.ID, r.Content, r.Metadata)
		if err != nil {
			log.Warn().Err(err).Str("id", r.ID).Msg("Skipping invalid record")
			continue
		}
		out = append(out, models.SearchResult{
			Chunk:       models.Chunk{Text: rec.Text, Page: rec.Page, Source: r.Metadata[models.MetaSource]},
			FileGroupID: rec.FileGroupID,
			Score:       r.Similarity,
		})
	}
	return out, nil
}

// DeleteBySource removes every record whose source name equals sourceName.
func (m *VectorDBManager) DeleteBySource(ctx context.Context, sourceName string) error {
	if sourceName == "" {
		return errors.New("source name is required")
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.collection == nil {
		return nil
	}
	if err := m.collection.Delete(ctx, map[string]string{models.MetaSourceName: sourceName}, nil); err != nil {
		return fmt.Errorf("failed to delete records of %s: %w", sourceName, err)
	}
	if m.existsLocked(ctx, sourceName) {
		if err := m.sources.Delete(ctx, nil, nil, sourceName); err != nil {
			return fmt.Errorf("failed to delete catalog entry of %s: %w", sourceName, err)
		}
	}
	return nil
}

// ListSources scans at most listLimit catalog entries. The listing is best
// effort: sources beyond the limit are not returned.
func (m *VectorDBManager) ListSources(ctx context.Context) ([]models.Source, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.sources == nil {
		return nil, nil
	}
	n := min(m.listLimit, m.sources.Count())
	if n == 0 {
		return nil, nil
	}
	entries, err := m.sources.QueryEmbedding(ctx, catalogEmbedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to scan catalog: %w", err)
	}

	seen := make(map[string]bool, len(entries))
	out := make([]models.Source, 0, len(entries))
	for _, e := range entries {
		fileGroupID := e.Metadata[models.MetaFileGroupID]
		name := e.Metadata[models.MetaSourceName]
		if fileGroupID == "" || name == "" {
			log.Warn().Str("id", e.ID).Msg("Skipping invalid catalog entry")
			continue
		}
		if seen[fileGroupID] {
			continue
		}
		seen[fileGroupID] = true
		out = append(out, models.Source{FileGroupID: fileGroupID, SourceName: name})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SourceName < out[j].SourceName })
	return out, nil
}

// Count returns the number of stored chunk records.
func (m *VectorDBManager) Count(_ context.Context) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.collection == nil {
		return 0, nil
	}
	return m.collection.Count(), nil
}

// Reset deletes both collections and any snapshot file.
func (m *VectorDBManager) Reset(_ context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, name := range []string{m.collectionName, m.collectionName + catalogSuffix} {
		if err := m.db.DeleteCollection(name); err != nil {
			return fmt.Errorf("failed to delete collection %s: %w", name, err)
		}
	}
	m.collection, m.sources, m.dimension = nil, nil, 0
	if m.inMemory {
		if err := os.Remove(m.filePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("failed to remove snapshot: %w", err)
		}
	}
	return nil
}

// Close writes the encrypted snapshot of an in-memory database.
func (m *VectorDBManager) Close() error {
	if !m.inMemory || m.encryptionKey == "" {
		return nil
	}
	return m.Export(context.Background())
}

// Export writes both collections to an encrypted snapshot file.
func (m *VectorDBManager) Export(_ context.Context) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if m.dbPath == "" {
		return fmt.Errorf("db path is required")
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.collection == nil {
		return nil
	}

	log.Debug().Str("collection", m.collectionName).Str("file", m.filePath).Msg("Exporting collections")
	if err := os.MkdirAll(m.dbPath, 0o755); err != nil {
		return fmt.Errorf("failed to create folder: %w", err)
	}
	err := m.db.ExportToFile(m.filePath, compress, m.encryptionKey, m.collection.Name, m.sources.Name)
	if err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

func (m *VectorDBManager) importSnapshot() error {
	if m.encryptionKey == "" {
		return nil
	}
	if _, err := os.Stat(m.filePath); err != nil {
		return nil
	}
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	log.Info().Str("file", m.filePath).Msg("Imported snapshot")
	return nil
}

var (
	_ store.VectorStore = (*VectorDBManager)(nil)
	_ store.Resetter    = (*VectorDBManager)(nil)
)
