package chromemdb

import (
	"context"
	"testing"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-assistant/internal/models"
	"doc-assistant/internal/store"
)

func newMemoryManager(t *testing.T) *VectorDBManager {
	t.Helper()
	m, err := NewVectorDBManager(Options{Collection: "test_chunks", InMemory: true})
	require.NoError(t, err)
	return m
}

func chunksOf(source string, texts ...string) []models.Chunk {
	out := make([]models.Chunk, len(texts))
	for i, text := range texts {
		out[i] = models.Chunk{Text: text, Page: i + 1, Source: source}
	}
	return out
}

func TestEmptyStore(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t)

	exists, err := m.Exists(ctx, "a.pdf")
	require.NoError(t, err)
	assert.False(t, exists)

	results, err := m.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	sources, err := m.ListSources(ctx)
	require.NoError(t, err)
	assert.Empty(t, sources)

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)

	assert.NoError(t, m.DeleteBySource(ctx, "a.pdf"))
}

func TestUpsertIsConditionalPerSource(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t)

	id, err := m.Upsert(ctx, chunksOf("a.pdf", "one", "two"), [][]float32{{1, 0, 0}, {0, 1, 0}})
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	exists, err := m.Exists(ctx, "a.pdf")
	require.NoError(t, err)
	assert.True(t, exists)

	_, err = m.Upsert(ctx, chunksOf("a.pdf", "one", "two"), [][]float32{{1, 0, 0}, {0, 1, 0}})
	assert.ErrorIs(t, err, store.ErrSourceExists)

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, count)

	sources, err := m.ListSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Source{{FileGroupID: id, SourceName: "a.pdf"}}, sources)
}

func TestUpsertRejectsDimensionChange(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t)

	_, err := m.Upsert(ctx, chunksOf("a.pdf", "one"), [][]float32{{1, 0, 0}})
	require.NoError(t, err)

	_, err = m.Upsert(ctx, chunksOf("b.pdf", "two"), [][]float32{{1, 0}})
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)

	_, err = m.Search(ctx, []float32{1, 0}, 3)
	assert.ErrorIs(t, err, store.ErrDimensionMismatch)
}

func TestSearchOrdersBySimilarity(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t)

	_, err := m.Upsert(ctx, chunksOf("a.pdf", "north", "east"), [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)
	bID, err := m.Upsert(ctx, chunksOf("b.pdf", "north east"), [][]float32{{1, 1}})
	require.NoError(t, err)

	results, err := m.Search(ctx, []float32{1, 0.1}, 10)
	require.NoError(t, err)

	require.Len(t, results, 3)
	assert.Equal(t, "north", results[0].Text)
	assert.Equal(t, "north east", results[1].Text)
	assert.Equal(t, "east", results[2].Text)
	assert.Equal(t, bID, results[1].FileGroupID)
	assert.Equal(t, "b.pdf", results[1].Source)
	assert.Equal(t, 1, results[1].Page)
	assert.Greater(t, results[0].Score, results[1].Score)
	assert.LessOrEqual(t, results[0].Score, float32(1.0001))

	top, err := m.Search(ctx, []float32{0, 1}, 1)
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, "east", top[0].Text)
}

func TestSearchSkipsMalformedRecords(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t)

	_, err := m.Upsert(ctx, chunksOf("a.pdf", "good"), [][]float32{{1, 0}})
	require.NoError(t, err)
	require.NoError(t, m.collection.AddDocument(ctx, chromem.Document{
		ID:        "broken",
		Content:   "no metadata",
		Embedding: []float32{1, 0},
	}))

	results, err := m.Search(ctx, []float32{1, 0}, 5)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "good", results[0].Text)
}

func TestDeleteBySourceIsExact(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t)

	_, err := m.Upsert(ctx, chunksOf("contract.pdf", "alpha", "beta"), [][]float32{{1, 0}, {0, 1}})
	require.NoError(t, err)
	keepID, err := m.Upsert(ctx, chunksOf("contract.pdf.bak", "gamma"), [][]float32{{1, 1}})
	require.NoError(t, err)

	require.NoError(t, m.DeleteBySource(ctx, "contract.pdf"))

	exists, err := m.Exists(ctx, "contract.pdf")
	require.NoError(t, err)
	assert.False(t, exists)

	sources, err := m.ListSources(ctx)
	require.NoError(t, err)
	assert.Equal(t, []models.Source{{FileGroupID: keepID, SourceName: "contract.pdf.bak"}}, sources)

	results, err := m.Search(ctx, []float32{1, 0}, 10)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "contract.pdf.bak", results[0].Source)

	// a deleted source can be ingested again
	_, err = m.Upsert(ctx, chunksOf("contract.pdf", "alpha"), [][]float32{{1, 0}})
	assert.NoError(t, err)
}

func TestListSourcesHonoursLimit(t *testing.T) {
	ctx := context.Background()
	m, err := NewVectorDBManager(Options{Collection: "limited", InMemory: true, ListLimit: 2})
	require.NoError(t, err)

	for _, name := range []string{"a.txt", "b.txt", "c.txt"} {
		_, err := m.Upsert(ctx, chunksOf(name, "text of "+name), [][]float32{{1, 0}})
		require.NoError(t, err)
	}

	sources, err := m.ListSources(ctx)
	require.NoError(t, err)
	assert.Len(t, sources, 2)
}

func TestPersistentReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	m, err := NewVectorDBManager(Options{Path: dir, Collection: "persisted"})
	require.NoError(t, err)
	id, err := m.Upsert(ctx, chunksOf("a.pdf", "kept on disk"), [][]float32{{0, 1, 0}})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	reopened, err := NewVectorDBManager(Options{Path: dir, Collection: "persisted"})
	require.NoError(t, err)

	exists, err := reopened.Exists(ctx, "a.pdf")
	require.NoError(t, err)
	assert.True(t, exists)
	assert.Equal(t, 3, reopened.dimension)

	results, err := reopened.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].FileGroupID)
}

func TestInMemorySnapshotRoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	key := "0123456789abcdef0123456789abcdef"

	m, err := NewVectorDBManager(Options{Path: dir, Collection: "snap", InMemory: true, EncryptionKey: key})
	require.NoError(t, err)
	_, err = m.Upsert(ctx, chunksOf("a.pdf", "snapshotted"), [][]float32{{1, 0}})
	require.NoError(t, err)
	require.NoError(t, m.Close())

	restored, err := NewVectorDBManager(Options{Path: dir, Collection: "snap", InMemory: true, EncryptionKey: key})
	require.NoError(t, err)

	sources, err := restored.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "a.pdf", sources[0].SourceName)
}

func TestResetClearsEverything(t *testing.T) {
	ctx := context.Background()
	m := newMemoryManager(t)
	_, err := m.Upsert(ctx, chunksOf("a.pdf", "one"), [][]float32{{1, 0, 0}})
	require.NoError(t, err)

	require.NoError(t, m.Reset(ctx))

	count, err := m.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, count)
	exists, err := m.Exists(ctx, "a.pdf")
	require.NoError(t, err)
	assert.False(t, exists)

	// the dimension is chosen again by the next write
	_, err = m.Upsert(ctx, chunksOf("a.pdf", "one"), [][]float32{{1, 0}})
	assert.NoError(t, err)
}
