package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"doc-assistant/internal/chromemdb"
	"doc-assistant/internal/history"
	"doc-assistant/internal/llmservice"
	"doc-assistant/internal/models"
	"doc-assistant/internal/scraper"
	"doc-assistant/internal/store"
)

// scriptedEmbedder maps known texts to fixed vectors; anything else maps to
// the third axis.
type scriptedEmbedder struct {
	vectors  map[string][]float32
	queryErr error
	docErr   error
}

func (e *scriptedEmbedder) vector(text string) []float32 {
	if v, ok := e.vectors[text]; ok {
		return v
	}
	return []float32{0, 0, 1}
}

func (e *scriptedEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	if e.docErr != nil {
		return nil, e.docErr
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		out[i] = e.vector(t)
	}
	return out, nil
}

func (e *scriptedEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	if e.queryErr != nil {
		return nil, e.queryErr
	}
	return e.vector(text), nil
}

type recordingGenerator struct {
	mu      sync.Mutex
	prompts []string
}

func (g *recordingGenerator) Stream(_ context.Context, prompt string) <-chan string {
	g.mu.Lock()
	g.prompts = append(g.prompts, prompt)
	g.mu.Unlock()
	return llmservice.Text("generated answer")
}

type fakeScraper struct {
	page scraper.Result
	err  error
}

func (s *fakeScraper) Scrape(_ context.Context, url string) (scraper.Result, error) {
	if s.err != nil {
		return scraper.Result{}, s.err
	}
	page := s.page
	page.URL = url
	return page, nil
}

type countFailingStore struct {
	store.VectorStore
}

func (countFailingStore) Count(context.Context) (int, error) {
	return 0, errors.New("store unavailable")
}

type fixture struct {
	rag       *RAG
	store     *chromemdb.VectorDBManager
	embedder  *scriptedEmbedder
	generator *recordingGenerator
	history   *history.Memory
	scraper   *fakeScraper
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	vs, err := chromemdb.NewVectorDBManager(chromemdb.Options{Collection: "rag_test", InMemory: true})
	require.NoError(t, err)
	f := &fixture{
		store: vs,
		embedder: &scriptedEmbedder{vectors: map[string][]float32{
			"force majeure excuses performance": {1, 0, 0},
			"What is force majeure?":            {1, 0, 0},
			"payment terms are net thirty days": {0, 1, 0},
			"When is payment due?":              {0, 1, 0},
			"unrelated question":                {0.1, 0.1, -1},
		}},
		generator: &recordingGenerator{},
		history:   history.NewMemory(),
		scraper:   &fakeScraper{page: scraper.Result{Title: "Example", Content: "page body text"}},
	}
	f.rag = NewRAG(vs, f.embedder, f.generator, f.history, f.scraper, Options{
		ChunkSize:          200,
		ChunkOverlap:       20,
		TopK:               10,
		RelevanceThreshold: 0.25,
		HistoryWindow:      3,
		MaxContentChars:    100,
	})
	return f
}

func (f *fixture) ingestText(t *testing.T, session, source, text string) models.IngestResult {
	t.Helper()
	return f.rag.Ingest(context.Background(), session, []models.Page{{Text: text, Page: 1, Source: source}})
}

func collect(ch <-chan string) string {
	var b strings.Builder
	for s := range ch {
		b.WriteString(s)
	}
	return b.String()
}

func TestRouteGreeting(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, q := range []string{"hello", "  Hello ", "GOOD MORNING", "hey there"} {
		assert.Equal(t, Greeting{}, f.rag.Route(ctx, q), q)
	}
	for _, q := range []string{"Hello!", "hello there friend", "hi, what is clause 4"} {
		assert.NotEqual(t, Greeting{}, f.rag.Route(ctx, q), q)
	}

	// regardless of store contents
	require.Equal(t, models.StatusUploaded, f.ingestText(t, "", "a.txt", "force majeure excuses performance").Status)
	assert.Equal(t, Greeting{}, f.rag.Route(ctx, "hello"))
}

func TestRouteScrape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, Scrape{URL: "https://example.com/a?b=1"}, f.rag.Route(ctx, "summarise https://example.com/a?b=1 please"))
	assert.Equal(t, Scrape{URL: "www.example.org/page"}, f.rag.Route(ctx, "what does www.example.org/page say"))
}

func TestRouteNoDocumentsOnEmptyStore(t *testing.T) {
	f := newFixture(t)

	route, answer := f.rag.Ask(context.Background(), "s", "What is force majeure?")
	assert.Equal(t, NoDocuments{}, route)
	assert.Equal(t, models.NoDocumentsAnswer, collect(answer))
	assert.Empty(t, f.generator.prompts)
}

func TestRouteThresholdGating(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, models.StatusUploaded, f.ingestText(t, "", "a.txt", "force majeure excuses performance").Status)

	grounded, ok := f.rag.Route(ctx, "What is force majeure?").(DocumentGrounded)
	require.True(t, ok)
	assert.InDelta(t, 1.0, grounded.BestScore, 1e-6)
	require.Len(t, grounded.Results, 1)
	assert.Equal(t, "a.txt", grounded.Results[0].Source)

	fallback, ok := f.rag.Route(ctx, "When is payment due?").(GeneralKnowledgeFallback)
	require.True(t, ok)
	assert.InDelta(t, 0.0, fallback.BestScore, 1e-6)

	// a score equal to the threshold is relevant
	f.rag.opts.RelevanceThreshold = 1.0
	assert.IsType(t, DocumentGrounded{}, f.rag.Route(ctx, "What is force majeure?"))
}

func TestRetrieveReportsScoresAgainstThreshold(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, models.StatusUploaded, f.ingestText(t, "", "a.txt", "force majeure excuses performance").Status)

	hit := f.rag.Retrieve(ctx, "What is force majeure?")
	assert.True(t, hit.Relevant)
	assert.InDelta(t, 0.25, hit.Threshold, 1e-6)
	assert.InDelta(t, 1.0, hit.BestScore, 1e-6)
	require.Len(t, hit.Results, 1)

	miss := f.rag.Retrieve(ctx, "When is payment due?")
	assert.False(t, miss.Relevant)
	assert.Len(t, miss.Results, 1)
}

func TestRouteDegradesOnFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, models.StatusUploaded, f.ingestText(t, "", "a.txt", "force majeure excuses performance").Status)

	f.embedder.queryErr = errors.New("embedder down")
	assert.Equal(t, GeneralKnowledgeFallback{}, f.rag.Route(ctx, "What is force majeure?"))

	f.embedder.queryErr = nil
	f.rag.store = countFailingStore{VectorStore: f.store}
	assert.Equal(t, NoDocuments{}, f.rag.Route(ctx, "When is payment due?"))
}

func TestScenarioSingleSmallDocument(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	words := make([]string, 50)
	for i := range words {
		words[i] = fmt.Sprintf("word%d", i)
	}

	res := f.ingestText(t, "", "small.txt", strings.Join(words, " "))
	require.Equal(t, models.StatusUploaded, res.Status)
	assert.Equal(t, 1, res.Chunks)

	sources, err := f.rag.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, models.Source{FileGroupID: res.FileGroupID, SourceName: "small.txt"}, sources[0])

	first := f.rag.Route(ctx, "unrelated question")
	assert.Equal(t, first.Name(), f.rag.Route(ctx, "unrelated question").Name())
}

func TestScenarioReingestIsSkipped(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	text := strings.Repeat("clause ", 450)

	first := f.ingestText(t, "", "a.txt", text)
	require.Equal(t, models.StatusUploaded, first.Status)
	count, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, first.Chunks, count)

	second := f.ingestText(t, "", "a.txt", text)
	assert.Equal(t, models.StatusSkipped, second.Status)
	after, err := f.store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, count, after)
}

func TestConcurrentIngestOfSameSource(t *testing.T) {
	f := newFixture(t)
	var wg sync.WaitGroup
	results := make([]models.IngestResult, 8)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results[i] = f.ingestText(t, "", "same.txt", "force majeure excuses performance")
		}()
	}
	wg.Wait()

	uploaded := 0
	for _, r := range results {
		if r.Status == models.StatusUploaded {
			uploaded++
		} else {
			assert.Equal(t, models.StatusSkipped, r.Status)
		}
	}
	assert.Equal(t, 1, uploaded)
	assert.Empty(t, f.rag.locks.locks)
}

func TestDeleteSource(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, models.StatusUploaded, f.ingestText(t, "", "a.txt", "force majeure excuses performance").Status)
	require.Equal(t, models.StatusUploaded, f.ingestText(t, "", "b.txt", "payment terms are net thirty days").Status)

	require.NoError(t, f.rag.DeleteSource(ctx, "a.txt"))

	sources, err := f.rag.ListSources(ctx)
	require.NoError(t, err)
	require.Len(t, sources, 1)
	assert.Equal(t, "b.txt", sources[0].SourceName)

	route := f.rag.Route(ctx, "What is force majeure?")
	if grounded, ok := route.(DocumentGrounded); ok {
		for _, r := range grounded.Results {
			assert.NotEqual(t, "a.txt", r.Source)
		}
	}

	require.NoError(t, f.rag.DeleteSource(ctx, "b.txt"))
	assert.Equal(t, NoDocuments{}, f.rag.Route(ctx, "What is force majeure?"))

	// deleted sources can be uploaded again
	assert.Equal(t, models.StatusUploaded, f.ingestText(t, "", "a.txt", "force majeure excuses performance").Status)
}

func TestAskGroundedUsesHistory(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.Equal(t, models.StatusUploaded, f.ingestText(t, "s1", "a.txt", "force majeure excuses performance").Status)

	route, answer := f.rag.Ask(ctx, "s1", "What is force majeure?")
	assert.IsType(t, DocumentGrounded{}, route)
	assert.Equal(t, "generated answer", collect(answer))
	require.Len(t, f.generator.prompts, 1)
	prompt := f.generator.prompts[0]
	assert.Contains(t, prompt, "[Source: a.txt - Page 1]\nforce majeure excuses performance")
	assert.Contains(t, prompt, "User Question: What is force majeure?")
	assert.NotContains(t, prompt, "Recent conversation:")

	route, _ = f.rag.Ask(ctx, "s1", "When is payment due?")
	assert.IsType(t, GeneralKnowledgeFallback{}, route)
	assert.Contains(t, f.generator.prompts[1], "Recent conversation:\nUser: What is force majeure?")
	assert.Contains(t, f.generator.prompts[1], "general knowledge")

	// other sessions do not see it
	f.rag.Ask(ctx, "s2", "When is payment due?")
	assert.NotContains(t, f.generator.prompts[2], "User: What is force majeure?")

	// greetings are not remembered
	f.rag.Ask(ctx, "s1", "hi")
	recent, err := history.RecentContext(ctx, f.history, "s1", 3)
	require.NoError(t, err)
	assert.Equal(t, "User: What is force majeure?\nUser: When is payment due?", recent)

	// a new upload starts a fresh conversation
	require.Equal(t, models.StatusUploaded, f.ingestText(t, "s1", "b.txt", "payment terms are net thirty days").Status)
	recent, err = history.RecentContext(ctx, f.history, "s1", 3)
	require.NoError(t, err)
	assert.Empty(t, recent)
}

func TestAskGreeting(t *testing.T) {
	f := newFixture(t)
	route, answer := f.rag.Ask(context.Background(), "s", "Hello")
	assert.Equal(t, Greeting{}, route)
	assert.Equal(t, models.GreetingAnswer, collect(answer))
	assert.Empty(t, f.generator.prompts)
}

func TestAskScrape(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, answer := f.rag.Ask(ctx, "s", "summarise https://example.com/news")
	assert.Equal(t, "generated answer", collect(answer))
	require.Len(t, f.generator.prompts, 1)
	assert.Contains(t, f.generator.prompts[0], "fetched from https://example.com/news")
	assert.Contains(t, f.generator.prompts[0], "page body text")

	f.scraper.err = fmt.Errorf("%w: status 403", scraper.ErrBlocked)
	_, answer = f.rag.Ask(ctx, "s", "summarise https://example.com/private")
	text := collect(answer)
	assert.Contains(t, text, "Could not fetch https://example.com/private (blocked)")
	assert.Len(t, f.generator.prompts, 1)
}

func TestIngestFailures(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	assert.Equal(t, models.StatusSkipped, f.rag.Ingest(ctx, "", nil).Status)
	assert.Equal(t, models.StatusSkipped, f.ingestText(t, "", "blank.txt", "   ").Status)

	f.embedder.docErr = errors.New("embedder down")
	res := f.ingestText(t, "", "a.txt", "force majeure excuses performance")
	assert.Equal(t, models.StatusError, res.Status)
	assert.Contains(t, res.Error, "embedder down")
	exists, err := f.store.Exists(ctx, "a.txt")
	require.NoError(t, err)
	assert.False(t, exists)
}

func TestIngestFilesContinuesAfterFailure(t *testing.T) {
	f := newFixture(t)
	results := f.rag.IngestFiles(context.Background(), "", []File{
		{Name: "image.png", Data: []byte{0x89}},
		{Name: "notes.txt", Data: []byte("force majeure excuses performance")},
	})
	require.Len(t, results, 2)
	assert.Equal(t, models.StatusError, results[0].Status)
	assert.Equal(t, "image.png", results[0].SourceName)
	assert.Equal(t, models.StatusUploaded, results[1].Status)
	assert.Equal(t, "notes.txt", results[1].SourceName)
}

func TestIngestWeb(t *testing.T) {
	f := newFixture(t)
	res := f.rag.IngestWeb(context.Background(), "", "www.example.com/article")
	require.Equal(t, models.StatusUploaded, res.Status)
	assert.Equal(t, "Web:https://www.example.com/article", res.SourceName)

	f.scraper.err = fmt.Errorf("%w: dial", scraper.ErrFetch)
	res = f.rag.IngestWeb(context.Background(), "", "https://down.example.com")
	assert.Equal(t, models.StatusError, res.Status)
}

func TestTruncateCountsRunes(t *testing.T) {
	assert.Equal(t, "héll", truncate("héllo", 4))
	assert.Equal(t, "abc", truncate("abc", 0))
}
