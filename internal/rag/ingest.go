package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"doc-assistant/internal/models"
	"doc-assistant/internal/parser"
	"doc-assistant/internal/scraper"
	"doc-assistant/internal/store"
)

// File is one uploaded document.
type File struct {
	Name string
	Data []byte
}

// Ingest stores the pages of one source. A source that is already stored is
// skipped rather than merged or replaced. A successful upload clears the
// conversation of session.
func (r *RAG) Ingest(ctx context.Context, session string, pages []models.Page) models.IngestResult {
	res := r.ingest(ctx, session, pages)
	ingestTotal.WithLabelValues(string(res.Status)).Inc()
	ev := log.Info()
	if res.Status == models.StatusError {
		ev = log.Error()
	}
	ev.Str("source", res.SourceName).Str("status", string(res.Status)).Int("chunks", res.Chunks).
		Str("error", res.Error).Msg("Ingested source")
	return res
}

func (r *RAG) ingest(ctx context.Context, session string, pages []models.Page) models.IngestResult {
	if len(pages) == 0 {
		return models.IngestResult{Status: models.StatusSkipped, Error: "no pages"}
	}
	res := models.IngestResult{SourceName: pages[0].Source}
	if res.SourceName == "" {
		return failed(res, errors.New("source name is required"))
	}

	unlock := r.locks.Lock(res.SourceName)
	defer unlock()

	exists, err := r.store.Exists(ctx, res.SourceName)
	if err != nil {
		return failed(res, fmt.Errorf("failed to check source: %w", err))
	}
	if exists {
		res.Status = models.StatusSkipped
		return res
	}

	chunks, err := parser.ChunkPages(pages, r.opts.ChunkSize, r.opts.ChunkOverlap)
	if err != nil {
		return failed(res, err)
	}
	if len(chunks) == 0 {
		res.Status = models.StatusSkipped
		res.Error = "no extractable text"
		return res
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := r.embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return failed(res, fmt.Errorf("failed to embed chunks: %w", err))
	}
	if len(vectors) != len(chunks) {
		return failed(res, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(chunks)))
	}

	fileGroupID, err := r.store.Upsert(ctx, chunks, vectors)
	if errors.Is(err, store.ErrSourceExists) {
		res.Status = models.StatusSkipped
		return res
	}
	if err != nil {
		return failed(res, fmt.Errorf("failed to store chunks: %w", err))
	}

	res.Status = models.StatusUploaded
	res.FileGroupID = fileGroupID
	res.Chunks = len(chunks)
	if err := r.history.Clear(ctx, session); err != nil {
		log.Warn().Err(err).Str("session", session).Msg("Failed to clear history after upload")
	}
	return res
}

func failed(res models.IngestResult, err error) models.IngestResult {
	res.Status = models.StatusError
	res.Error = err.Error()
	return res
}

// IngestFiles extracts and ingests every file. One failing file never stops
// the rest of the batch.
func (r *RAG) IngestFiles(ctx context.Context, session string, files []File) []models.IngestResult {
	results := make([]models.IngestResult, 0, len(files))
	for _, f := range files {
		pages, err := parser.ExtractPages(f.Name, f.Data)
		if err != nil {
			res := failed(models.IngestResult{SourceName: f.Name}, err)
			ingestTotal.WithLabelValues(string(res.Status)).Inc()
			log.Error().Err(err).Str("file", f.Name).Msg("Failed to extract text")
			results = append(results, res)
			continue
		}
		if len(pages) == 0 {
			results = append(results, models.IngestResult{SourceName: f.Name, Status: models.StatusSkipped, Error: "no extractable text"})
			continue
		}
		results = append(results, r.Ingest(ctx, session, pages))
	}
	return results
}

// IngestWeb scrapes url and stores the page as source "Web:<url>".
func (r *RAG) IngestWeb(ctx context.Context, session, url string) models.IngestResult {
	url = scraper.NormalizeURL(url)
	source := models.WebSourcePrefix + url
	page, err := r.scraper.Scrape(ctx, url)
	if err != nil {
		res := failed(models.IngestResult{SourceName: source}, err)
		ingestTotal.WithLabelValues(string(res.Status)).Inc()
		return res
	}
	return r.Ingest(ctx, session, []models.Page{{Text: page.Content, Page: 1, Source: source}})
}

func (r *RAG) DeleteSource(ctx context.Context, sourceName string) error {
	unlock := r.locks.Lock(sourceName)
	defer unlock()
	return r.store.DeleteBySource(ctx, sourceName)
}

func (r *RAG) ListSources(ctx context.Context) ([]models.Source, error) {
	return r.store.ListSources(ctx)
}
