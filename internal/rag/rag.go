// Package rag ties the vector store, embedder, history and answer generator
// together: it ingests documents and decides how each question is answered.
package rag

import (
	"context"

	"github.com/tmc/langchaingo/embeddings"

	"doc-assistant/internal/config"
	"doc-assistant/internal/history"
	"doc-assistant/internal/llmservice"
	"doc-assistant/internal/scraper"
	"doc-assistant/internal/store"
)

// Scraper fetches the page behind a URL found in a question.
type Scraper interface {
	Scrape(ctx context.Context, url string) (scraper.Result, error)
}

type Options struct {
	ChunkSize          int
	ChunkOverlap       int
	TopK               int
	RelevanceThreshold float32
	HistoryWindow      int
	MaxContentChars    int
}

func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		ChunkSize:          cfg.RAG.ChunkSize,
		ChunkOverlap:       cfg.RAG.ChunkOverlap,
		TopK:               cfg.RAG.TopK,
		RelevanceThreshold: cfg.RAG.RelevanceThreshold,
		HistoryWindow:      cfg.RAG.HistoryWindow,
		MaxContentChars:    cfg.Scraper.MaxContentChars,
	}
}

type RAG struct {
	store     store.VectorStore
	embedder  embeddings.Embedder
	generator llmservice.Generator
	history   history.Tracker
	scraper   Scraper
	opts      Options
	locks     *keyedMutex
}

func NewRAG(vs store.VectorStore, embedder embeddings.Embedder, generator llmservice.Generator,
	tracker history.Tracker, sc Scraper, opts Options) *RAG {
	if opts.HistoryWindow <= 0 {
		opts.HistoryWindow = history.DefaultWindow
	}
	return &RAG{
		store:     vs,
		embedder:  embedder,
		generator: generator,
		history:   tracker,
		scraper:   sc,
		opts:      opts,
		locks:     newKeyedMutex(),
	}
}

// ClearHistory forgets the conversation of session.
func (r *RAG) ClearHistory(ctx context.Context, session string) error {
	return r.history.Clear(ctx, session)
}
