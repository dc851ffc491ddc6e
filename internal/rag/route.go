package rag

import (
	"context"
	"regexp"
	"slices"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"doc-assistant/internal/models"
)

var urlPattern = regexp.MustCompile(models.URLRegex)

// Route is the answering strategy chosen for a question.
type Route interface {
	Name() string
	route()
}

type Greeting struct{}

type Scrape struct {
	URL string
}

type DocumentGrounded struct {
	Results   []models.SearchResult
	BestScore float32
}

type GeneralKnowledgeFallback struct {
	BestScore float32
}

type NoDocuments struct{}

func (Greeting) Name() string                 { return "greeting" }
func (Scrape) Name() string                   { return "scrape" }
func (DocumentGrounded) Name() string         { return "document_grounded" }
func (GeneralKnowledgeFallback) Name() string { return "general_knowledge" }
func (NoDocuments) Name() string              { return "no_documents" }

func (Greeting) route()                 {}
func (Scrape) route()                   {}
func (DocumentGrounded) route()         {}
func (GeneralKnowledgeFallback) route() {}
func (NoDocuments) route()              {}

func IsGreeting(question string) bool {
	return slices.Contains(models.Greetings, strings.ToLower(strings.TrimSpace(question)))
}

// FindURL returns the first URL shaped substring of question, or "".
func FindURL(question string) string {
	return urlPattern.FindString(question)
}

// Route decides how question is answered. The first matching rule wins:
// greeting, URL, a search hit at or above the relevance threshold, any
// stored document at all, and finally no documents. It never fails.
func (r *RAG) Route(ctx context.Context, question string) Route {
	if IsGreeting(question) {
		return Greeting{}
	}
	if url := FindURL(question); url != "" {
		return Scrape{URL: url}
	}

	ret := r.Retrieve(ctx, question)
	if ret.Relevant {
		return DocumentGrounded{Results: ret.Results, BestScore: ret.BestScore}
	}

	count, err := r.store.Count(ctx)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count stored records")
		return NoDocuments{}
	}
	if count > 0 {
		return GeneralKnowledgeFallback{BestScore: ret.BestScore}
	}
	return NoDocuments{}
}

// Retrieve runs the document search of Route on its own and reports whether
// the best score clears the relevance threshold. Used to calibrate the
// threshold against a loaded store.
func (r *RAG) Retrieve(ctx context.Context, question string) Retrieval {
	results, best := r.retrieve(ctx, question)
	return Retrieval{
		Threshold: r.opts.RelevanceThreshold,
		BestScore: best,
		Relevant:  len(results) > 0 && best >= r.opts.RelevanceThreshold,
		Results:   results,
	}
}

type Retrieval struct {
	Threshold float32               `json:"threshold"`
	BestScore float32               `json:"best_score"`
	Relevant  bool                  `json:"relevant"`
	Results   []models.SearchResult `json:"results"`
}

// retrieve embeds the question and searches the store. Failures are logged
// and reported as no results with score 0.
func (r *RAG) retrieve(ctx context.Context, question string) ([]models.SearchResult, float32) {
	start := time.Now()
	defer func() { retrievalSeconds.Observe(time.Since(start).Seconds()) }()

	vector, err := r.embedder.EmbedQuery(ctx, question)
	if err != nil {
		log.Error().Err(err).Msg("Failed to embed question")
		return nil, 0
	}
	results, err := r.store.Search(ctx, vector, r.opts.TopK)
	if err != nil {
		log.Error().Err(err).Msg("Failed to search documents")
		return nil, 0
	}
	if len(results) == 0 {
		return nil, 0
	}

	best := results[0].Score
	for _, res := range results[1:] {
		best = max(best, res.Score)
	}
	log.Debug().Int("results", len(results)).Float32("best_score", best).Msg("Retrieved chunks")
	return results, best
}
