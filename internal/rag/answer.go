package rag

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"doc-assistant/internal/history"
	"doc-assistant/internal/llmservice"
	"doc-assistant/internal/models"
	"doc-assistant/internal/scraper"
)

// Ask routes question and streams its answer. Every question except a
// greeting is added to the session history after the context for this
// answer has been read.
func (r *RAG) Ask(ctx context.Context, session, question string) (Route, <-chan string) {
	route := r.Route(ctx, question)
	routesTotal.WithLabelValues(route.Name()).Inc()
	log.Info().Str("session", session).Str("route", route.Name()).Msg("Answering question")

	if _, ok := route.(Greeting); ok {
		return route, llmservice.Text(models.GreetingAnswer)
	}

	recent, err := history.RecentContext(ctx, r.history, session, r.opts.HistoryWindow)
	if err != nil {
		log.Warn().Err(err).Str("session", session).Msg("Failed to read history")
	}
	if err := r.history.Append(ctx, session, question); err != nil {
		log.Warn().Err(err).Str("session", session).Msg("Failed to append history")
	}

	switch rt := route.(type) {
	case Scrape:
		page, err := r.scraper.Scrape(ctx, rt.URL)
		if err != nil {
			log.Warn().Err(err).Str("url", rt.URL).Msg("Scrape failed")
			return route, llmservice.Text(fmt.Sprintf(models.ScrapeFailedText, rt.URL, scraper.Category(err), err))
		}
		return route, r.generator.Stream(ctx, scrapePrompt(recent, page, question, r.opts.MaxContentChars))
	case DocumentGrounded:
		return route, r.generator.Stream(ctx, groundedPrompt(recent, rt.Results, question))
	case GeneralKnowledgeFallback:
		return route, r.generator.Stream(ctx, fallbackPrompt(recent, question))
	default:
		return route, llmservice.Text(models.NoDocumentsAnswer)
	}
}
