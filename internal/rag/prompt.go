package rag

import (
	"fmt"
	"strings"

	"doc-assistant/internal/models"
	"doc-assistant/internal/scraper"
)

func historySection(recent string) string {
	if recent == "" {
		return ""
	}
	return "Recent conversation:\n" + recent
}

// ChunkContext renders retrieved chunks with their citation headers.
func ChunkContext(results []models.SearchResult) string {
	blocks := make([]string, len(results))
	for i, res := range results {
		blocks[i] = fmt.Sprintf(models.ChunkContextTemplate, res.Source, res.Page, res.Text)
	}
	return strings.Join(blocks, models.ContextSeparator)
}

func groundedPrompt(recent string, results []models.SearchResult, question string) string {
	return fmt.Sprintf(models.GroundedPromptTemplate,
		models.SystemPrompt, historySection(recent), ChunkContext(results), question)
}

func fallbackPrompt(recent, question string) string {
	return fmt.Sprintf(models.FallbackPromptTemplate, historySection(recent), question)
}

func scrapePrompt(recent string, page scraper.Result, question string, maxChars int) string {
	return fmt.Sprintf(models.ScrapePromptTemplate,
		historySection(recent), page.URL, truncate(page.Content, maxChars), question)
}

func truncate(s string, maxChars int) string {
	if maxChars <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= maxChars {
		return s
	}
	return string(runes[:maxChars])
}
