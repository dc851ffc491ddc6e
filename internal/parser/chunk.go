package parser

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"doc-assistant/internal/models"

	"github.com/rs/zerolog/log"
)

const (
	DefaultChunkSize    = 200 // tokens
	DefaultChunkOverlap = 20  // tokens
)

var ErrInvalidChunkWindow = errors.New("invalid chunk window")

var tokenRe = regexp.MustCompile(models.TokenRegex)

// Tokenize splits text into word runs and standalone punctuation characters.
func Tokenize(text string) []string {
	return tokenRe.FindAllString(text, -1)
}

// ChunkPages slides a window of chunkSize tokens over every page, advancing
// chunkSize-overlap tokens at a time, until a window reaches the end of the
// page. Windows never span two pages and the last, shorter window of a page
// is kept. Pages that cannot be chunked are logged and skipped.
func ChunkPages(pages []models.Page, chunkSize, overlap int) ([]models.Chunk, error) {
	if chunkSize <= 0 || overlap < 0 || overlap >= chunkSize {
		return nil, fmt.Errorf("%w: chunk size %d, overlap %d", ErrInvalidChunkWindow, chunkSize, overlap)
	}

	var chunks []models.Chunk
	for i, page := range pages {
		pageChunks, err := chunkPage(page, chunkSize, overlap)
		if err != nil {
			log.Warn().Err(err).Int("index", i).Str("source", page.Source).Msg("Skipping page")
			continue
		}
		chunks = append(chunks, pageChunks...)
	}
	return chunks, nil
}

func chunkPage(page models.Page, chunkSize, overlap int) ([]models.Chunk, error) {
	if page.Page < 1 {
		return nil, fmt.Errorf("page number must be >= 1, got %d", page.Page)
	}
	if strings.TrimSpace(page.Source) == "" {
		return nil, errors.New("page has no source")
	}

	tokens := Tokenize(page.Text)
	step := chunkSize - overlap

	var chunks []models.Chunk
	for start := 0; start < len(tokens); start += step {
		end := min(start+chunkSize, len(tokens))
		chunks = append(chunks, models.Chunk{
			Text:   strings.Join(tokens[start:end], " "),
			Page:   page.Page,
			Source: page.Source,
		})
		if end == len(tokens) {
			break
		}
	}
	return chunks, nil
}
