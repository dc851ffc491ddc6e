// Package news fetches recent headlines from NewsAPI.
package news

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog/log"

	"doc-assistant/internal/config"
)

var ErrNoAPIKey = errors.New("news api key is not configured")

const maxPageSize = 100

type Article struct {
	Title  string `json:"title"`
	URL    string `json:"url"`
	Source string `json:"source"`
}

type apiArticle struct {
	Source struct {
		Name string `json:"name"`
	} `json:"source"`
	Title string `json:"title"`
	URL   string `json:"url"`
}

type apiResponse struct {
	Status   string       `json:"status"`
	Code     string       `json:"code"`
	Message  string       `json:"message"`
	Articles []apiArticle `json:"articles"`
}

type Client struct {
	client   *resty.Client
	apiKey   string
	query    string
	pageSize int
}

func New(cfg *config.NewsConfig) *Client {
	return &Client{
		client:   resty.New().SetBaseURL(cfg.BaseURL).SetTimeout(15 * time.Second),
		apiKey:   cfg.APIKey,
		query:    cfg.Query,
		pageSize: cfg.PageSize,
	}
}

// Fetch returns the newest articles matching query. An empty query or a
// non-positive page size falls back to the configured values.
func (c *Client) Fetch(ctx context.Context, query string, pageSize int) ([]Article, error) {
	if c.apiKey == "" {
		return nil, ErrNoAPIKey
	}
	if query == "" {
		query = c.query
	}
	if pageSize <= 0 {
		pageSize = c.pageSize
	}
	pageSize = min(pageSize, maxPageSize)

	var body apiResponse
	resp, err := c.client.R().
		SetContext(ctx).
		SetQueryParams(map[string]string{
			"q":        query,
			"sortBy":   "publishedAt",
			"language": "en",
			"pageSize": fmt.Sprint(pageSize),
		}).
		SetHeader("X-Api-Key", c.apiKey).
		SetResult(&body).
		SetError(&body).
		Get("/v2/everything")
	if err != nil {
		return nil, fmt.Errorf("failed to fetch news: %w", err)
	}
	if resp.IsError() || body.Status != "ok" {
		return nil, fmt.Errorf("news api returned %d: %s %s", resp.StatusCode(), body.Code, body.Message)
	}

	articles := make([]Article, 0, len(body.Articles))
	for _, a := range body.Articles {
		if a.Title == "" || a.URL == "" {
			continue
		}
		articles = append(articles, Article{Title: a.Title, URL: a.URL, Source: a.Source.Name})
	}
	log.Debug().Str("query", query).Int("articles", len(articles)).Msg("Fetched news")
	return articles, nil
}
