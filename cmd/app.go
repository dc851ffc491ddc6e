package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog/log"

	"doc-assistant/internal/chromemdb"
	"doc-assistant/internal/config"
	"doc-assistant/internal/db"
	"doc-assistant/internal/embedding"
	"doc-assistant/internal/helper"
	"doc-assistant/internal/history"
	"doc-assistant/internal/llmservice"
	"doc-assistant/internal/rag"
	"doc-assistant/internal/scraper"
	"doc-assistant/internal/store"
)

// app holds the wired components of one process.
type app struct {
	cfg     *config.Config
	store   store.VectorStore
	rag     *rag.RAG
	closers []func() error
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	a := &app{cfg: cfg}

	vs, err := openStore(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.store = vs
	a.closers = append(a.closers, vs.Close)

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("error initializing embedder: %w", err)
	}
	llm, err := llmservice.NewLLM(&cfg.ChatLLM)
	if err != nil {
		a.Close()
		return nil, fmt.Errorf("error initializing chat model: %w", err)
	}

	tracker, err := a.openHistory(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.rag = rag.NewRAG(vs, embedder, llmservice.NewClient(llm), tracker,
		scraper.New(&cfg.Scraper), rag.OptionsFromConfig(cfg))
	return a, nil
}

func openStore(ctx context.Context, cfg *config.Config) (store.VectorStore, error) {
	switch cfg.VectorStore.Type {
	case "pgvector":
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("error connecting to database: %w", err)
		}
		vs, err := db.NewStore(ctx, db.NewDB(sqldb, cfg.Database.Debug), cfg.VectorStore.ListLimit)
		if err != nil {
			sqldb.Close()
			return nil, fmt.Errorf("error initializing database: %w", err)
		}
		return vs, nil
	default:
		if err := helper.CreateFolder(cfg.VectorStore.Path); err != nil {
			return nil, err
		}
		return chromemdb.NewVectorDBManager(chromemdb.Options{
			Path:          cfg.VectorStore.Path,
			Collection:    cfg.VectorStore.Collection,
			InMemory:      cfg.VectorStore.InMemory,
			EncryptionKey: cfg.VectorStore.EncryptionKey,
			ListLimit:     cfg.VectorStore.ListLimit,
		})
	}
}

func (a *app) openHistory(ctx context.Context) (history.Tracker, error) {
	if a.cfg.History.Type != "redis" {
		return history.NewMemory(), nil
	}
	client := redis.NewClient(&redis.Options{Addr: a.cfg.History.RedisAddr, DB: a.cfg.History.RedisDB})
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("error connecting to redis: %w", err)
	}
	a.closers = append(a.closers, client.Close)
	ttl := time.Duration(a.cfg.History.TTLSeconds) * time.Second
	return history.NewRedis(client, a.cfg.History.KeyPrefix, ttl), nil
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	if err := errors.Join(errs...); err != nil {
		log.Error().Err(err).Msg("Error closing resources")
		return err
	}
	return nil
}
