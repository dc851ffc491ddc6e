package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"doc-assistant/internal/config"
	"doc-assistant/internal/models"
	"doc-assistant/internal/store"
)

type Document struct {
	bun.BaseModel `bun:"table:documents,alias:d"`
	ID            string          `bun:"id,pk,type:uuid"`
	FileGroupID   string          `bun:"file_group_id,notnull,type:uuid"`
	SourceName    string          `bun:"source_name,notnull"`
	Source        string          `bun:"source,notnull"`
	Page          int             `bun:"page,notnull"`
	Content       string          `bun:"content,notnull"`
	Embedding     pgvector.Vector `bun:"embedding,notnull"`
}

// DocumentSource is the source registry. The primary key on source_name
// makes a second ingest of the same name a conflict instead of a duplicate.
type DocumentSource struct {
	bun.BaseModel `bun:"table:document_sources,alias:s"`
	SourceName    string    `bun:"source_name,pk"`
	FileGroupID   string    `bun:"file_group_id,notnull,type:uuid"`
	CreatedAt     time.Time `bun:"created_at,notnull"`
}

type searchRow struct {
	ID          string  `bun:"id"`
	FileGroupID string  `bun:"file_group_id"`
	SourceName  string  `bun:"source_name"`
	Source      string  `bun:"source"`
	Page        int     `bun:"page"`
	Content     string  `bun:"content"`
	Score       float64 `bun:"score"`
}

// ConnectDB opens a connection pool with either bun's pgdriver or lib/pq.
func ConnectDB(cfg *config.DatabaseConfig) (*sql.DB, error) {
	switch cfg.Driver {
	case "pq":
		return sql.Open("postgres", cfg.DSN)
	case "pgdriver", "":
		opts := []pgdriver.Option{pgdriver.WithDSN(cfg.DSN)}
		if cfg.Password != "" {
			opts = append(opts, pgdriver.WithPassword(cfg.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// Store is the pgvector backed vector store. The documents table is created
// on the first write, with the vector dimension of that write.
type Store struct {
	db        *bun.DB
	listLimit int

	mu        sync.Mutex
	dimension int
}

// NewStore prepares the source registry and picks up the dimension of an
// existing documents table.
func NewStore(ctx context.Context, db *bun.DB, listLimit int) (*Store, error) {
	if listLimit <= 0 {
		listLimit = store.DefaultListLimit
	}
	s := &Store{db: db, listLimit: listLimit}
	if err := s.InitDB(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) InitDB(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to enable pgvector: %w", err)
	}
	_, err := s.db.NewCreateTable().Model((*DocumentSource)(nil)).IfNotExists().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to create source table: %w", err)
	}

	var dim int
	err = s.db.NewRaw(
		"SELECT atttypmod FROM pg_attribute WHERE attrelid = to_regclass('documents') AND attname = 'embedding'",
	).Scan(ctx, &dim)
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return fmt.Errorf("failed to inspect documents table: %w", err)
	default:
		s.dimension = dim
	}
	return nil
}

// ensureDocuments creates the documents table for vectors of size dim, or
// checks dim against the existing table.
func (s *Store) ensureDocuments(ctx context.Context, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.dimension != 0 {
		if dim != s.dimension {
			return fmt.Errorf("%w: table has %d, got %d", store.ErrDimensionMismatch, s.dimension, dim)
		}
		return nil
	}

	ddl := fmt.Sprintf(`CREATE TABLE IF NOT EXISTS documents (
	id uuid PRIMARY KEY,
	file_group_id uuid NOT NULL,
	source_name text NOT NULL,
	source text NOT NULL,
	page integer NOT NULL,
	content text NOT NULL,
	embedding vector(%d) NOT NULL
)`, dim)
	if _, err := s.db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, "CREATE INDEX IF NOT EXISTS documents_source_name_idx ON documents (source_name)"); err != nil {
		return fmt.Errorf("failed to create source index: %w", err)
	}
	s.dimension = dim
	return nil
}

func (s *Store) ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dimension != 0
}

func (s *Store) Exists(ctx context.Context, sourceName string) (bool, error) {
	return s.db.NewSelect().
		Model((*DocumentSource)(nil)).
		Where("source_name = ?", sourceName).
		Exists(ctx)
}

// Upsert registers the source and inserts its records in one transaction.
// A registry conflict rolls the transaction back with store.ErrSourceExists.
func (s *Store) Upsert(ctx context.Context, chunks []models.Chunk, vectors [][]float32) (string, error) {
	sourceName, dim, err := store.ValidateBatch(chunks, vectors)
	if err != nil {
		return "", err
	}
	if err := s.ensureDocuments(ctx, dim); err != nil {
		return "", err
	}

	fileGroupID := uuid.NewString()
	docs := make([]Document, len(chunks))
	for i, chunk := range chunks {
		docs[i] = Document{
			ID:          uuid.NewString(),
			FileGroupID: fileGroupID,
			SourceName:  sourceName,
			Source:      chunk.Source,
			Page:        chunk.Page,
			Content:     chunk.Text,
			Embedding:   pgvector.NewVector(vectors[i]),
		}
	}

	err = s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		src := &DocumentSource{SourceName: sourceName, FileGroupID: fileGroupID, CreatedAt: time.Now().UTC()}
		res, err := tx.NewInsert().Model(src).On("CONFLICT (source_name) DO NOTHING").Exec(ctx)
		if err != nil {
			return fmt.Errorf("failed to register source: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return store.ErrSourceExists
		}
		if _, err := tx.NewInsert().Model(&docs).Exec(ctx); err != nil {
			return fmt.Errorf("failed to store documents: %w", err)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	log.Debug().Str("source", sourceName).Str("file_id", fileGroupID).Int("records", len(docs)).Msg("Stored records")
	return fileGroupID, nil
}

// Search orders by cosine distance and reports 1 - distance as the score.
func (s *Store) Search(ctx context.Context, vector []float32, topK int) ([]models.SearchResult, error) {
	if len(vector) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	if !s.ready() || topK <= 0 {
		return nil, nil
	}

	q := pgvector.NewVector(vector)
	var rows []searchRow
	err := s.db.NewSelect().
		Model((*Document)(nil)).
		Column("id", "file_group_id", "source_name", "source", "page", "content").
		ColumnExpr("1 - (embedding <=> ?) AS score", q).
		OrderExpr("embedding <=> ?", q).
		Limit(topK).
		Scan(ctx, &rows)
	if err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	out := make([]models.SearchResult, 0, len(rows))
	for _, r := range rows {
		if r.Content == "" || r.Page < 1 || r.SourceName == "" || r.FileGroupID == "" {
			log.Warn().Str("id", r.ID).Msg("Skipping invalid record")
			continue
		}
		out = append(out, models.SearchResult{
			Chunk:       models.Chunk{Text: r.Content, Page: r.Page, Source: r.Source},
			FileGroupID: r.FileGroupID,
			Score:       float32(r.Score),
		})
	}
	return out, nil
}

func (s *Store) DeleteBySource(ctx context.Context, sourceName string) error {
	if sourceName == "" {
		return errors.New("source name is required")
	}
	ready := s.ready()
	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if ready {
			if _, err := tx.NewDelete().Model((*Document)(nil)).Where("source_name = ?", sourceName).Exec(ctx); err != nil {
				return fmt.Errorf("failed to delete documents of %s: %w", sourceName, err)
			}
		}
		if _, err := tx.NewDelete().Model((*DocumentSource)(nil)).Where("source_name = ?", sourceName).Exec(ctx); err != nil {
			return fmt.Errorf("failed to delete source %s: %w", sourceName, err)
		}
		return nil
	})
}

// ListSources reads at most listLimit registry rows, oldest first.
func (s *Store) ListSources(ctx context.Context) ([]models.Source, error) {
	var rows []DocumentSource
	err := s.db.NewSelect().
		Model(&rows).
		Order("created_at ASC").
		Limit(s.listLimit).
		Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}

	seen := make(map[string]bool, len(rows))
	out := make([]models.Source, 0, len(rows))
	for _, r := range rows {
		if seen[r.FileGroupID] {
			continue
		}
		seen[r.FileGroupID] = true
		out = append(out, models.Source{FileGroupID: r.FileGroupID, SourceName: r.SourceName})
	}
	return out, nil
}

func (s *Store) Count(ctx context.Context) (int, error) {
	if !s.ready() {
		return 0, nil
	}
	return s.db.NewSelect().Model((*Document)(nil)).Count(ctx)
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Reset drops every stored document and source and recreates the empty
// registry. The next write picks the vector dimension again.
func (s *Store) Reset(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := DropDocuments(ctx, s.db); err != nil {
		return fmt.Errorf("failed to drop tables: %w", err)
	}
	s.dimension = 0
	return s.InitDB(ctx)
}

// DropDocuments removes both tables.
func DropDocuments(ctx context.Context, db *bun.DB) error {
	if _, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx); err != nil {
		return err
	}
	_, err := db.NewDropTable().Model((*DocumentSource)(nil)).IfExists().Exec(ctx)
	return err
}

var (
	_ store.VectorStore = (*Store)(nil)
	_ store.Resetter    = (*Store)(nil)
)
