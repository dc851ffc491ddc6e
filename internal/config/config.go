package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// LLMConfig configures a langchaingo backed model, used for both the
// embedder and the answer generator.
type LLMConfig struct {
	Provider  string `yaml:"provider"` // ollama | openai
	BaseURL   string `yaml:"base_url"`
	Key       string `yaml:"key"`
	Model     string `yaml:"model"`
	BatchSize int    `yaml:"batch_size"`
}

type RAGConfig struct {
	ChunkSize          int     `yaml:"chunk_size"`
	ChunkOverlap       int     `yaml:"chunk_overlap"`
	TopK               int     `yaml:"top_k"`
	RelevanceThreshold float32 `yaml:"relevance_threshold"`
	HistoryWindow      int     `yaml:"history_window"`
}

type VectorStoreConfig struct {
	Type          string `yaml:"type"` // chromem | pgvector
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	InMemory      bool   `yaml:"in_memory"`
	EncryptionKey string `yaml:"encryption_key"`
	ListLimit     int    `yaml:"list_limit"`
}

type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // pgdriver | pq
	DSN      string `yaml:"dsn"`
	Password string `yaml:"password"`
	Debug    bool   `yaml:"debug"`
}

type HistoryConfig struct {
	Type       string `yaml:"type"` // memory | redis
	RedisAddr  string `yaml:"redis_addr"`
	RedisDB    int    `yaml:"redis_db"`
	KeyPrefix  string `yaml:"key_prefix"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

type ScraperConfig struct {
	TimeoutSeconds  int    `yaml:"timeout_seconds"`
	UserAgent       string `yaml:"user_agent"`
	MaxContentChars int    `yaml:"max_content_chars"`
}

type NewsConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	Query    string `yaml:"query"`
	PageSize int    `yaml:"page_size"`
}

type ServerConfig struct {
	Addr          string `yaml:"addr"`
	Mode          string `yaml:"mode"`
	MaxUploadMB   int    `yaml:"max_upload_mb"`
	EnableMetrics bool   `yaml:"enable_metrics"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Log         LogConfig         `yaml:"log"`
	RAG         RAGConfig         `yaml:"rag"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	Database    DatabaseConfig    `yaml:"database"`
	EmbedLLM    LLMConfig         `yaml:"embed_llm"`
	ChatLLM     LLMConfig         `yaml:"chat_llm"`
	History     HistoryConfig     `yaml:"history"`
	Scraper     ScraperConfig     `yaml:"scraper"`
	News        NewsConfig        `yaml:"news"`
}

// LoadConfig reads the yaml file at path. ${VAR} references are expanded
// from the environment, which is first populated from a .env file next to
// the working directory when one exists. A missing config file yields the
// defaults.
func LoadConfig(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return nil, err
		}
		cfg := Default()
		return cfg, cfg.Validate()
	}

	cfg := preset()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	cfg.applyDefaults()
	return cfg, cfg.Validate()
}

// Default returns a config that runs fully locally: embedded chromem store,
// in-memory history and ollama models.
func Default() *Config {
	cfg := preset()
	cfg.applyDefaults()
	return cfg
}

// preset holds the defaults for which zero is a meaningful value, the yaml
// file is decoded on top of it and may set them to 0.
func preset() *Config {
	return &Config{RAG: RAGConfig{ChunkOverlap: 20, RelevanceThreshold: unsetThreshold}}
}

// unsetThreshold marks a relevance_threshold left out of the config file.
const unsetThreshold = -1

// DefaultRelevanceThreshold applies to embedding models without a
// calibrated entry in relevanceThresholds.
const DefaultRelevanceThreshold = 0.25

// relevanceThresholds holds the cosine score separating on-topic from
// off-topic questions for known embedding models. Each value sits between
// the scores an unrelated question and a paraphrased question reach against
// the same chunk; models with a high baseline similarity need a higher cut.
var relevanceThresholds = map[string]float32{
	"all-minilm":             0.15,
	"nomic-embed-text":       0.5,
	"mxbai-embed-large":      0.5,
	"text-embedding-3-small": 0.3,
	"text-embedding-3-large": 0.3,
	"text-embedding-ada-002": 0.78,
}

// RelevanceThresholdFor returns the calibrated threshold of an embedding
// model. Provider prefixes ("openai/...") and ollama tags (":v1.5") are
// ignored.
func RelevanceThresholdFor(model string) float32 {
	name := strings.ToLower(model)
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	name, _, _ = strings.Cut(name, ":")
	if t, ok := relevanceThresholds[name]; ok {
		return t
	}
	return DefaultRelevanceThreshold
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8000"
	}
	if c.Server.Mode == "" {
		c.Server.Mode = "release"
	}
	if c.Server.MaxUploadMB == 0 {
		c.Server.MaxUploadMB = 32
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "console"
	}
	if c.RAG.ChunkSize == 0 {
		c.RAG.ChunkSize = 200
	}
	if c.RAG.TopK == 0 {
		c.RAG.TopK = 10
	}
	if c.RAG.HistoryWindow == 0 {
		c.RAG.HistoryWindow = 3
	}
	if c.VectorStore.Type == "" {
		c.VectorStore.Type = "chromem"
	}
	if c.VectorStore.Path == "" {
		c.VectorStore.Path = "./chromemdb"
	}
	if c.VectorStore.Collection == "" {
		c.VectorStore.Collection = "document_chunks"
	}
	if c.VectorStore.ListLimit == 0 {
		c.VectorStore.ListLimit = 5000
	}
	if c.Database.Driver == "" {
		c.Database.Driver = "pgdriver"
	}
	defaultLLM(&c.EmbedLLM, "nomic-embed-text")
	if c.RAG.RelevanceThreshold == unsetThreshold {
		c.RAG.RelevanceThreshold = RelevanceThresholdFor(c.EmbedLLM.Model)
	}
	defaultLLM(&c.ChatLLM, "llama3.1")
	if c.EmbedLLM.BatchSize == 0 {
		c.EmbedLLM.BatchSize = 64
	}
	if c.History.Type == "" {
		c.History.Type = "memory"
	}
	if c.History.KeyPrefix == "" {
		c.History.KeyPrefix = "doc-assistant:history:"
	}
	if c.Scraper.TimeoutSeconds == 0 {
		c.Scraper.TimeoutSeconds = 15
	}
	if c.Scraper.UserAgent == "" {
		c.Scraper.UserAgent = "Mozilla/5.0 (compatible; doc-assistant/1.0)"
	}
	if c.Scraper.MaxContentChars == 0 {
		c.Scraper.MaxContentChars = 12000
	}
	if c.News.BaseURL == "" {
		c.News.BaseURL = "https://newsapi.org"
	}
	if c.News.Query == "" {
		c.News.Query = "law"
	}
	if c.News.PageSize == 0 {
		c.News.PageSize = 5
	}
}

func defaultLLM(l *LLMConfig, model string) {
	if l.Provider == "" {
		l.Provider = "ollama"
	}
	if l.BaseURL == "" && l.Provider == "ollama" {
		l.BaseURL = "http://localhost:11434"
	}
	if l.Model == "" {
		l.Model = model
	}
}

// Validate reports configuration values that would make the pipeline
// misbehave rather than fail loudly.
func (c *Config) Validate() error {
	if c.RAG.ChunkSize <= 0 {
		return fmt.Errorf("rag.chunk_size must be positive, got %d", c.RAG.ChunkSize)
	}
	if c.RAG.ChunkOverlap < 0 || c.RAG.ChunkOverlap >= c.RAG.ChunkSize {
		return fmt.Errorf("rag.chunk_overlap must be in [0, chunk_size), got %d", c.RAG.ChunkOverlap)
	}
	if c.RAG.TopK <= 0 {
		return fmt.Errorf("rag.top_k must be positive, got %d", c.RAG.TopK)
	}
	switch c.Server.Mode {
	case "debug", "release", "test":
	default:
		return fmt.Errorf("unknown server.mode %q", c.Server.Mode)
	}
	switch c.VectorStore.Type {
	case "chromem":
	case "pgvector":
		if c.Database.DSN == "" {
			return errors.New("database.dsn is required for the pgvector store")
		}
	default:
		return fmt.Errorf("unknown vector_store.type %q", c.VectorStore.Type)
	}
	switch c.History.Type {
	case "memory":
	case "redis":
		if c.History.RedisAddr == "" {
			return errors.New("history.redis_addr is required for the redis history")
		}
	default:
		return fmt.Errorf("unknown history.type %q", c.History.Type)
	}
	for _, l := range []LLMConfig{c.EmbedLLM, c.ChatLLM} {
		if l.Provider != "ollama" && l.Provider != "openai" {
			return fmt.Errorf("unknown llm provider %q", l.Provider)
		}
	}
	return nil
}
