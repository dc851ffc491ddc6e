// Package server exposes the document assistant over HTTP.
package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"doc-assistant/internal/config"
	"doc-assistant/internal/news"
	"doc-assistant/internal/rag"
)

const (
	SessionHeader = "X-Session-ID"
	RouteHeader   = "X-Answer-Route"
)

type NewsFetcher interface {
	Fetch(ctx context.Context, query string, pageSize int) ([]news.Article, error)
}

type Server struct {
	rag    *rag.RAG
	news   NewsFetcher
	cfg    *config.ServerConfig
	engine *gin.Engine
}

func New(r *rag.RAG, nf NewsFetcher, cfg *config.ServerConfig) *Server {
	if cfg.Mode != "" {
		gin.SetMode(cfg.Mode)
	}
	s := &Server{rag: r, news: nf, cfg: cfg}

	e := gin.New()
	e.MaxMultipartMemory = int64(cfg.MaxUploadMB) << 20
	e.Use(requestLogger(), gin.Recovery(), cors())

	e.GET("/health", healthCheck)
	e.POST("/upload", s.upload)
	e.POST("/ask", s.ask)
	e.GET("/files", s.listFiles)
	e.DELETE("/delete/*source_name", s.deleteFile)
	e.DELETE("/clear", s.clearHistory)
	e.GET("/news", s.latestNews)
	e.POST("/scrape", s.scrape)
	if cfg.EnableMetrics {
		e.GET("/metrics", gin.WrapH(promhttp.Handler()))
	}

	s.engine = e
	return s
}

func (s *Server) Handler() http.Handler {
	return s.engine
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", s.cfg.Addr).Msg("Starting server")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info().Msg("Shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

func healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "healthy"})
}

func requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.Info().
			Str("method", c.Request.Method).
			Str("path", c.Request.URL.Path).
			Int("status", c.Writer.Status()).
			Dur("latency", time.Since(start)).
			Str("session", c.GetHeader(SessionHeader)).
			Msg("HTTP request")
	}
}

func cors() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+SessionHeader)
		c.Writer.Header().Set("Access-Control-Expose-Headers", RouteHeader)
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

func abortWithError(c *gin.Context, code int, err error) {
	c.AbortWithStatusJSON(code, gin.H{"error": err.Error()})
}
