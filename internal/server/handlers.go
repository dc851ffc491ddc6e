package server

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"

	"doc-assistant/internal/history"
	"doc-assistant/internal/models"
	"doc-assistant/internal/news"
	"doc-assistant/internal/rag"
)

type askRequest struct {
	Question string `form:"question" json:"question"`
}

type scrapeRequest struct {
	URL string `form:"url" json:"url"`
}

func session(c *gin.Context) string {
	return history.SessionKey(c.GetHeader(SessionHeader))
}

func (s *Server) upload(c *gin.Context) {
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, int64(s.cfg.MaxUploadMB)<<20)
	form, err := c.MultipartForm()
	if err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid multipart form: %w", err))
		return
	}
	headers := form.File["files"]
	if len(headers) == 0 {
		abortWithError(c, http.StatusBadRequest, errors.New("no files uploaded"))
		return
	}

	files := make([]rag.File, 0, len(headers))
	var results []models.IngestResult
	for _, fh := range headers {
		data, err := readUpload(fh)
		if err != nil {
			log.Error().Err(err).Str("file", fh.Filename).Msg("Failed to read upload")
			results = append(results, models.IngestResult{SourceName: fh.Filename, Status: models.StatusError, Error: err.Error()})
			continue
		}
		files = append(files, rag.File{Name: fh.Filename, Data: data})
	}
	results = append(results, s.rag.IngestFiles(c.Request.Context(), session(c), files)...)
	c.JSON(http.StatusOK, gin.H{"results": results})
}

func readUpload(fh *multipart.FileHeader) ([]byte, error) {
	f, err := fh.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

// ask streams the answer as plain text; the chosen route is reported in a
// response header before the first fragment.
func (s *Server) ask(c *gin.Context) {
	var req askRequest
	if err := c.ShouldBind(&req); err != nil {
		abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid request: %w", err))
		return
	}
	question := strings.TrimSpace(req.Question)
	if question == "" {
		abortWithError(c, http.StatusBadRequest, errors.New("question is required"))
		return
	}

	route, answer := s.rag.Ask(c.Request.Context(), session(c), question)
	c.Header(RouteHeader, route.Name())
	c.Header("Content-Type", "text/plain; charset=utf-8")
	c.Status(http.StatusOK)
	for fragment := range answer {
		if _, err := c.Writer.WriteString(fragment); err != nil {
			log.Debug().Err(err).Msg("Client went away during answer")
			return
		}
		c.Writer.Flush()
	}
}

func (s *Server) listFiles(c *gin.Context) {
	sources, err := s.rag.ListSources(c.Request.Context())
	if err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	if sources == nil {
		sources = []models.Source{}
	}
	c.JSON(http.StatusOK, gin.H{"files": sources})
}

func (s *Server) deleteFile(c *gin.Context) {
	name := strings.TrimPrefix(c.Param("source_name"), "/")
	if name == "" {
		abortWithError(c, http.StatusBadRequest, errors.New("source name is required"))
		return
	}
	if err := s.rag.DeleteSource(c.Request.Context(), name); err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "deleted", "source_name": name})
}

func (s *Server) clearHistory(c *gin.Context) {
	if err := s.rag.ClearHistory(c.Request.Context(), session(c)); err != nil {
		abortWithError(c, http.StatusInternalServerError, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "history cleared"})
}

func (s *Server) latestNews(c *gin.Context) {
	pageSize := 0
	if v := c.Query("page_size"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			abortWithError(c, http.StatusBadRequest, fmt.Errorf("invalid page_size %q", v))
			return
		}
		pageSize = n
	}
	articles, err := s.news.Fetch(c.Request.Context(), c.Query("q"), pageSize)
	if errors.Is(err, news.ErrNoAPIKey) {
		abortWithError(c, http.StatusServiceUnavailable, err)
		return
	}
	if err != nil {
		abortWithError(c, http.StatusBadGateway, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"articles": articles})
}

func (s *Server) scrape(c *gin.Context) {
	var req scrapeRequest
	if err := c.ShouldBind(&req); err != nil || strings.TrimSpace(req.URL) == "" {
		abortWithError(c, http.StatusBadRequest, errors.New("url is required"))
		return
	}
	res := s.rag.IngestWeb(c.Request.Context(), session(c), req.URL)
	code := http.StatusOK
	if res.Status == models.StatusError {
		code = http.StatusBadGateway
	}
	c.JSON(code, gin.H{"result": res})
}
