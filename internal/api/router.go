package api

import (
	"context"
	"crypto/subtle"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/newswire/internal/ingest"
	"github.com/LJTian/newswire/internal/storage"
)

const maxBodyBytes = 10 << 20

// ArticleReader serves the read endpoints.
type ArticleReader interface {
	ListArticles(ctx context.Context, page, pageSize int) (*storage.ArticlePage, error)
	SearchArticles(ctx context.Context, q string) ([]storage.ArticleView, error)
}

type Server struct {
	reader ArticleReader
	ingest *ingest.Service
	key    string
	log    *slog.Logger
}

// NewServer wires the article routes. An empty key disables the ingestion
// credential check.
func NewServer(reader ArticleReader, svc *ingest.Service, key string, log *slog.Logger) *Server {
	return &Server{reader: reader, ingest: svc, key: key, log: log}
}

func (s *Server) RegisterRoutes(r *gin.Engine) {
	r.GET("/health", s.health)
	r.POST(ingest.Path, s.requireKey(), s.ingestArticles)

	for _, g := range []*gin.RouterGroup{&r.RouterGroup, r.Group("/api")} {
		g.GET("/articles", s.listArticles)
		g.GET("/search", s.searchArticles)
	}
}

func (s *Server) health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

func (s *Server) requireKey() gin.HandlerFunc {
	want := []byte(s.key)
	return func(c *gin.Context) {
		if s.key == "" {
			c.Next()
			return
		}
		got := []byte(c.GetHeader(ingest.KeyHeader))
		if subtle.ConstantTimeCompare(got, want) != 1 {
			s.log.Warn("ingestion rejected: bad credential", "remote", c.ClientIP(), "requestId", c.GetHeader(ingest.RequestIDHeader))
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
			return
		}
		c.Next()
	}
}

func (s *Server) ingestArticles(c *gin.Context) {
	body, err := io.ReadAll(http.MaxBytesReader(c.Writer, c.Request.Body, maxBodyBytes))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad payload"})
		return
	}
	items, err := ingest.DecodeBatch(body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Bad payload"})
		return
	}

	sum := s.ingest.Ingest(c.Request.Context(), items)
	s.log.Info("batch ingested",
		"requestId", c.GetHeader(ingest.RequestIDHeader),
		"received", sum.Received,
		"created", sum.Created,
		"duplicates", sum.Duplicates,
		"invalid", sum.Invalid,
		"errors", len(sum.Errors))
	c.JSON(http.StatusOK, sum)
}

func (s *Server) listArticles(c *gin.Context) {
	page := queryInt(c, "page", 1)
	pageSize := queryInt(c, "pageSize", storage.DefaultPageSize)

	out, err := s.reader.ListArticles(c.Request.Context(), page, pageSize)
	if err != nil {
		s.log.Error("list articles failed", "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, out)
}

func (s *Server) searchArticles(c *gin.Context) {
	q := strings.TrimSpace(c.Query("q"))
	if q == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "query required"})
		return
	}
	items, err := s.reader.SearchArticles(c.Request.Context(), q)
	if err != nil {
		s.log.Error("search articles failed", "q", q, "err", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal Server Error"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"query": q, "items": items})
}

func queryInt(c *gin.Context, key string, def int) int {
	n, err := strconv.Atoi(c.Query(key))
	if err != nil {
		return def
	}
	return n
}
