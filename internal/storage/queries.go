package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"
)

const (
	DefaultPageSize = 20
	MaxPageSize     = 50
	SearchLimit     = 25

	cacheGenerationKey = "articles:gen"
)

// ArticleView is the read-side projection of an Article.
type ArticleView struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	URL         string    `json:"url"`
	Excerpt     string    `json:"excerpt"`
	Source      string    `json:"source"`
	Category    string    `json:"category"`
	PublishedAt time.Time `json:"publishedAt"`
	ImageURL    *string   `json:"imageUrl"`
}

// ArticlePage is one page of the newest-first listing.
type ArticlePage struct {
	Page       int           `json:"page"`
	PageSize   int           `json:"pageSize"`
	Total      int64         `json:"total"`
	TotalPages int           `json:"totalPages"`
	Items      []ArticleView `json:"items"`
}

// ClampPage normalizes paging input: page >= 1, 1 <= pageSize <= MaxPageSize.
func ClampPage(page, pageSize int) (int, int) {
	if page < 1 {
		page = 1
	}
	if pageSize < 1 {
		pageSize = DefaultPageSize
	}
	if pageSize > MaxPageSize {
		pageSize = MaxPageSize
	}
	return page, pageSize
}

// TotalPages is ceil(total / pageSize).
func TotalPages(total int64, pageSize int) int {
	if pageSize <= 0 || total <= 0 {
		return 0
	}
	return int((total + int64(pageSize) - 1) / int64(pageSize))
}

const viewColumns = `articles.id, articles.headline AS title, articles.url, COALESCE(articles.snippet, '') AS excerpt,
	sources.name AS source, categories.name AS category, articles.published_at, articles.image_url`

func (s *Store) articleViews(ctx context.Context) *gorm.DB {
	return s.DB.WithContext(ctx).
		Table("articles").
		Select(viewColumns).
		Joins("JOIN sources ON sources.id = articles.source_id").
		Joins("JOIN categories ON categories.id = articles.category_id").
		Order("articles.published_at DESC").
		Order("articles.created_at DESC").
		Order("articles.id ASC")
}

// ListArticles returns page of articles ordered by publication time, newest first.
func (s *Store) ListArticles(ctx context.Context, page, pageSize int) (*ArticlePage, error) {
	page, pageSize = ClampPage(page, pageSize)

	cacheKey := s.cacheKey(ctx, fmt.Sprintf("articles:list:%d:%d", page, pageSize))
	var cached ArticlePage
	if s.cacheGet(ctx, cacheKey, &cached) {
		return &cached, nil
	}

	total, err := s.CountArticles(ctx)
	if err != nil {
		return nil, fmt.Errorf("count articles: %w", err)
	}

	items := make([]ArticleView, 0, pageSize)
	if err := s.articleViews(ctx).
		Offset((page - 1) * pageSize).
		Limit(pageSize).
		Scan(&items).Error; err != nil {
		return nil, fmt.Errorf("list articles: %w", err)
	}

	out := &ArticlePage{
		Page:       page,
		PageSize:   pageSize,
		Total:      total,
		TotalPages: TotalPages(total, pageSize),
		Items:      items,
	}
	s.cacheSet(ctx, cacheKey, out)
	return out, nil
}

// SearchArticles matches q case-insensitively against headlines and returns
// at most SearchLimit articles, newest first.
func (s *Store) SearchArticles(ctx context.Context, q string) ([]ArticleView, error) {
	q = strings.TrimSpace(q)
	if q == "" {
		return nil, fmt.Errorf("empty search query")
	}

	cacheKey := s.cacheKey(ctx, "articles:search:"+strings.ToLower(q))
	var cached []ArticleView
	if s.cacheGet(ctx, cacheKey, &cached) {
		return cached, nil
	}

	pattern := "%" + escapeLike(strings.ToLower(q)) + "%"
	items := make([]ArticleView, 0, SearchLimit)
	if err := s.articleViews(ctx).
		Where(`LOWER(articles.headline) LIKE ? ESCAPE '\'`, pattern).
		Limit(SearchLimit).
		Scan(&items).Error; err != nil {
		return nil, fmt.Errorf("search articles: %w", err)
	}

	s.cacheSet(ctx, cacheKey, items)
	return items, nil
}

// InvalidateArticles makes every cached read stale by bumping the cache generation.
func (s *Store) InvalidateArticles(ctx context.Context) {
	if s.Redis == nil {
		return
	}
	if err := s.Redis.Incr(ctx, cacheGenerationKey).Err(); err != nil {
		s.log.Warn("cache invalidate failed", "err", err)
	}
}

// cacheKey prefixes key with the current cache generation. It returns ""
// when caching is off or Redis is unreachable.
func (s *Store) cacheKey(ctx context.Context, key string) string {
	if s.Redis == nil {
		return ""
	}
	gen, err := s.Redis.Get(ctx, cacheGenerationKey).Result()
	switch {
	case err == redis.Nil:
		gen = "0"
	case err != nil:
		return ""
	}
	return gen + ":" + key
}

func (s *Store) cacheGet(ctx context.Context, key string, dst any) bool {
	if key == "" {
		return false
	}
	bs, err := s.Redis.Get(ctx, key).Bytes()
	if err != nil {
		return false
	}
	return json.Unmarshal(bs, dst) == nil
}

func (s *Store) cacheSet(ctx context.Context, key string, v any) {
	if key == "" {
		return
	}
	bs, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = s.Redis.Set(ctx, key, bs, s.cacheTTL).Err()
}

func escapeLike(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return r.Replace(s)
}
