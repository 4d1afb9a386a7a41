package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/LJTian/newswire/internal/processor"
	"github.com/LJTian/newswire/internal/storage"
)

// Summary reports what one ingestion call did. Skipped is Invalid plus
// Duplicates; Errors holds "url: reason" lines for every other failure.
type Summary struct {
	Received   int      `json:"received"`
	Created    int      `json:"created"`
	Skipped    int      `json:"skipped"`
	Duplicates int      `json:"duplicates"`
	Invalid    int      `json:"invalid"`
	Errors     []string `json:"errors"`
}

// Store is the slice of storage.Store the ingestion path writes through.
type Store interface {
	EnsureSource(ctx context.Context, name, baseURL string) (*storage.Source, error)
	EnsureCategory(ctx context.Context, name string) (*storage.Category, error)
	CreateArticle(ctx context.Context, a *storage.Article) (bool, error)
	InvalidateArticles(ctx context.Context)
}

type Service struct {
	store Store
	log   *slog.Logger
	now   func() time.Time
}

func NewService(store Store, log *slog.Logger) *Service {
	return &Service{store: store, log: log, now: time.Now}
}

// Ingest processes items in order. Each item is handled on its own: a failure
// is counted or recorded and the next item proceeds. Repeating a batch never
// creates an article twice because the URL is the only identity.
func (s *Service) Ingest(ctx context.Context, items []processor.RawItem) Summary {
	sum := Summary{Received: len(items), Errors: []string{}}
	now := s.now()

	for _, it := range items {
		created, err := s.ingestOne(ctx, it, now)
		switch {
		case err == nil && created:
			sum.Created++
		case err == nil:
			sum.Duplicates++
		case errors.Is(err, processor.ErrMissingField):
			sum.Invalid++
		default:
			sum.Errors = append(sum.Errors, fmt.Sprintf("%s: %v", it.URL, err))
		}
	}
	sum.Skipped = sum.Invalid + sum.Duplicates

	if sum.Created > 0 {
		s.store.InvalidateArticles(ctx)
	}
	return sum
}

func (s *Service) ingestOne(ctx context.Context, it processor.RawItem, now time.Time) (bool, error) {
	p, err := processor.Normalize(it, now)
	if err != nil {
		return false, err
	}

	src, err := s.store.EnsureSource(ctx, p.SourceName, p.SourceOrigin)
	if err != nil {
		return false, err
	}
	cat, err := s.store.EnsureCategory(ctx, p.CategoryName)
	if err != nil {
		return false, err
	}

	a := &storage.Article{
		ID:          p.ID,
		Headline:    p.Headline,
		URL:         p.URL,
		PublishedAt: p.PublishedAt,
		SourceID:    src.ID,
		CategoryID:  cat.ID,
		Extra:       p.Extra,
	}
	if p.Snippet != "" {
		a.Snippet = &p.Snippet
	}
	if p.ImageURL != "" {
		a.ImageURL = &p.ImageURL
	}

	created, err := s.store.CreateArticle(ctx, a)
	if err != nil {
		s.log.Warn("create article failed", "url", p.URL, "err", err)
		return false, err
	}
	return created, nil
}
