package ingest

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/newswire/internal/logger"
	"github.com/LJTian/newswire/internal/processor"
	"github.com/LJTian/newswire/internal/storage"
)

func newStore(t *testing.T) *storage.Store {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "ingest.db") + "?_pragma=busy_timeout(5000)"
	s, err := storage.Open(sqlite.Open(dsn), nil, time.Minute, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func item(url, headline string) processor.RawItem {
	return processor.RawItem{
		Headline:     headline,
		URL:          url,
		Snippet:      "<p>Body</p>",
		PublishedAt:  "2025-03-01T08:00:00Z",
		SourceName:   "NewsDay",
		CategoryName: "Politics",
	}
}

func TestIngestIdempotentReplay(t *testing.T) {
	store := newStore(t)
	svc := NewService(store, logger.Discard())
	ctx := context.Background()

	batch := []processor.RawItem{
		item("https://example.com/a", "A"),
		item("https://example.com/b", "B"),
		item("https://example.com/c", "C"),
		item("https://example.com/a", "A again"),
	}

	first := svc.Ingest(ctx, batch)
	require.Equal(t, 4, first.Received)
	require.Equal(t, 3, first.Created)
	require.Equal(t, 1, first.Skipped)
	require.Equal(t, 1, first.Duplicates)
	require.Empty(t, first.Errors)

	second := svc.Ingest(ctx, batch)
	require.Equal(t, 4, second.Received)
	require.Equal(t, 0, second.Created)
	require.Equal(t, 4, second.Skipped)
	require.Equal(t, 4, second.Duplicates)
	require.NotNil(t, second.Errors)

	n, err := store.CountArticles(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 3, n)

	var a storage.Article
	require.NoError(t, store.DB.Where("url = ?", "https://example.com/a").Take(&a).Error)
	require.Equal(t, "A", a.Headline, "first write wins")
	require.Equal(t, "Body", *a.Snippet)
}

func TestIngestPartialValidation(t *testing.T) {
	store := newStore(t)
	svc := NewService(store, logger.Discard())
	ctx := context.Background()

	missing := item("", "No url")
	sum := svc.Ingest(ctx, []processor.RawItem{
		item("https://example.com/1", "One"),
		missing,
		item("https://example.com/3", "Three"),
	})
	require.Equal(t, 3, sum.Received)
	require.Equal(t, 2, sum.Created)
	require.Equal(t, 1, sum.Skipped)
	require.Equal(t, 1, sum.Invalid)
	require.Empty(t, sum.Errors)

	var n int64
	require.NoError(t, store.DB.Model(&storage.Article{}).Where("headline = ?", "No url").Count(&n).Error)
	require.Zero(t, n)
}

func TestIngestDefaultsAndUpserts(t *testing.T) {
	store := newStore(t)
	svc := NewService(store, logger.Discard())
	fixed := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return fixed }
	ctx := context.Background()

	sum := svc.Ingest(ctx, []processor.RawItem{
		{Headline: "Undated", URL: "https://www.herald.co.zw/undated/"},
		{Headline: "Second", URL: "https://www.herald.co.zw/second/", SourceName: "The Herald"},
	})
	require.Equal(t, 2, sum.Created)

	var a storage.Article
	require.NoError(t, store.DB.Preload("Source").Preload("Category").
		Where("url = ?", "https://www.herald.co.zw/undated/").Take(&a).Error)
	require.True(t, fixed.Equal(a.PublishedAt))
	require.Equal(t, "www.herald.co.zw", a.Source.Name)
	require.Equal(t, "https://www.herald.co.zw", a.Source.BaseURL)
	require.Equal(t, processor.DefaultCategory, a.Category.Name)
	require.Nil(t, a.Snippet)

	var sources int64
	require.NoError(t, store.DB.Model(&storage.Source{}).Count(&sources).Error)
	require.EqualValues(t, 2, sources)
}

func TestIngestRecordsBadDateAsError(t *testing.T) {
	store := newStore(t)
	svc := NewService(store, logger.Discard())

	bad := item("https://example.com/bad-date", "Bad date")
	bad.PublishedAt = "not a date at all"
	sum := svc.Ingest(context.Background(), []processor.RawItem{bad, item("https://example.com/ok", "Ok")})

	require.Equal(t, 1, sum.Created)
	require.Equal(t, 0, sum.Skipped)
	require.Len(t, sum.Errors, 1)
	require.Contains(t, sum.Errors[0], "https://example.com/bad-date: ")
}

type fakeStore struct {
	created     map[string]bool
	failURL     string
	invalidated int
}

func (f *fakeStore) EnsureSource(_ context.Context, name, baseURL string) (*storage.Source, error) {
	return &storage.Source{ID: 1, Name: name, BaseURL: baseURL}, nil
}

func (f *fakeStore) EnsureCategory(_ context.Context, name string) (*storage.Category, error) {
	return &storage.Category{ID: 1, Name: name}, nil
}

func (f *fakeStore) CreateArticle(_ context.Context, a *storage.Article) (bool, error) {
	if a.URL == f.failURL {
		return false, errors.New("connection reset")
	}
	if f.created[a.URL] {
		return false, nil
	}
	f.created[a.URL] = true
	return true, nil
}

func (f *fakeStore) InvalidateArticles(context.Context) { f.invalidated++ }

func TestIngestIsolatesStoreFailures(t *testing.T) {
	fs := &fakeStore{created: map[string]bool{}, failURL: "https://example.com/2"}
	svc := NewService(fs, logger.Discard())

	sum := svc.Ingest(context.Background(), []processor.RawItem{
		item("https://example.com/1", "One"),
		item("https://example.com/2", "Two"),
		item("https://example.com/3", "Three"),
	})
	require.Equal(t, 2, sum.Created)
	require.Equal(t, 0, sum.Skipped)
	require.Equal(t, []string{"https://example.com/2: connection reset"}, sum.Errors)
	require.Equal(t, 1, fs.invalidated)
}

func TestIngestSkipsInvalidationWhenNothingCreated(t *testing.T) {
	fs := &fakeStore{created: map[string]bool{"https://example.com/1": true}}
	svc := NewService(fs, logger.Discard())

	sum := svc.Ingest(context.Background(), []processor.RawItem{item("https://example.com/1", "One"), {}})
	require.Equal(t, 2, sum.Skipped)
	require.Zero(t, fs.invalidated)
}
