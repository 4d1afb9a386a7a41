package api

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"

	"github.com/LJTian/newswire/internal/ingest"
	"github.com/LJTian/newswire/internal/logger"
	"github.com/LJTian/newswire/internal/storage"
)

func newTestRouter(t *testing.T, key string) (*gin.Engine, *storage.Store) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	dsn := filepath.Join(t.TempDir(), "api.db") + "?_pragma=busy_timeout(5000)"
	store, err := storage.Open(sqlite.Open(dsn), nil, time.Minute, logger.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	r := gin.New()
	NewServer(store, ingest.NewService(store, logger.Discard()), key, logger.Discard()).RegisterRoutes(r)
	return r, store
}

func do(r http.Handler, method, target, body string, headers map[string]string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func batchJSON(n int, start int) string {
	var parts []string
	for i := start; i < start+n; i++ {
		parts = append(parts, fmt.Sprintf(
			`{"headline":"Story %d","url":"https://example.com/%d","publishedAt":"2025-01-01T%02d:00:00Z","sourceName":"NewsDay","categoryName":"Politics"}`,
			i, i, i%24))
	}
	return `{"articles":[` + strings.Join(parts, ",") + `]}`
}

func TestHealth(t *testing.T) {
	r, _ := newTestRouter(t, "")
	w := do(r, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"status":"ok"}`, w.Body.String())
}

func TestIngestRequiresKey(t *testing.T) {
	r, store := newTestRouter(t, "s3cret")

	w := do(r, http.MethodPost, ingest.Path, batchJSON(2, 0), nil)
	require.Equal(t, http.StatusUnauthorized, w.Code)
	require.JSONEq(t, `{"error":"Unauthorized"}`, w.Body.String())

	w = do(r, http.MethodPost, ingest.Path, batchJSON(2, 0), map[string]string{ingest.KeyHeader: "wrong"})
	require.Equal(t, http.StatusUnauthorized, w.Code)

	n, err := store.CountArticles(t.Context())
	require.NoError(t, err)
	require.Zero(t, n)

	w = do(r, http.MethodPost, ingest.Path, batchJSON(2, 0), map[string]string{ingest.KeyHeader: "s3cret"})
	require.Equal(t, http.StatusOK, w.Code)
	var sum ingest.Summary
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &sum))
	require.Equal(t, 2, sum.Created)
}

func TestIngestOpenWithoutKey(t *testing.T) {
	r, _ := newTestRouter(t, "")
	w := do(r, http.MethodPost, ingest.Path, `[{"headline":"x","url":"https://example.com/x"}]`, nil)
	require.Equal(t, http.StatusOK, w.Code)
	require.JSONEq(t, `{"received":1,"created":1,"skipped":0,"duplicates":0,"invalid":0,"errors":[]}`, w.Body.String())
}

func TestIngestRejectsBadShape(t *testing.T) {
	r, store := newTestRouter(t, "")
	for _, body := range []string{`{"items":[]}`, `"hello"`, `{"articles":5}`, `not json`} {
		w := do(r, http.MethodPost, ingest.Path, body, nil)
		require.Equal(t, http.StatusBadRequest, w.Code, body)
		require.JSONEq(t, `{"error":"Bad payload"}`, w.Body.String())
	}
	n, err := store.CountArticles(t.Context())
	require.NoError(t, err)
	require.Zero(t, n)
}

func TestIngestReplayIsIdempotent(t *testing.T) {
	r, store := newTestRouter(t, "")
	body := batchJSON(3, 0)

	var first, second ingest.Summary
	w := do(r, http.MethodPost, ingest.Path, body, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &first))
	w = do(r, http.MethodPost, ingest.Path, body, nil)
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &second))

	require.Equal(t, 3, first.Created)
	require.Equal(t, 0, second.Created)
	require.Equal(t, 3, second.Skipped)

	n, err := store.CountArticles(t.Context())
	require.NoError(t, err)
	require.EqualValues(t, 3, n)
}

func TestListArticlesPagination(t *testing.T) {
	r, _ := newTestRouter(t, "")
	w := do(r, http.MethodPost, ingest.Path, batchJSON(23, 0), nil)
	require.Equal(t, http.StatusOK, w.Code)

	for _, tc := range []struct {
		query    string
		page     int
		pageSize int
		items    int
	}{
		{"", 1, 20, 20},
		{"?page=2", 2, 20, 3},
		{"?page=2&pageSize=5", 2, 5, 5},
		{"?page=0&pageSize=999", 1, 50, 23},
		{"?page=abc", 1, 20, 20},
		{"?page=9", 9, 20, 0},
	} {
		for _, prefix := range []string{"", "/api"} {
			w := do(r, http.MethodGet, prefix+"/articles"+tc.query, "", nil)
			require.Equal(t, http.StatusOK, w.Code)

			var page storage.ArticlePage
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
			require.Equal(t, tc.page, page.Page, tc.query)
			require.Equal(t, tc.pageSize, page.PageSize, tc.query)
			require.EqualValues(t, 23, page.Total)
			require.Equal(t, int(math.Ceil(23/float64(tc.pageSize))), page.TotalPages)
			require.Len(t, page.Items, tc.items, tc.query)
			for i := 1; i < len(page.Items); i++ {
				require.False(t, page.Items[i].PublishedAt.After(page.Items[i-1].PublishedAt))
			}
		}
	}
}

func TestSearch(t *testing.T) {
	r, _ := newTestRouter(t, "")
	do(r, http.MethodPost, ingest.Path, `[
		{"headline":"Budget vote delayed","url":"https://example.com/1"},
		{"headline":"Cup final tonight","url":"https://example.com/2"}
	]`, nil)

	w := do(r, http.MethodGet, "/search?q=BUDGET", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var out struct {
		Query string                `json:"query"`
		Items []storage.ArticleView `json:"items"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	require.Equal(t, "BUDGET", out.Query)
	require.Len(t, out.Items, 1)
	require.Equal(t, "Budget vote delayed", out.Items[0].Title)
	require.Equal(t, "example.com", out.Items[0].Source)

	w = do(r, http.MethodGet, "/api/search?q=%20", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)
	require.JSONEq(t, `{"error":"query required"}`, w.Body.String())
}
