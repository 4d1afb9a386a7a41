package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/LJTian/newswire/internal/config"
	"github.com/LJTian/newswire/internal/ingest"
	"github.com/LJTian/newswire/internal/logger"
	"github.com/LJTian/newswire/internal/processor"
	"github.com/LJTian/newswire/internal/storage"
)

const seedArticles = 5

// Fills a development database with a handful of articles. Safe to rerun:
// existing URLs are skipped.
func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		logger.New("seed", "info").Error("load config failed", "err", err)
		os.Exit(1)
	}
	log := logger.New("seed", cfg.LogLevel)

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, cfg.CacheTTL, log)
	if err != nil {
		log.Error("init store failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	sum, err := seed(context.Background(), store, ingest.NewService(store, log), time.Now())
	if err != nil {
		log.Error("seed failed", "err", err)
		os.Exit(1)
	}
	log.Info("seeded", "created", sum.Created, "skipped", sum.Skipped, "errors", len(sum.Errors))
}

func seed(ctx context.Context, store *storage.Store, svc *ingest.Service, now time.Time) (ingest.Summary, error) {
	if _, err := store.EnsureSourceAffiliated(ctx, "NewsDay", "https://newsday.co.zw", storage.AffiliationIndependent); err != nil {
		return ingest.Summary{}, err
	}

	items := make([]processor.RawItem, 0, seedArticles)
	for i := 1; i <= seedArticles; i++ {
		items = append(items, processor.RawItem{
			Headline:     fmt.Sprintf("Seed Headline %d", i),
			URL:          fmt.Sprintf("https://example.com/%d", i),
			Snippet:      "Seed snippet",
			PublishedAt:  now.Add(-time.Duration(i) * time.Hour).UTC().Format(time.RFC3339),
			SourceName:   "NewsDay",
			CategoryName: "Politics",
		})
	}
	return svc.Ingest(ctx, items), nil
}
