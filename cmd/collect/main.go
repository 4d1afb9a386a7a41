package main

import (
	"context"
	"os"

	"github.com/LJTian/newswire/internal/collector"
	"github.com/LJTian/newswire/internal/config"
	"github.com/LJTian/newswire/internal/ingest"
	"github.com/LJTian/newswire/internal/logger"
	"github.com/LJTian/newswire/internal/scheduler"
)

// Runs exactly one collection cycle and exits; handy for manual triggering.
func main() {
	cfg, err := config.LoadIngest()
	if err != nil {
		logger.New("collect", "info").Error("load config failed", "err", err)
		os.Exit(1)
	}
	log := logger.New("collect", cfg.LogLevel)

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		log.Error("load sources failed", "err", err)
		os.Exit(1)
	}

	fetcher := collector.NewFeedFetcher(log)
	fetcher.Timeout = cfg.FetchTimeout
	fetcher.ItemLimit = cfg.ItemLimit
	fetcher.SnippetMaxRunes = cfg.SnippetMaxRunes

	client := ingest.NewClient(cfg.ArticleServiceURL, cfg.IngestionKey, cfg.SubmitTimeout)
	s, err := scheduler.New(sources, fetcher, client, cfg.Schedule, cfg.MaxJitter, log)
	if err != nil {
		log.Error("init scheduler failed", "err", err)
		os.Exit(1)
	}

	res := s.RunOnce(context.Background())
	if res.Error != "" {
		os.Exit(1)
	}
}
