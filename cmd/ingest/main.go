package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/LJTian/newswire/internal/api"
	"github.com/LJTian/newswire/internal/collector"
	"github.com/LJTian/newswire/internal/config"
	"github.com/LJTian/newswire/internal/ingest"
	"github.com/LJTian/newswire/internal/logger"
	"github.com/LJTian/newswire/internal/scheduler"
)

// Ingestion service: runs collection cycles forever and exposes /health and
// /status on STATUS_PORT.
func main() {
	cfg, err := config.LoadIngest()
	if err != nil {
		logger.New("ingestion-service", "info").Error("load config failed", "err", err)
		os.Exit(1)
	}
	log := logger.New("ingestion-service", cfg.LogLevel)

	sources, err := config.LoadSources(cfg.SourcesFile)
	if err != nil {
		log.Error("load sources failed", "err", err)
		os.Exit(1)
	}
	if cfg.IngestionKey == "" {
		log.Warn("INGESTION_KEY is empty, batches are submitted without a credential")
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

	r := api.NewEngine(log)
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	r.GET("/status", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"schedule":  cfg.Schedule,
			"sources":   len(sources),
			"lastCycle": s.LastCycle(),
		})
	})
	srv := &http.Server{Addr: ":" + cfg.StatusPort, Handler: r}
	go func() {
		log.Info("starting status server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("status server exit", "err", err)
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s.Run(ctx)

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
}
