package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/LJTian/newswire/internal/api"
	"github.com/LJTian/newswire/internal/config"
	"github.com/LJTian/newswire/internal/ingest"
	"github.com/LJTian/newswire/internal/logger"
	"github.com/LJTian/newswire/internal/storage"
)

// Article service: ingestion endpoint plus the read API.
func main() {
	cfg, err := config.LoadAPI()
	if err != nil {
		logger.New("article-service", "info").Error("load config failed", "err", err)
		os.Exit(1)
	}
	log := logger.New("article-service", cfg.LogLevel)

	store, err := storage.NewStore(cfg.PostgresDSN, cfg.RedisAddr, cfg.CacheTTL, log)
	if err != nil {
		log.Error("init store failed", "err", err)
		os.Exit(1)
	}
	defer store.Close()

	if cfg.IngestionKey == "" {
		log.Warn("INGESTION_KEY is empty, the ingestion endpoint accepts unauthenticated batches")
	}
	if cfg.RedisAddr == "" {
		log.Info("REDIS_ADDR not set, read cache disabled")
	}

	r := api.NewEngine(log)
	api.NewServer(store, ingest.NewService(store, log), cfg.IngestionKey, log).RegisterRoutes(r)

	srv := &http.Server{Addr: ":" + cfg.AppPort, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		log.Info("starting api server", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server exit", "err", err)
			stop()
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "err", err)
	}
	log.Info("api server stopped")
}
