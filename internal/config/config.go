package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Common holds settings shared by every service.
type Common struct {
	PostgresDSN string
	RedisAddr   string
	LogLevel    string
}

// API configures the article service (ingestion endpoint + read path).
type API struct {
	Common
	AppPort      string
	IngestionKey string
	CacheTTL     time.Duration
}

// Ingest configures the feed collection loop.
type Ingest struct {
	ArticleServiceURL string
	IngestionKey      string
	Schedule          string
	MaxJitter         time.Duration
	FetchTimeout      time.Duration
	ItemLimit         int
	SnippetMaxRunes   int
	SubmitTimeout     time.Duration
	SourcesFile       string
	StatusPort        string
	LogLevel          string
}

const defaultDSN = "host=localhost user=newswire password=newswire dbname=newswire port=5432 sslmode=disable TimeZone=UTC"

// LoadAPI reads the article service configuration from the environment.
func LoadAPI() (*API, error) {
	cfg := &API{
		Common:       loadCommon(),
		AppPort:      getEnv("APP_PORT", "8002"),
		IngestionKey: getEnv("INGESTION_KEY", ""),
		CacheTTL:     getDuration("CACHE_TTL", "5m"),
	}
	if cfg.PostgresDSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN must be set")
	}
	if cfg.CacheTTL <= 0 {
		return nil, fmt.Errorf("CACHE_TTL must be positive")
	}
	return cfg, nil
}

// LoadIngest reads the ingestion loop configuration from the environment.
func LoadIngest() (*Ingest, error) {
	cfg := &Ingest{
		ArticleServiceURL: strings.TrimRight(getEnv("ARTICLE_SERVICE_URL", "http://article-service:8002"), "/"),
		IngestionKey:      getEnv("INGESTION_KEY", ""),
		Schedule:          getEnv("INGEST_SCHEDULE", "@every 5m"),
		MaxJitter:         getDuration("INGEST_MAX_JITTER", "15s"),
		FetchTimeout:      getDuration("FETCH_TIMEOUT", "15s"),
		ItemLimit:         getInt("FETCH_ITEM_LIMIT", 10),
		SnippetMaxRunes:   getInt("SNIPPET_MAX_RUNES", 300),
		SubmitTimeout:     getDuration("SUBMIT_TIMEOUT", "0s"),
		SourcesFile:       getEnv("SOURCES_FILE", ""),
		StatusPort:        getEnv("STATUS_PORT", "8004"),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
	}

	// INGEST_INTERVAL_MS is the older knob; it wins when present.
	if ms := getInt("INGEST_INTERVAL_MS", 0); ms > 0 {
		cfg.Schedule = fmt.Sprintf("@every %dms", ms)
	}

	if cfg.ArticleServiceURL == "" {
		return nil, fmt.Errorf("ARTICLE_SERVICE_URL must be set")
	}
	if cfg.MaxJitter < 0 {
		return nil, fmt.Errorf("INGEST_MAX_JITTER cannot be negative")
	}
	if cfg.FetchTimeout <= 0 {
		return nil, fmt.Errorf("FETCH_TIMEOUT must be positive")
	}
	if cfg.ItemLimit <= 0 {
		return nil, fmt.Errorf("FETCH_ITEM_LIMIT must be positive")
	}
	if cfg.SnippetMaxRunes <= 0 {
		return nil, fmt.Errorf("SNIPPET_MAX_RUNES must be positive")
	}
	if cfg.SubmitTimeout < 0 {
		return nil, fmt.Errorf("SUBMIT_TIMEOUT cannot be negative")
	}
	return cfg, nil
}

func loadCommon() Common {
	return Common{
		PostgresDSN: getEnv("POSTGRES_DSN", defaultDSN),
		RedisAddr:   getEnv("REDIS_ADDR", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return n
		}
	}
	return def
}

func getDuration(key, def string) time.Duration {
	if d, err := time.ParseDuration(getEnv(key, def)); err == nil {
		return d
	}
	d, err := time.ParseDuration(def)
	if err != nil {
		panic(fmt.Sprintf("invalid fallback duration %q: %v", def, err))
	}
	return d
}
