package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"gorm.io/datatypes"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

// Affiliation classifies a publisher.
type Affiliation string

const (
	AffiliationIndependent Affiliation = "INDEPENDENT"
	AffiliationState       Affiliation = "STATE"
	AffiliationOther       Affiliation = "OTHER"
)

// Source is a publisher, identified by its name.
type Source struct {
	ID          uint        `gorm:"primaryKey" json:"id"`
	Name        string      `gorm:"size:128;uniqueIndex;not null" json:"name"`
	BaseURL     string      `gorm:"size:256" json:"baseUrl"`
	Affiliation Affiliation `gorm:"size:32;not null" json:"affiliation"`

	CreatedAt time.Time `json:"createdAt"`
}

// Category is a topical bucket, identified by its name.
type Category struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"size:128;uniqueIndex;not null" json:"name"`

	CreatedAt time.Time `json:"createdAt"`
}

// Article is one ingested story. URL is the only dedup key; rows are never
// updated once written.
type Article struct {
	ID          string            `gorm:"primaryKey;size:40" json:"id"`
	Headline    string            `gorm:"size:512;not null" json:"headline"`
	URL         string            `gorm:"size:1024;uniqueIndex;not null" json:"url"`
	Snippet     *string           `gorm:"size:600" json:"snippet"`
	ImageURL    *string           `gorm:"size:1024" json:"imageUrl"`
	PublishedAt time.Time         `gorm:"index;not null" json:"publishedAt"`
	SourceID    uint              `gorm:"index;not null" json:"sourceId"`
	Source      Source            `json:"-"`
	CategoryID  uint              `gorm:"index;not null" json:"categoryId"`
	Category    Category          `json:"-"`
	Extra       datatypes.JSONMap `json:"extra,omitempty"`

	CreatedAt time.Time `json:"createdAt"`
}

type Store struct {
	DB    *gorm.DB
	Redis *redis.Client

	cacheTTL time.Duration
	log      *slog.Logger
}

// NewStore connects to Postgres and, when redisAddr is set, Redis.
func NewStore(dsn, redisAddr string, cacheTTL time.Duration, log *slog.Logger) (*Store, error) {
	var rdb *redis.Client
	if redisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: redisAddr})
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis ping failed, reads fall back to the database", "addr", redisAddr, "err", err)
		}
	}
	return Open(postgres.Open(dsn), rdb, cacheTTL, log)
}

// Open builds a Store on any gorm dialector and migrates the schema.
// rdb may be nil, which disables the read cache.
func Open(dialector gorm.Dialector, rdb *redis.Client, cacheTTL time.Duration, log *slog.Logger) (*Store, error) {
	db, err := gorm.Open(dialector, &gorm.Config{
		Logger:         logger.Default.LogMode(logger.Silent),
		TranslateError: true,
	})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&Source{}, &Category{}, &Article{}); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if cacheTTL <= 0 {
		cacheTTL = 5 * time.Minute
	}
	return &Store{DB: db, Redis: rdb, cacheTTL: cacheTTL, log: log}, nil
}

// EnsureSource returns the source called name, creating it with baseURL and
// the OTHER affiliation if it does not exist. An existing row is left as is.
func (s *Store) EnsureSource(ctx context.Context, name, baseURL string) (*Source, error) {
	return s.EnsureSourceAffiliated(ctx, name, baseURL, AffiliationOther)
}

// EnsureSourceAffiliated is EnsureSource with an explicit affiliation for a
// newly created row.
func (s *Store) EnsureSourceAffiliated(ctx context.Context, name, baseURL string, aff Affiliation) (*Source, error) {
	src := &Source{Name: name, BaseURL: baseURL, Affiliation: aff}
	if err := s.getOrCreate(ctx, src, "name = ?", name); err != nil {
		return nil, fmt.Errorf("ensure source %q: %w", name, err)
	}
	return src, nil
}

// EnsureCategory returns the category called name, creating it if needed.
func (s *Store) EnsureCategory(ctx context.Context, name string) (*Category, error) {
	cat := &Category{Name: name}
	if err := s.getOrCreate(ctx, cat, "name = ?", name); err != nil {
		return nil, fmt.Errorf("ensure category %q: %w", name, err)
	}
	return cat, nil
}

// getOrCreate inserts row unless its unique name already exists, then loads
// the stored row into it. The insert is a single ON CONFLICT DO NOTHING
// statement so concurrent callers converge on one row.
func (s *Store) getOrCreate(ctx context.Context, row any, query string, args ...any) error {
	db := s.DB.WithContext(ctx)
	res := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "name"}},
		DoNothing: true,
	}).Create(row)
	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 1 {
		return nil
	}
	return db.Where(query, args...).Take(row).Error
}

// CreateArticle inserts a, reporting created=false when an article with the
// same URL already exists. The existing row is never touched.
func (s *Store) CreateArticle(ctx context.Context, a *Article) (bool, error) {
	a.Headline = toValidUTF8(a.Headline)
	if a.Snippet != nil {
		sn := truncateRunesDB(toValidUTF8(*a.Snippet), 600)
		a.Snippet = &sn
	}
	a.PublishedAt = a.PublishedAt.UTC()

	res := s.DB.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "url"}},
			DoNothing: true,
		}).Create(a)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return false, nil
		}
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

// CountArticles returns the number of stored articles.
func (s *Store) CountArticles(ctx context.Context) (int64, error) {
	var n int64
	err := s.DB.WithContext(ctx).Model(&Article{}).Count(&n).Error
	return n, err
}

// Close releases the database and Redis connections.
func (s *Store) Close() error {
	if s.Redis != nil {
		_ = s.Redis.Close()
	}
	sqlDB, err := s.DB.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// toValidUTF8 keeps feeds with mixed encodings from tripping
// "invalid byte sequence" errors in Postgres.
func toValidUTF8(s string) string {
	return strings.ToValidUTF8(s, "�")
}

// truncateRunesDB caps s at limit runes so it always fits its column.
func truncateRunesDB(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return string(rs[:limit])
}
