package collector

import (
	"context"
	"time"

	"github.com/LJTian/newswire/internal/config"
)

// CandidateItem is one normalized story pulled from a feed, in the shape the
// ingestion endpoint accepts.
type CandidateItem struct {
	Headline     string         `json:"headline"`
	URL          string         `json:"url"`
	Snippet      string         `json:"snippet,omitempty"`
	PublishedAt  *time.Time     `json:"publishedAt,omitempty"`
	SourceName   string         `json:"sourceName"`
	CategoryName string         `json:"categoryName"`
	ImageURL     *string        `json:"imageUrl,omitempty"`
	Extra        map[string]any `json:"extra,omitempty"`
}

// Fetcher retrieves one source. Implementations absorb their own failures and
// return an empty slice instead of an error.
type Fetcher interface {
	Fetch(ctx context.Context, src config.Source) []CandidateItem
}
