package processor

import (
	"crypto/sha1"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/araddon/dateparse"
)

const (
	// DefaultCategory is assigned to items that arrive without a category name.
	DefaultCategory = "General"

	MaxHeadlineRunes = 512
	MaxSnippetRunes  = 500
	MaxURLRunes      = 1024
	MaxNameRunes     = 128 // source and category names
)

var (
	// ErrMissingField marks items without a URL or headline. They are skipped, not failed.
	ErrMissingField = errors.New("missing url or headline")
	ErrInvalidURL   = errors.New("invalid url")
	ErrInvalidDate  = errors.New("invalid publishedAt")
)

// RawItem is one ingestion payload entry as it arrives on the wire.
// Every field is optional at decode time; Normalize decides what is acceptable.
type RawItem struct {
	Headline     string         `json:"headline"`
	URL          string         `json:"url"`
	Snippet      string         `json:"snippet"`
	PublishedAt  string         `json:"publishedAt"`
	SourceName   string         `json:"sourceName"`
	CategoryName string         `json:"categoryName"`
	ImageURL     *string        `json:"imageUrl"`
	Extra        map[string]any `json:"extra"`
}

// ProcessedArticle is the store-ready form of a RawItem.
type ProcessedArticle struct {
	ID           string
	Headline     string
	URL          string
	Snippet      string
	ImageURL     string
	PublishedAt  time.Time
	SourceName   string
	SourceOrigin string
	CategoryName string
	Extra        map[string]any
}

// Normalize validates and cleans one payload item. now is used when the item
// carries no publication time.
func Normalize(it RawItem, now time.Time) (ProcessedArticle, error) {
	rawURL := strings.TrimSpace(it.URL)
	headline := CleanText(it.Headline)
	if rawURL == "" || headline == "" {
		return ProcessedArticle{}, ErrMissingField
	}

	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return ProcessedArticle{}, fmt.Errorf("%w: %q", ErrInvalidURL, rawURL)
	}
	if len([]rune(rawURL)) > MaxURLRunes {
		return ProcessedArticle{}, fmt.Errorf("%w: longer than %d characters", ErrInvalidURL, MaxURLRunes)
	}

	published := now.UTC()
	if s := strings.TrimSpace(it.PublishedAt); s != "" {
		t, err := ParseTime(s)
		if err != nil {
			return ProcessedArticle{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
		}
		published = t
	}

	sourceName := CleanText(it.SourceName)
	if sourceName == "" {
		sourceName = u.Hostname()
	}
	sourceName = TruncateRunes(sourceName, MaxNameRunes)
	category := CleanText(it.CategoryName)
	if category == "" {
		category = DefaultCategory
	}
	category = TruncateRunes(category, MaxNameRunes)
	image := ""
	if it.ImageURL != nil {
		image = strings.TrimSpace(*it.ImageURL)
	}
	// an image is optional, so one that cannot be stored is dropped
	if len([]rune(image)) > MaxURLRunes {
		image = ""
	}

	return ProcessedArticle{
		ID:           hashURL(rawURL),
		Headline:     TruncateRunes(headline, MaxHeadlineRunes),
		URL:          rawURL,
		Snippet:      TruncateRunes(StripMarkup(it.Snippet), MaxSnippetRunes),
		ImageURL:     image,
		PublishedAt:  published,
		SourceName:   sourceName,
		SourceOrigin: u.Scheme + "://" + u.Host,
		CategoryName: category,
		Extra:        it.Extra,
	}, nil
}

// ParseTime accepts ISO-8601 and the usual feed date layouts, returning UTC.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t.UTC(), nil
	}
	t, err := dateparse.ParseAny(s)
	if err != nil {
		return time.Time{}, err
	}
	return t.UTC(), nil
}

// CleanText trims s, replaces invalid UTF-8, and folds internal whitespace runs.
func CleanText(s string) string {
	s = strings.ToValidUTF8(s, "�")
	return strings.Join(strings.Fields(s), " ")
}

func hashURL(url string) string {
	h := sha1.New()
	h.Write([]byte(url))
	return hex.EncodeToString(h.Sum(nil))
}
