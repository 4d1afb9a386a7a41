package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// DefaultCategory is used when a source or item does not name one.
const DefaultCategory = "General"

// Source validation errors.
var (
	ErrNoSources        = errors.New("at least one source is required")
	ErrSourceNameEmpty  = errors.New("source name is required")
	ErrSourceURLInvalid = errors.New("source url must be an absolute http(s) url")
	ErrSourceDuplicate  = errors.New("source names must be unique")
)

// Source describes one configured feed.
type Source struct {
	Name     string `yaml:"name"`
	FeedURL  string `yaml:"url"`
	Category string `yaml:"category"`
}

type sourcesFile struct {
	Sources []Source `yaml:"sources"`
}

// DefaultSources is the built-in feed list used when no SOURCES_FILE is given.
func DefaultSources() []Source {
	return []Source{
		{Name: "NewsDay", FeedURL: "https://www.newsday.co.zw/feed/", Category: "Politics"},
		{Name: "The Herald", FeedURL: "https://www.herald.co.zw/feed/", Category: "Politics"},
		{Name: "Chronicle", FeedURL: "https://www.chronicle.co.zw/feed/", Category: "Business"},
		{Name: "New Zimbabwe", FeedURL: "https://www.newzimbabwe.com/feed/", Category: "Politics"},
		{Name: "Nehanda Radio", FeedURL: "https://nehandaradio.com/feed/", Category: "General"},
	}
}

// LoadSources reads the YAML source list at path, or returns the defaults
// when path is empty.
func LoadSources(path string) ([]Source, error) {
	if path == "" {
		return DefaultSources(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read sources file: %w", err)
	}
	return ParseSources(data)
}

// ParseSources decodes and validates a YAML source list.
func ParseSources(data []byte) ([]Source, error) {
	var f sourcesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse sources: %w", err)
	}
	if err := ValidateSources(f.Sources); err != nil {
		return nil, err
	}
	return f.Sources, nil
}

// ValidateSources checks the list in place, filling in default categories.
func ValidateSources(sources []Source) error {
	if len(sources) == 0 {
		return ErrNoSources
	}
	seen := make(map[string]struct{}, len(sources))
	for i := range sources {
		s := &sources[i]
		s.Name = strings.TrimSpace(s.Name)
		s.FeedURL = strings.TrimSpace(s.FeedURL)
		s.Category = strings.TrimSpace(s.Category)

		if s.Name == "" {
			return fmt.Errorf("sources[%d]: %w", i, ErrSourceNameEmpty)
		}
		u, err := url.Parse(s.FeedURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return fmt.Errorf("sources[%d] %q: %w", i, s.Name, ErrSourceURLInvalid)
		}
		if _, ok := seen[s.Name]; ok {
			return fmt.Errorf("sources[%d] %q: %w", i, s.Name, ErrSourceDuplicate)
		}
		seen[s.Name] = struct{}{}
		if s.Category == "" {
			s.Category = DefaultCategory
		}
	}
	return nil
}
