package collector

import (
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"golang.org/x/net/html/charset"

	"github.com/LJTian/newswire/internal/config"
)

const (
	defaultFetchTimeout  = 15 * time.Second
	defaultItemLimit     = 10
	defaultSnippetRunes  = 300
	feedMaxResponseBytes = 5 << 20 // 5MB
	feedUserAgent        = "NewswireBot/1.0 (+feed ingestion)"
)

var errUnsupportedFeed = errors.New("unsupported feed format")

// FeedFetcher pulls RSS 2.0, RSS 1.0 and Atom documents.
type FeedFetcher struct {
	Timeout         time.Duration
	ItemLimit       int
	SnippetMaxRunes int
	UserAgent       string

	log *slog.Logger
}

// NewFeedFetcher returns a fetcher with the default 15s timeout, 10 item cap
// and 300 character snippets. Callers may override the exported fields.
func NewFeedFetcher(log *slog.Logger) *FeedFetcher {
	return &FeedFetcher{
		Timeout:         defaultFetchTimeout,
		ItemLimit:       defaultItemLimit,
		SnippetMaxRunes: defaultSnippetRunes,
		UserAgent:       feedUserAgent,
		log:             log,
	}
}

// Fetch retrieves and parses one feed. Any failure is logged and yields nil.
func (f *FeedFetcher) Fetch(ctx context.Context, src config.Source) []CandidateItem {
	log := f.log.With("source", src.Name, "url", src.FeedURL)
	if err := ctx.Err(); err != nil {
		log.Warn("feed fetch skipped", "err", err)
		return nil
	}

	start := time.Now()
	body, transcoded, err := f.retrieve(src.FeedURL)
	if err != nil {
		log.Warn("feed fetch failed", "err", err, "elapsed", time.Since(start))
		return nil
	}

	entries, err := parseFeed(body, transcoded)
	if err != nil {
		log.Warn("feed parse failed", "err", err)
		return nil
	}

	items := f.toCandidates(src, entries)
	log.Info("feed fetched", "entries", len(entries), "items", len(items), "elapsed", time.Since(start))
	return items
}

// retrieve downloads feedURL. transcoded reports that colly already converted
// the body to UTF-8 from the charset named in Content-Type.
func (f *FeedFetcher) retrieve(feedURL string) (body []byte, transcoded bool, err error) {
	c := colly.NewCollector(
		colly.UserAgent(f.UserAgent),
		colly.MaxBodySize(feedMaxResponseBytes),
	)
	c.SetRequestTimeout(f.Timeout)
	c.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", "application/rss+xml, application/atom+xml, application/xml;q=0.9, text/xml;q=0.8, */*;q=0.5")
	})

	c.OnResponse(func(r *colly.Response) {
		body = r.Body
		if r.Headers != nil {
			transcoded = namesForeignCharset(r.Headers.Get("Content-Type"))
		}
	})

	if err = c.Visit(feedURL); err != nil {
		return nil, false, err
	}
	if len(bytes.TrimSpace(body)) == 0 {
		return nil, false, fmt.Errorf("empty feed document")
	}
	return body, transcoded, nil
}

// namesForeignCharset mirrors colly's rule for re-encoding a response: a
// charset parameter other than UTF-8 in the Content-Type header.
func namesForeignCharset(contentType string) bool {
	ct := strings.ToLower(contentType)
	if !strings.Contains(ct, "charset") {
		return false
	}
	return !strings.Contains(ct, "utf-8") && !strings.Contains(ct, "utf8")
}

// feedEntry is the format-neutral view of an RSS item or Atom entry.
type feedEntry struct {
	Title     string
	Link      string
	Summary   string
	Published string
	GUID      string
	Author    string
	Image     string
	Tags      []string
}

type rssDocument struct {
	XMLName xml.Name
	Channel struct {
		Items []rssItem `xml:"item"`
	} `xml:"channel"`
	// RSS 1.0 keeps items beside the channel, directly under rdf:RDF.
	Items   []rssItem   `xml:"item"`
	Entries []atomEntry `xml:"entry"`
}

type rssItem struct {
	Title       string         `xml:"title"`
	Links       []rssLink      `xml:"link"`
	Description string         `xml:"description"`
	Encoded     string         `xml:"http://purl.org/rss/1.0/modules/content/ encoded"`
	PubDate     string         `xml:"pubDate"`
	DCDate      string         `xml:"http://purl.org/dc/elements/1.1/ date"`
	GUID        string         `xml:"guid"`
	Author      string         `xml:"author"`
	Creator     string         `xml:"http://purl.org/dc/elements/1.1/ creator"`
	Categories  []string       `xml:"category"`
	Enclosures  []rssEnclosure `xml:"enclosure"`
	Media       []mediaObject  `xml:"http://search.yahoo.com/mrss/ content"`
	Thumbnails  []mediaObject  `xml:"http://search.yahoo.com/mrss/ thumbnail"`
}

// rssLink also matches atom:link, which carries href instead of text.
type rssLink struct {
	Text string `xml:",chardata"`
	Href string `xml:"href,attr"`
}

type rssEnclosure struct {
	URL  string `xml:"url,attr"`
	Type string `xml:"type,attr"`
}

type mediaObject struct {
	URL    string `xml:"url,attr"`
	Type   string `xml:"type,attr"`
	Medium string `xml:"medium,attr"`
}

type atomEntry struct {
	Title      atomText   `xml:"title"`
	Links      []atomLink `xml:"link"`
	Summary    atomText   `xml:"summary"`
	Content    atomText   `xml:"content"`
	Published  string     `xml:"published"`
	Updated    string     `xml:"updated"`
	ID         string     `xml:"id"`
	Authors    []struct {
		Name string `xml:"name"`
	} `xml:"author"`
	Categories []struct {
		Term string `xml:"term,attr"`
	} `xml:"category"`
}

type atomText struct {
	Type  string `xml:"type,attr"`
	Text  string `xml:",chardata"`
	Inner string `xml:",innerxml"`
}

// String returns markup for xhtml content and the decoded text otherwise.
func (t atomText) String() string {
	if t.Type == "xhtml" {
		return t.Inner
	}
	return t.Text
}

type atomLink struct {
	Href string `xml:"href,attr"`
	Rel  string `xml:"rel,attr"`
	Type string `xml:"type,attr"`
}

// parseFeed decodes a feed document. When the body is already UTF-8 the
// encoding named in the XML declaration is ignored.
func parseFeed(body []byte, transcoded bool) ([]feedEntry, error) {
	dec := xml.NewDecoder(bytes.NewReader(body))
	dec.Strict = false
	dec.Entity = xml.HTMLEntity
	dec.CharsetReader = charset.NewReaderLabel
	if transcoded {
		dec.CharsetReader = func(_ string, input io.Reader) (io.Reader, error) {
			return input, nil
		}
	}

	var doc rssDocument
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode feed: %w", err)
	}

	switch strings.ToLower(doc.XMLName.Local) {
	case "rss":
		return rssEntries(doc.Channel.Items), nil
	case "rdf":
		return rssEntries(doc.Items), nil
	case "feed":
		return atomEntries(doc.Entries), nil
	default:
		return nil, fmt.Errorf("%w: root <%s>", errUnsupportedFeed, doc.XMLName.Local)
	}
}

func rssEntries(items []rssItem) []feedEntry {
	out := make([]feedEntry, 0, len(items))
	for _, it := range items {
		e := feedEntry{
			Title:     it.Title,
			Link:      rssLinkOf(it.Links),
			Summary:   it.Description,
			Published: firstNonEmpty(it.PubDate, it.DCDate),
			GUID:      strings.TrimSpace(it.GUID),
			Author:    firstNonEmpty(it.Creator, it.Author),
			Tags:      it.Categories,
		}
		if strings.TrimSpace(e.Summary) == "" {
			e.Summary = it.Encoded
		}
		if e.Link == "" && isAbsoluteHTTP(e.GUID) {
			e.Link = e.GUID
		}
		e.Image = rssImage(it)
		out = append(out, e)
	}
	return out
}

func rssLinkOf(links []rssLink) string {
	for _, l := range links {
		if t := strings.TrimSpace(l.Text); t != "" {
			return t
		}
	}
	for _, l := range links {
		if h := strings.TrimSpace(l.Href); h != "" {
			return h
		}
	}
	return ""
}

func rssImage(it rssItem) string {
	for _, enc := range it.Enclosures {
		if strings.HasPrefix(enc.Type, "image/") && enc.URL != "" {
			return enc.URL
		}
	}
	for _, m := range it.Media {
		if m.URL != "" && (m.Medium == "image" || strings.HasPrefix(m.Type, "image/")) {
			return m.URL
		}
	}
	for _, m := range it.Thumbnails {
		if m.URL != "" {
			return m.URL
		}
	}
	return ""
}

func atomEntries(entries []atomEntry) []feedEntry {
	out := make([]feedEntry, 0, len(entries))
	for _, en := range entries {
		e := feedEntry{
			Title:     en.Title.String(),
			Summary:   en.Summary.String(),
			Published: firstNonEmpty(en.Published, en.Updated),
			GUID:      strings.TrimSpace(en.ID),
		}
		if strings.TrimSpace(e.Summary) == "" {
			e.Summary = en.Content.String()
		}
		for _, l := range en.Links {
			switch {
			case (l.Rel == "" || l.Rel == "alternate") && e.Link == "":
				e.Link = strings.TrimSpace(l.Href)
			case l.Rel == "enclosure" && strings.HasPrefix(l.Type, "image/") && e.Image == "":
				e.Image = strings.TrimSpace(l.Href)
			}
		}
		if len(en.Authors) > 0 {
			e.Author = en.Authors[0].Name
		}
		for _, c := range en.Categories {
			if c.Term != "" {
				e.Tags = append(e.Tags, c.Term)
			}
		}
		out = append(out, e)
	}
	return out
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}
