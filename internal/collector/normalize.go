package collector

import (
	"net/url"
	"strings"

	"github.com/LJTian/newswire/internal/config"
	"github.com/LJTian/newswire/internal/processor"
)

// toCandidates converts parsed entries into at most ItemLimit candidates,
// preserving feed order and dropping entries without a resolvable link.
func (f *FeedFetcher) toCandidates(src config.Source, entries []feedEntry) []CandidateItem {
	limit := f.ItemLimit
	if limit <= 0 {
		limit = defaultItemLimit
	}
	base, _ := url.Parse(src.FeedURL)

	out := make([]CandidateItem, 0, min(limit, len(entries)))
	for _, e := range entries {
		if len(out) == limit {
			break
		}
		link := resolveLink(base, e.Link)
		if link == "" {
			continue
		}

		item := CandidateItem{
			Headline:     processor.StripMarkup(e.Title),
			URL:          link,
			Snippet:      processor.TruncateRunes(processor.StripMarkup(e.Summary), f.SnippetMaxRunes),
			SourceName:   src.Name,
			CategoryName: src.Category,
		}
		if e.Published != "" {
			if t, err := processor.ParseTime(e.Published); err == nil {
				item.PublishedAt = &t
			}
		}
		if img := resolveLink(base, e.Image); img != "" {
			item.ImageURL = &img
		}
		item.Extra = entryExtra(e)
		out = append(out, item)
	}
	return out
}

func entryExtra(e feedEntry) map[string]any {
	extra := map[string]any{}
	if e.GUID != "" {
		extra["guid"] = e.GUID
	}
	if a := processor.CleanText(e.Author); a != "" {
		extra["author"] = a
	}
	tags := make([]string, 0, len(e.Tags))
	for _, t := range e.Tags {
		if t = processor.CleanText(t); t != "" {
			tags = append(tags, t)
		}
	}
	if len(tags) > 0 {
		extra["tags"] = tags
	}
	if len(extra) == 0 {
		return nil
	}
	return extra
}

// resolveLink makes raw absolute against base and returns it only when it is
// an http(s) URL with a host.
func resolveLink(base *url.URL, raw string) string {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return ""
	}
	ref, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if base != nil {
		ref = base.ResolveReference(ref)
	}
	if !isAbsoluteHTTP(ref.String()) {
		return ""
	}
	return ref.String()
}

func isAbsoluteHTTP(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
