package processor

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// StripMarkup returns the visible text of an HTML fragment with entities
// decoded and whitespace collapsed.
func StripMarkup(s string) string {
	if strings.TrimSpace(s) == "" {
		return ""
	}
	if !strings.ContainsAny(s, "<&") {
		return CleanText(s)
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(s))
	if err != nil {
		return CleanText(s)
	}
	return CleanText(doc.Text())
}

// TruncateRunes cuts s to at most limit runes.
func TruncateRunes(s string, limit int) string {
	if limit <= 0 {
		return ""
	}
	rs := []rune(s)
	if len(rs) <= limit {
		return s
	}
	return strings.TrimSpace(string(rs[:limit]))
}
