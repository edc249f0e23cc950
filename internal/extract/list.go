package extract

import (
	"regexp"

	"github.com/PuerkitoBio/goquery"
)

// DefaultListSelectors are the ranking-list link candidates, most specific
// first and ending with a catch-all over every book link.
var DefaultListSelectors = []string{
	".rank-view-list .book-mid-info h2 a",
	".rank-view-list .book-info h2 a",
	".book-list .book-mid-info h4 a",
	".book-list .book-info h4 a",
	`.rank-view-list a[href*="/book/"]`,
	`.book-list a[href*="/book/"]`,
	`a[href*="/book/"]`,
}

var bookIDPattern = regexp.MustCompile(`/book/(\d+)(?:[/?#]|$)`)

// BookIDFromHref returns the numeric id in a detail-page link.
func BookIDFromHref(href string) (string, bool) {
	m := bookIDPattern.FindStringSubmatch(href)
	if m == nil {
		return "", false
	}
	return m[1], true
}

// BookIDs applies the candidates in order and returns the ids found by the
// first candidate that yields any, deduplicated in discovery order and capped
// at limit (limit <= 0 means no cap). The winning selector is returned as well.
func BookIDs(doc *goquery.Document, candidates []string, limit int) ([]string, string) {
	if doc == nil {
		return nil, ""
	}
	for _, selector := range candidates {
		ids := idsFor(doc, selector, limit)
		if len(ids) > 0 {
			return ids, selector
		}
	}
	return nil, ""
}

func idsFor(doc *goquery.Document, selector string, limit int) (ids []string) {
	defer func() {
		if recover() != nil {
			ids = nil
		}
	}()
	seen := make(map[string]struct{})
	doc.Find(selector).EachWithBreak(func(_ int, link *goquery.Selection) bool {
		href, ok := link.Attr("href")
		if !ok {
			return true
		}
		id, ok := BookIDFromHref(href)
		if !ok {
			return true
		}
		if _, dup := seen[id]; dup {
			return true
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
		return limit <= 0 || len(ids) < limit
	})
	return ids
}
