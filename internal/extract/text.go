package extract

import (
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"
)

// SelectorText returns the text of the first element matched by the most
// specific selector that yields non-empty text.
type SelectorText struct {
	Label     string
	Selectors []string
	// StripLabels are removed from the text before trimming (e.g. "作者：").
	StripLabels []string
}

// Name implements Strategy.
func (s SelectorText) Name() string {
	return s.Label
}

// Attempt implements Strategy.
func (s SelectorText) Attempt(doc *goquery.Document) (string, bool) {
	for _, selector := range s.Selectors {
		match := doc.Find(selector).First()
		if match.Length() == 0 {
			continue
		}
		text := match.Text()
		for _, label := range s.StripLabels {
			text = strings.ReplaceAll(text, label, "")
		}
		if text = normalizeSpace(text); text != "" {
			return text, true
		}
	}
	return "", false
}

func normalizeSpace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}

var invisibleElements = map[string]struct{}{
	"script":   {},
	"style":    {},
	"noscript": {},
	"template": {},
}

// visibleText concatenates the text nodes under sel, skipping script-like
// elements, in document order.
func visibleText(sel *goquery.Selection) string {
	var b strings.Builder
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		switch n.Type {
		case html.TextNode:
			b.WriteString(n.Data)
			return
		case html.ElementNode:
			if _, skip := invisibleElements[n.Data]; skip {
				return
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			walk(c)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return b.String()
}
