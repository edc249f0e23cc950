package extract

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Strategy names reported in a Trace.
const (
	SignalLabelPattern      = "label_pattern"
	SignalScopedNumeric     = "scoped_numeric"
	SignalContextualNumeric = "contextual_numeric"
	StrategyDefault         = "default"
)

var digitsOnly = regexp.MustCompile(`^\d+$`)

// Range bounds a plausible count. Both bounds are exclusive.
type Range struct {
	Min int
	Max int
}

// Contains reports whether v lies strictly between Min and Max.
func (r Range) Contains(v int) bool {
	return v > r.Min && v < r.Max
}

// LabelPattern finds a number written directly before a label token,
// e.g. "211周推荐". Whitespace between the two breaks the match, so a count
// from a neighbouring element never pairs with the label. The first match in
// document order wins.
type LabelPattern struct {
	pattern *regexp.Regexp
}

// NewLabelPattern builds a LabelPattern for the given label token.
func NewLabelPattern(label string) LabelPattern {
	return LabelPattern{pattern: regexp.MustCompile(`(\d+)` + regexp.QuoteMeta(label))}
}

// Name implements Strategy.
func (LabelPattern) Name() string {
	return SignalLabelPattern
}

// Attempt implements Strategy.
func (p LabelPattern) Attempt(doc *goquery.Document) (int, bool) {
	m := p.pattern.FindStringSubmatch(visibleText(doc.Selection))
	if m == nil {
		return 0, false
	}
	v, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return v, true
}

// ScopedNumeric looks inside the statistics area for a purely numeric element
// whose container mentions a recommendation keyword. The first hit wins.
type ScopedNumeric struct {
	Selectors []string
	Range     Range
	Keywords  []string
}

// Name implements Strategy.
func (ScopedNumeric) Name() string {
	return SignalScopedNumeric
}

// Attempt implements Strategy.
func (s ScopedNumeric) Attempt(doc *goquery.Document) (int, bool) {
	var (
		found int
		ok    bool
	)
	doc.Find(strings.Join(s.Selectors, ", ")).EachWithBreak(func(_ int, el *goquery.Selection) bool {
		v, numeric := parseCount(el.Text())
		if !numeric || !s.Range.Contains(v) {
			return true
		}
		if !containsAny(el.Parent().Text(), s.Keywords) {
			return true
		}
		found, ok = v, true
		return false
	})
	return found, ok
}

// ContextualNumeric scans small inline elements across the whole page. It is
// the loosest strategy, so it keeps the largest qualifying value rather than
// the first.
type ContextualNumeric struct {
	Selectors []string
	Range     Range
	Keywords  []string
}

// Name implements Strategy.
func (ContextualNumeric) Name() string {
	return SignalContextualNumeric
}

// Attempt implements Strategy.
func (s ContextualNumeric) Attempt(doc *goquery.Document) (int, bool) {
	best, ok := 0, false
	doc.Find(strings.Join(s.Selectors, ", ")).Each(func(_ int, el *goquery.Selection) {
		v, numeric := parseCount(el.Text())
		if !numeric || !s.Range.Contains(v) {
			return
		}
		// The parent's text covers every sibling as well.
		if !containsAny(el.Parent().Text(), s.Keywords) {
			return
		}
		if !ok || v > best {
			best, ok = v, true
		}
	})
	return best, ok
}

func parseCount(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if !digitsOnly.MatchString(text) {
		return 0, false
	}
	v, err := strconv.Atoi(text)
	if err != nil {
		return 0, false
	}
	return v, true
}

func containsAny(text string, keywords []string) bool {
	for _, kw := range keywords {
		if kw != "" && strings.Contains(text, kw) {
			return true
		}
	}
	return false
}
