package extract

import (
	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

// Default selector candidates, most specific first.
var (
	DefaultTitleSelectors = []string{
		".book-info h1 em",
		".book-info h1",
		".book-information h1 em",
		".book-information h1",
		"h1.book-title",
		".book-title",
		"h1 em",
		"h1",
	}
	DefaultAuthorSelectors = []string{
		".book-info .writer",
		".book-information .writer",
		".book-info .author",
		".writer",
		".author-name",
		`a[href*="/free/"]`,
	}
	DefaultAuthorLabels = []string{"作者：", "作者:"}
)

// SignalConfig tunes the weekly recommendation strategies.
type SignalConfig struct {
	Label            string
	Keywords         []string
	ScopedSelectors  []string
	ScopedRange      Range
	ContextSelectors []string
	ContextRange     Range
}

// Config holds the selector candidates for every field.
type Config struct {
	TitleSelectors  []string
	AuthorSelectors []string
	AuthorLabels    []string
	Signal          SignalConfig
}

// DefaultSignalConfig returns the reference heuristics for the recommendation count.
func DefaultSignalConfig() SignalConfig {
	return SignalConfig{
		Label:    "周推荐",
		Keywords: []string{"推荐", "周推"},
		ScopedSelectors: []string{
			".count em",
			".total em",
			".data-list em",
			".data em",
			".book-data em",
			".book-state em",
		},
		ScopedRange:      Range{Min: 10, Max: 100000},
		ContextSelectors: []string{"span", "em", "strong", "b"},
		ContextRange:     Range{Min: 50, Max: 50000},
	}
}

// DefaultConfig returns the reference selector set.
func DefaultConfig() Config {
	return Config{
		TitleSelectors:  DefaultTitleSelectors,
		AuthorSelectors: DefaultAuthorSelectors,
		AuthorLabels:    DefaultAuthorLabels,
		Signal:          DefaultSignalConfig(),
	}
}

// Trace names the strategy that produced each field ("default" when none did).
type Trace struct {
	Title  string
	Author string
	Signal string
}

// Extractor mines a complete Book from a detail page.
type Extractor struct {
	title  Chain[string]
	author Chain[string]
	signal Chain[int]
	logger *zap.Logger
}

// New builds an Extractor. Empty selector lists fall back to the defaults.
func New(cfg Config, logger *zap.Logger) *Extractor {
	if logger == nil {
		logger = zap.NewNop()
	}
	def := DefaultConfig()
	if len(cfg.TitleSelectors) == 0 {
		cfg.TitleSelectors = def.TitleSelectors
	}
	if len(cfg.AuthorSelectors) == 0 {
		cfg.AuthorSelectors = def.AuthorSelectors
	}
	if len(cfg.AuthorLabels) == 0 {
		cfg.AuthorLabels = def.AuthorLabels
	}
	sig := cfg.Signal
	if sig.Label == "" {
		sig.Label = def.Signal.Label
	}
	if len(sig.Keywords) == 0 {
		sig.Keywords = def.Signal.Keywords
	}
	if len(sig.ScopedSelectors) == 0 {
		sig.ScopedSelectors = def.Signal.ScopedSelectors
	}
	if sig.ScopedRange == (Range{}) {
		sig.ScopedRange = def.Signal.ScopedRange
	}
	if len(sig.ContextSelectors) == 0 {
		sig.ContextSelectors = def.Signal.ContextSelectors
	}
	if sig.ContextRange == (Range{}) {
		sig.ContextRange = def.Signal.ContextRange
	}

	return &Extractor{
		title: Chain[string]{
			SelectorText{Label: "title_selector", Selectors: cfg.TitleSelectors},
		},
		author: Chain[string]{
			SelectorText{Label: "author_selector", Selectors: cfg.AuthorSelectors, StripLabels: cfg.AuthorLabels},
		},
		signal: Chain[int]{
			NewLabelPattern(sig.Label),
			ScopedNumeric{Selectors: sig.ScopedSelectors, Range: sig.ScopedRange, Keywords: sig.Keywords},
			ContextualNumeric{Selectors: sig.ContextSelectors, Range: sig.ContextRange, Keywords: sig.Keywords},
		},
		logger: logger,
	}
}

// Title returns the book title or the placeholder derived from id.
func (e *Extractor) Title(doc *goquery.Document, id string) (string, string) {
	if v, name, ok := e.title.First(doc); ok {
		return v, name
	}
	return ranking.PlaceholderName(id), StrategyDefault
}

// Author returns the author or the unknown sentinel.
func (e *Extractor) Author(doc *goquery.Document) (string, string) {
	if v, name, ok := e.author.First(doc); ok {
		return v, name
	}
	return ranking.UnknownAuthor, StrategyDefault
}

// WeeklyRecommendation returns the recommendation count, or 0 when every strategy misses.
func (e *Extractor) WeeklyRecommendation(doc *goquery.Document) (int, string) {
	if v, name, ok := e.signal.First(doc); ok && v >= 0 {
		return v, name
	}
	return 0, StrategyDefault
}

// Extract mines every field of the book identified by id. It never fails:
// fields that cannot be found take their default value.
func (e *Extractor) Extract(doc *goquery.Document, id string) (ranking.Book, Trace) {
	var (
		book  = ranking.Book{ID: id}
		trace Trace
	)
	book.Name, trace.Title = e.Title(doc, id)
	book.Author, trace.Author = e.Author(doc)
	book.WeeklyRecommendation, trace.Signal = e.WeeklyRecommendation(doc)
	if trace.Signal == StrategyDefault {
		e.logger.Info("weekly recommendation not found, using 0", zap.String("book_id", id))
	}
	return book.Normalize(), trace
}
