package crawl

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/extract"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/metrics"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

// Detail fetch outcomes reported to metrics.
const (
	DetailSucceeded = "succeeded"
	DetailFailed    = "failed"
)

// DetailFetcher turns one book id into a complete record.
type DetailFetcher struct {
	extractor *extract.Extractor
	logger    *zap.Logger
}

// NewDetailFetcher builds a DetailFetcher around extractor.
func NewDetailFetcher(extractor *extract.Extractor, logger *zap.Logger) *DetailFetcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if extractor == nil {
		extractor = extract.New(extract.DefaultConfig(), logger)
	}
	return &DetailFetcher{extractor: extractor, logger: logger}
}

// Fetch loads the detail page for id and extracts its fields. It never fails:
// any load error or panic yields ranking.DefaultBook(id).
func (f *DetailFetcher) Fetch(ctx context.Context, sess Session, acq Acquisition, id string) (book ranking.Book) {
	url := acq.BookURL(id)
	logger := f.logger.With(zap.String("book_id", id), zap.String("mechanism", string(acq.Mechanism)))

	defer func() {
		if rec := recover(); rec != nil {
			logger.Warn("detail fetch panicked", zap.Error(fmt.Errorf("panic: %v", rec)))
			metrics.ObserveDetailFetch(string(acq.Mechanism), DetailFailed)
			book = ranking.DefaultBook(id)
		}
	}()

	doc, err := sess.Load(ctx, PageRequest{
		URL:          url,
		WaitSelector: DetailContainerSelector,
		WaitTimeout:  acq.WaitTimeout,
	})
	if err != nil {
		logger.Warn("detail page load failed", zap.String("url", url), zap.Error(err))
		metrics.ObserveDetailFetch(string(acq.Mechanism), DetailFailed)
		return ranking.DefaultBook(id)
	}

	book, trace := f.extractor.Extract(doc, id)
	metrics.ObserveDetailFetch(string(acq.Mechanism), DetailSucceeded)
	metrics.ObserveSignalStrategy(trace.Signal)
	logger.Debug("detail extracted",
		zap.String("name", book.Name),
		zap.Int("weekly_recommendation", book.WeeklyRecommendation),
		zap.String("title_strategy", trace.Title),
		zap.String("author_strategy", trace.Author),
		zap.String("signal_strategy", trace.Signal),
	)
	return book
}
