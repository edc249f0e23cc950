package crawl

import (
	"context"

	"go.uber.org/zap"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/extract"
)

// Resolver discovers the ranked book ids on the ranking page.
type Resolver struct {
	selectors []string
	pacer     Pacer
	logger    *zap.Logger
}

// NewResolver builds a Resolver. Empty selectors fall back to
// extract.DefaultListSelectors.
func NewResolver(selectors []string, pacer Pacer, logger *zap.Logger) *Resolver {
	if len(selectors) == 0 {
		selectors = extract.DefaultListSelectors
	}
	if pacer == nil {
		pacer = TimerPacer{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Resolver{selectors: selectors, pacer: pacer, logger: logger}
}

// Resolve returns up to acq.Limit() distinct ids in ranking order. Transport
// failures are logged and yield an empty result, which the orchestrator
// treats as a signal to try the next mechanism.
func (r *Resolver) Resolve(ctx context.Context, sess Session, acq Acquisition) []string {
	logger := r.logger.With(zap.String("mechanism", string(acq.Mechanism)))

	if acq.Warmup && acq.HomeURL != "" {
		if _, err := sess.Load(ctx, PageRequest{URL: acq.HomeURL}); err != nil {
			logger.Debug("warm-up visit failed", zap.String("url", acq.HomeURL), zap.Error(err))
		}
		r.pacer.Pause(ctx, acq.WarmupDelay)
	}

	doc, err := sess.Load(ctx, PageRequest{
		URL:          acq.RankingURL,
		WaitSelector: RankingContainerSelector,
		WaitTimeout:  acq.ListWaitTimeout,
	})
	if err != nil {
		logger.Warn("ranking page load failed", zap.String("url", acq.RankingURL), zap.Error(err))
		return nil
	}

	ids, selector := extract.BookIDs(doc, r.selectors, acq.Limit())
	if len(ids) == 0 {
		logger.Warn("no book ids on ranking page", zap.String("url", acq.RankingURL))
		return nil
	}
	logger.Info("ranking list resolved", zap.Int("count", len(ids)), zap.String("selector", selector))
	return ids
}
