package crawl

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/clock/system"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/id/uuid"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/metrics"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

// State is a phase of a ranking run.
type State string

// Run phases in the order a run traverses them.
const (
	StateIdle              State = "idle"
	StateListResolving     State = "list_resolving"
	StateDetailFetching    State = "detail_fetching"
	StateAggregating       State = "aggregating"
	StateFailedRecoverable State = "failed_recoverable"
	StateDone              State = "done"
)

// Run outcomes reported to metrics.
const (
	OutcomeSucceeded = "succeeded"
	OutcomeEmpty     = "empty"
	OutcomeFailed    = "failed"
)

// ErrAllMechanismsFailed is returned when no mechanism could be opened.
var ErrAllMechanismsFailed = errors.New("all acquisition mechanisms failed")

// Result is the outcome of one run.
type Result struct {
	RunID      string
	Mechanism  MechanismKind
	Books      []ranking.Book
	StartedAt  time.Time
	FinishedAt time.Time
	// Path lists the states the run passed through.
	Path []State
	// Persisted reports whether the collection reached the store.
	Persisted bool
}

func (r *Result) enter(s State) {
	r.Path = append(r.Path, s)
}

// Orchestrator drives a run through its candidates in order until one
// resolves a non-empty ranking list.
type Orchestrator struct {
	candidates []Candidate
	resolver   *Resolver
	details    *DetailFetcher
	store      ranking.Store
	pacer      Pacer
	clock      ranking.Clock
	ids        ranking.IDGenerator
	logger     *zap.Logger
}

// NewOrchestrator wires an Orchestrator. A nil store disables persistence;
// nil pacer, clock and ids use the real implementations.
func NewOrchestrator(
	candidates []Candidate,
	resolver *Resolver,
	details *DetailFetcher,
	store ranking.Store,
	pacer Pacer,
	clock ranking.Clock,
	ids ranking.IDGenerator,
	logger *zap.Logger,
) *Orchestrator {
	if logger == nil {
		logger = zap.NewNop()
	}
	if pacer == nil {
		pacer = TimerPacer{}
	}
	if resolver == nil {
		resolver = NewResolver(nil, pacer, logger)
	}
	if details == nil {
		details = NewDetailFetcher(nil, logger)
	}
	if clock == nil {
		clock = system.New()
	}
	if ids == nil {
		ids = uuid.New()
	}
	return &Orchestrator{
		candidates: candidates,
		resolver:   resolver,
		details:    details,
		store:      store,
		pacer:      pacer,
		clock:      clock,
		ids:        ids,
		logger:     logger,
	}
}

// Run executes one ranking run. An empty list from every mechanism is not an
// error: the result is empty and nothing is persisted. An error is returned
// only when no mechanism could be opened at all.
func (o *Orchestrator) Run(ctx context.Context) (Result, error) {
	runID, err := o.ids.NewID()
	if err != nil {
		return Result{}, fmt.Errorf("run id: %w", err)
	}
	res := Result{RunID: runID, StartedAt: o.clock.Now()}
	res.enter(StateIdle)
	logger := o.logger.With(zap.String("run_id", runID))

	var openErrs []error
	for i, cand := range o.candidates {
		kind := cand.Kind()
		if i > 0 {
			prev := o.candidates[i-1].Kind()
			metrics.ObserveFallback(string(prev), string(kind))
			logger.Warn("falling back to next mechanism", zap.String("from", string(prev)), zap.String("to", string(kind)))
		}

		res.enter(StateListResolving)
		books, err := o.runCandidate(ctx, cand, &res, logger)
		if err != nil {
			openErrs = append(openErrs, err)
			metrics.ObserveRun(cand.Acquisition.RankingURL, string(kind), OutcomeFailed, 0)
			logger.Warn("mechanism unavailable", zap.String("mechanism", string(kind)), zap.Error(err))
			continue
		}
		if len(books) == 0 {
			metrics.ObserveRun(cand.Acquisition.RankingURL, string(kind), OutcomeEmpty, 0)
			continue
		}

		res.Mechanism = kind
		res.enter(StateAggregating)
		ranking.SortByRecommendation(books)
		res.Books = books
		res.FinishedAt = o.clock.Now()
		res.Persisted = o.persist(ctx, res, logger)
		res.enter(StateDone)
		metrics.ObserveRun(cand.Acquisition.RankingURL, string(kind), OutcomeSucceeded, len(books))
		logger.Info("ranking run complete",
			zap.String("mechanism", string(kind)),
			zap.Int("count", len(books)),
			zap.Duration("elapsed", res.FinishedAt.Sub(res.StartedAt)),
		)
		return res, nil
	}

	res.enter(StateFailedRecoverable)
	res.enter(StateDone)
	res.FinishedAt = o.clock.Now()
	if len(o.candidates) > 0 && len(openErrs) == len(o.candidates) {
		return res, fmt.Errorf("%w: %w", ErrAllMechanismsFailed, errors.Join(openErrs...))
	}
	logger.Warn("ranking run produced no books")
	return res, nil
}

// runCandidate opens a session, resolves the list and fetches every detail.
// The session is closed on every exit path.
func (o *Orchestrator) runCandidate(ctx context.Context, cand Candidate, res *Result, logger *zap.Logger) ([]ranking.Book, error) {
	if cand.Mechanism == nil {
		return nil, fmt.Errorf("%s: %w", cand.Acquisition.Mechanism, ranking.ErrMechanismUnavailable)
	}
	acq := cand.Acquisition
	acq.Mechanism = cand.Mechanism.Kind()

	sess, err := cand.Mechanism.Open(ctx, acq)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", acq.Mechanism, err)
	}
	defer func() {
		if cerr := sess.Close(); cerr != nil {
			logger.Warn("session close failed", zap.String("mechanism", string(acq.Mechanism)), zap.Error(cerr))
		}
	}()

	ids := o.resolver.Resolve(ctx, sess, acq)
	if len(ids) == 0 {
		return nil, nil
	}

	res.enter(StateDetailFetching)
	books := make([]ranking.Book, 0, len(ids))
	for i, id := range ids {
		if i > 0 && acq.Pacing > 0 {
			o.pacer.Pause(ctx, acq.Pacing)
			metrics.ObservePacingDelay(string(acq.Mechanism), acq.Pacing)
		}
		book := o.details.Fetch(ctx, sess, acq, id)
		books = append(books, book.Normalize())
		logger.Debug("book processed", zap.Int("index", i+1), zap.Int("total", len(ids)), zap.String("book_id", id))
	}
	return books, nil
}

func (o *Orchestrator) persist(ctx context.Context, res Result, logger *zap.Logger) bool {
	if o.store == nil {
		return false
	}
	snap := ranking.Snapshot{
		RunID:     res.RunID,
		Mechanism: string(res.Mechanism),
		CrawledAt: res.FinishedAt,
		Books:     res.Books,
	}
	if err := o.store.Save(ctx, snap); err != nil {
		logger.Warn("persist ranking failed", zap.Error(err))
		return false
	}
	return true
}
