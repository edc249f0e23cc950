// Package service is the front-end policy around the crawl orchestrator: it
// picks mechanism plans for the deployment mode, falls back between plans,
// coalesces concurrent runs and publishes run notifications.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/crawl"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
)

const runKey = "ranking-run"

var tracer = otel.Tracer("github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/service")

// ErrNoPlans is returned when no mechanism plan is configured.
var ErrNoPlans = errors.New("no acquisition plan configured")

// Runner executes one ranking run.
type Runner interface {
	Run(ctx context.Context) (crawl.Result, error)
}

// Plan is one front-end attempt: a named runner over a candidate chain.
type Plan struct {
	Name   string
	Runner Runner
}

// RunnerFactory builds a runner over an ordered candidate chain.
type RunnerFactory func(candidates []crawl.Candidate) Runner

// BuildPlans returns the plans for mode. Production tries the constrained
// browser (falling back to the full browser inside the run) and then the
// static fetch. Development tries the static fetch with the full browser as
// fallback. Plans without any registered mechanism are skipped.
func BuildPlans(mode crawl.Mode, reg *crawl.Registry, newRunner RunnerFactory) []Plan {
	var plans []Plan
	add := func(name string, candidates []crawl.Candidate) {
		if len(candidates) > 0 {
			plans = append(plans, Plan{Name: name, Runner: newRunner(candidates)})
		}
	}

	primary := crawl.PrimaryFor(mode)
	add(string(primary), reg.WithFallback(primary))
	if mode == crawl.ModeProduction {
		add(string(crawl.MechanismStatic), reg.Single(crawl.MechanismStatic))
	}
	return plans
}

// Outcome is the result of a run as exposed to callers.
type Outcome struct {
	RunID      string
	Mechanism  string
	Books      []ranking.Book
	FinishedAt time.Time
}

// Notification is published after every non-empty run.
type Notification struct {
	RunID      string    `json:"run_id"`
	Mechanism  string    `json:"mechanism"`
	Count      int       `json:"count"`
	FinishedAt time.Time `json:"finished_at"`
}

// Service serves the latest ranking and triggers refreshes.
type Service struct {
	plans     []Plan
	store     ranking.Store
	publisher ranking.Publisher
	group     singleflight.Group
	logger    *zap.Logger
}

// New builds a Service. publisher may be nil.
func New(plans []Plan, store ranking.Store, publisher ranking.Publisher, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		plans:     plans,
		store:     store,
		publisher: publisher,
		logger:    logger,
	}
}

// Latest returns the most recently persisted collection, running a crawl
// when nothing readable has been persisted yet.
func (s *Service) Latest(ctx context.Context) ([]ranking.Book, error) {
	if s.store != nil {
		snap, err := s.store.Latest(ctx)
		if err == nil {
			return snap.Books, nil
		}
		if errors.Is(err, ranking.ErrNotFound) {
			s.logger.Info("no persisted ranking, running crawl")
		} else {
			s.logger.Warn("read persisted ranking failed, running crawl", zap.Error(err))
		}
	}
	out, err := s.Refresh(ctx)
	if err != nil {
		return nil, err
	}
	return out.Books, nil
}

// Refresh runs a crawl and returns its result. Concurrent callers share a
// single in-flight run; the run itself outlives a caller that gives up.
func (s *Service) Refresh(ctx context.Context) (Outcome, error) {
	ch := s.group.DoChan(runKey, func() (any, error) {
		return s.run(context.WithoutCancel(ctx))
	})
	select {
	case <-ctx.Done():
		return Outcome{}, fmt.Errorf("wait for ranking run: %w", ctx.Err())
	case res := <-ch:
		if res.Err != nil {
			return Outcome{}, res.Err
		}
		if res.Shared {
			s.logger.Debug("joined in-flight ranking run")
		}
		out, _ := res.Val.(Outcome)
		return out, nil
	}
}

func (s *Service) run(ctx context.Context) (out Outcome, err error) {
	ctx, span := tracer.Start(ctx, "ranking.run")
	defer func() {
		span.SetAttributes(
			attribute.String("ranking.mechanism", out.Mechanism),
			attribute.Int("ranking.count", len(out.Books)),
		)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		}
		span.End()
	}()

	if len(s.plans) == 0 {
		return Outcome{}, ErrNoPlans
	}
	var errs []error
	for i, plan := range s.plans {
		logger := s.logger.With(zap.String("plan", plan.Name))
		if i > 0 {
			logger.Warn("trying next plan")
		}
		res, err := plan.Runner.Run(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("plan %s: %w", plan.Name, err))
			logger.Warn("plan failed", zap.Error(err))
			continue
		}
		if len(res.Books) == 0 {
			logger.Warn("plan produced no books", zap.String("run_id", res.RunID))
			continue
		}
		out = Outcome{
			RunID:      res.RunID,
			Mechanism:  string(res.Mechanism),
			Books:      res.Books,
			FinishedAt: res.FinishedAt,
		}
		s.notify(ctx, out)
		return out, nil
	}
	if len(errs) == len(s.plans) {
		return Outcome{}, errors.Join(errs...)
	}
	return Outcome{Books: []ranking.Book{}}, nil
}

func (s *Service) notify(ctx context.Context, out Outcome) {
	if s.publisher == nil {
		return
	}
	id, err := s.publisher.Publish(ctx, Notification{
		RunID:      out.RunID,
		Mechanism:  out.Mechanism,
		Count:      len(out.Books),
		FinishedAt: out.FinishedAt,
	})
	if err != nil {
		s.logger.Warn("publish run notification failed", zap.String("run_id", out.RunID), zap.Error(err))
		return
	}
	s.logger.Debug("run notification published", zap.String("run_id", out.RunID), zap.String("message_id", id))
}
