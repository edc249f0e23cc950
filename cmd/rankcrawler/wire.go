package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"text/tabwriter"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/clock/system"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/config"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/crawl"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/extract"
	collyfetcher "github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/fetcher/colly"
	headlessfetcher "github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/fetcher/headless"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/id/uuid"
	memorypublisher "github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/publisher/memory"
	pubsubpublisher "github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/publisher/pubsub"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/ranking"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/service"
	gcsstore "github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/storage/gcs"
	localstore "github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/storage/local"
	memorystore "github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/storage/memory"
	postgresstore "github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/storage/postgres"
)

const (
	browserWindowWidth  = 1366
	browserWindowHeight = 768
)

type application struct {
	service *service.Service
	closers []func() error
	logger  *zap.Logger
}

func (a *application) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.logger.Warn("close dependency failed", zap.Error(err))
		}
	}
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	app := &application{logger: logger}

	store, err := buildStore(ctx, cfg, logger, app)
	if err != nil {
		app.close()
		return nil, err
	}
	publisher, err := buildPublisher(ctx, cfg, logger, app)
	if err != nil {
		app.close()
		return nil, err
	}

	registry := buildRegistry(cfg, logger)
	if primary := crawl.PrimaryFor(cfg.Mode()); !registry.Has(primary) {
		logger.Warn("primary mechanism disabled, using fallbacks only", zap.String("mechanism", string(primary)))
	}
	extractor := extract.New(cfg.ExtractorConfig(), logger.Named("extract"))
	pacer := crawl.TimerPacer{}
	resolver := crawl.NewResolver(cfg.Extract.ListSelectors, pacer, logger.Named("resolver"))
	details := crawl.NewDetailFetcher(extractor, logger.Named("detail"))
	clock := system.New()
	ids := uuid.New()

	plans := service.BuildPlans(cfg.Mode(), registry, func(candidates []crawl.Candidate) service.Runner {
		return crawl.NewOrchestrator(candidates, resolver, details, store, pacer, clock, ids, logger.Named("crawl"))
	})
	for _, p := range plans {
		logger.Info("acquisition plan configured", zap.String("plan", p.Name))
	}
	app.service = service.New(plans, store, publisher, logger.Named("service"))
	return app, nil
}

func buildRegistry(cfg config.Config, logger *zap.Logger) *crawl.Registry {
	reg := crawl.NewRegistry()

	static := cfg.Mechanisms.Static
	if static.Enabled {
		reg.Register(collyfetcher.New(collyfetcher.Config{Timeout: static.Timeout}), cfg.Acquisition(crawl.MechanismStatic))
	}

	browser := cfg.Mechanisms.Browser
	if browser.Enabled {
		reg.Register(headlessfetcher.NewBrowser(headlessfetcher.Config{
			ExecPath:          browser.ExecPath,
			NavigationTimeout: browser.Timeout,
			IdleTimeout:       browser.IdleTimeout,
			WindowWidth:       browserWindowWidth,
			WindowHeight:      browserWindowHeight,
			Logger:            logger.Named("browser"),
		}), cfg.Acquisition(crawl.MechanismBrowser))
	} else {
		reg.Register(headlessfetcher.NewUnavailable(crawl.MechanismBrowser, "disabled by configuration"),
			cfg.Acquisition(crawl.MechanismBrowser))
	}

	constrained := cfg.Mechanisms.Constrained
	if constrained.Enabled {
		reg.Register(headlessfetcher.NewConstrained(headlessfetcher.Config{
			ExecPath:          constrained.ExecPath,
			NavigationTimeout: constrained.Timeout,
			IdleTimeout:       constrained.IdleTimeout,
			WindowWidth:       browserWindowWidth,
			WindowHeight:      browserWindowHeight,
			Logger:            logger.Named("constrained"),
		}), cfg.Acquisition(crawl.MechanismConstrained))
	}
	return reg
}

func buildStore(ctx context.Context, cfg config.Config, logger *zap.Logger, app *application) (ranking.Store, error) {
	sc := cfg.Storage
	switch sc.Backend {
	case config.BackendMemory:
		return memorystore.New(1), nil
	case config.BackendGCS:
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create gcs client: %w", err)
		}
		app.closers = append(app.closers, client.Close)
		store, err := gcsstore.New(client, gcsstore.Config{Bucket: sc.GCSBucket, Object: sc.GCSObject})
		if err != nil {
			return nil, fmt.Errorf("init gcs store: %w", err)
		}
		logger.Info("ranking persisted to gcs", zap.String("uri", store.URI()))
		return store, nil
	case config.BackendPostgres:
		store, err := postgresstore.New(ctx, postgresstore.Config{DSN: sc.PostgresDSN, Table: sc.PostgresTable})
		if err != nil {
			return nil, fmt.Errorf("init postgres store: %w", err)
		}
		app.closers = append(app.closers, func() error { store.Close(); return nil })
		if err := store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure postgres schema: %w", err)
		}
		return store, nil
	default:
		store, err := localstore.New(localstore.Config{Path: sc.Path})
		if err != nil {
			return nil, fmt.Errorf("init local store: %w", err)
		}
		logger.Info("ranking persisted to file", zap.String("path", store.Path()))
		return store, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.Config, logger *zap.Logger, app *application) (ranking.Publisher, error) {
	if !cfg.PubSub.Enabled() {
		return memorypublisher.New(), nil
	}
	pub, err := pubsubpublisher.New(ctx, pubsubpublisher.Config{
		ProjectID: cfg.PubSub.ProjectID,
		TopicName: cfg.PubSub.TopicName,
	})
	if err != nil {
		return nil, fmt.Errorf("init pubsub publisher: %w", err)
	}
	app.closers = append(app.closers, pub.Close)
	logger.Info("run notifications enabled", zap.String("topic", cfg.PubSub.TopicName))
	return pub, nil
}

func runOnce(ctx context.Context, app *application, out io.Writer) error {
	res, err := app.service.Refresh(ctx)
	if err != nil {
		return fmt.Errorf("refresh ranking: %w", err)
	}
	if len(res.Books) == 0 {
		return errors.New("ranking is empty")
	}
	return printRanking(out, res)
}

func printRanking(out io.Writer, res service.Outcome) error {
	tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "排名\t书名\t作者\t周推荐\tID\n")
	for i, b := range res.Books {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%d\t%s\n", i+1, b.Name, b.Author, b.WeeklyRecommendation, b.ID)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("print ranking: %w", err)
	}
	_, err := fmt.Fprintf(out, "\n共 %d 本 (run %s, %s)\n", len(res.Books), res.RunID, res.Mechanism)
	if err != nil {
		return fmt.Errorf("print ranking: %w", err)
	}
	return nil
}
