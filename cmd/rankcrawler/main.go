// Package main wires together the ranking crawler service binary.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/api"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/config"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/logging"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/metrics"
	"github.com/yabo083/Qidian-Weekly-Recommendation-List/internal/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to config file")
	once := flag.Bool("once", false, "Run one crawl, print the ranking and exit")
	flag.Parse()

	os.Exit(run(*cfgPath, *once))
}

// run wires and serves the process and returns its exit code. Every deferred
// cleanup has run by the time it returns.
func run(cfgPath string, once bool) int {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "load .env failed: %v\n", err)
		return 1
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "load config failed: %v\n", err)
		return 1
	}
	logger, err := logging.New(logging.Options{
		Development: cfg.Logging.Development,
		Level:       cfg.Logging.Level,
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init failed: %v\n", err)
		return 1
	}
	defer func() {
		if syncErr := logger.Sync(); syncErr != nil && !errors.Is(syncErr, syscall.EINVAL) {
			fmt.Fprintf(os.Stderr, "logger sync failed: %v\n", syncErr)
		}
	}()
	zap.ReplaceGlobals(logger)
	metrics.Init()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := telemetry.InitTracerProvider(ctx, "rankcrawler")
	if err != nil {
		logger.Warn("tracing disabled", zap.Error(err))
	} else {
		defer func() {
			if err := tp.Shutdown(context.Background()); err != nil {
				logger.Warn("tracer shutdown failed", zap.Error(err))
			}
		}()
	}

	app, err := build(ctx, cfg, logger)
	if err != nil {
		logger.Error("service wiring failed", zap.Error(err))
		return 1
	}
	defer app.close()

	if once {
		if err := runOnce(ctx, app, os.Stdout); err != nil {
			logger.Error("crawl failed", zap.Error(err))
			return 1
		}
		return 0
	}

	server := api.NewServer(app.service, cfg.Server, logger)
	httpServer := &http.Server{
		Addr:              ":" + strconv.Itoa(cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("http server listening",
			zap.String("addr", httpServer.Addr),
			zap.String("mode", string(cfg.Mode())),
			zap.String("storage", cfg.Storage.Backend),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	code := 0
	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serveErr:
		logger.Error("http server failed", zap.Error(err))
		code = 1
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Error("http shutdown failed", zap.Error(err))
		code = 1
	}
	logger.Info("shutdown complete")
	return code
}
