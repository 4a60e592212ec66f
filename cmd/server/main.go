package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/arpitdalal/tax-calculator/config"
	"github.com/arpitdalal/tax-calculator/internal/batch"
	"github.com/arpitdalal/tax-calculator/internal/brackets"
	"github.com/arpitdalal/tax-calculator/internal/cache"
	"github.com/arpitdalal/tax-calculator/internal/health"
	"github.com/arpitdalal/tax-calculator/internal/infrastructure/memory"
	"github.com/arpitdalal/tax-calculator/internal/infrastructure/postgres"
	ctxlog "github.com/arpitdalal/tax-calculator/internal/log"
	"github.com/arpitdalal/tax-calculator/internal/metrics"
	"github.com/arpitdalal/tax-calculator/internal/repository"
	httptransport "github.com/arpitdalal/tax-calculator/internal/transport/http"
	"github.com/arpitdalal/tax-calculator/internal/transport/http/handler"
	"github.com/arpitdalal/tax-calculator/internal/webhook"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	logger := newLogger(cfg.Env, cfg.SlogLevel())

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	var store repository.JobStore
	var pinger health.Pinger
	if cfg.DatabaseURL != "" {
		pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
		if err != nil {
			stop()
			log.Fatalf("db: %v", err)
		}
		defer pool.Close()
		if err := postgres.EnsureSchema(ctx, pool); err != nil {
			stop()
			log.Fatalf("db schema: %v", err)
		}
		store = postgres.NewJobStore(pool)
		pinger = pool
	} else {
		logger.Warn("DATABASE_URL not set, jobs are kept in memory and lost on restart")
		store = memory.NewJobStore()
	}

	years := cfg.Years()

	client := brackets.NewClient(cfg.APIURL, logger,
		brackets.WithHTTPClient(&http.Client{Timeout: cfg.UpstreamTimeout}),
		brackets.WithMaxAttempts(cfg.UpstreamMaxAttempts),
	)
	calcCache := cache.NewCalculationCache(client)

	notifier := webhook.NewNotifier(store, logger,
		webhook.WithHTTPClient(&http.Client{Timeout: cfg.WebhookTimeout}),
		webhook.WithMaxAttempts(cfg.WebhookMaxAttempts),
	)

	coordinator := batch.NewCoordinator(store, calcCache, notifier, batch.Config{
		Workers:   cfg.WorkerCount,
		QueueSize: cfg.QueueSize,
		Years:     years,
	}, logger)
	coordinator.Start(ctx)

	taxHandler := handler.NewTaxHandler(calcCache, coordinator, years, logger)
	cacheHandler := handler.NewCacheHandler(calcCache, years, logger)

	metrics.Register()
	checker := health.NewChecker(pinger, logger, prometheus.DefaultRegisterer)

	srv := http.Server{
		Addr: ":" + cfg.Port,
		Handler: httptransport.NewRouter(logger, taxHandler, cacheHandler, httptransport.RouterConfig{
			AdminAPIKey:      cfg.AdminAPIKey,
			RateLimit:        cfg.RateLimitRequests,
			RateWindow:       cfg.RateLimitWindow,
			StatusRateLimit:  cfg.StatusRateLimitRequests,
			StatusRateWindow: cfg.StatusRateLimitWindow,
		}),
	}

	metricsSrv := metrics.NewServer(":"+cfg.MetricsPort, checker)

	go func() {
		logger.Info("server started", "port", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("server: %v", err)
		}
	}()

	go func() {
		logger.Info("metrics server started", "port", cfg.MetricsPort)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server", "error", err)
		}
	}()

	<-ctx.Done()
	stop()
	logger.Info("shutting down...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", "error", err)
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics server shutdown", "error", err)
	}
	coordinator.Stop()
}

func newLogger(env string, level slog.Level) *slog.Logger {
	var inner slog.Handler
	if env == "local" {
		inner = tint.NewHandler(os.Stdout, &tint.Options{
			Level:      level,
			TimeFormat: time.Kitchen,
		})
	} else {
		inner = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level: level,
		})
	}
	return slog.New(ctxlog.NewContextHandler(inner))
}
