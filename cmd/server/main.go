// Command server starts the marketplace job orchestrator's HTTP server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/time/rate"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/analyzer"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/eventpublisher"
	httpserver "github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/httpserver"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/objectfetcher"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/objectstore"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/reconpipeline"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/app"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/app/jobstore"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/app/scheduler"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/config"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/observability"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/service/ratelimiter"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.PostgresDSN)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	reconciler := postgres.NewReconciler(pool)
	jobs := jobstore.New()

	rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	defer func() {
		if err := rdb.Close(); err != nil {
			slog.Warn("redis client close failed", slog.Any("error", err))
		}
	}()
	limiter := ratelimiter.NewRedisLuaLimiter(rdb, pool, map[string]ratelimiter.BucketConfig{
		"analyzer": ratelimiter.NewBucketConfigFromPerMinute(int(cfg.AnalyzerRatePerMinute)),
	})
	if err := limiter.WarmFromPostgres(ctx); err != nil {
		slog.Warn("rate limiter warm from postgres failed", slog.Any("error", err))
	}

	store := objectstore.New(cfg.ObjectStoreRoot)
	fetcher := objectfetcher.UsecaseAdapter{Fetcher: objectfetcher.New(store)}

	backend := analyzer.NewHTTPBackend(cfg)
	analyzerClient := analyzer.New(backend, cfg)

	var publisher *eventpublisher.Publisher
	publisher, err = eventpublisher.New(cfg.KafkaBrokers)
	if err != nil {
		slog.Error("event publisher connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	defer publisher.Close()

	localLimiter := rate.NewLimiter(rate.Limit(cfg.AnalyzerRatePerMinute/60), cfg.AnalysisBatchSize)
	batch := &usecase.BatchAnalyzer{
		Fetcher:  fetcher,
		Analyzer: analyzerClient,
		Limiter:  limiter,
		Local:    localLimiter,
	}
	batchCfg := usecase.BatchConfig{
		BatchSize:      cfg.AnalysisBatchSize,
		Pace:           cfg.AnalysisPaceSeconds,
		InnerDeadline:  cfg.AnalysisInnerDeadlineSeconds,
		MaxEdge:        cfg.AnalysisImageMaxEdge,
		JPEGQuality:    cfg.AnalysisImageJPEGQuality,
		Category:       "물품",
		RateLimiterKey: "analyzer",
	}
	analysisPipeline := &usecase.AnalysisPipeline{
		Jobs:        jobs,
		Batch:       batch,
		Aggregator:  usecase.Aggregator{KeepFraction: cfg.AggregationTrimKeepFraction},
		Reconciler:  reconciler,
		Publisher:   publisher,
		BatchConfig: batchCfg,
	}
	describe := &usecase.DescribeProduct{
		Fetcher:  fetcher,
		Analyzer: analyzerClient,
		MaxEdge:  cfg.DescriptionImageMaxEdge,
		Quality:  cfg.DescJPEGQuality,
	}

	reconRunner := &reconpipeline.Pipeline{
		Runner: reconpipeline.OSRunner{},
		Jobs:   jobs,
		Cfg: reconpipeline.Config{
			ColmapBinary:          cfg.ColmapBinary,
			GSTrainBinary:         cfg.GSTrainBinary,
			ReconMinRegisteredPct: cfg.ReconMinRegisteredPct,
			ReconMinPoints:        cfg.ReconMinPoints,
			TrainingIterations:    cfg.TrainingIterations,
		},
	}
	reconPipeline := &usecase.ReconPipeline{
		Runner:     reconRunner,
		Jobs:       jobs,
		Reconciler: reconciler,
		Publisher:  publisher,
		DataDir:    cfg.DataDir,
	}
	sched := scheduler.New(cfg.MaxConcurrentJobs, reconPipeline, jobs)

	sweeper := app.NewStuckJobSweeper(jobs, 2*cfg.AnalysisOuterDeadlineSeconds, time.Minute)
	sweepCtx, cancelSweep := context.WithCancel(ctx)
	defer cancelSweep()
	if sweeper != nil {
		go sweeper.Run(sweepCtx)
	}

	srv := httpserver.NewServer(cfg, jobs, sched, reconciler, fetcher, analysisPipeline, describe)
	readyz := app.BuildReadinessCheck(cfg, pool)
	handler := app.BuildRouter(cfg, srv, readyz)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	sched.Shutdown(shutdownCtx)
	_ = srvHTTP.Shutdown(shutdownCtx)
}
