package usecase

import (
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/observability"
)

// ImageFetcher is the narrow port BatchAnalyzer uses to turn refs into
// analysis-ready bytes; satisfied by internal/adapter/objectfetcher.Fetcher.
type ImageFetcher interface {
	FetchAll(ctx domain.Context, refs []string, opts FetchOptions) ([]FetchResult, int, error)
}

// FetchOptions mirrors objectfetcher.Options, kept as its own type so this
// package doesn't depend on the adapter package directly.
type FetchOptions struct {
	MaxEdge     int
	JPEGQuality int
}

// FetchResult mirrors objectfetcher.Result.
type FetchResult struct {
	Ref       string
	Bytes     []byte
	MediaType string
	Err       error
}

// BatchConfig holds BatchAnalyzer's batching/pacing parameters (§4.6).
type BatchConfig struct {
	BatchSize      int
	Pace           time.Duration
	InnerDeadline  time.Duration
	MaxEdge        int
	JPEGQuality    int
	Category       string
	RateLimiterKey string
}

// BatchAnalyzer fans a product's image refs out through AnalyzerClient in
// rate-limit-respecting batches (§4.6).
type BatchAnalyzer struct {
	Fetcher  ImageFetcher
	Analyzer AnalyzerClient
	// Limiter is the distributed (Redis Lua token-bucket) gate.
	Limiter RateLimiter
	// Local is a cheap in-process gate consulted before Limiter, so a burst
	// within one process doesn't round-trip to Redis for every call only to
	// be denied (§10.2).
	Local *rate.Limiter
}

// BatchResult is the outcome of one product's batched analysis.
type BatchResult struct {
	Verdicts     []domain.ImageVerdict
	FailedCount  int
	SkippedCount int
	TimedOut     bool
	TotalCount   int
}

// Run executes the batch/pace/deadline algorithm over refs, starting the
// inner deadline clock at call time (§4.6 step 2).
func (b *BatchAnalyzer) Run(ctx domain.Context, refs []string, cfg BatchConfig) BatchResult {
	tr := otel.Tracer("usecase.batch_analyzer")
	ctx, span := tr.Start(ctx, "BatchAnalyzer.Run")
	defer span.End()

	lg := observability.LoggerFromContext(ctx)
	deadline := time.Now().Add(cfg.InnerDeadline)

	result := BatchResult{TotalCount: len(refs)}
	processed := 0

	for start := 0; start < len(refs); start += cfg.BatchSize {
		if time.Now().After(deadline) || time.Now().Equal(deadline) {
			lg.Warn("batch_analyzer: inner deadline reached, stopping early",
				slog.Int("processed", processed), slog.Int("total", len(refs)))
			result.TimedOut = true
			break
		}

		end := start + cfg.BatchSize
		if end > len(refs) {
			end = len(refs)
		}
		batch := refs[start:end]

		verdicts, failed := b.runBatch(ctx, batch, cfg)
		result.Verdicts = append(result.Verdicts, verdicts...)
		result.FailedCount += failed
		processed += len(batch)

		if end < len(refs) {
			select {
			case <-ctx.Done():
				result.TimedOut = true
				result.SkippedCount = len(refs) - processed
				return result
			case <-time.After(cfg.Pace):
			}
		}
	}

	result.SkippedCount = len(refs) - processed
	return result
}

// runBatch fetches and analyzes one batch concurrently, collecting per-image
// failures without aborting the batch.
func (b *BatchAnalyzer) runBatch(ctx domain.Context, refs []string, cfg BatchConfig) ([]domain.ImageVerdict, int) {
	lg := observability.LoggerFromContext(ctx)

	fetched, _, err := b.Fetcher.FetchAll(ctx, refs, FetchOptions{MaxEdge: cfg.MaxEdge, JPEGQuality: cfg.JPEGQuality})
	if err != nil {
		lg.Error("batch_analyzer: fetch failed for entire batch", slog.Any("error", err))
		return nil, len(refs)
	}

	var (
		mu     sync.Mutex
		slots  = make([]*domain.ImageVerdict, len(fetched))
		failed int
	)

	g, gctx := errgroup.WithContext(ctx)
	for i, f := range fetched {
		i, f := i, f
		if f.Err != nil {
			lg.Warn("batch_analyzer: image fetch failed", slog.String("ref", f.Ref), slog.Any("error", f.Err))
			mu.Lock()
			failed++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			if b.Local != nil {
				if werr := b.Local.Wait(gctx); werr != nil {
					lg.Warn("batch_analyzer: local rate limiter wait aborted", slog.String("ref", f.Ref), slog.Any("error", werr))
				}
			}
			if b.Limiter != nil {
				if allowed, retryAfter, lerr := b.Limiter.Allow(gctx, cfg.RateLimiterKey, 1); lerr == nil && !allowed {
					lg.Warn("batch_analyzer: rate limiter denied call", slog.String("ref", f.Ref), slog.Duration("retry_after", retryAfter))
					time.Sleep(retryAfter)
				}
			}

			v, aerr := b.Analyzer.Analyze(gctx, f.Ref, f.Bytes, f.MediaType, cfg.Category)
			if aerr != nil {
				lg.Warn("batch_analyzer: analyze failed", slog.String("ref", f.Ref), slog.Any("error", aerr))
				mu.Lock()
				failed++
				mu.Unlock()
				return nil
			}
			mu.Lock()
			slots[i] = &v
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	verdicts := make([]domain.ImageVerdict, 0, len(slots))
	for _, v := range slots {
		if v != nil {
			verdicts = append(verdicts, *v)
		}
	}
	return verdicts, failed
}
