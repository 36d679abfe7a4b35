package app

import (
	"context"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

// StuckJobSweeper periodically fails recon jobs that have been running
// longer than maxProcessingAge, a safety net for a process that crashed or
// hung mid-stage without going through Scheduler.Shutdown (§5's "single
// writer" invariant assumes the owning goroutine is still alive to report
// terminal status; this sweeper is the fallback when it isn't).
type StuckJobSweeper struct {
	jobs             domain.JobRepository
	maxProcessingAge time.Duration
	interval         time.Duration
}

// NewStuckJobSweeper constructs a sweeper, defaulting maxProcessingAge/interval
// when given non-positive values.
func NewStuckJobSweeper(jobs domain.JobRepository, maxProcessingAge, interval time.Duration) *StuckJobSweeper {
	if jobs == nil {
		return nil
	}
	if maxProcessingAge <= 0 {
		maxProcessingAge = 30 * time.Minute
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &StuckJobSweeper{jobs: jobs, maxProcessingAge: maxProcessingAge, interval: interval}
}

// Run blocks, sweeping on interval until ctx is canceled.
func (s *StuckJobSweeper) Run(ctx context.Context) {
	if s == nil || s.jobs == nil {
		return
	}

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.sweepOnce(ctx)
	for {
		select {
		case <-ctx.Done():
			slog.Info("stuck job sweeper stopping")
			return
		case <-ticker.C:
			s.sweepOnce(ctx)
		}
	}
}

func (s *StuckJobSweeper) sweepOnce(ctx context.Context) {
	tracer := otel.Tracer("jobs.sweeper")
	ctx, span := tracer.Start(ctx, "StuckJobSweeper.sweepOnce")
	defer span.End()

	running, err := s.jobs.ListRunning(ctx)
	if err != nil {
		span.RecordError(err)
		slog.Error("stuck job sweep failed to list running jobs", slog.Any("error", err))
		return
	}

	cutoff := time.Now().Add(-s.maxProcessingAge)
	markedFailed := 0
	for _, j := range running {
		if j.StartedAt == nil || j.StartedAt.After(cutoff) {
			continue
		}
		if err := s.jobs.SetStatus(ctx, j.ProductID, domain.JobFailed, domain.ErrorKindTimeout, j.Stage,
			"job exceeded maximum processing age; marked failed by sweeper"); err != nil {
			slog.Error("stuck job sweep failed to update job status", slog.String("product_id", j.ProductID), slog.Any("error", err))
			continue
		}
		markedFailed++
	}

	span.SetAttributes(
		attribute.Int("jobs.running_checked", len(running)),
		attribute.Int("jobs.marked_failed", markedFailed),
	)
}
