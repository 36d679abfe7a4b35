// Package scheduler bounds recon job concurrency behind a process-wide
// semaphore and enforces strict FIFO admission (§4.1).
package scheduler

import (
	"context"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/observability"
)

// Pipeline is the unit of work the Scheduler drives once a job acquires a
// semaphore slot — satisfied by usecase.ReconPipeline, which wraps
// reconpipeline.Pipeline with the JobStore/StatusReconciler bookkeeping.
type Pipeline interface {
	Run(ctx domain.Context, job domain.Job) error
}

// Scheduler bounds concurrent recon jobs to maxConcurrent and runs each
// accepted job's pipeline on its own goroutine, preserving strict FIFO
// admission order (§4.1). The analysis pipeline never goes through this
// semaphore — it has its own per-request wall-clock budget.
type Scheduler struct {
	sem      chan struct{}
	pipeline Pipeline
	jobs     domain.JobRepository

	mu       sync.Mutex
	wg       sync.WaitGroup
	draining bool
	shutdown chan struct{}
}

// New constructs a Scheduler admitting at most maxConcurrent jobs at once.
func New(maxConcurrent int, pipeline Pipeline, jobs domain.JobRepository) *Scheduler {
	if maxConcurrent < 1 {
		maxConcurrent = 1
	}
	return &Scheduler{
		sem:      make(chan struct{}, maxConcurrent),
		pipeline: pipeline,
		jobs:     jobs,
		shutdown: make(chan struct{}),
	}
}

// Enqueue registers job as queued and immediately returns; a background
// goroutine acquires a semaphore slot (FIFO, since channel sends/receives on
// a buffered channel serve in send order once occupants are released) and
// then drives the pipeline. Returns domain.ErrShutdown if the scheduler is
// draining.
func (s *Scheduler) Enqueue(ctx domain.Context, job domain.Job) error {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return domain.ErrShutdown
	}
	s.wg.Add(1)
	s.mu.Unlock()

	lg := observability.LoggerFromContext(ctx)
	// The job outlives the caller (an HTTP request that has already answered
	// 202), so it keeps ctx's values but not its cancellation.
	ctx = context.WithoutCancel(ctx)

	go func() {
		defer s.wg.Done()

		select {
		case s.sem <- struct{}{}:
		case <-s.shutdown:
			if err := s.jobs.SetStatus(ctx, job.ProductID, domain.JobFailed, domain.ErrorKindShutdown, "queued", "server shutting down"); err != nil {
				lg.Error("scheduler: failed to mark queued job as shutdown-failed", slog.String("product_id", job.ProductID), slog.Any("error", err))
			}
			return
		}
		defer func() { <-s.sem }()

		tr := otel.Tracer("scheduler")
		runCtx, span := tr.Start(ctx, "Scheduler.Run")
		defer span.End()

		if err := s.pipeline.Run(runCtx, job); err != nil {
			lg.Error("scheduler: pipeline run failed", slog.String("product_id", job.ProductID), slog.Any("error", err))
		}
	}()

	return nil
}

// Position returns the 1-based FIFO position of a still-queued job, or 0 if
// it is not currently queued (delegates to JobRepository, which is the
// single source of truth for queue order).
func (s *Scheduler) Position(ctx domain.Context, productID string) int {
	pending, err := s.jobs.ListPending(ctx)
	if err != nil {
		return 0
	}
	for i, j := range pending {
		if j.ProductID == productID {
			return i + 1
		}
	}
	return 0
}

// QueueStatus reports the snapshot §6's `GET /recon/queue` needs.
type QueueStatus struct {
	MaxConcurrent int
	RunningCount  int
	PendingCount  int
	Running       []domain.Job
	Pending       []domain.Job
}

func (s *Scheduler) Status(ctx domain.Context) (QueueStatus, error) {
	running, err := s.jobs.ListRunning(ctx)
	if err != nil {
		return QueueStatus{}, err
	}
	pending, err := s.jobs.ListPending(ctx)
	if err != nil {
		return QueueStatus{}, err
	}
	return QueueStatus{
		MaxConcurrent: cap(s.sem),
		RunningCount:  len(running),
		PendingCount:  len(pending),
		Running:       running,
		Pending:       pending,
	}, nil
}

// Shutdown stops accepting new jobs, fails every still-queued job with
// error_kind=shutdown, and blocks until every running job's pipeline has
// returned (§4.1, §5). Running jobs are not cancelled: each runs its remaining
// stages to the end first, and ctx does not bound the wait.
func (s *Scheduler) Shutdown(ctx domain.Context) {
	s.mu.Lock()
	if s.draining {
		s.mu.Unlock()
		return
	}
	s.draining = true
	s.mu.Unlock()

	close(s.shutdown)
	s.wg.Wait()
}
