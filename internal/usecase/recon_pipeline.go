package usecase

import (
	"errors"
	"log/slog"
	"path/filepath"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/reconpipeline"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/observability"
)

// ReconRunner is the narrow slice of reconpipeline.Pipeline the scheduler
// drives: stage sequencing and artifact production for one job's work
// directory, independent of JobRepository bookkeeping.
type ReconRunner interface {
	Run(ctx domain.Context, productID, workDir string, imageCount, iterations int) (domain.ReconArtifact, error)
}

// ReconPipeline adapts a ReconRunner into scheduler.Pipeline, recording
// terminal job status, reconciling to the external system-of-record, and
// publishing the terminal event, mirroring AnalysisPipeline's shape on the
// recon side of the two pipelines.
type ReconPipeline struct {
	Runner     ReconRunner
	Jobs       domain.JobRepository
	Reconciler domain.StatusReconciler
	Publisher  domain.EventPublisher
	DataDir    string
}

// Run satisfies scheduler.Pipeline: it resolves job's work directory,
// drives the reconstruction stages, and records the terminal outcome.
func (p *ReconPipeline) Run(ctx domain.Context, job domain.Job) error {
	lg := observability.LoggerFromContext(ctx)

	productRoot := filepath.Join(p.DataDir, job.ProductID)
	_, runErr := p.Runner.Run(ctx, job.ProductID, productRoot, job.ImageCount, job.Iterations)

	status := domain.JobDone
	errKind := domain.ErrorKind("")
	errMsg := ""
	if runErr != nil {
		status = domain.JobFailed
		errKind = domain.ErrorKindPipelineStageFailed
		if errors.Is(runErr, domain.ErrInsufficientReconstruction) {
			errKind = domain.ErrorKindInsufficientReconstruction
		}
		errMsg = runErr.Error()
	}

	if err := p.Jobs.SetStatus(ctx, job.ProductID, status, errKind, reconpipeline.StageOf(runErr), errMsg); err != nil {
		lg.Error("recon_pipeline: failed to set terminal status", slog.String("product_id", job.ProductID), slog.Any("error", err))
	}

	if err := p.Reconciler.RecordTerminal(ctx, job.ProductID, domain.JobKindRecon, status, errKind, errMsg); err != nil {
		lg.Error("recon_pipeline: reconciliation failed", slog.String("product_id", job.ProductID), slog.Any("error", err))
	} else if p.Publisher != nil {
		if err := p.Publisher.PublishTerminal(ctx, job.ProductID, domain.JobKindRecon, status); err != nil {
			lg.Warn("recon_pipeline: event publish failed", slog.String("product_id", job.ProductID), slog.Any("error", err))
		}
	}

	return runErr
}
