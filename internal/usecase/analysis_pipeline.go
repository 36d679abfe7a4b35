package usecase

import (
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/observability"
)

// AnalysisPipeline orchestrates one product through JobStore, BatchAnalyzer,
// Aggregator, and StatusReconciler end to end (data flow, line "request →
// JobStore(create) → BatchAnalyzer → {ObjectFetcher, AnalyzerClient}* →
// Aggregator → markdown + JobStore(done) → StatusReconciler").
type AnalysisPipeline struct {
	Jobs        domain.JobRepository
	Batch       *BatchAnalyzer
	Aggregator  Aggregator
	Reconciler  domain.StatusReconciler
	Publisher   domain.EventPublisher
	BatchConfig BatchConfig
}

// Run executes the full analysis pipeline for one product's image refs and
// returns the rendered ProductVerdict. JobStore and StatusReconciler are
// updated as a side effect at each stage.
func (p *AnalysisPipeline) Run(ctx domain.Context, productID string, refs []string) (domain.ProductVerdict, error) {
	tr := otel.Tracer("usecase.analysis_pipeline")
	ctx, span := tr.Start(ctx, "AnalysisPipeline.Run")
	defer span.End()

	lg := observability.LoggerFromContext(ctx)

	if err := p.Jobs.SetStage(ctx, productID, "analyzing", 10); err != nil {
		lg.Warn("analysis_pipeline: failed to set stage", slog.String("product_id", productID), slog.Any("error", err))
	}

	batchResult := p.Batch.Run(ctx, refs, p.BatchConfig)

	now := time.Now().UTC()
	var verdict domain.ProductVerdict
	if len(batchResult.Verdicts) == 0 {
		verdict = p.Aggregator.AggregateFailure(batchResult.TotalCount, len(refs)-batchResult.SkippedCount, batchResult.FailedCount, batchResult.SkippedCount, batchResult.TimedOut, now)
	} else {
		verdict = p.Aggregator.Aggregate(ctx, batchResult.Verdicts, batchResult.FailedCount, batchResult.SkippedCount, batchResult.TimedOut, now)
	}

	status := domain.JobDone
	errKind := domain.ErrorKind("")
	errMsg := ""
	if len(batchResult.Verdicts) == 0 {
		status = domain.JobFailed
		errKind = domain.ErrorKindUpstreamTransient
		errMsg = "all images failed or were skipped"
		if batchResult.TimedOut {
			errKind = domain.ErrorKindTimeout
			errMsg = "analysis deadline exceeded before any image completed"
		}
	}

	if err := p.Jobs.SetStatus(ctx, productID, status, errKind, "analyzing", errMsg); err != nil {
		lg.Error("analysis_pipeline: failed to set terminal status", slog.String("product_id", productID), slog.Any("error", err))
	}

	if err := p.Reconciler.RecordTerminal(ctx, productID, domain.JobKindAnalysis, status, errKind, errMsg); err != nil {
		lg.Error("analysis_pipeline: reconciliation failed", slog.String("product_id", productID), slog.Any("error", err))
	} else if p.Publisher != nil {
		if err := p.Publisher.PublishTerminal(ctx, productID, domain.JobKindAnalysis, status); err != nil {
			lg.Warn("analysis_pipeline: event publish failed", slog.String("product_id", productID), slog.Any("error", err))
		}
	}

	return verdict, nil
}
