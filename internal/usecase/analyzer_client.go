// Package usecase contains application business logic: the defect-analysis
// pipeline's batching/aggregation (§4.6, §4.7) and its end-to-end
// orchestration tying JobStore, the vision-model client, and
// StatusReconciler together.
package usecase

import (
	"time"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

// AnalyzerClient is the narrow port BatchAnalyzer drives; satisfied by
// internal/adapter/analyzer.Client.
type AnalyzerClient interface {
	Analyze(ctx domain.Context, imageRef string, image []byte, mediaType, category string) (domain.ImageVerdict, error)
}

// RateLimiter is the narrow port BatchAnalyzer consults before each call, on
// top of its own batch/pace schedule (§10.2's distributed token bucket).
type RateLimiter interface {
	Allow(ctx domain.Context, key string, cost int64) (bool, time.Duration, error)
}
