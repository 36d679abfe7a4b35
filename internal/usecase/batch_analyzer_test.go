package usecase

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

func TestBatchAnalyzerRunSingleImage(t *testing.T) {
	b := &BatchAnalyzer{Fetcher: newFakeFetcher(), Analyzer: &fakeAnalyzer{}}
	cfg := BatchConfig{BatchSize: 5, Pace: time.Millisecond, InnerDeadline: time.Second, Category: "물품"}

	result := b.Run(context.Background(), []string{"ref-1"}, cfg)
	require.Len(t, result.Verdicts, 1)
	assert.Equal(t, 0, result.FailedCount)
	assert.Equal(t, 0, result.SkippedCount)
	assert.False(t, result.TimedOut)
}

func TestBatchAnalyzerRunMultipleBatches(t *testing.T) {
	refs := make([]string, 12)
	for i := range refs {
		refs[i] = "ref"
	}
	b := &BatchAnalyzer{Fetcher: newFakeFetcher(), Analyzer: &fakeAnalyzer{}}
	cfg := BatchConfig{BatchSize: 5, Pace: time.Millisecond, InnerDeadline: time.Second, Category: "물품"}

	result := b.Run(context.Background(), refs, cfg)
	assert.Len(t, result.Verdicts, 12)
	assert.Equal(t, 12, result.TotalCount)
}

func TestBatchAnalyzerStopsEarlyOnDeadline(t *testing.T) {
	refs := make([]string, 20)
	for i := range refs {
		refs[i] = "ref"
	}
	b := &BatchAnalyzer{Fetcher: newFakeFetcher(), Analyzer: &fakeAnalyzer{}}
	cfg := BatchConfig{BatchSize: 5, Pace: 50 * time.Millisecond, InnerDeadline: 1 * time.Nanosecond, Category: "물품"}

	result := b.Run(context.Background(), refs, cfg)
	assert.True(t, result.TimedOut)
	assert.Equal(t, 20, result.SkippedCount)
	assert.Empty(t, result.Verdicts)
}

func TestBatchAnalyzerCollectsPerImageFailuresWithoutAbortingBatch(t *testing.T) {
	fetcher := newFakeFetcher()
	fetcher.failing["bad-ref"] = assertErr
	b := &BatchAnalyzer{Fetcher: fetcher, Analyzer: &fakeAnalyzer{}}
	cfg := BatchConfig{BatchSize: 5, Pace: time.Millisecond, InnerDeadline: time.Second, Category: "물품"}

	result := b.Run(context.Background(), []string{"ok-ref", "bad-ref"}, cfg)
	assert.Len(t, result.Verdicts, 1)
	assert.Equal(t, 1, result.FailedCount)
}

func TestBatchAnalyzerAllImagesFailAnalysis(t *testing.T) {
	b := &BatchAnalyzer{Fetcher: newFakeFetcher(), Analyzer: &fakeAnalyzer{err: assertErr}}
	cfg := BatchConfig{BatchSize: 5, Pace: time.Millisecond, InnerDeadline: time.Second, Category: "물품"}

	result := b.Run(context.Background(), []string{"ref-1", "ref-2"}, cfg)
	assert.Empty(t, result.Verdicts)
	assert.Equal(t, 2, result.FailedCount)
}

func TestBatchAnalyzerPreservesInputOrderRegardlessOfCompletionOrder(t *testing.T) {
	refs := []string{"ref-1", "ref-2", "ref-3", "ref-4"}
	b := &BatchAnalyzer{Fetcher: newFakeFetcher(), Analyzer: &reverseDelayAnalyzer{}}
	cfg := BatchConfig{BatchSize: 4, Pace: time.Millisecond, InnerDeadline: time.Second, Category: "물품"}

	result := b.Run(context.Background(), refs, cfg)
	require.Len(t, result.Verdicts, len(refs))
	got := make([]string, len(result.Verdicts))
	for i, v := range result.Verdicts {
		got[i] = v.ImageRef
	}
	assert.Equal(t, refs, got)
}

var assertErr = assertError("boom")

type assertError string

func (e assertError) Error() string { return string(e) }

// reverseDelayAnalyzer completes later-indexed refs (by their trailing digit)
// first, so a test relying on this analyzer catches any code path that
// collects verdicts in goroutine-completion order instead of input order.
type reverseDelayAnalyzer struct{}

func (a *reverseDelayAnalyzer) Analyze(_ domain.Context, imageRef string, _ []byte, _, _ string) (domain.ImageVerdict, error) {
	n := int(imageRef[len(imageRef)-1] - '0')
	time.Sleep(time.Duration(20-n) * time.Millisecond)
	return domain.ImageVerdict{ImageRef: imageRef, Condition: domain.ConditionS, Confidence: 0.9}, nil
}
