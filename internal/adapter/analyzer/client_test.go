package analyzer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/analyzer/analyzerfake"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/config"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

func testConfig() config.Config {
	return config.Config{
		AppEnv:                          "test",
		VisionModelName:                 "gemini-1.5-flash",
		AnalyzerBreakerFailureThreshold: 3,
		AnalyzerBreakerRecoveryTimeout:  10 * time.Millisecond,
	}
}

func TestClientAnalyzeHappyPath(t *testing.T) {
	backend := analyzerfake.New()
	backend.AnalyzeResponses = []string{`{"defects":[],"overall_condition":"S","recommended_price_adjustment":0,"analysis_confidence":0.95}`}
	c := New(backend, testConfig())

	v, err := c.Analyze(context.Background(), "ref-1", []byte("fake-jpeg"), "image/jpeg", "물품")
	require.NoError(t, err)
	assert.Equal(t, domain.ConditionS, v.Condition)
	assert.False(t, v.Defaulted)
}

func TestClientAnalyzeParseFailureYieldsDefaultedVerdictNotError(t *testing.T) {
	backend := analyzerfake.New()
	backend.AnalyzeResponses = []string{"garbled non-json output"}
	c := New(backend, testConfig())

	v, err := c.Analyze(context.Background(), "ref-2", []byte("fake-jpeg"), "image/jpeg", "물품")
	require.NoError(t, err)
	assert.True(t, v.Defaulted)
	assert.Equal(t, domain.ConditionC, v.Condition)
}

func TestClientAnalyzeRetriesTransientErrorThenSucceeds(t *testing.T) {
	backend := analyzerfake.New()
	backend.AnalyzeErrs = []error{domain.ErrUpstreamTransient}
	backend.AnalyzeResponses = []string{`{"defects":[],"overall_condition":"A","recommended_price_adjustment":0,"analysis_confidence":0.9}`}
	c := New(backend, testConfig())

	v, err := c.Analyze(context.Background(), "ref-3", []byte("fake-jpeg"), "image/jpeg", "물품")
	require.NoError(t, err)
	assert.Equal(t, domain.ConditionA, v.Condition)
	assert.GreaterOrEqual(t, backend.Calls(), int64(2))
}

func TestClientAnalyzePermanentErrorIsNotRetried(t *testing.T) {
	backend := analyzerfake.New()
	backend.AnalyzeErrs = []error{domain.ErrInternal}
	c := New(backend, testConfig())

	_, err := c.Analyze(context.Background(), "ref-4", []byte("fake-jpeg"), "image/jpeg", "물품")
	require.Error(t, err)
	assert.Equal(t, int64(1), backend.Calls())
}

func TestClientDescribeFallsBackOnEmptyResponse(t *testing.T) {
	backend := analyzerfake.New()
	backend.DescribeErrs = []error{domain.ErrEmptyResponse}
	c := New(backend, testConfig())

	desc, err := c.Describe(context.Background(), "멋진 재킷", []byte("fake-jpeg"), "image/jpeg")
	require.NoError(t, err)
	assert.Contains(t, desc, "멋진 재킷")
}

func TestClientCircuitBreakerOpensAfterRepeatedFailures(t *testing.T) {
	backend := analyzerfake.New()
	cfg := testConfig()
	cfg.AnalyzerBreakerFailureThreshold = 1
	cfg.AnalyzerBackoffMaxElapsedTime = time.Millisecond
	c := New(backend, cfg)

	backend.AnalyzeErrs = []error{domain.ErrInternal}
	_, err := c.Analyze(context.Background(), "ref-5", []byte("x"), "image/jpeg", "물품")
	require.Error(t, err)

	// breaker should now be open; the next call should fail fast without
	// reaching the backend again.
	before := backend.Calls()
	_, err = c.Analyze(context.Background(), "ref-6", []byte("x"), "image/jpeg", "물품")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamTransient))
	assert.Equal(t, before, backend.Calls())
}
