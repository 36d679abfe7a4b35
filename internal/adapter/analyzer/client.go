// Package analyzer implements AnalyzerClient (§4.5): single-image defect
// analysis and description generation against an external vision model,
// wrapping a narrow domain.AnalyzerBackend with prompting, retry, a circuit
// breaker, and parse-with-fallback.
package analyzer

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/adapter/analyzer/tokencount"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/config"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/observability"
)

const (
	analysisTemperature = 0.1
	analysisMaxTokens   = 800
)

// Client is the AnalyzerClient of §4.5.
type Client struct {
	backend domain.AnalyzerBackend
	counter *tokencount.Counter
	breaker *observability.CircuitBreaker
	model   string

	backoffMaxElapsed   time.Duration
	backoffInitInterval time.Duration
	backoffMaxInterval  time.Duration
	backoffMultiplier   float64
}

// New builds a Client around backend using cfg's retry/breaker/model settings.
func New(backend domain.AnalyzerBackend, cfg config.Config) *Client {
	maxElapsed, initInterval, maxInterval, multiplier := cfg.AnalyzerBackoffConfig()
	return &Client{
		backend: backend,
		counter: tokencount.DefaultCounter,
		breaker: observability.NewCircuitBreaker("analyzer", "analyze", cfg.AnalyzerBreakerFailureThreshold, cfg.AnalyzerBreakerRecoveryTimeout),
		model:   cfg.VisionModelName,

		backoffMaxElapsed:   maxElapsed,
		backoffInitInterval: initInterval,
		backoffMaxInterval:  maxInterval,
		backoffMultiplier:   multiplier,
	}
}

func (c *Client) expBackoff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = c.backoffMaxElapsed
	b.InitialInterval = c.backoffInitInterval
	b.MaxInterval = c.backoffMaxInterval
	b.Multiplier = c.backoffMultiplier
	return b
}

// Analyze runs one image through the vision model and returns its verdict.
// JSON parse failures yield a default verdict (Defaulted=true), never an
// error; only hard upstream failures (network, auth, quota, open breaker)
// propagate.
func (c *Client) Analyze(ctx domain.Context, imageRef string, image []byte, mediaType, category string) (domain.ImageVerdict, error) {
	estimated := c.counter.EstimatePromptTokens(analysisSystemPrompt, analysisUserPrompt(category), c.model)
	observability.AnalyzerTokensEstimated.WithLabelValues("analyze").Add(float64(estimated))

	raw, err := c.callWithRetry(ctx, func(callCtx domain.Context) (string, error) {
		return c.backend.Analyze(callCtx, image, mediaType, category, analysisSystemPrompt, analysisMaxTokens, analysisTemperature)
	})
	if err != nil {
		return domain.ImageVerdict{}, fmt.Errorf("op=analyzer.analyze ref=%s: %w", imageRef, err)
	}

	verdict := parseVerdict(imageRef, raw)
	if verdict.Defaulted {
		observability.AnalyzerParseFallbackTotal.WithLabelValues("json_parse_failed").Inc()
		slog.Warn("analyzer: falling back to default verdict", slog.String("image_ref", imageRef))
	}
	return verdict, nil
}

// Describe generates a seller-style product description for one image. A
// safety-filtered or empty upstream response yields the canned fallback
// description rather than an error.
func (c *Client) Describe(ctx domain.Context, productName string, image []byte, mediaType string) (string, error) {
	estimated := c.counter.EstimatePromptTokens("", descriptionUserPrompt(productName), c.model)
	observability.AnalyzerTokensEstimated.WithLabelValues("describe").Add(float64(estimated))

	text, err := c.callWithRetry(ctx, func(callCtx domain.Context) (string, error) {
		return c.backend.Describe(callCtx, image, mediaType, productName)
	})
	if err != nil {
		if isEmptyResponse(err) {
			observability.AnalyzerParseFallbackTotal.WithLabelValues("empty_response").Inc()
			return fallbackDescription(productName), nil
		}
		return "", fmt.Errorf("op=analyzer.describe: %w", err)
	}
	return text, nil
}

func isEmptyResponse(err error) bool {
	return errors.Is(err, domain.ErrEmptyResponse)
}

// callWithRetry gates the call through the circuit breaker and retries
// transient upstream failures with exponential backoff (§4.9).
func (c *Client) callWithRetry(ctx domain.Context, call func(domain.Context) (string, error)) (string, error) {
	if !c.breaker.ShouldAttempt() {
		return "", fmt.Errorf("analyzer circuit open: %w", domain.ErrUpstreamTransient)
	}

	var result string
	bo := backoff.WithContext(c.expBackoff(), ctx)
	op := func() error {
		out, err := call(ctx)
		if err != nil {
			if errors.Is(err, domain.ErrEmptyResponse) || errors.Is(err, domain.ErrInternal) || errors.Is(err, domain.ErrUpstreamRateLimited) {
				// rate-limited calls are not retried here; BatchAnalyzer's inner
				// deadline is what absorbs a 429.
				return backoff.Permanent(err)
			}
			return err
		}
		result = out
		return nil
	}

	err := backoff.Retry(op, bo)
	if err != nil {
		c.breaker.RecordFailure()
		return "", err
	}
	c.breaker.RecordSuccess()
	return result, nil
}
