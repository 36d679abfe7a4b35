// Package analyzerfake provides a deterministic domain.AnalyzerBackend for
// wiring into other packages' tests, without a network dependency.
package analyzerfake

import (
	"sync"
	"sync/atomic"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

// Backend is a scriptable fake: by default it returns a canned "no defects"
// verdict and a canned description, but a caller can queue per-call errors
// or responses to exercise retry/fallback paths.
type Backend struct {
	mu sync.Mutex

	AnalyzeResponses  []string
	AnalyzeErrs       []error
	DescribeResponses []string
	DescribeErrs      []error

	calls int64
}

// New returns a Backend with default canned responses.
func New() *Backend {
	return &Backend{
		AnalyzeResponses: []string{`{"defects":[],"overall_condition":"S","recommended_price_adjustment":0,"analysis_confidence":0.95}`},
	}
}

// Calls reports how many Analyze+Describe calls have been made, for
// assertions on batching/concurrency behavior.
func (b *Backend) Calls() int64 { return atomic.LoadInt64(&b.calls) }

func (b *Backend) Analyze(_ domain.Context, _ []byte, _, _, _ string, _ int, _ float64) (string, error) {
	atomic.AddInt64(&b.calls, 1)
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.AnalyzeErrs) > 0 {
		err := b.AnalyzeErrs[0]
		b.AnalyzeErrs = b.AnalyzeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(b.AnalyzeResponses) == 0 {
		return `{"defects":[],"overall_condition":"S","recommended_price_adjustment":0,"analysis_confidence":0.9}`, nil
	}
	resp := b.AnalyzeResponses[0]
	if len(b.AnalyzeResponses) > 1 {
		b.AnalyzeResponses = b.AnalyzeResponses[1:]
	}
	return resp, nil
}

func (b *Backend) Describe(_ domain.Context, _ []byte, _, productName string) (string, error) {
	atomic.AddInt64(&b.calls, 1)
	b.mu.Lock()
	defer b.mu.Unlock()

	if len(b.DescribeErrs) > 0 {
		err := b.DescribeErrs[0]
		b.DescribeErrs = b.DescribeErrs[1:]
		if err != nil {
			return "", err
		}
	}
	if len(b.DescribeResponses) == 0 {
		return productName + "은(는) 상태가 양호합니다.", nil
	}
	resp := b.DescribeResponses[0]
	if len(b.DescribeResponses) > 1 {
		b.DescribeResponses = b.DescribeResponses[1:]
	}
	return resp, nil
}

var _ domain.AnalyzerBackend = (*Backend)(nil)
