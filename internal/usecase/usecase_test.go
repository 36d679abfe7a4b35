package usecase

import (
	"sync"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

// fakeFetcher is a deterministic ImageFetcher: it "fetches" every ref as a
// tiny placeholder image unless the ref is pre-registered to fail.
type fakeFetcher struct {
	mu      sync.Mutex
	failing map[string]error
}

func newFakeFetcher() *fakeFetcher { return &fakeFetcher{failing: map[string]error{}} }

func (f *fakeFetcher) FetchAll(_ domain.Context, refs []string, _ FetchOptions) ([]FetchResult, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	results := make([]FetchResult, len(refs))
	success := 0
	for i, ref := range refs {
		if err, ok := f.failing[ref]; ok {
			results[i] = FetchResult{Ref: ref, Err: err}
			continue
		}
		results[i] = FetchResult{Ref: ref, Bytes: []byte("fake-image-bytes"), MediaType: "image/jpeg"}
		success++
	}
	if success == 0 && len(refs) > 0 {
		return results, 0, domain.ErrFetchFailed
	}
	return results, success, nil
}

// fakeAnalyzer returns a scripted verdict (or error) per call, cycling
// through a fixed condition list so Aggregator tests get a varied mix.
type fakeAnalyzer struct {
	mu         sync.Mutex
	conditions []domain.Condition
	next       int
	err        error
}

func (f *fakeAnalyzer) Analyze(_ domain.Context, imageRef string, _ []byte, _, _ string) (domain.ImageVerdict, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return domain.ImageVerdict{}, f.err
	}
	if len(f.conditions) == 0 {
		return domain.ImageVerdict{ImageRef: imageRef, Condition: domain.ConditionS, PriceAdjustment: 0, Confidence: 0.9}, nil
	}
	c := f.conditions[f.next%len(f.conditions)]
	f.next++
	return domain.ImageVerdict{ImageRef: imageRef, Condition: c, PriceAdjustment: 0, Confidence: 0.9}, nil
}

// fakeJobs is a minimal domain.JobRepository recording the last status set.
type fakeJobs struct {
	mu          sync.Mutex
	lastStatus  domain.JobStatus
	lastErrKind domain.ErrorKind
	lastErrMsg  string
}

func (f *fakeJobs) Create(domain.Context, domain.Job) error { return nil }
func (f *fakeJobs) SetStage(domain.Context, string, string, int) error {
	return nil
}
func (f *fakeJobs) SetStatus(_ domain.Context, _ string, status domain.JobStatus, errKind domain.ErrorKind, _ string, errMsg string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastStatus = status
	f.lastErrKind = errKind
	f.lastErrMsg = errMsg
	return nil
}
func (f *fakeJobs) AppendLogLine(domain.Context, string, string) error { return nil }
func (f *fakeJobs) Get(domain.Context, string) (domain.Job, error)     { return domain.Job{}, nil }
func (f *fakeJobs) ListPending(domain.Context) ([]domain.Job, error)   { return nil, nil }
func (f *fakeJobs) ListRunning(domain.Context) ([]domain.Job, error)   { return nil, nil }

// fakeReconciler records the last RecordTerminal call.
type fakeReconciler struct {
	mu         sync.Mutex
	calls      int
	lastStatus domain.JobStatus
}

func (r *fakeReconciler) RecordQueued(domain.Context, string, domain.JobKind, string) error { return nil }
func (r *fakeReconciler) RecordTerminal(_ domain.Context, _ string, _ domain.JobKind, status domain.JobStatus, _ domain.ErrorKind, _ string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	r.lastStatus = status
	return nil
}

// fakePublisher records PublishTerminal calls; never returns an error so
// tests can assert the pipeline treats publishing as best-effort.
type fakePublisher struct {
	mu    sync.Mutex
	calls int
}

func (p *fakePublisher) PublishTerminal(domain.Context, string, domain.JobKind, domain.JobStatus) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return nil
}

// fakeDescribeBackend returns a scripted description or error.
type fakeDescribeBackend struct {
	text string
	err  error
}

func (f *fakeDescribeBackend) Describe(domain.Context, string, []byte, string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return f.text, nil
}

var _ domain.JobRepository = (*fakeJobs)(nil)
var _ domain.StatusReconciler = (*fakeReconciler)(nil)
var _ domain.EventPublisher = (*fakePublisher)(nil)
var _ DescribeBackend = (*fakeDescribeBackend)(nil)
