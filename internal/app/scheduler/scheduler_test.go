package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

type fakePipeline struct {
	started  chan struct{}
	release  chan struct{}
	runCount int32
}

func newFakePipeline() *fakePipeline {
	return &fakePipeline{started: make(chan struct{}, 10), release: make(chan struct{})}
}

func (p *fakePipeline) Run(domain.Context, domain.Job) error {
	atomic.AddInt32(&p.runCount, 1)
	p.started <- struct{}{}
	<-p.release
	return nil
}

type fakeJobs struct {
	mu       sync.Mutex
	statuses map[string]domain.JobStatus
	errKinds map[string]domain.ErrorKind
	pending  []domain.Job
	running  []domain.Job
}

func newFakeJobs() *fakeJobs {
	return &fakeJobs{statuses: map[string]domain.JobStatus{}, errKinds: map[string]domain.ErrorKind{}}
}

func (f *fakeJobs) Create(domain.Context, domain.Job) error { return nil }
func (f *fakeJobs) SetStage(domain.Context, string, string, int) error { return nil }
func (f *fakeJobs) SetStatus(_ domain.Context, productID string, status domain.JobStatus, errKind domain.ErrorKind, _, _ string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.statuses[productID] = status
	f.errKinds[productID] = errKind
	return nil
}
func (f *fakeJobs) AppendLogLine(domain.Context, string, string) error { return nil }
func (f *fakeJobs) Get(domain.Context, string) (domain.Job, error)     { return domain.Job{}, nil }
func (f *fakeJobs) ListPending(domain.Context) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Job(nil), f.pending...), nil
}
func (f *fakeJobs) ListRunning(domain.Context) ([]domain.Job, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]domain.Job(nil), f.running...), nil
}

func TestSchedulerRunsUpToMaxConcurrent(t *testing.T) {
	pipeline := newFakePipeline()
	jobs := newFakeJobs()
	s := New(2, pipeline, jobs)

	require.NoError(t, s.Enqueue(context.Background(), domain.Job{ProductID: "a"}))
	require.NoError(t, s.Enqueue(context.Background(), domain.Job{ProductID: "b"}))
	require.NoError(t, s.Enqueue(context.Background(), domain.Job{ProductID: "c"}))

	<-pipeline.started
	<-pipeline.started
	select {
	case <-pipeline.started:
		t.Fatal("third job should not start before a slot frees up")
	case <-time.After(50 * time.Millisecond):
	}

	close(pipeline.release)
	<-pipeline.started
}

func TestSchedulerShutdownFailsQueuedJobs(t *testing.T) {
	pipeline := newFakePipeline()
	jobs := newFakeJobs()
	s := New(1, pipeline, jobs)

	require.NoError(t, s.Enqueue(context.Background(), domain.Job{ProductID: "running"}))
	<-pipeline.started

	require.NoError(t, s.Enqueue(context.Background(), domain.Job{ProductID: "queued"}))

	done := make(chan struct{})
	go func() {
		s.Shutdown(context.Background())
		close(done)
	}()

	time.Sleep(20 * time.Millisecond)
	close(pipeline.release)
	<-done

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	assert.Equal(t, domain.JobFailed, jobs.statuses["queued"])
	assert.Equal(t, domain.ErrorKindShutdown, jobs.errKinds["queued"])
}

func TestSchedulerEnqueueAfterShutdownReturnsError(t *testing.T) {
	pipeline := newFakePipeline()
	close(pipeline.release)
	jobs := newFakeJobs()
	s := New(1, pipeline, jobs)
	s.Shutdown(context.Background())

	err := s.Enqueue(context.Background(), domain.Job{ProductID: "late"})
	assert.ErrorIs(t, err, domain.ErrShutdown)
}

func TestSchedulerPositionDelegatesToJobRepository(t *testing.T) {
	jobs := newFakeJobs()
	jobs.pending = []domain.Job{{ProductID: "first"}, {ProductID: "second"}}
	s := New(1, newFakePipeline(), jobs)

	assert.Equal(t, 2, s.Position(context.Background(), "second"))
	assert.Equal(t, 0, s.Position(context.Background(), "missing"))
}
