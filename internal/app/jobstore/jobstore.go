// Package jobstore provides the in-process, single-writer-per-job record
// store shared by both pipelines (domain.JobRepository). It is the
// authoritative source of job state; the external relational mirror kept by
// StatusReconciler is eventually consistent with it, never the other way
// around.
package jobstore

import (
	"fmt"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/fairyhunter13/marketplace-job-orchestrator/internal/domain"
)

// logTailSize bounds the ring of retained log lines per job (§4.2, K≈50).
const logTailSize = 50

type entry struct {
	job domain.Job
	// seq is a time-sortable insertion key (ULID), independent of
	// product_id's own format, used to order list_pending FIFO-by-creation.
	seq ulid.ULID
}

// Store is an in-memory, mutex-guarded implementation of domain.JobRepository.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
}

// New constructs an empty Store.
func New() *Store {
	return &Store{entries: make(map[string]*entry)}
}

// Create inserts a new job record in the queued state. Returns an error if a
// job already exists for the product_id — callers are expected to have
// checked first via Get, but this guards the single-writer invariant.
func (s *Store) Create(_ domain.Context, j domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.entries[j.ProductID]; exists {
		return fmt.Errorf("op=jobstore.create product_id=%s: %w", j.ProductID, domain.ErrInternal)
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	if j.Status == "" {
		j.Status = domain.JobQueued
	}
	s.entries[j.ProductID] = &entry{
		job: j,
		seq: ulid.Make(),
	}
	return nil
}

// SetStage advances a running job's stage and progress. Progress only ever
// moves forward except for the terminal StageError marker, which the caller
// is expected to pair with SetStatus(failed, ...) immediately after.
func (s *Store) SetStage(_ domain.Context, productID, stage string, progress int) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[productID]
	if !ok {
		return fmt.Errorf("op=jobstore.set_stage product_id=%s: %w", productID, domain.ErrNotFound)
	}
	e.job.Stage = stage
	e.job.Progress = progress
	if e.job.Status == domain.JobQueued {
		now := time.Now().UTC()
		e.job.Status = domain.JobRunning
		e.job.StartedAt = &now
	}
	return nil
}

// SetStatus transitions a job to a new status, recording error details when
// the new status is failed. Terminal transitions stamp CompletedAt.
func (s *Store) SetStatus(_ domain.Context, productID string, status domain.JobStatus, errKind domain.ErrorKind, errStage, errMsg string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[productID]
	if !ok {
		return fmt.Errorf("op=jobstore.set_status product_id=%s: %w", productID, domain.ErrNotFound)
	}
	e.job.Status = status
	if status == domain.JobFailed {
		e.job.ErrorKind = errKind
		e.job.ErrorStage = errStage
		e.job.ErrorMessage = errMsg
	}
	if status == domain.JobDone || status == domain.JobFailed {
		now := time.Now().UTC()
		e.job.CompletedAt = &now
	}
	return nil
}

// AppendLogLine appends a line to the job's bounded log tail, dropping the
// oldest line once logTailSize is exceeded.
func (s *Store) AppendLogLine(_ domain.Context, productID, line string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	e, ok := s.entries[productID]
	if !ok {
		return fmt.Errorf("op=jobstore.append_log product_id=%s: %w", productID, domain.ErrNotFound)
	}
	e.job.LogTail = append(e.job.LogTail, line)
	if len(e.job.LogTail) > logTailSize {
		e.job.LogTail = e.job.LogTail[len(e.job.LogTail)-logTailSize:]
	}
	return nil
}

// Get returns a consistent snapshot of the job, including a copy of its log
// tail so callers cannot mutate the store's backing array.
func (s *Store) Get(_ domain.Context, productID string) (domain.Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	e, ok := s.entries[productID]
	if !ok {
		return domain.Job{}, fmt.Errorf("op=jobstore.get product_id=%s: %w", productID, domain.ErrNotFound)
	}
	return snapshot(e.job), nil
}

// ListPending returns queued jobs in strict FIFO-by-creation order.
func (s *Store) ListPending(_ domain.Context) ([]domain.Job, error) {
	return s.listByStatus(domain.JobQueued), nil
}

// ListRunning returns running jobs, in no particular order.
func (s *Store) ListRunning(_ domain.Context) ([]domain.Job, error) {
	return s.listByStatus(domain.JobRunning), nil
}

func (s *Store) listByStatus(status domain.JobStatus) []domain.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()

	type ordered struct {
		seq ulid.ULID
		job domain.Job
	}
	var matches []ordered
	for _, e := range s.entries {
		if e.job.Status == status {
			matches = append(matches, ordered{seq: e.seq, job: snapshot(e.job)})
		}
	}
	// insertion sort by seq: ULID is lexically time-sortable, and the set of
	// pending/running jobs is small enough that this never needs anything
	// fancier.
	for i := 1; i < len(matches); i++ {
		for j := i; j > 0 && matches[j].seq.Compare(matches[j-1].seq) < 0; j-- {
			matches[j], matches[j-1] = matches[j-1], matches[j]
		}
	}
	out := make([]domain.Job, len(matches))
	for i, m := range matches {
		out[i] = m.job
	}
	return out
}

// Position returns the 1-based FIFO position of a still-queued job among all
// queued jobs, or 0 if the job is not currently queued.
func (s *Store) Position(productID string) int {
	pending := s.listByStatus(domain.JobQueued)
	for i, j := range pending {
		if j.ProductID == productID {
			return i + 1
		}
	}
	return 0
}

func snapshot(j domain.Job) domain.Job {
	out := j
	out.LogTail = append([]string(nil), j.LogTail...)
	return out
}

var _ domain.JobRepository = (*Store)(nil)
