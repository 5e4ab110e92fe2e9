package repo

import (
	"context"
	"fmt"
	"sync"

	"photojobs/internal/domain"
)

type memoryRecord struct {
	mu  sync.Mutex
	job *domain.Job
}

// JobRepositoryMemory keeps jobs in process memory. The map lock only guards
// lookups; transitions serialize on the record's own mutex.
type JobRepositoryMemory struct {
	mu   sync.RWMutex
	jobs map[string]*memoryRecord
}

// NewMemoryJobRepository creates an empty in-memory repository.
func NewMemoryJobRepository() *JobRepositoryMemory {
	return &JobRepositoryMemory{jobs: make(map[string]*memoryRecord)}
}

func (r *JobRepositoryMemory) Create(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.jobs[job.ID]; exists {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	r.jobs[job.ID] = &memoryRecord{job: job.Clone()}
	return nil
}

func (r *JobRepositoryMemory) Get(ctx context.Context, id string) (*domain.Job, error) {
	rec, err := r.record(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	return rec.job.Clone(), nil
}

func (r *JobRepositoryMemory) Transition(ctx context.Context, id string, from domain.JobStatus, t domain.Transition) (*domain.Job, error) {
	rec, err := r.record(ctx, id)
	if err != nil {
		return nil, err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	if rec.job.Status != from {
		return nil, domain.ErrInvalidTransition
	}
	next := rec.job.Clone()
	if err := next.Apply(t); err != nil {
		return nil, err
	}
	rec.job = next
	return next.Clone(), nil
}

func (r *JobRepositoryMemory) UpdateProgress(ctx context.Context, id string, progress int) error {
	rec, err := r.record(ctx, id)
	if err != nil {
		return err
	}
	rec.mu.Lock()
	defer rec.mu.Unlock()
	applyProgress(rec.job, progress)
	return nil
}

func (r *JobRepositoryMemory) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	records := make([]*memoryRecord, 0, len(r.jobs))
	for _, rec := range r.jobs {
		records = append(records, rec)
	}
	r.mu.RUnlock()

	out := make(map[domain.JobStatus]int)
	for _, rec := range records {
		rec.mu.Lock()
		out[rec.job.Status]++
		rec.mu.Unlock()
	}
	return out, nil
}

func (r *JobRepositoryMemory) record(ctx context.Context, id string) (*memoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	rec, ok := r.jobs[id]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.ErrNotFound
	}
	return rec, nil
}

// applyProgress raises progress on a processing job. Completion owns 100.
func applyProgress(job *domain.Job, progress int) bool {
	if job.Status != domain.JobStatusProcessing {
		return false
	}
	if progress > 99 {
		progress = 99
	}
	if progress <= job.Progress {
		return false
	}
	job.Progress = progress
	return true
}

var _ domain.JobRepository = (*JobRepositoryMemory)(nil)
