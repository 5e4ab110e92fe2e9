package domain

import "context"

// JobRepository defines persistence for job entities. Implementations must
// serialize transitions per job id without locking unrelated jobs.
type JobRepository interface {
	// Create inserts a new job record.
	Create(ctx context.Context, job *Job) error
	// Get returns ErrNotFound when no job has the given id.
	Get(ctx context.Context, id string) (*Job, error)
	// Transition applies t only if the stored status still equals from and
	// returns the updated record. A mismatch yields ErrInvalidTransition and
	// leaves the record unchanged.
	Transition(ctx context.Context, id string, from JobStatus, t Transition) (*Job, error)
	// UpdateProgress records advisory progress while the job is processing.
	UpdateProgress(ctx context.Context, id string, progress int) error
	// CountByStatus returns job counts grouped by status.
	CountByStatus(ctx context.Context) (map[JobStatus]int, error)
}
