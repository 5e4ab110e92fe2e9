package jobs

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"photojobs/internal/domain"
)

// Store wraps a JobRepository with id allocation, access checks and the
// single local retry applied to persistence failures.
type Store struct {
	repo   domain.JobRepository
	logger zerolog.Logger
	now    func() time.Time
	newID  func() string
}

// StoreOption customizes a Store.
type StoreOption func(*Store)

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// WithIDGenerator overrides job id allocation.
func WithIDGenerator(newID func() string) StoreOption {
	return func(s *Store) { s.newID = newID }
}

func NewStore(repo domain.JobRepository, logger zerolog.Logger, opts ...StoreOption) *Store {
	s := &Store{
		repo:   repo,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
		newID:  uuid.NewString,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create allocates a queued job for req.
func (s *Store) Create(ctx context.Context, req NormalizedRequest) (*domain.Job, error) {
	now := s.now()
	job := &domain.Job{
		ID:             s.newID(),
		OwnerID:        req.Owner.ID,
		InputReference: req.InputReference,
		Type:           req.JobType,
		Settings:       req.RawSettings,
		Locale:         req.Locale,
		Status:         domain.JobStatusQueued,
		Progress:       0,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	err := s.retry(ctx, "create", func() error {
		return s.repo.Create(ctx, job)
	})
	if err != nil {
		return nil, err
	}
	return job.Clone(), nil
}

// Get returns the job if principal may read it. A missing id is reported as
// ErrNotFound before any access decision.
func (s *Store) Get(ctx context.Context, id string, principal domain.Principal) (*domain.Job, error) {
	job, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !principal.CanRead(job) {
		if principal.IsZero() {
			return nil, domain.ErrUnauthenticated
		}
		return nil, domain.ErrAccessDenied
	}
	return job, nil
}

// Transition moves the job to t.To. The stored status is passed as the
// precondition of the conditional update, so a concurrent writer makes this
// call fail with ErrInvalidTransition instead of overwriting.
func (s *Store) Transition(ctx context.Context, id string, t domain.Transition) (*domain.Job, error) {
	current, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if !current.Status.CanTransitionTo(t.To) {
		return nil, domain.ErrInvalidTransition
	}
	if t.At.IsZero() {
		t.At = s.now()
	}
	var updated *domain.Job
	err = s.retry(ctx, "transition", func() error {
		var err error
		updated, err = s.repo.Transition(ctx, id, current.Status, t)
		return err
	})
	if err != nil {
		return nil, err
	}
	s.logger.Debug().
		Str("job_id", id).
		Str("from", string(current.Status)).
		Str("status", string(updated.Status)).
		Msg("job transitioned")
	return updated, nil
}

// ReportProgress records advisory progress. Failures are logged, never returned.
func (s *Store) ReportProgress(ctx context.Context, id string, pct int) {
	if pct < 0 {
		pct = 0
	}
	if err := s.repo.UpdateProgress(ctx, id, pct); err != nil {
		s.logger.Warn().Err(err).Str("job_id", id).Int("progress", pct).Msg("progress update failed")
	}
}

// CountByStatus proxies the repository for health reporting.
func (s *Store) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	var counts map[domain.JobStatus]int
	err := s.retry(ctx, "count", func() error {
		var err error
		counts, err = s.repo.CountByStatus(ctx)
		return err
	})
	return counts, err
}

func (s *Store) load(ctx context.Context, id string) (*domain.Job, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, domain.ErrNotFound
	}
	var job *domain.Job
	err := s.retry(ctx, "get", func() error {
		var err error
		job, err = s.repo.Get(ctx, id)
		return err
	})
	return job, err
}

// retry runs op and repeats it once on infrastructure errors. Domain
// outcomes and context errors are returned as-is.
func (s *Store) retry(ctx context.Context, op string, fn func() error) error {
	err := fn()
	if !retryable(ctx, err) {
		return err
	}
	s.logger.Warn().Err(err).Str("op", op).Msg("storage operation failed, retrying once")
	if err = fn(); !retryable(ctx, err) {
		return err
	}
	return &domain.StorageError{Op: op, Err: err}
}

func retryable(ctx context.Context, err error) bool {
	if err == nil || ctx.Err() != nil {
		return false
	}
	switch {
	case errors.Is(err, domain.ErrNotFound),
		errors.Is(err, domain.ErrInvalidTransition),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}
