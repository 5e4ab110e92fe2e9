package jobs

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/rs/zerolog"

	"photojobs/internal/domain"
	"photojobs/pkg/zip"
)

var (
	// ErrQueueUnavailable is returned when a created job could not be dispatched.
	ErrQueueUnavailable = errors.New("processing queue unavailable")
	// ErrNotCompleted is returned when results are requested before completion.
	ErrNotCompleted = errors.New("job is not completed")
)

// ResultReader loads a published result back from storage.
type ResultReader interface {
	Open(ctx context.Context, locator string) ([]byte, error)
}

// Service composes validation, persistence and dispatch for the HTTP layer.
type Service struct {
	validator  *Validator
	store      *Store
	dispatcher Dispatcher
	results    ResultReader
	logger     zerolog.Logger
}

func NewService(validator *Validator, store *Store, dispatcher Dispatcher, results ResultReader, logger zerolog.Logger) *Service {
	return &Service{
		validator:  validator,
		store:      store,
		dispatcher: dispatcher,
		results:    results,
		logger:     logger,
	}
}

// Submit validates req, records a queued job and hands it to the dispatcher.
// Nothing is stored when validation fails. A dispatch failure marks the job
// failed and returns ErrQueueUnavailable together with the job.
func (s *Service) Submit(ctx context.Context, req SubmitRequest, principal domain.Principal) (*domain.Job, error) {
	normalized, err := s.validator.Validate(req, principal)
	if err != nil {
		return nil, err
	}
	job, err := s.store.Create(ctx, normalized)
	if err != nil {
		return nil, err
	}
	log := s.logger.With().Str("job_id", job.ID).Str("owner_id", job.OwnerID).Logger()
	log.Info().Str("job_type", string(job.Type)).Msg("job queued")

	if err := s.dispatcher.Dispatch(ctx, job.ID); err != nil {
		log.Error().Err(err).Msg("dispatch failed")
		s.abandon(ctx, log, job.ID, err)
		return job, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	return job, nil
}

// Status returns the latest persisted projection of the job.
func (s *Service) Status(ctx context.Context, id string, principal domain.Principal) (*domain.Job, error) {
	return s.store.Get(ctx, id, s.reader(principal))
}

// ArchiveEntries loads every stored result of a completed job.
func (s *Service) ArchiveEntries(ctx context.Context, id string, principal domain.Principal) ([]zip.Entry, error) {
	job, err := s.store.Get(ctx, id, s.reader(principal))
	if err != nil {
		return nil, err
	}
	if job.Status != domain.JobStatusCompleted {
		return nil, ErrNotCompleted
	}
	if s.results == nil {
		return nil, errors.New("result storage not configured")
	}
	entries := make([]zip.Entry, 0, len(job.Result))
	for _, locator := range job.Result {
		data, err := s.results.Open(ctx, locator)
		if err != nil {
			return nil, fmt.Errorf("open result %s: %w", locator, err)
		}
		entry := zip.Entry{Filename: path.Base(locator), Data: data}
		if job.CompletedAt != nil {
			entry.Modified = *job.CompletedAt
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// JobCounts reports jobs per status.
func (s *Service) JobCounts(ctx context.Context) (map[domain.JobStatus]int, error) {
	return s.store.CountByStatus(ctx)
}

// reader maps an unauthenticated caller onto the shared guest owner when
// anonymous submission is enabled.
func (s *Service) reader(p domain.Principal) domain.Principal {
	if p.IsZero() && s.validator != nil && s.validator.allowAnonymous {
		return domain.GuestPrincipal
	}
	return p
}

// abandon drives an undispatchable job through the normal path to failed.
func (s *Service) abandon(ctx context.Context, log zerolog.Logger, id string, cause error) {
	finalCtx, cancel := detached(ctx)
	defer cancel()
	if _, err := s.store.Transition(finalCtx, id, domain.Transition{To: domain.JobStatusProcessing}); err != nil {
		log.Error().Err(err).Msg("could not claim undispatched job")
		return
	}
	msg := failureMessage(&domain.ProcessingError{Stage: "dispatch", Err: cause})
	if _, err := s.store.Transition(finalCtx, id, domain.Transition{To: domain.JobStatusFailed, Error: msg}); err != nil {
		log.Error().Err(err).Msg("could not fail undispatched job")
	}
}
