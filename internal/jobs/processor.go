package jobs

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"photojobs/internal/domain"
	"photojobs/internal/domain/jsoncfg"
	"photojobs/internal/providers/image"
	"photojobs/internal/storage"
)

// Progress checkpoints reported while a job runs.
const (
	ProgressStarted   = 10
	ProgressEnhanced  = 70
	ProgressPublished = 90
)

const (
	defaultInferenceTimeout = 2 * time.Minute
	finalizeTimeout         = 15 * time.Second
	maxErrorMessageLength   = 500
)

// ResultPublisher persists outputs and returns the public locators.
type ResultPublisher interface {
	Publish(ctx context.Context, jobID string, artifacts []storage.Artifact) ([]string, error)
}

// Processor runs one job from queued to a terminal state.
type Processor struct {
	store     *Store
	enhancer  image.Enhancer
	publisher ResultPublisher
	timeout   time.Duration
	logger    zerolog.Logger
}

func NewProcessor(store *Store, enhancer image.Enhancer, publisher ResultPublisher, timeout time.Duration, logger zerolog.Logger) *Processor {
	if timeout <= 0 {
		timeout = defaultInferenceTimeout
	}
	return &Processor{
		store:     store,
		enhancer:  enhancer,
		publisher: publisher,
		timeout:   timeout,
		logger:    logger,
	}
}

// Process claims the job by moving it to processing. If the claim is
// rejected another invocation owns the job and Process returns nil without
// touching it. Once claimed, exactly one terminal transition is attempted.
func (p *Processor) Process(ctx context.Context, jobID string) (err error) {
	log := p.logger.With().Str("job_id", jobID).Logger()

	job, err := p.store.Transition(ctx, jobID, domain.Transition{To: domain.JobStatusProcessing})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Info().Msg("job already claimed, skipping")
			return nil
		}
		return fmt.Errorf("claim job %s: %w", jobID, err)
	}
	log.Info().Str("job_type", string(job.Type)).Msg("job started")

	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Msg("job panicked")
			p.fail(ctx, log, jobID, &domain.ProcessingError{Stage: "processing", Err: fmt.Errorf("internal error")})
			err = nil
		}
	}()

	urls, perr := p.run(ctx, job)
	if perr != nil {
		log.Warn().Err(perr).Msg("job failed")
		p.fail(ctx, log, jobID, perr)
		return nil
	}

	finalCtx, cancel := detached(ctx)
	defer cancel()
	if _, err := p.store.Transition(finalCtx, jobID, domain.Transition{To: domain.JobStatusCompleted, Result: urls}); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Warn().Msg("completion lost to a concurrent terminal transition")
			return nil
		}
		log.Error().Err(err).Msg("failed to record completion")
		p.fail(ctx, log, jobID, &domain.ProcessingError{Stage: "persist result", Err: err})
		return nil
	}
	log.Info().Int("results", len(urls)).Msg("job completed")
	return nil
}

func (p *Processor) run(ctx context.Context, job *domain.Job) ([]string, error) {
	p.store.ReportProgress(ctx, job.ID, ProgressStarted)

	settings, err := jsoncfg.Decode(job.Settings)
	if err != nil {
		return nil, &domain.ProcessingError{Stage: "settings", Err: err}
	}
	settings.Normalize()

	enhanceCtx, cancel := context.WithTimeout(ctx, p.timeout)
	outputs, err := p.enhancer.Enhance(enhanceCtx, image.EnhanceRequest{
		JobID:    job.ID,
		InputURL: job.InputReference,
		JobType:  job.Type,
		Settings: settings,
		Locale:   job.Locale,
	})
	cancel()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			err = fmt.Errorf("inference timed out after %s", p.timeout)
		}
		return nil, &domain.ProcessingError{Stage: "inference", Err: err}
	}
	if len(outputs) == 0 {
		return nil, &domain.ProcessingError{Stage: "inference", Err: errors.New("provider returned no images")}
	}
	p.store.ReportProgress(ctx, job.ID, ProgressEnhanced)

	artifacts := make([]storage.Artifact, len(outputs))
	for i, o := range outputs {
		artifacts[i] = storage.Artifact{SourceURL: o.URL, Data: o.Data}
	}
	publishCtx, cancel := context.WithTimeout(ctx, p.timeout)
	urls, err := p.publisher.Publish(publishCtx, job.ID, artifacts)
	cancel()
	if err != nil {
		return nil, &domain.ProcessingError{Stage: "upload", Err: err}
	}
	p.store.ReportProgress(ctx, job.ID, ProgressPublished)
	return urls, nil
}

func (p *Processor) fail(ctx context.Context, log zerolog.Logger, jobID string, cause error) {
	finalCtx, cancel := detached(ctx)
	defer cancel()
	_, err := p.store.Transition(finalCtx, jobID, domain.Transition{To: domain.JobStatusFailed, Error: failureMessage(cause)})
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrInvalidTransition):
		log.Warn().Msg("failure lost to a concurrent terminal transition")
	default:
		log.Error().Err(err).Msg("failed to record job failure")
	}
}

// detached keeps terminal writes alive when the worker is shutting down.
func detached(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), finalizeTimeout)
}

func failureMessage(err error) string {
	msg := strings.TrimSpace(err.Error())
	if msg == "" {
		msg = "processing failed"
	}
	if len(msg) > maxErrorMessageLength {
		msg = strings.ToValidUTF8(msg[:maxErrorMessageLength], "")
	}
	return msg
}
