package jobs

import (
	"context"
	"errors"
	"sync"

	"github.com/rs/zerolog"
)

var (
	// ErrQueueFull is returned when the pool's backlog is at capacity.
	ErrQueueFull = errors.New("job queue is full")
	// ErrDispatcherStopped is returned after Shutdown or before Start.
	ErrDispatcherStopped = errors.New("job dispatcher is not running")
)

// JobProcessor is what dispatchers ultimately invoke for each job id.
type JobProcessor interface {
	Process(ctx context.Context, jobID string) error
}

// Dispatcher hands a queued job to background processing without waiting
// for it to run.
type Dispatcher interface {
	Dispatch(ctx context.Context, jobID string) error
}

// PoolDispatcher runs jobs on a fixed number of goroutines fed by a bounded
// channel.
type PoolDispatcher struct {
	processor JobProcessor
	workers   int
	logger    zerolog.Logger

	mu      sync.RWMutex
	queue   chan string
	running bool
	stopped bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

func NewPoolDispatcher(processor JobProcessor, workers, queueSize int, logger zerolog.Logger) *PoolDispatcher {
	if workers < 1 {
		workers = 1
	}
	if queueSize < 1 {
		queueSize = 1
	}
	return &PoolDispatcher{
		processor: processor,
		workers:   workers,
		logger:    logger,
		queue:     make(chan string, queueSize),
	}
}

// Start launches the workers. Jobs run on a context derived from ctx, never
// on the context of the request that dispatched them. A pool is single use:
// Start after Shutdown returns ErrDispatcherStopped.
func (d *PoolDispatcher) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.stopped {
		return ErrDispatcherStopped
	}
	if d.running {
		return nil
	}
	workCtx, cancel := context.WithCancel(ctx)
	d.cancel = cancel
	d.running = true
	for i := 0; i < d.workers; i++ {
		d.wg.Add(1)
		go d.runWorker(workCtx, i)
	}
	d.logger.Info().Int("workers", d.workers).Int("queue_size", cap(d.queue)).Msg("job pool started")
	return nil
}

// Dispatch enqueues jobID and returns immediately.
func (d *PoolDispatcher) Dispatch(ctx context.Context, jobID string) error {
	d.mu.RLock()
	defer d.mu.RUnlock()
	if !d.running {
		return ErrDispatcherStopped
	}
	select {
	case d.queue <- jobID:
		return nil
	default:
		return ErrQueueFull
	}
}

// Shutdown stops accepting work and waits for the backlog to drain. When ctx
// expires first, in-flight jobs are cancelled and Shutdown returns ctx.Err().
func (d *PoolDispatcher) Shutdown(ctx context.Context) error {
	d.mu.Lock()
	if !d.running {
		d.mu.Unlock()
		return nil
	}
	d.running = false
	d.stopped = true
	close(d.queue)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.cancel()
		d.logger.Info().Msg("job pool drained")
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		d.logger.Warn().Msg("job pool stopped before backlog drained")
		return ctx.Err()
	}
}

func (d *PoolDispatcher) runWorker(ctx context.Context, id int) {
	defer d.wg.Done()
	for jobID := range d.queue {
		if ctx.Err() != nil {
			d.logger.Warn().Str("job_id", jobID).Msg("job left queued during shutdown")
			continue
		}
		if err := d.processor.Process(ctx, jobID); err != nil {
			d.logger.Error().Err(err).Int("worker", id).Str("job_id", jobID).Msg("job processing error")
		}
	}
}

var _ Dispatcher = (*PoolDispatcher)(nil)
