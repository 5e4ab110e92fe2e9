package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
)

const (
	// TaskTypeProcessPhoto identifies photo processing tasks.
	TaskTypeProcessPhoto = "photo:process"
	// QueuePhotos is the asynq queue photo tasks are placed on.
	QueuePhotos = "photos"
)

// TaskPayload is the body of a photo processing task.
type TaskPayload struct {
	JobID string `json:"jobId"`
}

// AsynqDispatcher enqueues jobs on redis for a separate worker process.
type AsynqDispatcher struct {
	client *asynq.Client
	logger zerolog.Logger
}

func NewAsynqDispatcher(redisURL string, logger zerolog.Logger) (*AsynqDispatcher, error) {
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	return &AsynqDispatcher{client: asynq.NewClient(opt), logger: logger}, nil
}

// Dispatch enqueues a task keyed by the job id; enqueueing the same job twice
// is a no-op. Tasks are never retried by asynq, failures are recorded on the
// job instead.
func (d *AsynqDispatcher) Dispatch(ctx context.Context, jobID string) error {
	body, err := json.Marshal(TaskPayload{JobID: jobID})
	if err != nil {
		return err
	}
	task := asynq.NewTask(TaskTypeProcessPhoto, body)
	info, err := d.client.EnqueueContext(ctx, task,
		asynq.Queue(QueuePhotos),
		asynq.TaskID(jobID),
		asynq.MaxRetry(0),
	)
	if err != nil {
		if errors.Is(err, asynq.ErrTaskIDConflict) || errors.Is(err, asynq.ErrDuplicateTask) {
			d.logger.Info().Str("job_id", jobID).Msg("task already enqueued")
			return nil
		}
		return err
	}
	d.logger.Debug().Str("job_id", jobID).Str("task_id", info.ID).Str("queue", info.Queue).Msg("task enqueued")
	return nil
}

// Close releases the redis connection.
func (d *AsynqDispatcher) Close() error {
	return d.client.Close()
}

// AsynqWorker consumes photo tasks and hands them to a processor.
type AsynqWorker struct {
	server    *asynq.Server
	mux       *asynq.ServeMux
	processor JobProcessor
	logger    zerolog.Logger
}

func NewAsynqWorker(redisURL string, concurrency int, processor JobProcessor, logger zerolog.Logger) (*AsynqWorker, error) {
	if processor == nil {
		return nil, errors.New("processor is nil")
	}
	opt, err := asynq.ParseRedisURI(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}
	if concurrency < 1 {
		concurrency = 1
	}
	server := asynq.NewServer(opt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{QueuePhotos: 1},
		Logger:      asynqLogger{logger: logger},
	})
	w := &AsynqWorker{
		server:    server,
		mux:       asynq.NewServeMux(),
		processor: processor,
		logger:    logger,
	}
	w.mux.HandleFunc(TaskTypeProcessPhoto, w.HandleTask)
	return w, nil
}

// Start begins consuming tasks in the background. Signal handling is left
// to the caller, who stops the worker with Shutdown.
func (w *AsynqWorker) Start() error {
	return w.server.Start(w.mux)
}

// Shutdown waits for active tasks to finish and stops the server.
func (w *AsynqWorker) Shutdown() {
	w.server.Shutdown()
}

// HandleTask decodes the payload and processes the job.
func (w *AsynqWorker) HandleTask(ctx context.Context, task *asynq.Task) error {
	var payload TaskPayload
	if err := json.Unmarshal(task.Payload(), &payload); err != nil {
		return fmt.Errorf("decode payload: %w: %w", err, asynq.SkipRetry)
	}
	if payload.JobID == "" {
		return fmt.Errorf("missing jobId in payload: %w", asynq.SkipRetry)
	}
	return w.processor.Process(ctx, payload.JobID)
}

type asynqLogger struct {
	logger zerolog.Logger
}

func (l asynqLogger) Debug(args ...any) { l.logger.Debug().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Info(args ...any)  { l.logger.Info().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Warn(args ...any)  { l.logger.Warn().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Error(args ...any) { l.logger.Error().Msg(fmt.Sprint(args...)) }
func (l asynqLogger) Fatal(args ...any) { l.logger.Fatal().Msg(fmt.Sprint(args...)) }

var _ Dispatcher = (*AsynqDispatcher)(nil)
