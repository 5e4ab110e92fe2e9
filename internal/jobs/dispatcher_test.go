package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/hibiken/asynq"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingProcessor struct {
	mu      sync.Mutex
	seen    []string
	release chan struct{}
	ctxErr  []error
}

func (r *recordingProcessor) Process(ctx context.Context, jobID string) error {
	if r.release != nil {
		select {
		case <-r.release:
		case <-ctx.Done():
		}
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.seen = append(r.seen, jobID)
	r.ctxErr = append(r.ctxErr, ctx.Err())
	return nil
}

func (r *recordingProcessor) processed() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.seen...)
}

func TestPoolDispatcherRunsJobs(t *testing.T) {
	proc := &recordingProcessor{}
	pool := NewPoolDispatcher(proc, 2, 8, zerolog.Nop())
	pool.Start(context.Background())

	for _, id := range []string{"a", "b", "c"} {
		require.NoError(t, pool.Dispatch(context.Background(), id))
	}
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ElementsMatch(t, []string{"a", "b", "c"}, proc.processed())
}

func TestPoolDispatcherIgnoresRequestContext(t *testing.T) {
	proc := &recordingProcessor{}
	pool := NewPoolDispatcher(proc, 1, 1, zerolog.Nop())
	pool.Start(context.Background())

	reqCtx, cancel := context.WithCancel(context.Background())
	require.NoError(t, pool.Dispatch(reqCtx, "job"))
	cancel()

	require.NoError(t, pool.Shutdown(context.Background()))
	require.Len(t, proc.ctxErr, 1)
	assert.NoError(t, proc.ctxErr[0])
}

func TestPoolDispatcherQueueFull(t *testing.T) {
	release := make(chan struct{})
	proc := &recordingProcessor{release: release}
	pool := NewPoolDispatcher(proc, 1, 1, zerolog.Nop())
	pool.Start(context.Background())

	require.NoError(t, pool.Dispatch(context.Background(), "running"))
	require.Eventually(t, func() bool { return len(pool.queue) == 0 }, time.Second, 5*time.Millisecond)
	require.NoError(t, pool.Dispatch(context.Background(), "queued"))
	assert.ErrorIs(t, pool.Dispatch(context.Background(), "rejected"), ErrQueueFull)

	close(release)
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ElementsMatch(t, []string{"running", "queued"}, proc.processed())
}

func TestPoolDispatcherStopped(t *testing.T) {
	pool := NewPoolDispatcher(&recordingProcessor{}, 1, 1, zerolog.Nop())
	assert.ErrorIs(t, pool.Dispatch(context.Background(), "early"), ErrDispatcherStopped)

	pool.Start(context.Background())
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.ErrorIs(t, pool.Dispatch(context.Background(), "late"), ErrDispatcherStopped)
	assert.NoError(t, pool.Shutdown(context.Background()))
}

func TestPoolDispatcherRestartAfterShutdownRefused(t *testing.T) {
	proc := &recordingProcessor{}
	pool := NewPoolDispatcher(proc, 1, 1, zerolog.Nop())
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Start(context.Background()))
	require.NoError(t, pool.Shutdown(context.Background()))

	assert.NotPanics(t, func() {
		assert.ErrorIs(t, pool.Start(context.Background()), ErrDispatcherStopped)
		assert.ErrorIs(t, pool.Dispatch(context.Background(), "late"), ErrDispatcherStopped)
	})
	require.NoError(t, pool.Shutdown(context.Background()))
	assert.Empty(t, proc.processed())
}

func TestPoolDispatcherShutdownTimeoutCancelsJobs(t *testing.T) {
	proc := &recordingProcessor{release: make(chan struct{})}
	pool := NewPoolDispatcher(proc, 1, 4, zerolog.Nop())
	pool.Start(context.Background())
	require.NoError(t, pool.Dispatch(context.Background(), "stuck"))
	require.NoError(t, pool.Dispatch(context.Background(), "never"))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	err := pool.Shutdown(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"stuck"}, proc.processed())
}

func TestAsynqWorkerHandleTask(t *testing.T) {
	proc := &recordingProcessor{}
	w := &AsynqWorker{processor: proc, logger: zerolog.Nop()}

	body, err := json.Marshal(TaskPayload{JobID: "job-1"})
	require.NoError(t, err)
	require.NoError(t, w.HandleTask(context.Background(), asynq.NewTask(TaskTypeProcessPhoto, body)))
	assert.Equal(t, []string{"job-1"}, proc.processed())

	err = w.HandleTask(context.Background(), asynq.NewTask(TaskTypeProcessPhoto, []byte("{")))
	assert.True(t, errors.Is(err, asynq.SkipRetry))

	err = w.HandleTask(context.Background(), asynq.NewTask(TaskTypeProcessPhoto, []byte(`{}`)))
	assert.True(t, errors.Is(err, asynq.SkipRetry))
}

func TestNewAsynqDispatcherRejectsBadURL(t *testing.T) {
	_, err := NewAsynqDispatcher("http://not-redis", zerolog.Nop())
	assert.Error(t, err)
}
