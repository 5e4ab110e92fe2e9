package repo

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"photojobs/internal/domain"
)

const (
	jobKeyPrefix       = "photojobs:job:"
	statusCountKey     = "photojobs:job_status_counts"
	maxTxRetries       = 8
	redisRecordVersion = 1
)

// redisRecord is the JSON document stored per job key.
type redisRecord struct {
	Version        int             `json:"v"`
	ID             string          `json:"id"`
	OwnerID        string          `json:"ownerId"`
	InputReference string          `json:"inputReference"`
	Type           string          `json:"jobType"`
	Settings       json.RawMessage `json:"settings,omitempty"`
	Locale         string          `json:"locale,omitempty"`
	Status         string          `json:"status"`
	Progress       int             `json:"progress"`
	Result         []string        `json:"result,omitempty"`
	Error          string          `json:"error,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	StartedAt      *time.Time      `json:"startedAt,omitempty"`
	CompletedAt    *time.Time      `json:"completedAt,omitempty"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

// JobRepositoryRedis stores each job as a JSON document and guards writes
// with WATCH on the job key.
type JobRepositoryRedis struct {
	rdb redis.UniversalClient
	ttl time.Duration
}

// NewRedisJobRepository creates a repository; ttl of zero keeps records forever.
func NewRedisJobRepository(rdb redis.UniversalClient, ttl time.Duration) *JobRepositoryRedis {
	return &JobRepositoryRedis{rdb: rdb, ttl: ttl}
}

func (r *JobRepositoryRedis) Create(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	payload, err := json.Marshal(toRedisRecord(job))
	if err != nil {
		return err
	}
	ok, err := r.rdb.SetNX(ctx, jobKey(job.ID), payload, r.ttl).Result()
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("job %s already exists", job.ID)
	}
	if err := r.rdb.HIncrBy(ctx, statusCountKey, string(job.Status), 1).Err(); err != nil {
		return err
	}
	return nil
}

func (r *JobRepositoryRedis) Get(ctx context.Context, id string) (*domain.Job, error) {
	return r.load(ctx, r.rdb, id)
}

func (r *JobRepositoryRedis) Transition(ctx context.Context, id string, from domain.JobStatus, t domain.Transition) (*domain.Job, error) {
	var updated *domain.Job
	err := r.update(ctx, id, func(job *domain.Job) (bool, error) {
		if job.Status != from {
			return false, domain.ErrInvalidTransition
		}
		if err := job.Apply(t); err != nil {
			return false, err
		}
		updated = job
		return true, nil
	}, func(pipe redis.Pipeliner) {
		pipe.HIncrBy(ctx, statusCountKey, string(from), -1)
		pipe.HIncrBy(ctx, statusCountKey, string(t.To), 1)
	})
	if err != nil {
		return nil, err
	}
	return updated.Clone(), nil
}

func (r *JobRepositoryRedis) UpdateProgress(ctx context.Context, id string, progress int) error {
	return r.update(ctx, id, func(job *domain.Job) (bool, error) {
		return applyProgress(job, progress), nil
	}, nil)
}

func (r *JobRepositoryRedis) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	raw, err := r.rdb.HGetAll(ctx, statusCountKey).Result()
	if err != nil {
		return nil, err
	}
	out := make(map[domain.JobStatus]int, len(raw))
	for status, v := range raw {
		var n int
		if _, err := fmt.Sscan(v, &n); err != nil {
			continue
		}
		if n > 0 {
			out[domain.JobStatus(status)] = n
		}
	}
	return out, nil
}

// update runs mutate inside an optimistic transaction. A concurrent write to
// the key aborts the EXEC and the mutation is re-evaluated on fresh state.
func (r *JobRepositoryRedis) update(ctx context.Context, id string, mutate func(*domain.Job) (bool, error), extra func(redis.Pipeliner)) error {
	key := jobKey(id)
	txf := func(tx *redis.Tx) error {
		job, err := r.load(ctx, tx, id)
		if err != nil {
			return err
		}
		changed, err := mutate(job)
		if err != nil || !changed {
			return err
		}
		payload, err := json.Marshal(toRedisRecord(job))
		if err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, redis.KeepTTL)
			if extra != nil {
				extra(pipe)
			}
			return nil
		})
		return err
	}

	for i := 0; i < maxTxRetries; i++ {
		err := r.rdb.Watch(ctx, txf, key)
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("job %s: too much write contention", id)
}

type stringGetter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func (r *JobRepositoryRedis) load(ctx context.Context, c stringGetter, id string) (*domain.Job, error) {
	data, err := c.Get(ctx, jobKey(id)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	var rec redisRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode job %s: %w", id, err)
	}
	return rec.toDomain(), nil
}

func toRedisRecord(job *domain.Job) redisRecord {
	return redisRecord{
		Version:        redisRecordVersion,
		ID:             job.ID,
		OwnerID:        job.OwnerID,
		InputReference: job.InputReference,
		Type:           string(job.Type),
		Settings:       job.Settings,
		Locale:         job.Locale,
		Status:         string(job.Status),
		Progress:       job.Progress,
		Result:         job.Result,
		Error:          job.Error,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		UpdatedAt:      job.UpdatedAt,
	}
}

func (rec redisRecord) toDomain() *domain.Job {
	return &domain.Job{
		ID:             rec.ID,
		OwnerID:        rec.OwnerID,
		InputReference: rec.InputReference,
		Type:           domain.JobType(rec.Type),
		Settings:       rec.Settings,
		Locale:         rec.Locale,
		Status:         domain.JobStatus(rec.Status),
		Progress:       rec.Progress,
		Result:         rec.Result,
		Error:          rec.Error,
		CreatedAt:      rec.CreatedAt,
		StartedAt:      rec.StartedAt,
		CompletedAt:    rec.CompletedAt,
		UpdatedAt:      rec.UpdatedAt,
	}
}

func jobKey(id string) string {
	return jobKeyPrefix + id
}

var _ domain.JobRepository = (*JobRepositoryRedis)(nil)
