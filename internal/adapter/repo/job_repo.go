package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"photojobs/internal/domain"
	"photojobs/internal/infra"
	"photojobs/internal/sqlinline"
)

// JobRepositoryPG implements domain.JobRepository on PostgreSQL.
type JobRepositoryPG struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a new job repository backed by PostgreSQL.
func NewJobRepository(sql infra.SQLExecutor) *JobRepositoryPG {
	return &JobRepositoryPG{sql: sql}
}

// Create inserts a new job record.
func (r *JobRepositoryPG) Create(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("job is nil")
	}
	_, err := r.sql.Exec(ctx, sqlinline.QInsertJob,
		job.ID,
		job.OwnerID,
		job.InputReference,
		string(job.Type),
		nullableJSON(job.Settings),
		job.Locale,
		string(job.Status),
		job.Progress,
		job.CreatedAt,
	)
	return err
}

// Get fetches a job by its identifier.
func (r *JobRepositoryPG) Get(ctx context.Context, id string) (*domain.Job, error) {
	job, err := scanJob(r.sql.QueryRow(ctx, sqlinline.QSelectJob, id))
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, err
	}
	return job, nil
}

// Transition loads the record, applies t in memory and writes it back with a
// conditional update on from.
func (r *JobRepositoryPG) Transition(ctx context.Context, id string, from domain.JobStatus, t domain.Transition) (*domain.Job, error) {
	current, err := r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if current.Status != from {
		return nil, domain.ErrInvalidTransition
	}
	next := current.Clone()
	if err := next.Apply(t); err != nil {
		return nil, err
	}

	var result []byte
	if len(next.Result) > 0 {
		if result, err = json.Marshal(next.Result); err != nil {
			return nil, fmt.Errorf("encode result: %w", err)
		}
	}
	row := r.sql.QueryRow(ctx, sqlinline.QTransitionJob,
		id,
		string(from),
		string(next.Status),
		next.Progress,
		result,
		nullableString(next.Error),
		next.StartedAt,
		next.CompletedAt,
		next.UpdatedAt,
	)
	updated, err := scanJob(row)
	if err != nil {
		if infra.IsNoRows(err) {
			return nil, r.classifyMiss(ctx, id)
		}
		return nil, err
	}
	return updated, nil
}

// classifyMiss decides why a conditional update matched no row.
func (r *JobRepositoryPG) classifyMiss(ctx context.Context, id string) error {
	var status string
	if err := r.sql.QueryRow(ctx, sqlinline.QSelectJobStatus, id).Scan(&status); err != nil {
		if infra.IsNoRows(err) {
			return domain.ErrNotFound
		}
		return err
	}
	return domain.ErrInvalidTransition
}

// UpdateProgress records progress while processing; other states are left alone.
func (r *JobRepositoryPG) UpdateProgress(ctx context.Context, id string, progress int) error {
	_, err := r.sql.Exec(ctx, sqlinline.QUpdateJobProgress, id, progress)
	return err
}

// CountByStatus groups jobs by status.
func (r *JobRepositoryPG) CountByStatus(ctx context.Context) (map[domain.JobStatus]int, error) {
	rows, err := r.sql.Query(ctx, sqlinline.QCountJobsByStatus)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[domain.JobStatus]int)
	for rows.Next() {
		var (
			status string
			count  int
		)
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		out[domain.JobStatus(status)] = count
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*domain.Job, error) {
	var (
		job         domain.Job
		jobType     string
		status      string
		settings    []byte
		result      []byte
		errMsg      *string
		startedAt   *time.Time
		completedAt *time.Time
	)
	if err := row.Scan(
		&job.ID,
		&job.OwnerID,
		&job.InputReference,
		&jobType,
		&settings,
		&job.Locale,
		&status,
		&job.Progress,
		&result,
		&errMsg,
		&job.CreatedAt,
		&startedAt,
		&completedAt,
		&job.UpdatedAt,
	); err != nil {
		return nil, err
	}
	job.Type = domain.JobType(jobType)
	job.Status = domain.JobStatus(status)
	if len(settings) > 0 {
		job.Settings = json.RawMessage(settings)
	}
	if len(result) > 0 {
		if err := json.Unmarshal(result, &job.Result); err != nil {
			return nil, fmt.Errorf("decode result: %w", err)
		}
	}
	if errMsg != nil {
		job.Error = *errMsg
	}
	job.StartedAt = startedAt
	job.CompletedAt = completedAt
	return &job, nil
}

func nullableJSON(b json.RawMessage) []byte {
	if len(b) == 0 {
		return nil
	}
	return b
}

func nullableString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

var _ domain.JobRepository = (*JobRepositoryPG)(nil)
