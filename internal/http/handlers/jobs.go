package handlers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"photojobs/internal/domain"
	"photojobs/internal/jobs"
	"photojobs/internal/middleware"
	"photojobs/pkg/zip"
)

// MaxRequestBodyBytes bounds POST /v1/jobs payloads.
const MaxRequestBodyBytes = 64 << 10

type createJobResponse struct {
	JobID  string `json:"jobId"`
	Status string `json:"status"`
}

type jobView struct {
	JobID          string          `json:"jobId"`
	OwnerID        string          `json:"ownerId"`
	JobType        string          `json:"jobType"`
	InputReference string          `json:"inputReference"`
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

func newJobView(job *domain.Job) jobView {
	v := jobView{
		JobID:          job.ID,
		OwnerID:        job.OwnerID,
		JobType:        string(job.Type),
		InputReference: job.InputReference,
		Locale:         job.Locale,
		Status:         string(job.Status),
		Progress:       job.Progress,
		CreatedAt:      job.CreatedAt,
		StartedAt:      job.StartedAt,
		CompletedAt:    job.CompletedAt,
		UpdatedAt:      job.UpdatedAt,
	}
	if len(job.Settings) > 0 {
		v.Settings = job.Settings
	}
	switch job.Status {
	case domain.JobStatusCompleted:
		v.Result = job.Result
	case domain.JobStatusFailed:
		v.Error = job.Error
	}
	return v
}

func (a *App) CreateJob(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxRequestBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			a.error(w, http.StatusBadRequest, "REQUEST_TOO_LARGE", fmt.Sprintf("request body must be at most %d bytes", MaxRequestBodyBytes))
			return
		}
		a.error(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "could not read request body")
		return
	}
	var req jobs.SubmitRequest
	if err := json.Unmarshal(bytes.TrimSpace(body), &req); err != nil {
		a.error(w, http.StatusBadRequest, "INVALID_REQUEST_BODY", "request body must be a JSON object")
		return
	}
	req.Locale = middleware.LocaleFromContext(r.Context())

	job, err := a.Jobs.Submit(r.Context(), req, middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		a.writeJobError(w, r, err, job)
		return
	}
	w.Header().Set("Location", "/v1/jobs/"+job.ID)
	a.json(w, http.StatusCreated, createJobResponse{JobID: job.ID, Status: string(job.Status)})
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	job, err := a.Jobs.Status(r.Context(), chi.URLParam(r, "jobId"), middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		a.writeJobError(w, r, err, nil)
		return
	}
	w.Header().Set("Cache-Control", "no-store")
	a.json(w, http.StatusOK, newJobView(job))
}

func (a *App) JobArchive(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "jobId")
	entries, err := a.Jobs.ArchiveEntries(r.Context(), jobID, middleware.PrincipalFromContext(r.Context()))
	if err != nil {
		a.writeJobError(w, r, err, nil)
		return
	}
	var buf bytes.Buffer
	if err := zip.Write(&buf, entries); err != nil {
		a.log(r).Error().Err(err).Str("job_id", jobID).Msg("build archive failed")
		a.error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "failed to build archive")
		return
	}
	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=job-%s.zip", jobID))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (a *App) writeJobError(w http.ResponseWriter, r *http.Request, err error, job *domain.Job) {
	var (
		verr  *domain.ValidationError
		limit *domain.LimitError
	)
	switch {
	case errors.As(err, &verr):
		a.json(w, http.StatusBadRequest, errorResponse{Error: verr.Message, Code: verr.Code, Field: verr.Field})
	case errors.Is(err, domain.ErrUnauthenticated):
		a.error(w, http.StatusUnauthorized, "UNAUTHENTICATED", "authentication required")
	case errors.Is(err, domain.ErrAccessDenied):
		a.error(w, http.StatusForbidden, "ACCESS_DENIED", "you do not have access to this job")
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, http.StatusNotFound, "JOB_NOT_FOUND", "job not found")
	case errors.As(err, &limit):
		code := "RATE_LIMIT_EXCEEDED"
		if errors.Is(err, domain.ErrBurstLimitExceeded) {
			code = "BURST_LIMIT_EXCEEDED"
		}
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds(limit.RetryAfter)))
		a.error(w, http.StatusTooManyRequests, code, limit.Error())
	case errors.Is(err, jobs.ErrNotCompleted):
		a.error(w, http.StatusConflict, "JOB_NOT_COMPLETED", "job has no results yet")
	case errors.Is(err, jobs.ErrQueueUnavailable):
		a.log(r).Error().Err(err).Msg("job dispatch failed")
		resp := errorResponse{Error: "processing queue is unavailable, try again later", Code: "QUEUE_UNAVAILABLE"}
		if job != nil {
			resp.JobID = job.ID
		}
		w.Header().Set("Retry-After", "30")
		a.json(w, http.StatusServiceUnavailable, resp)
	case errors.Is(err, domain.ErrStorage):
		a.log(r).Error().Err(err).Msg("job storage failed")
		a.error(w, http.StatusInternalServerError, "STORAGE_ERROR", "job storage is unavailable")
	default:
		a.log(r).Error().Err(err).Msg("unexpected job error")
		a.error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "internal error")
	}
}

func retryAfterSeconds(d time.Duration) int {
	if secs := int(math.Ceil(d.Seconds())); secs > 1 {
		return secs
	}
	return 1
}
