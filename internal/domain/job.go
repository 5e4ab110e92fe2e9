package domain

import (
	"encoding/json"
	"strings"
	"time"

	"golang.org/x/text/cases"
)

// JobType enumerates the processing styles a user can pick for a photo.
type JobType string

const (
	JobTypePerson   JobType = "person"
	JobTypeCouple   JobType = "couple"
	JobTypeFamily   JobType = "family"
	JobTypePet      JobType = "pet"
	JobTypeProduct  JobType = "product"
	JobTypeHeadshot JobType = "headshot"
	JobTypeRestore  JobType = "restore"
)

var jobTypes = []JobType{
	JobTypePerson,
	JobTypeCouple,
	JobTypeFamily,
	JobTypePet,
	JobTypeProduct,
	JobTypeHeadshot,
	JobTypeRestore,
}

var jobTypeFolder = cases.Fold()

// JobTypes returns the allow-list in display order.
func JobTypes() []JobType {
	out := make([]JobType, len(jobTypes))
	copy(out, jobTypes)
	return out
}

// ParseJobType resolves free-form input against the allow-list. Matching is
// case-insensitive and ignores surrounding whitespace.
func ParseJobType(raw string) (JobType, bool) {
	folded := jobTypeFolder.String(strings.TrimSpace(raw))
	if folded == "" {
		return "", false
	}
	for _, t := range jobTypes {
		if string(t) == folded {
			return t, true
		}
	}
	return "", false
}

// JobStatus enumerates job lifecycle states.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// Valid reports whether s is a known status.
func (s JobStatus) Valid() bool {
	switch s {
	case JobStatusQueued, JobStatusProcessing, JobStatusCompleted, JobStatusFailed:
		return true
	}
	return false
}

// CanTransitionTo reports whether next is a legal successor of s.
func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusQueued:
		return next == JobStatusProcessing
	case JobStatusProcessing:
		return next == JobStatusCompleted || next == JobStatusFailed
	default:
		return false
	}
}

// Job tracks a single photo-processing request from submission to terminal state.
type Job struct {
	ID             string
	OwnerID        string
	InputReference string
	Type           JobType
	Settings       json.RawMessage
	Locale         string
	Status         JobStatus
	Progress       int
	Result         []string
	Error          string
	CreatedAt      time.Time
	StartedAt      *time.Time
	CompletedAt    *time.Time
	UpdatedAt      time.Time
}

// Transition describes a requested state change on a job.
type Transition struct {
	To     JobStatus
	Result []string
	Error  string
	At     time.Time
}

// Apply mutates the job according to t. The job is left untouched when the
// transition is not allowed from its current status.
func (j *Job) Apply(t Transition) error {
	if !j.Status.CanTransitionTo(t.To) {
		return ErrInvalidTransition
	}
	at := t.At
	if at.IsZero() {
		at = time.Now().UTC()
	}
	switch t.To {
	case JobStatusProcessing:
		j.StartedAt = &at
	case JobStatusCompleted:
		if len(t.Result) == 0 {
			return ErrInvalidTransition
		}
		j.CompletedAt = &at
		j.Result = append([]string(nil), t.Result...)
		j.Error = ""
		j.Progress = 100
	case JobStatusFailed:
		msg := strings.TrimSpace(t.Error)
		if msg == "" {
			msg = "processing failed"
		}
		j.CompletedAt = &at
		j.Error = msg
		j.Result = nil
	}
	j.Status = t.To
	j.UpdatedAt = at
	return nil
}

// Clone returns a deep copy so callers cannot mutate shared records.
func (j *Job) Clone() *Job {
	if j == nil {
		return nil
	}
	out := *j
	if j.Settings != nil {
		out.Settings = append(json.RawMessage(nil), j.Settings...)
	}
	if j.Result != nil {
		out.Result = append([]string(nil), j.Result...)
	}
	if j.StartedAt != nil {
		t := *j.StartedAt
		out.StartedAt = &t
	}
	if j.CompletedAt != nil {
		t := *j.CompletedAt
		out.CompletedAt = &t
	}
	return &out
}
