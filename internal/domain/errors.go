package domain

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrAccessDenied       = errors.New("access denied")
	ErrUnauthenticated    = errors.New("unauthenticated")
	ErrInvalidTransition  = errors.New("invalid transition")
	ErrRateLimitExceeded  = errors.New("rate limit exceeded")
	ErrBurstLimitExceeded = errors.New("burst limit exceeded")
	ErrStorage            = errors.New("storage failure")
	ErrProcessingFailure  = errors.New("processing failure")
)

// ValidationError reports a client-fixable problem with a single field.
type ValidationError struct {
	Field   string
	Code    string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// StorageError wraps a persistence-layer failure.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

func (e *StorageError) Is(target error) bool { return target == ErrStorage }

// ProcessingError records which step of background processing failed.
type ProcessingError struct {
	Stage string
	Err   error
}

func (e *ProcessingError) Error() string {
	return fmt.Sprintf("%s: %v", e.Stage, e.Err)
}

func (e *ProcessingError) Unwrap() error { return e.Err }

func (e *ProcessingError) Is(target error) bool { return target == ErrProcessingFailure }

// LimitError is returned when the usage gate denies a request.
type LimitError struct {
	Reason     error
	RetryAfter time.Duration
}

func (e *LimitError) Error() string {
	return fmt.Sprintf("%v (retry after %s)", e.Reason, e.RetryAfter.Round(time.Second))
}

func (e *LimitError) Unwrap() error { return e.Reason }
