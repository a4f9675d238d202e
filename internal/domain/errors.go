package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidPrompt        = errors.New("prompt is required")
	ErrInvalidPollPolicy    = errors.New("poll policy requires max attempts >= 1 and interval > 0")
	ErrJobNotFound          = errors.New("job not found")
	ErrAlreadyTerminal      = errors.New("job already terminal")
	ErrRegistryFull         = errors.New("completion registry full")
	ErrUnauthorizedCallback = errors.New("unauthorized callback")

	ErrProviderRejected    = errors.New("provider rejected request")
	ErrProviderUnreachable = errors.New("provider unreachable")
	ErrMalformedCallback   = errors.New("malformed callback")
	ErrStillPending        = errors.New("still pending")
	ErrJobFailed           = errors.New("job failed")
)

// ProviderError describes a failed submission. Kind is either
// ErrProviderRejected or ErrProviderUnreachable.
type ProviderError struct {
	Kind       error
	Message    string
	StatusCode int
	Err        error
}

func (e *ProviderError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *ProviderError) Is(target error) bool {
	return target == e.Kind
}

func (e *ProviderError) Unwrap() error {
	return e.Err
}

// JobFailedError carries the provider's reason for a failed job.
type JobFailedError struct {
	JobID  string
	Reason string
}

func (e *JobFailedError) Error() string {
	return fmt.Sprintf("job %s failed: %s", e.JobID, e.Reason)
}

func (e *JobFailedError) Is(target error) bool {
	return target == ErrJobFailed
}
