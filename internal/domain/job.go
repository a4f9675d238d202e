package domain

import (
	"strings"
	"time"
)

// JobStatus represents the completion state of a generation job.
type JobStatus string

const (
	StatusPending  JobStatus = "pending"
	StatusComplete JobStatus = "complete"
	StatusFailed   JobStatus = "failed"
)

// DefaultTitle is used when the provider delivers a track without a title.
const DefaultTitle = "Untitled"

// Result is the payload of a completed job.
type Result struct {
	AudioURL string
	ImageURL string
	Title    string
}

// Job is one generation request tracked from submission to terminal outcome.
type Job struct {
	ID            string
	Status        JobStatus
	Result        *Result
	FailureReason string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Terminal reports whether the job has reached complete or failed.
func (j *Job) Terminal() bool {
	return j.Status == StatusComplete || j.Status == StatusFailed
}

// Complete moves a pending job to complete. It returns ErrAlreadyTerminal
// and leaves the job untouched if the job is already terminal.
func (j *Job) Complete(res Result, now time.Time) error {
	if j.Terminal() {
		return ErrAlreadyTerminal
	}
	if res.Title == "" {
		res.Title = DefaultTitle
	}
	j.Status = StatusComplete
	j.Result = &res
	j.FailureReason = ""
	j.UpdatedAt = now
	return nil
}

// Fail moves a pending job to failed.
func (j *Job) Fail(reason string, now time.Time) error {
	if j.Terminal() {
		return ErrAlreadyTerminal
	}
	j.Status = StatusFailed
	j.Result = nil
	j.FailureReason = reason
	j.UpdatedAt = now
	return nil
}

// Clone returns a deep copy safe to hand to readers.
func (j *Job) Clone() *Job {
	c := *j
	if j.Result != nil {
		r := *j.Result
		c.Result = &r
	}
	return &c
}

// GenerateRequest holds the caller's generation inputs.
type GenerateRequest struct {
	Prompt       string
	Style        string
	Title        string
	Instrumental bool
}

// Validate checks the request constraints.
func (r GenerateRequest) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return ErrInvalidPrompt
	}
	return nil
}

// PollPolicy bounds a long-poll: at most MaxAttempts observations with
// Interval between consecutive ones.
type PollPolicy struct {
	MaxAttempts int
	Interval    time.Duration
}

// Validate checks MaxAttempts >= 1 and Interval > 0.
func (p PollPolicy) Validate() error {
	if p.MaxAttempts < 1 || p.Interval <= 0 {
		return ErrInvalidPollPolicy
	}
	return nil
}

// Budget is the longest time a poll under this policy can wait.
func (p PollPolicy) Budget() time.Duration {
	return time.Duration(p.MaxAttempts) * p.Interval
}
