package domain

import (
	"errors"
	"testing"
	"time"
)

func TestJob_Terminal(t *testing.T) {
	tests := []struct {
		status JobStatus
		want   bool
	}{
		{StatusPending, false},
		{StatusComplete, true},
		{StatusFailed, true},
	}

	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			job := Job{Status: tt.status}
			if got := job.Terminal(); got != tt.want {
				t.Errorf("Terminal() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestJobStatus_Values(t *testing.T) {
	// Stored as-is by the sqlite backend and returned over the API.
	if StatusPending != "pending" {
		t.Errorf("StatusPending = %q, want %q", StatusPending, "pending")
	}
	if StatusComplete != "complete" {
		t.Errorf("StatusComplete = %q, want %q", StatusComplete, "complete")
	}
	if StatusFailed != "failed" {
		t.Errorf("StatusFailed = %q, want %q", StatusFailed, "failed")
	}
}

func TestJob_CompleteOnce(t *testing.T) {
	now := time.Now()
	job := Job{ID: "abc", Status: StatusPending}

	if err := job.Complete(Result{AudioURL: "u1", ImageURL: "i1", Title: "T"}, now); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	if job.Status != StatusComplete || job.Result.AudioURL != "u1" {
		t.Fatalf("job = %+v, want complete with u1", job)
	}

	err := job.Complete(Result{AudioURL: "u2"}, now.Add(time.Second))
	if !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("second Complete() error = %v, want %v", err, ErrAlreadyTerminal)
	}
	if err := job.Fail("late", now); !errors.Is(err, ErrAlreadyTerminal) {
		t.Errorf("Fail() after complete error = %v, want %v", err, ErrAlreadyTerminal)
	}
	if job.Result.AudioURL != "u1" || !job.UpdatedAt.Equal(now) {
		t.Errorf("terminal job mutated: %+v", job)
	}
}

func TestJob_CompleteDefaultsTitle(t *testing.T) {
	job := Job{Status: StatusPending}
	job.Complete(Result{AudioURL: "u"}, time.Now())
	if job.Result.Title != DefaultTitle {
		t.Errorf("Title = %q, want %q", job.Result.Title, DefaultTitle)
	}
}

func TestJob_Fail(t *testing.T) {
	job := Job{Status: StatusPending}
	if err := job.Fail("content policy", time.Now()); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if job.Status != StatusFailed || job.FailureReason != "content policy" || job.Result != nil {
		t.Errorf("job = %+v, want failed with reason", job)
	}
}

func TestJob_CloneIsDeep(t *testing.T) {
	job := Job{ID: "a", Status: StatusComplete, Result: &Result{AudioURL: "u"}}
	c := job.Clone()
	c.Result.AudioURL = "changed"
	if job.Result.AudioURL != "u" {
		t.Error("Clone() shares Result with original")
	}
}

func TestGenerateRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		req     GenerateRequest
		wantErr error
	}{
		{"prompt set", GenerateRequest{Prompt: "a song about rain"}, nil},
		{"empty prompt", GenerateRequest{}, ErrInvalidPrompt},
		{"blank prompt", GenerateRequest{Prompt: "   ", Instrumental: true}, ErrInvalidPrompt},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := tt.req.Validate(); !errors.Is(err, tt.wantErr) {
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestPollPolicy_Validate(t *testing.T) {
	tests := []struct {
		name   string
		policy PollPolicy
		valid  bool
	}{
		{"one attempt", PollPolicy{MaxAttempts: 1, Interval: time.Millisecond}, true},
		{"zero attempts", PollPolicy{MaxAttempts: 0, Interval: time.Second}, false},
		{"negative attempts", PollPolicy{MaxAttempts: -2, Interval: time.Second}, false},
		{"zero interval", PollPolicy{MaxAttempts: 3}, false},
		{"negative interval", PollPolicy{MaxAttempts: 3, Interval: -time.Second}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.policy.Validate()
			if tt.valid && err != nil {
				t.Errorf("Validate() error = %v, want nil", err)
			}
			if !tt.valid && !errors.Is(err, ErrInvalidPollPolicy) {
				t.Errorf("Validate() error = %v, want %v", err, ErrInvalidPollPolicy)
			}
		})
	}
}

func TestPollPolicy_Budget(t *testing.T) {
	p := PollPolicy{MaxAttempts: 15, Interval: 20 * time.Second}
	if got := p.Budget(); got != 5*time.Minute {
		t.Errorf("Budget() = %v, want 5m", got)
	}
}
