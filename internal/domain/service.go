package domain

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// IngestOutcome classifies what a callback did to the registry.
type IngestOutcome string

const (
	IngestCompleted IngestOutcome = "completed"
	IngestFailed    IngestOutcome = "failed"
	IngestDuplicate IngestOutcome = "duplicate"
	IngestIgnored   IngestOutcome = "ignored"
	IngestMalformed IngestOutcome = "malformed"
	IngestError     IngestOutcome = "error"
)

// Poll outcomes reported to the Recorder.
const (
	ResolvedComplete  = "complete"
	ResolvedFailed    = "failed"
	ResolvedPending   = "pending"
	ResolvedCancelled = "cancelled"
	ResolvedError     = "error"
)

// Ingestion is the result of accepting a callback.
type Ingestion struct {
	JobID   string
	Outcome IngestOutcome
}

// Option configures a BridgeService.
type Option func(*BridgeService)

// WithRecorder sets the outcome recorder.
func WithRecorder(r Recorder) Option {
	return func(s *BridgeService) {
		if r != nil {
			s.rec = r
		}
	}
}

// BridgeService correlates provider callbacks with poll requests.
type BridgeService struct {
	store CompletionStore
	gen   Generator
	rec   Recorder

	mu     sync.RWMutex
	latest string
}

// NewBridgeService creates a new BridgeService.
func NewBridgeService(store CompletionStore, gen Generator, opts ...Option) *BridgeService {
	s := &BridgeService{
		store: store,
		gen:   gen,
		rec:   nopRecorder{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Submit sends the request to the provider and tracks the returned job.
func (s *BridgeService) Submit(ctx context.Context, req GenerateRequest) (*Job, error) {
	if err := req.Validate(); err != nil {
		s.rec.Submitted(err)
		return nil, err
	}

	id, err := s.gen.Submit(ctx, req)
	s.rec.Submitted(err)
	if err != nil {
		return nil, err
	}

	if err := s.store.Track(ctx, id); err != nil {
		return nil, fmt.Errorf("track job %s: %w", id, err)
	}

	s.mu.Lock()
	s.latest = id
	s.mu.Unlock()

	return s.store.Get(ctx, id)
}

// Ingest applies a provider callback to the registry. Only the first
// terminal callback for a job takes effect; later ones are reported as
// IngestDuplicate.
func (s *BridgeService) Ingest(ctx context.Context, cb Callback) (Ingestion, error) {
	if err := cb.Validate(); err != nil {
		s.rec.Ingested(IngestMalformed)
		return Ingestion{JobID: cb.JobID, Outcome: IngestMalformed}, err
	}
	if cb.Intermediate() {
		s.rec.Ingested(IngestIgnored)
		return Ingestion{JobID: cb.JobID, Outcome: IngestIgnored}, nil
	}

	id, err := s.correlate(ctx, cb)
	if errors.Is(err, ErrMalformedCallback) {
		s.rec.Ingested(IngestMalformed)
		return Ingestion{Outcome: IngestMalformed}, err
	} else if err != nil {
		s.rec.Ingested(IngestError)
		return Ingestion{Outcome: IngestError}, err
	}

	in := Ingestion{JobID: id}
	if cb.Failed() {
		in.Outcome = IngestFailed
		err = s.store.Fail(ctx, id, cb.Message)
	} else {
		in.Outcome = IngestCompleted
		err = s.store.Complete(ctx, id, cb.Result())
	}

	if errors.Is(err, ErrAlreadyTerminal) {
		in.Outcome = IngestDuplicate
	} else if err != nil {
		s.rec.Ingested(IngestError)
		in.Outcome = IngestError
		return in, fmt.Errorf("record callback for job %s: %w", id, err)
	}

	s.rec.Ingested(in.Outcome)
	return in, nil
}

// correlate finds the job a callback belongs to. A callback without a
// task id is accepted only when exactly one job is pending.
func (s *BridgeService) correlate(ctx context.Context, cb Callback) (string, error) {
	if cb.JobID != "" {
		return cb.JobID, nil
	}
	pending, err := s.store.ListPending(ctx, 2)
	if err != nil {
		return "", fmt.Errorf("list pending: %w", err)
	}
	if len(pending) != 1 {
		return "", fmt.Errorf("%w: missing task id with %d pending jobs", ErrMalformedCallback, len(pending))
	}
	return pending[0].ID, nil
}

// Get returns the current record for a job without waiting.
func (s *BridgeService) Get(ctx context.Context, id string) (*Job, error) {
	return s.store.Get(ctx, id)
}

// Latest returns the id of the job most recently submitted through this
// service, or "" if none.
func (s *BridgeService) Latest() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.latest
}

// Await observes the registry up to policy.MaxAttempts times, sleeping
// policy.Interval between observations, until the job is terminal.
//
// A complete job is returned with a nil error. A failed job is returned
// together with a *JobFailedError. If no observation sees a terminal job,
// the error wraps ErrStillPending. An empty id targets Latest().
func (s *BridgeService) Await(ctx context.Context, id string, policy PollPolicy) (*Job, error) {
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	if id == "" {
		if id = s.Latest(); id == "" {
			return nil, fmt.Errorf("%w: nothing submitted yet", ErrJobNotFound)
		}
	}

	start := time.Now()
	for attempt := 1; ; attempt++ {
		job, err := s.store.Get(ctx, id)
		if err != nil && !errors.Is(err, ErrJobNotFound) {
			s.rec.Resolved(ResolvedError, time.Since(start))
			return nil, fmt.Errorf("observe job %s: %w", id, err)
		}
		if err == nil && job.Terminal() {
			if job.Status == StatusFailed {
				s.rec.Resolved(ResolvedFailed, time.Since(start))
				return job, &JobFailedError{JobID: id, Reason: job.FailureReason}
			}
			s.rec.Resolved(ResolvedComplete, time.Since(start))
			return job, nil
		}

		if attempt >= policy.MaxAttempts {
			s.rec.Resolved(ResolvedPending, time.Since(start))
			return nil, fmt.Errorf("%w: job %s after %d attempts", ErrStillPending, id, attempt)
		}

		if err := sleep(ctx, policy.Interval); err != nil {
			s.rec.Resolved(ResolvedCancelled, time.Since(start))
			return nil, err
		}
	}
}

// Prune evicts terminal jobs older than terminalTTL and pending jobs older
// than pendingTTL.
func (s *BridgeService) Prune(ctx context.Context, terminalTTL, pendingTTL time.Duration) (int64, error) {
	now := time.Now()
	return s.store.Prune(ctx, now.Add(-terminalTTL), now.Add(-pendingTTL))
}

func sleep(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
