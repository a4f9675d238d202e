package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cwygoda/songbridge/internal/domain"
)

// DefaultMaxJobs caps the registry when no limit is given.
const DefaultMaxJobs = 10000

type entry struct {
	mu  sync.RWMutex
	job domain.Job
	// removed is set by Prune once the entry is no longer in the map.
	removed bool
}

// Store implements domain.CompletionStore in process memory.
//
// The map lock guards only lookup and insertion; each entry has its own
// lock, so writes to different jobs never contend.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry
	maxJobs int
	now     func() time.Time
}

// Option configures a Store.
type Option func(*Store)

// WithMaxJobs sets the maximum number of tracked jobs.
func WithMaxJobs(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.maxJobs = n
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// New creates an empty Store.
func New(opts ...Option) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		maxJobs: DefaultMaxJobs,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Store) lookup(id string) *entry {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[id]
}

// entryFor returns the entry for id, creating a pending one if needed.
func (s *Store) entryFor(id string) (*entry, error) {
	if e := s.lookup(id); e != nil {
		return e, nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if e, ok := s.entries[id]; ok {
		return e, nil
	}
	if len(s.entries) >= s.maxJobs {
		return nil, domain.ErrRegistryFull
	}
	now := s.now()
	e := &entry{job: domain.Job{
		ID:        id,
		Status:    domain.StatusPending,
		CreatedAt: now,
		UpdatedAt: now,
	}}
	s.entries[id] = e
	return e, nil
}

// Track registers a pending job. Tracking a known job is a no-op.
func (s *Store) Track(ctx context.Context, id string) error {
	_, err := s.entryFor(id)
	return err
}

// Get returns a copy of the job.
func (s *Store) Get(ctx context.Context, id string) (*domain.Job, error) {
	e := s.lookup(id)
	if e == nil {
		return nil, domain.ErrJobNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.job.Clone(), nil
}

// Complete marks the job complete unless it is already terminal.
func (s *Store) Complete(ctx context.Context, id string, res domain.Result) error {
	return s.transition(id, func(job *domain.Job) error {
		return job.Complete(res, s.now())
	})
}

// Fail marks the job failed unless it is already terminal.
func (s *Store) Fail(ctx context.Context, id string, reason string) error {
	return s.transition(id, func(job *domain.Job) error {
		return job.Fail(reason, s.now())
	})
}

// transition applies fn to the live entry for id. An entry pruned between
// lookup and locking is replaced by a fresh one.
func (s *Store) transition(id string, fn func(*domain.Job) error) error {
	for {
		e, err := s.entryFor(id)
		if err != nil {
			return err
		}
		e.mu.Lock()
		if e.removed {
			e.mu.Unlock()
			continue
		}
		err = fn(&e.job)
		e.mu.Unlock()
		return err
	}
}

// ListPending returns up to limit pending jobs, newest first.
func (s *Store) ListPending(ctx context.Context, limit int) ([]domain.Job, error) {
	s.mu.RLock()
	var jobs []domain.Job
	for _, e := range s.entries {
		e.mu.RLock()
		if e.job.Status == domain.StatusPending {
			jobs = append(jobs, *e.job.Clone())
		}
		e.mu.RUnlock()
	}
	s.mu.RUnlock()

	sort.Slice(jobs, func(i, j int) bool {
		return jobs[i].CreatedAt.After(jobs[j].CreatedAt)
	})
	if limit > 0 && len(jobs) > limit {
		jobs = jobs[:limit]
	}
	return jobs, nil
}

// Prune deletes terminal jobs last updated before terminalBefore and
// pending jobs created before pendingBefore.
func (s *Store) Prune(ctx context.Context, terminalBefore, pendingBefore time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for id, e := range s.entries {
		e.mu.Lock()
		expired := (e.job.Terminal() && e.job.UpdatedAt.Before(terminalBefore)) ||
			(!e.job.Terminal() && e.job.CreatedAt.Before(pendingBefore))
		if expired {
			e.removed = true
			delete(s.entries, id)
			removed++
		}
		e.mu.Unlock()
	}
	return removed, nil
}

// Len returns the number of tracked jobs.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

var _ domain.CompletionStore = (*Store)(nil)
