package memory

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cwygoda/songbridge/internal/domain"
)

func TestStore_TrackAndGet(t *testing.T) {
	s := New()
	ctx := context.Background()

	if _, err := s.Get(ctx, "abc"); !errors.Is(err, domain.ErrJobNotFound) {
		t.Errorf("Get() error = %v, want %v", err, domain.ErrJobNotFound)
	}

	if err := s.Track(ctx, "abc"); err != nil {
		t.Fatalf("Track() error = %v", err)
	}
	job, err := s.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != domain.StatusPending || job.ID != "abc" {
		t.Errorf("Get() = %+v, want pending abc", job)
	}

	// Tracking again keeps the existing record.
	s.Complete(ctx, "abc", domain.Result{AudioURL: "u"})
	s.Track(ctx, "abc")
	if job, _ := s.Get(ctx, "abc"); job.Status != domain.StatusComplete {
		t.Errorf("Track() reset a terminal job: %+v", job)
	}
}

func TestStore_GetReturnsCopy(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Complete(ctx, "abc", domain.Result{AudioURL: "u1"})

	job, _ := s.Get(ctx, "abc")
	job.Result.AudioURL = "changed"
	job.Status = domain.StatusPending

	again, _ := s.Get(ctx, "abc")
	if again.Result.AudioURL != "u1" || again.Status != domain.StatusComplete {
		t.Errorf("stored job mutated through returned copy: %+v", again)
	}
}

func TestStore_CompleteCreatesLazily(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Complete(ctx, "early", domain.Result{AudioURL: "u1", Title: "T"}); err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	job, err := s.Get(ctx, "early")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if job.Status != domain.StatusComplete || job.Result.Title != "T" {
		t.Errorf("Get() = %+v, want complete", job)
	}
}

func TestStore_FirstTerminalWriteWins(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.Fail(ctx, "abc", "rejected"); err != nil {
		t.Fatalf("Fail() error = %v", err)
	}
	if err := s.Complete(ctx, "abc", domain.Result{AudioURL: "u"}); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Errorf("Complete() error = %v, want %v", err, domain.ErrAlreadyTerminal)
	}
	if err := s.Fail(ctx, "abc", "again"); !errors.Is(err, domain.ErrAlreadyTerminal) {
		t.Errorf("Fail() error = %v, want %v", err, domain.ErrAlreadyTerminal)
	}

	job, _ := s.Get(ctx, "abc")
	if job.Status != domain.StatusFailed || job.FailureReason != "rejected" {
		t.Errorf("Get() = %+v, want first failure", job)
	}
}

func TestStore_ConcurrentCompletions(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Track(ctx, "race")

	const writers = 32
	var wg sync.WaitGroup
	var wins atomic.Int32
	for i := 0; i < writers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			err := s.Complete(ctx, "race", domain.Result{AudioURL: fmt.Sprintf("u%d", i)})
			if err == nil {
				wins.Add(1)
			} else if !errors.Is(err, domain.ErrAlreadyTerminal) {
				t.Errorf("Complete() error = %v", err)
			}
		}(i)
	}
	wg.Wait()

	if wins.Load() != 1 {
		t.Errorf("%d writers won, want exactly 1", wins.Load())
	}
}

func TestStore_ConcurrentDistinctJobs(t *testing.T) {
	s := New()
	ctx := context.Background()

	const jobs = 64
	var wg sync.WaitGroup
	for i := 0; i < jobs; i++ {
		wg.Add(2)
		id := fmt.Sprintf("job-%d", i)
		go func() {
			defer wg.Done()
			s.Track(ctx, id)
		}()
		go func() {
			defer wg.Done()
			s.Complete(ctx, id, domain.Result{AudioURL: "u-" + id})
		}()
	}
	wg.Wait()

	if s.Len() != jobs {
		t.Fatalf("Len() = %d, want %d", s.Len(), jobs)
	}
	for i := 0; i < jobs; i++ {
		id := fmt.Sprintf("job-%d", i)
		job, err := s.Get(ctx, id)
		if err != nil || job.Status != domain.StatusComplete || job.Result.AudioURL != "u-"+id {
			t.Errorf("Get(%s) = %+v, %v", id, job, err)
		}
	}
}

func TestStore_MaxJobs(t *testing.T) {
	s := New(WithMaxJobs(2))
	ctx := context.Background()

	s.Track(ctx, "a")
	s.Track(ctx, "b")
	if err := s.Track(ctx, "c"); !errors.Is(err, domain.ErrRegistryFull) {
		t.Errorf("Track() error = %v, want %v", err, domain.ErrRegistryFull)
	}
	if err := s.Complete(ctx, "c", domain.Result{AudioURL: "u"}); !errors.Is(err, domain.ErrRegistryFull) {
		t.Errorf("Complete() error = %v, want %v", err, domain.ErrRegistryFull)
	}
	// Known jobs still accept writes at capacity.
	if err := s.Complete(ctx, "a", domain.Result{AudioURL: "u"}); err != nil {
		t.Errorf("Complete() on known job error = %v", err)
	}
}

func TestStore_ListPending(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	s := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	for i, id := range []string{"old", "mid", "new"} {
		now = base.Add(time.Duration(i) * time.Minute)
		s.Track(ctx, id)
	}
	s.Complete(ctx, "mid", domain.Result{AudioURL: "u"})

	jobs, err := s.ListPending(ctx, 10)
	if err != nil {
		t.Fatalf("ListPending() error = %v", err)
	}
	if len(jobs) != 2 || jobs[0].ID != "new" || jobs[1].ID != "old" {
		t.Errorf("ListPending() = %+v, want [new old]", jobs)
	}

	jobs, _ = s.ListPending(ctx, 1)
	if len(jobs) != 1 || jobs[0].ID != "new" {
		t.Errorf("ListPending(1) = %+v, want [new]", jobs)
	}
}

func TestStore_Prune(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	now := base
	s := New(WithClock(func() time.Time { return now }))
	ctx := context.Background()

	s.Track(ctx, "stale-pending")
	s.Complete(ctx, "old-done", domain.Result{AudioURL: "u"})
	now = base.Add(2 * time.Hour)
	s.Track(ctx, "fresh-pending")
	s.Fail(ctx, "fresh-failed", "x")

	removed, err := s.Prune(ctx, base.Add(time.Hour), base.Add(time.Hour))
	if err != nil {
		t.Fatalf("Prune() error = %v", err)
	}
	if removed != 2 {
		t.Errorf("Prune() removed %d, want 2", removed)
	}
	for _, id := range []string{"fresh-pending", "fresh-failed"} {
		if _, err := s.Get(ctx, id); err != nil {
			t.Errorf("Get(%s) error = %v", id, err)
		}
	}
	for _, id := range []string{"stale-pending", "old-done"} {
		if _, err := s.Get(ctx, id); !errors.Is(err, domain.ErrJobNotFound) {
			t.Errorf("Get(%s) error = %v, want %v", id, err, domain.ErrJobNotFound)
		}
	}
}

func TestStore_CompleteAfterConcurrentPrune(t *testing.T) {
	s := New()
	ctx := context.Background()
	s.Track(ctx, "abc")

	// Hold the entry so Complete blocks after its lookup, then evict it the
	// way Prune does.
	e := s.lookup("abc")
	e.mu.Lock()
	done := make(chan error, 1)
	go func() {
		done <- s.Complete(ctx, "abc", domain.Result{AudioURL: "u1"})
	}()
	time.Sleep(20 * time.Millisecond)

	s.mu.Lock()
	e.removed = true
	delete(s.entries, "abc")
	s.mu.Unlock()
	e.mu.Unlock()

	if err := <-done; err != nil {
		t.Fatalf("Complete() error = %v", err)
	}
	job, err := s.Get(ctx, "abc")
	if err != nil {
		t.Fatalf("Get() error = %v, completion was lost", err)
	}
	if job.Status != domain.StatusComplete || job.Result.AudioURL != "u1" {
		t.Errorf("Get() = %+v, want complete u1", job)
	}
}

func TestStore_PruneRacingCompletions(t *testing.T) {
	ctx := context.Background()
	past := time.Now().Add(-time.Hour)
	far := time.Now().Add(-48 * time.Hour)

	for round := 0; round < 200; round++ {
		s := New(WithClock(func() time.Time { return past }))
		id := fmt.Sprintf("job-%d", round)
		s.Track(ctx, id)

		var wg sync.WaitGroup
		var completeErr error
		wg.Add(2)
		go func() {
			defer wg.Done()
			completeErr = s.Complete(ctx, id, domain.Result{AudioURL: "u"})
		}()
		go func() {
			defer wg.Done()
			// Evicts pending entries only.
			s.Prune(ctx, far, time.Now())
		}()
		wg.Wait()

		if completeErr != nil {
			t.Fatalf("round %d: Complete() error = %v", round, completeErr)
		}
		job, err := s.Get(ctx, id)
		if err != nil || job.Status != domain.StatusComplete {
			t.Fatalf("round %d: completion lost: job=%+v err=%v", round, job, err)
		}
	}
}
