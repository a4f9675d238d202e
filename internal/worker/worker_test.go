package worker

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/cwygoda/songbridge/internal/adapter/memory"
	"github.com/cwygoda/songbridge/internal/domain"
)

// mockPruner implements Pruner for testing.
type mockPruner struct {
	mu          sync.Mutex
	calls       int
	terminalTTL time.Duration
	pendingTTL  time.Duration
	err         error
}

func (m *mockPruner) Prune(ctx context.Context, terminalTTL, pendingTTL time.Duration) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls++
	m.terminalTTL = terminalTTL
	m.pendingTTL = pendingTTL
	return 1, m.err
}

func (m *mockPruner) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

func TestJanitor_Sweeps(t *testing.T) {
	pruner := &mockPruner{}
	j := New(pruner, 5*time.Millisecond, time.Hour, 24*time.Hour, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	j.Run(ctx)

	if pruner.count() < 2 {
		t.Errorf("Prune called %d times, want at least 2", pruner.count())
	}
	if pruner.terminalTTL != time.Hour || pruner.pendingTTL != 24*time.Hour {
		t.Errorf("Prune TTLs = %v/%v, want 1h/24h", pruner.terminalTTL, pruner.pendingTTL)
	}
}

func TestJanitor_StopsOnCancel(t *testing.T) {
	pruner := &mockPruner{}
	j := New(pruner, time.Hour, time.Hour, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		j.Run(ctx)
		close(done)
	}()

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run() did not return after cancel")
	}
	if pruner.count() != 0 {
		t.Errorf("Prune called %d times before first tick", pruner.count())
	}
}

func TestJanitor_KeepsRunningAfterError(t *testing.T) {
	pruner := &mockPruner{err: errors.New("database is locked")}
	j := New(pruner, 5*time.Millisecond, time.Hour, time.Hour, zerolog.Nop())

	ctx, cancel := context.WithTimeout(context.Background(), 40*time.Millisecond)
	defer cancel()
	j.Run(ctx)

	if pruner.count() < 2 {
		t.Errorf("Prune called %d times, want sweeps to continue after errors", pruner.count())
	}
}

func TestJanitor_PrunesRegistry(t *testing.T) {
	ctx := context.Background()
	store := memory.New(memory.WithClock(func() time.Time { return time.Now().Add(-2 * time.Hour) }))
	store.Complete(ctx, "old", domain.Result{AudioURL: "u"})
	svc := domain.NewBridgeService(store, nil)

	j := New(svc, time.Hour, time.Hour, 24*time.Hour, zerolog.Nop())
	j.sweep(ctx)

	if store.Len() != 0 {
		t.Errorf("store.Len() = %d after sweep, want 0", store.Len())
	}
}
