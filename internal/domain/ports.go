package domain

import (
	"context"
	"time"
)

// CompletionStore is the driven port for the completion registry.
//
// Complete and Fail create the record when it does not exist yet, and
// return ErrAlreadyTerminal without touching state when it is terminal.
type CompletionStore interface {
	Track(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*Job, error)
	Complete(ctx context.Context, id string, res Result) error
	Fail(ctx context.Context, id string, reason string) error
	ListPending(ctx context.Context, limit int) ([]Job, error)
	Prune(ctx context.Context, terminalBefore, pendingBefore time.Time) (int64, error)
}

// Generator is the driven port for the remote generation provider.
type Generator interface {
	Submit(ctx context.Context, req GenerateRequest) (string, error)
}

// Recorder observes bridge outcomes, typically for metrics.
type Recorder interface {
	Submitted(err error)
	Ingested(outcome IngestOutcome)
	Resolved(outcome string, waited time.Duration)
}

type nopRecorder struct{}

func (nopRecorder) Submitted(error)                {}
func (nopRecorder) Ingested(IngestOutcome)         {}
func (nopRecorder) Resolved(string, time.Duration) {}
