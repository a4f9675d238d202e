package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Pruner evicts expired registry records.
type Pruner interface {
	Prune(ctx context.Context, terminalTTL, pendingTTL time.Duration) (int64, error)
}

// Janitor periodically prunes the completion registry.
type Janitor struct {
	pruner      Pruner
	interval    time.Duration
	terminalTTL time.Duration
	pendingTTL  time.Duration
	logger      zerolog.Logger
}

// New creates a new janitor.
func New(pruner Pruner, interval, terminalTTL, pendingTTL time.Duration, logger zerolog.Logger) *Janitor {
	return &Janitor{
		pruner:      pruner,
		interval:    interval,
		terminalTTL: terminalTTL,
		pendingTTL:  pendingTTL,
		logger:      logger.With().Str("component", "janitor").Logger(),
	}
}

// Run starts the prune loop until context is cancelled.
func (j *Janitor) Run(ctx context.Context) {
	j.logger.Info().Dur("interval", j.interval).Msg("janitor started")
	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			j.logger.Info().Msg("janitor shutting down")
			return
		case <-ticker.C:
			j.sweep(ctx)
		}
	}
}

func (j *Janitor) sweep(ctx context.Context) {
	removed, err := j.pruner.Prune(ctx, j.terminalTTL, j.pendingTTL)
	if err != nil {
		if ctx.Err() == nil {
			j.logger.Error().Err(err).Msg("prune failed")
		}
		return
	}
	if removed > 0 {
		j.logger.Info().Int64("removed", removed).Msg("pruned registry")
	}
}
