package worker

import (
	"context"
	"log/slog"
	"time"

	"github.com/custodia-labs/integrations-core/internal/core/ports/driven"
)

// DefaultSweepInterval matches the lifetime of a pending authorization.
const DefaultSweepInterval = driven.OAuthStateTTL

// Sweeper drops expired pending authorizations on a fixed interval. States
// from abandoned flows are otherwise never consumed.
type Sweeper struct {
	states   driven.OAuthStateStore
	interval time.Duration
	logger   *slog.Logger
}

// NewSweeper creates a sweeper. A non-positive interval uses
// DefaultSweepInterval.
func NewSweeper(states driven.OAuthStateStore, interval time.Duration, logger *slog.Logger) *Sweeper {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Sweeper{states: states, interval: interval, logger: logger}
}

// Run sweeps once, then on every tick until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if err := s.states.Cleanup(ctx); err != nil && ctx.Err() == nil {
			s.logger.Warn("failed to sweep expired oauth states", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}
