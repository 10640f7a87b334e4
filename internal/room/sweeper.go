package room

import (
	"context"
	"time"
)

// Sweep periodically marks expired rooms until ctx is cancelled. The lazy
// rewrite on read already guarantees the externally observable contract;
// the sweeper only bounds how long a dead room sits in its last stored
// state between reads. Run it under an errgroup from main.
func (m *Manager) Sweep(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if n := m.sweepExpired(ctx); n > 0 {
				m.logger.Debug("swept expired rooms", "count", n)
			}
		}
	}
}
