// Package retention purges stored request records once they fall outside the
// configured retention window.
//
// The janitor runs as a background goroutine and respects context
// cancellation for graceful shutdown.
package retention

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/skinsight/skinsight/internal/store"
)

// MinInterval is the shortest accepted purge interval.
const MinInterval = time.Minute

// DefaultInterval applies when the configured interval is below MinInterval.
const DefaultInterval = time.Hour

// Janitor periodically purges records older than its retention window.
type Janitor struct {
	store     store.Store
	retention time.Duration
	interval  time.Duration
	now       func() time.Time
}

// NewJanitor creates a janitor that keeps records for retention and sweeps
// every interval.
func NewJanitor(s store.Store, retention, interval time.Duration) *Janitor {
	if interval < MinInterval {
		interval = DefaultInterval
	}
	return &Janitor{
		store:     s,
		retention: retention,
		interval:  interval,
		now:       time.Now,
	}
}

// Start runs the janitor until ctx is canceled. It sweeps once immediately.
func (j *Janitor) Start(ctx context.Context) {
	log.Info().
		Dur("retention", j.retention).
		Dur("interval", j.interval).
		Msg("Retention janitor started")

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	j.RunCycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Retention janitor stopped")
			return
		case <-ticker.C:
			j.RunCycle(ctx)
		}
	}
}

// RunCycle performs one purge sweep and returns the number of records removed.
func (j *Janitor) RunCycle(ctx context.Context) int {
	start := j.now()
	cutoff := start.Add(-j.retention)

	purged, err := j.store.Purge(ctx, cutoff)
	if err != nil {
		log.Warn().Err(err).Msg("Retention janitor: purge failed")
		return 0
	}
	if purged > 0 {
		log.Info().
			Int("purged_records", purged).
			Time("cutoff", cutoff).
			Dur("elapsed", time.Since(start)).
			Msg("Retention cycle complete")
	}
	return purged
}
