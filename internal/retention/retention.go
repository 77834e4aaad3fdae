// Package retention implements the background sweeper that age-prunes
// historical stats and evicts devices that have gone silent.
package retention

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pistat/pistat/internal/latest"
	"github.com/pistat/pistat/internal/store"
)

// Sweeper periodically prunes aged data. The two prunes are
// independent: one failing never blocks the other.
type Sweeper struct {
	store      *store.Store
	cache      *latest.Cache
	retention  time.Duration
	inactivity time.Duration
	interval   time.Duration
	logger     *zap.Logger
}

// New creates a Sweeper. retention bounds the age of kept stats,
// inactivity bounds how long a device may stay silent before eviction,
// interval is the time between sweeps.
func New(st *store.Store, cache *latest.Cache, retention, inactivity, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:      st,
		cache:      cache,
		retention:  retention,
		inactivity: inactivity,
		interval:   interval,
		logger:     logger,
	}
}

// Run sweeps immediately and then once per interval until the context
// is cancelled. Always returns the context's error, so it slots into an
// errgroup next to the HTTP server.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.Sweep(time.Now().UTC())

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.Sweep(time.Now().UTC())
		}
	}
}

// Sweep runs both prunes once. Cutoffs are computed from now at sweep
// start, so data written while the sweep runs is never eligible.
func (s *Sweeper) Sweep(now time.Time) {
	statsCutoff := now.Add(-s.retention)
	deviceCutoff := now.Add(-s.inactivity)

	if removed, err := s.store.PruneStats(statsCutoff); err != nil {
		s.logger.Error("Stat prune failed", zap.Error(err))
	} else if removed > 0 {
		s.logger.Info("Pruned aged stats",
			zap.Int64("removed", removed),
			zap.Time("cutoff", statsCutoff))
	}

	staleDevices, err := s.staleDeviceIDs(deviceCutoff)
	if err != nil {
		s.logger.Error("Device prune failed", zap.Error(err))
		return
	}

	if removed, err := s.store.PruneDevices(deviceCutoff); err != nil {
		s.logger.Error("Device prune failed", zap.Error(err))
	} else if removed > 0 {
		for _, id := range staleDevices {
			s.cache.Forget(id)
		}
		s.logger.Info("Pruned inactive devices",
			zap.Int64("removed", removed),
			zap.Time("cutoff", deviceCutoff))
	}
}

// staleDeviceIDs lists the devices the prune is about to evict, so the
// latest cache can be cleared for exactly those.
func (s *Sweeper) staleDeviceIDs(cutoff time.Time) ([]int64, error) {
	devices, err := s.store.Devices()
	if err != nil {
		return nil, err
	}
	var stale []int64
	for _, d := range devices {
		if d.LastSeen.Before(cutoff) {
			stale = append(stale, d.ID)
		}
	}
	return stale, nil
}
