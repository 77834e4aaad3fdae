// Package scheduler implements the tick-based collection loop. Each
// tick drains the local queue oldest-first, collects a fresh snapshot,
// and attempts immediate delivery; on failure the snapshot is queued.
// No error from collection or delivery ever stops the loop.
package scheduler

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/pistat/pistat/internal/identity"
	"github.com/pistat/pistat/internal/models"
	"github.com/pistat/pistat/internal/queue"
	"github.com/pistat/pistat/internal/transport"
)

// Snapshotter produces point-in-time metric snapshots.
type Snapshotter interface {
	Snapshot(ctx context.Context) models.MetricSnapshot
}

// Transport delivers snapshots and re-registers the device.
type Transport interface {
	Register(ctx context.Context, uid, name, hostname string) (int64, error)
	Send(ctx context.Context, deviceID int64, snapshot models.MetricSnapshot) error
}

// Store is the durable-queue surface the loop needs.
type Store interface {
	Enqueue(snapshot models.MetricSnapshot) error
	PeekOldestFirst() ([]queue.Queued, error)
	Remove(id uint64) error
}

// Scheduler runs the collection loop for one registered device.
type Scheduler struct {
	source    Snapshotter
	queue     Store
	transport Transport
	state     *identity.ClientState
	statePath string
	interval  time.Duration
	logger    *zap.Logger
}

// New creates a Scheduler. The state must already hold a valid device
// id — registration happens before the loop starts, and a failed
// registration is fatal to agent startup.
func New(source Snapshotter, q Store, t Transport, state *identity.ClientState, statePath string, interval time.Duration, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		source:    source,
		queue:     q,
		transport: t,
		state:     state,
		statePath: statePath,
		interval:  interval,
		logger:    logger,
	}
}

// Run executes the loop until the context is cancelled. The first tick
// runs immediately.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.tick(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Collection loop stopped")
			return
		case <-ticker.C:
			s.tick(ctx)
		}
	}
}

// tick performs one full cycle: drain queue, collect, deliver or queue.
func (s *Scheduler) tick(ctx context.Context) {
	s.drainQueue(ctx)

	snapshot := s.source.Snapshot(ctx)

	err := s.deliver(ctx, snapshot)
	if err == nil {
		return
	}

	var mismatch *transport.VersionMismatchError
	if errors.As(err, &mismatch) {
		// Operator action required. Queueing would grow forever since
		// the server will keep rejecting this client version.
		s.logger.Error("Server requires a client upgrade, dropping snapshot",
			zap.String("client_version", mismatch.ClientVersion),
			zap.String("server_version", mismatch.ServerVersion))
		return
	}

	s.logger.Warn("Delivery failed, queueing snapshot", zap.Error(err))
	if err := s.queue.Enqueue(snapshot); err != nil {
		s.logger.Error("Failed to queue snapshot", zap.Error(err))
	}
}

// drainQueue attempts delivery of all queued records in sequence order,
// stopping at the first failure. A record is removed only after its
// confirmed delivery, so a crash mid-drain never loses or reorders data.
func (s *Scheduler) drainQueue(ctx context.Context) {
	records, err := s.queue.PeekOldestFirst()
	if err != nil {
		s.logger.Error("Failed to read local queue", zap.Error(err))
		return
	}
	if len(records) == 0 {
		return
	}

	s.logger.Info("Draining local queue", zap.Int("pending", len(records)))

	for _, rec := range records {
		if err := s.deliver(ctx, rec.Snapshot); err != nil {
			s.logger.Warn("Queue drain stopped, will retry next tick",
				zap.Uint64("id", rec.ID),
				zap.Error(err))
			return
		}
		if err := s.queue.Remove(rec.ID); err != nil {
			// Do not continue past a record we could not remove:
			// moving on would risk delivering it twice next tick.
			s.logger.Error("Failed to remove delivered record",
				zap.Uint64("id", rec.ID),
				zap.Error(err))
			return
		}
		s.logger.Debug("Delivered queued record", zap.Uint64("id", rec.ID))
	}
}

// deliver sends one snapshot. An unknown device id means the local
// state went stale (the server pruned us); it triggers a single
// re-registration and resend instead of an infinite queue spiral.
// All other errors, version mismatch included, propagate to the caller.
func (s *Scheduler) deliver(ctx context.Context, snapshot models.MetricSnapshot) error {
	err := s.transport.Send(ctx, s.state.DeviceID, snapshot)
	if err == nil {
		return nil
	}

	if errors.Is(err, transport.ErrUnknownDevice) {
		s.logger.Warn("Server no longer knows this device, re-registering",
			zap.Int64("stale_device_id", s.state.DeviceID))
		if rerr := s.reregister(ctx); rerr != nil {
			return rerr
		}
		return s.transport.Send(ctx, s.state.DeviceID, snapshot)
	}

	return err
}

// reregister refreshes the device id after the server forgot us and
// persists the updated state.
func (s *Scheduler) reregister(ctx context.Context) error {
	hostname := identity.Hostname()
	deviceID, err := s.transport.Register(ctx, s.state.DeviceUID, hostname, hostname)
	if err != nil {
		return err
	}

	s.state.DeviceID = deviceID
	if err := identity.Save(s.statePath, s.state); err != nil {
		s.logger.Error("Failed to persist refreshed client state", zap.Error(err))
	}
	return nil
}
