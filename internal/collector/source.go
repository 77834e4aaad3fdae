package collector

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/pistat/pistat/internal/models"
)

// collectTimeout bounds a full collection pass. The CPU collector blocks
// for one second to sample utilization, so this must stay well above that.
const collectTimeout = 10 * time.Second

// Source assembles complete MetricSnapshots from registry results.
// A missing or failed collector leaves its category at the typed
// default (zero struct, nil pointer, empty map) — one dead sensor
// never drops a snapshot.
type Source struct {
	registry *Registry
	logger   *zap.Logger
}

// NewSource creates a Source on top of the given registry.
func NewSource(registry *Registry, logger *zap.Logger) *Source {
	return &Source{registry: registry, logger: logger}
}

// DefaultSource builds a Source with the full collector set registered.
func DefaultSource(logger *zap.Logger) *Source {
	registry := NewRegistry(logger)
	registry.Register(NewCPUCollector())
	registry.Register(NewMemoryCollector())
	registry.Register(NewDiskCollector())
	registry.Register(NewNetworkCollector())
	registry.Register(NewTemperatureCollector(logger))
	registry.Register(NewThrottleCollector())
	registry.Register(NewVoltageCollector())
	registry.Register(NewUptimeCollector())
	return NewSource(registry, logger)
}

// Snapshot runs all collectors and assembles one MetricSnapshot.
func (s *Source) Snapshot(ctx context.Context) models.MetricSnapshot {
	collectCtx, cancel := context.WithTimeout(ctx, collectTimeout)
	defer cancel()

	results := s.registry.CollectAll(collectCtx)

	snapshot := models.MetricSnapshot{
		Timestamp: time.Now().UTC(),
		CPU:       models.CPUStats{Frequency: "N/A"},
		Network:   models.NetworkStats{Interfaces: map[string]models.InterfaceStats{}},
		Voltages:  map[string]*float64{},
	}

	if data, ok := results["cpu"]; ok {
		if cpu, ok := data.(CPUResult); ok {
			snapshot.CPU = models.CPUStats{
				UsagePercent: cpu.UsagePercent,
				Frequency:    cpu.Frequency,
			}
		}
	}
	if data, ok := results["memory"]; ok {
		if mem, ok := data.(models.MemoryStats); ok {
			snapshot.Memory = mem
		}
	}
	if data, ok := results["disk"]; ok {
		if disk, ok := data.(models.DiskStats); ok {
			snapshot.Disk = disk
		}
	}
	if data, ok := results["network"]; ok {
		if net, ok := data.(models.NetworkStats); ok {
			snapshot.Network = net
		}
	}
	if data, ok := results["temperature"]; ok {
		if temp, ok := data.(float64); ok {
			snapshot.TemperatureC = temp
		}
	}
	if data, ok := results["throttled"]; ok {
		if code, ok := data.(*string); ok {
			snapshot.Throttled = code
		}
	}
	if data, ok := results["voltages"]; ok {
		if volts, ok := data.(map[string]*float64); ok {
			snapshot.Voltages = volts
		}
	}
	if data, ok := results["uptime"]; ok {
		if uptime, ok := data.(float64); ok {
			snapshot.UptimeSecs = uptime
		}
	}

	s.logger.Debug("Collected metrics", zap.Time("timestamp", snapshot.Timestamp))
	return snapshot
}
