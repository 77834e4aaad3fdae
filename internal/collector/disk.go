// Disk collector — gathers root filesystem usage in GiB.
// Uses gopsutil for cross-platform disk metrics.
package collector

import (
	"context"
	"math"

	"github.com/shirou/gopsutil/v3/disk"

	"github.com/pistat/pistat/internal/models"
)

// toGiB converts bytes to GiB rounded to two decimals, matching the
// units the server stores and the dashboard displays.
func toGiB(bytes uint64) float64 {
	return math.Round(float64(bytes)/(1<<30)*100) / 100
}

// round2 rounds to two decimals.
func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

// DiskCollector collects usage of the root filesystem.
type DiskCollector struct{}

// NewDiskCollector creates a new disk collector.
func NewDiskCollector() *DiskCollector {
	return &DiskCollector{}
}

// Name returns the collector identifier.
func (c *DiskCollector) Name() string { return "disk" }

// Collect gathers root filesystem usage in GiB rounded to two decimals.
func (c *DiskCollector) Collect(ctx context.Context) (interface{}, error) {
	usage, err := disk.UsageWithContext(ctx, "/")
	if err != nil {
		return nil, err
	}

	var pct float64
	if usage.Total > 0 {
		pct = round2(float64(usage.Used) / float64(usage.Total) * 100)
	}

	return models.DiskStats{
		Total:      toGiB(usage.Total),
		Used:       toGiB(usage.Used),
		Free:       toGiB(usage.Free),
		Percentage: pct,
	}, nil
}

// IsAvailable returns true — disk metrics are available on all platforms.
func (c *DiskCollector) IsAvailable() bool { return true }
