// CPU collector — gathers overall utilization and clock frequency.
// Uses gopsutil for cross-platform CPU metrics.
package collector

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
)

// CPUResult holds the collected CPU data. Frequency follows the wire
// convention "NNN.NN MHz", with "N/A" when the clock cannot be read.
type CPUResult struct {
	UsagePercent float64
	Frequency    string
}

// CPUCollector collects CPU usage and frequency.
type CPUCollector struct{}

// NewCPUCollector creates a new CPU collector.
func NewCPUCollector() *CPUCollector {
	return &CPUCollector{}
}

// Name returns the collector identifier.
func (c *CPUCollector) Name() string { return "cpu" }

// Collect gathers CPU usage and frequency. The usage measurement blocks
// for 1 second to compute an accurate percentage.
func (c *CPUCollector) Collect(ctx context.Context) (interface{}, error) {
	usage, err := cpu.PercentWithContext(ctx, time.Second, false)
	if err != nil {
		return nil, err
	}

	result := CPUResult{Frequency: "N/A"}
	if len(usage) > 0 {
		result.UsagePercent = usage[0]
	}

	// Frequency is best-effort: some SBC kernels expose no cpufreq info.
	if infos, err := cpu.InfoWithContext(ctx); err == nil && len(infos) > 0 && infos[0].Mhz > 0 {
		result.Frequency = fmt.Sprintf("%.2f MHz", infos[0].Mhz)
	}

	return result, nil
}

// IsAvailable returns true — CPU metrics are available on all platforms.
func (c *CPUCollector) IsAvailable() bool { return true }
