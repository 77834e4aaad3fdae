// Voltage collector — gathers per-rail voltages from the Pi firmware
// plus the battery current draw from the power-supply sysfs node when
// one exists. A rail that fails to read stays in the map as a nil
// entry, matching the typed-absent convention of the snapshot.
package collector

import (
	"context"
	"os"
	"strconv"
	"strings"
)

// voltageRails are the firmware rails queried via vcgencmd measure_volts.
var voltageRails = []string{"core", "sdram_c", "sdram_i", "sdram_p"}

// currentNowPath is the sysfs file reporting battery current in µA.
const currentNowPath = "/sys/class/power_supply/max17042/current_now"

// VoltageCollector collects voltage readings.
type VoltageCollector struct{}

// NewVoltageCollector creates a new voltage collector.
func NewVoltageCollector() *VoltageCollector {
	return &VoltageCollector{}
}

// Name returns the collector identifier.
func (c *VoltageCollector) Name() string { return "voltages" }

// Collect gathers the rail voltages and, if present, the amperage.
func (c *VoltageCollector) Collect(ctx context.Context) (interface{}, error) {
	voltages := make(map[string]*float64)

	for _, rail := range voltageRails {
		out, err := vcgencmd(ctx, "measure_volts", rail)
		if err != nil {
			voltages[rail] = nil
			continue
		}
		value := strings.TrimSuffix(afterEquals(out), "V")
		if v, err := strconv.ParseFloat(value, 64); err == nil {
			volts := v
			voltages[rail] = &volts
		} else {
			voltages[rail] = nil
		}
	}

	if amps, ok := readAmperage(); ok {
		voltages["amperage"] = &amps
	}

	return voltages, nil
}

// IsAvailable returns true only when vcgencmd exists on this host.
func (c *VoltageCollector) IsAvailable() bool { return vcgencmdAvailable() }

// readAmperage converts the sysfs µA reading to amps.
func readAmperage() (float64, bool) {
	data, err := os.ReadFile(currentNowPath)
	if err != nil {
		return 0, false
	}
	micro, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, false
	}
	return micro / 1e6, true
}
