// Temperature collector — gathers the SoC/CPU temperature. Tries the
// thermal zone sysfs file first, then vcgencmd, then gopsutil coretemp
// sensors. Reports 0.0 when no source is available so a dead sensor
// never drops the snapshot.
package collector

import (
	"context"
	"os"
	"strconv"
	"strings"

	"github.com/shirou/gopsutil/v3/host"
	"go.uber.org/zap"
)

// thermalZonePath is the standard Linux thermal zone for the SoC sensor.
const thermalZonePath = "/sys/class/thermal/thermal_zone0/temp"

// TemperatureCollector collects the CPU temperature in °C.
type TemperatureCollector struct {
	logger *zap.Logger
}

// NewTemperatureCollector creates a new temperature collector.
func NewTemperatureCollector(logger *zap.Logger) *TemperatureCollector {
	return &TemperatureCollector{logger: logger}
}

// Name returns the collector identifier.
func (c *TemperatureCollector) Name() string { return "temperature" }

// Collect gathers the CPU temperature, falling back through the
// available sources. Returns 0.0 when none works.
func (c *TemperatureCollector) Collect(ctx context.Context) (interface{}, error) {
	if temp, ok := c.fromThermalZone(); ok {
		return temp, nil
	}
	if temp, ok := c.fromFirmware(ctx); ok {
		return temp, nil
	}
	return c.fromSensors(ctx), nil
}

// IsAvailable returns true — always registered; reports 0.0 when no
// temperature source exists.
func (c *TemperatureCollector) IsAvailable() bool { return true }

// fromThermalZone reads the millidegree value from sysfs.
func (c *TemperatureCollector) fromThermalZone() (float64, bool) {
	data, err := os.ReadFile(thermalZonePath)
	if err != nil {
		return 0, false
	}
	milli, err := strconv.ParseFloat(strings.TrimSpace(string(data)), 64)
	if err != nil {
		return 0, false
	}
	return milli / 1000.0, true
}

// fromFirmware parses "temp=48.3'C" from vcgencmd measure_temp.
func (c *TemperatureCollector) fromFirmware(ctx context.Context) (float64, bool) {
	out, err := vcgencmd(ctx, "measure_temp")
	if err != nil {
		return 0, false
	}
	value := strings.TrimSuffix(afterEquals(out), "'C")
	temp, err := strconv.ParseFloat(value, 64)
	if err != nil {
		c.logger.Debug("Unparseable firmware temperature", zap.String("output", out))
		return 0, false
	}
	return temp, true
}

// fromSensors takes the hottest coretemp reading, or 0.0 when the host
// exposes no sensors.
func (c *TemperatureCollector) fromSensors(ctx context.Context) float64 {
	temps, err := host.SensorsTemperaturesWithContext(ctx)
	if err != nil {
		return 0
	}
	var max float64
	for _, t := range temps {
		if strings.Contains(strings.ToLower(t.SensorKey), "coretemp") && t.Temperature > max {
			max = t.Temperature
		}
	}
	return max
}
