// Throttle collector — gathers the firmware throttling status word.
// The value is an opaque hex code like "0x50000"; it is passed through
// to the server untouched and is nil on non-Pi hardware.
package collector

import (
	"context"
)

// ThrottleCollector collects the vcgencmd throttled status.
type ThrottleCollector struct{}

// NewThrottleCollector creates a new throttle collector.
func NewThrottleCollector() *ThrottleCollector {
	return &ThrottleCollector{}
}

// Name returns the collector identifier.
func (c *ThrottleCollector) Name() string { return "throttled" }

// Collect returns the throttled status code as a *string, nil when the
// firmware query fails.
func (c *ThrottleCollector) Collect(ctx context.Context) (interface{}, error) {
	out, err := vcgencmd(ctx, "get_throttled")
	if err != nil {
		return (*string)(nil), nil
	}
	code := afterEquals(out)
	return &code, nil
}

// IsAvailable returns true only when vcgencmd exists on this host.
func (c *ThrottleCollector) IsAvailable() bool { return vcgencmdAvailable() }
