// Package collector samples system metrics and assembles them into
// MetricSnapshot values. Each sensor category is its own Collector;
// a Registry runs them concurrently and a Source merges the results.
package collector

import "context"

// Collector is the interface implemented by every metric collector.
type Collector interface {
	// Name returns the unique identifier for this collector.
	Name() string

	// Collect gathers the metric data and returns it.
	Collect(ctx context.Context) (interface{}, error)

	// IsAvailable checks if this collector can run on the current
	// platform. Collectors that return false are not registered.
	IsAvailable() bool
}
