// Package latest holds the in-process cache of each device's most
// recent ingested stat. It exists so the single-device dashboard fast
// path never touches the database. The cache is an explicit object
// handed to the handlers, not package state, and it hands out copies:
// callers never see a live reference.
package latest

import (
	"sync"

	"github.com/pistat/pistat/internal/store"
)

// Cache maps device id -> most recent stat projection.
type Cache struct {
	mu     sync.RWMutex
	latest map[int64]store.LatestStat
}

// NewCache creates an empty cache.
func NewCache() *Cache {
	return &Cache{latest: make(map[int64]store.LatestStat)}
}

// Set stores a copy of the stat for the device.
func (c *Cache) Set(deviceID int64, stat store.LatestStat) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latest[deviceID] = copyStat(stat)
}

// Get returns a copy of the cached stat for the device. The second
// return is false when the device has never been seen.
func (c *Cache) Get(deviceID int64) (store.LatestStat, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	stat, ok := c.latest[deviceID]
	if !ok {
		return store.LatestStat{}, false
	}
	return copyStat(stat), true
}

// Forget drops a device from the cache. Called after retention sweeps
// so pruned devices don't linger in memory.
func (c *Cache) Forget(deviceID int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.latest, deviceID)
}

// copyStat deep-copies the reference fields so a cached value and a
// returned value never share memory.
func copyStat(stat store.LatestStat) store.LatestStat {
	out := stat
	if stat.NetworkStats != nil {
		out.NetworkStats = make([]store.NetworkStat, len(stat.NetworkStats))
		for i, ns := range stat.NetworkStats {
			cp := ns
			if ns.Speed != nil {
				speed := *ns.Speed
				cp.Speed = &speed
			}
			if ns.MTU != nil {
				mtu := *ns.MTU
				cp.MTU = &mtu
			}
			out.NetworkStats[i] = cp
		}
	}
	return out
}
