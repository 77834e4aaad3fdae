// Package store is the server's persistence layer: registered devices
// and their historical stats in SQLite via gorm.
package store

import "time"

// Device is a registered monitored machine, keyed externally by its
// hardware-derived UID. Deleted only by the retention sweeper.
type Device struct {
	ID         int64     `gorm:"primaryKey" json:"id"`
	DeviceUID  string    `gorm:"uniqueIndex;not null" json:"device_uid"`
	DeviceName string    `json:"device_name"`
	Hostname   string    `json:"hostname"`
	IPAddress  string    `json:"ip_address"`
	LastSeen   time.Time `json:"last_seen"`
}

// Stat is one persisted metric snapshot for a device.
type Stat struct {
	ID               int64     `gorm:"primaryKey" json:"id"`
	DeviceID         int64     `gorm:"index;not null" json:"device_id"`
	Timestamp        time.Time `gorm:"index" json:"timestamp"`
	CPUUsage         float64   `json:"cpu_usage"`
	CPUFrequency     string    `json:"cpu_frequency"`
	MemoryUsed       float64   `json:"memory_used"`
	MemoryTotal      float64   `json:"memory_total"`
	MemoryPercentage float64   `json:"memory_percentage"`
	DiskUsed         float64   `json:"disk_used"`
	DiskTotal        float64   `json:"disk_total"`
	DiskPercentage   float64   `json:"disk_percentage"`
	Temperature      float64   `json:"temperature"`
	Uptime           float64   `json:"uptime"`
}

// NetworkStat is the per-interface detail attached to one Stat row.
// Addresses holds the JSON-encoded IP list, matching the wire format.
type NetworkStat struct {
	ID            int64  `gorm:"primaryKey" json:"id"`
	StatID        int64  `gorm:"index;not null" json:"stat_id"`
	InterfaceName string `json:"interface_name"`
	BytesSent     uint64 `json:"bytes_sent"`
	BytesRecv     uint64 `json:"bytes_recv"`
	PacketsSent   uint64 `json:"packets_sent"`
	PacketsRecv   uint64 `json:"packets_recv"`
	Speed         *int   `json:"speed"`
	MTU           *int   `json:"mtu"`
	IsUp          bool   `json:"is_up"`
	Addresses     string `json:"addresses"`
}

// HistoryPoint is the trimmed projection served by the history API.
type HistoryPoint struct {
	Timestamp        time.Time `json:"timestamp"`
	CPUUsage         float64   `json:"cpu_usage"`
	MemoryPercentage float64   `json:"memory_percentage"`
	DiskPercentage   float64   `json:"disk_percentage"`
	Temperature      float64   `json:"temperature"`
}

// LatestStat is the newest stat for a device merged with the device
// record and the snapshot's network stats.
type LatestStat struct {
	Stat
	DeviceName   string        `json:"device_name"`
	Hostname     string        `json:"hostname"`
	IPAddress    string        `json:"ip_address"`
	NetworkStats []NetworkStat `json:"network_stats"`
}
