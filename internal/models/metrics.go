// Package models defines the metric data structures shared by the agent
// and the server. These structures are serialized to JSON for transmission
// over the wire protocol.
package models

import "time"

// ProtocolVersion is the wire protocol version. The server rejects any
// request whose X-Client-Version header does not match this string exactly.
const ProtocolVersion = "1.2.0"

// VersionHeader is the HTTP header carrying the client protocol version.
const VersionHeader = "X-Client-Version"

// MetricSnapshot represents a single point-in-time collection of all
// system metrics. Snapshots are immutable once assembled: they are either
// delivered to the server or persisted verbatim in the local queue.
type MetricSnapshot struct {
	Timestamp    time.Time           `json:"timestamp"`
	CPU          CPUStats            `json:"cpu"`
	Memory       MemoryStats         `json:"memory"`
	Disk         DiskStats           `json:"disk"`
	Network      NetworkStats        `json:"network"`
	TemperatureC float64             `json:"temperature"`
	Throttled    *string             `json:"throttled"`
	Voltages     map[string]*float64 `json:"voltages"`
	UptimeSecs   float64             `json:"uptime"`
}

// CPUStats holds CPU usage and clock frequency. Frequency is a
// human-readable string like "1500.00 MHz", or "N/A" when unavailable.
type CPUStats struct {
	UsagePercent float64 `json:"usage"`
	Frequency    string  `json:"frequency"`
}

// MemoryStats holds RAM usage in GiB (rounded to two decimals).
type MemoryStats struct {
	Total      float64 `json:"total"`
	Used       float64 `json:"used"`
	Available  float64 `json:"available"`
	Percentage float64 `json:"percentage"`
}

// DiskStats holds root filesystem usage in GiB (rounded to two decimals).
type DiskStats struct {
	Total      float64 `json:"total"`
	Used       float64 `json:"used"`
	Free       float64 `json:"free"`
	Percentage float64 `json:"percentage"`
}

// NetworkStats holds machine-wide counters plus per-interface detail for
// every active, non-virtual interface.
type NetworkStats struct {
	Total      IOCounters                `json:"total"`
	Interfaces map[string]InterfaceStats `json:"interfaces"`
}

// IOCounters holds cumulative byte and packet counters since boot.
type IOCounters struct {
	BytesSent   uint64 `json:"bytes_sent"`
	BytesRecv   uint64 `json:"bytes_recv"`
	PacketsSent uint64 `json:"packets_sent"`
	PacketsRecv uint64 `json:"packets_recv"`
}

// InterfaceStats holds counters and link state for one network interface.
// Speed and MTU are nil when the OS does not report them.
type InterfaceStats struct {
	BytesSent   uint64   `json:"bytes_sent"`
	BytesRecv   uint64   `json:"bytes_recv"`
	PacketsSent uint64   `json:"packets_sent"`
	PacketsRecv uint64   `json:"packets_recv"`
	Speed       *int     `json:"speed"`
	MTU         *int     `json:"mtu"`
	IsUp        bool     `json:"is_up"`
	Addresses   []string `json:"addresses,omitempty"`
}

// RegisterRequest is the payload for POST /api/register.
type RegisterRequest struct {
	DeviceUID  string `json:"device_uid"`
	DeviceName string `json:"device_name,omitempty"`
	Hostname   string `json:"hostname,omitempty"`
}

// RegisterResponse is the server's reply to a successful registration.
type RegisterResponse struct {
	Status   string `json:"status"`
	DeviceID int64  `json:"device_id"`
}

// DataRequest is the payload for POST /api/data: one snapshot tagged
// with the device it belongs to.
type DataRequest struct {
	DeviceID int64           `json:"device_id"`
	Metrics  *MetricSnapshot `json:"metrics"`
}

// ErrorResponse is the structured JSON error body returned by the server.
// ClientVersion and ServerVersion are populated only for version-gate
// rejections.
type ErrorResponse struct {
	Error         string `json:"error"`
	ClientVersion string `json:"client_version,omitempty"`
	ServerVersion string `json:"server_version,omitempty"`
}
