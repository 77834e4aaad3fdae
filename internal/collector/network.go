// Network collector — gathers machine-wide counters plus per-interface
// stats for active physical interfaces. Uses gopsutil for counters and
// sysfs for link speed (Linux only; nil elsewhere).
package collector

import (
	"context"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	gnet "github.com/shirou/gopsutil/v3/net"

	"github.com/pistat/pistat/internal/models"
)

// virtualPrefixes are interface name prefixes that carry container or
// bridge traffic and are excluded from per-interface reporting.
var virtualPrefixes = []string{"veth", "docker", "br-"}

// NetworkCollector collects network counters and interface state.
type NetworkCollector struct{}

// NewNetworkCollector creates a new network collector.
func NewNetworkCollector() *NetworkCollector {
	return &NetworkCollector{}
}

// Name returns the collector identifier.
func (c *NetworkCollector) Name() string { return "network" }

// Collect gathers total counters and per-interface stats. Interfaces
// that are down, loopback, virtual, or have seen no traffic are skipped.
func (c *NetworkCollector) Collect(ctx context.Context) (interface{}, error) {
	total, err := gnet.IOCountersWithContext(ctx, false)
	if err != nil {
		return nil, err
	}

	result := models.NetworkStats{
		Interfaces: map[string]models.InterfaceStats{},
	}
	if len(total) > 0 {
		result.Total = models.IOCounters{
			BytesSent:   total[0].BytesSent,
			BytesRecv:   total[0].BytesRecv,
			PacketsSent: total[0].PacketsSent,
			PacketsRecv: total[0].PacketsRecv,
		}
	}

	perNIC, err := gnet.IOCountersWithContext(ctx, true)
	if err != nil {
		// Per-interface detail is best-effort; totals alone still ship.
		return result, nil
	}
	ifaces, err := gnet.InterfacesWithContext(ctx)
	if err != nil {
		return result, nil
	}

	result.Interfaces = buildInterfaces(perNIC, ifaces, sysfsLinkSpeed)
	return result, nil
}

// IsAvailable returns true — network metrics are available on all platforms.
func (c *NetworkCollector) IsAvailable() bool { return true }

// buildInterfaces merges per-NIC counters with interface state and applies
// the reporting filter: loopback, virtual, down, and idle interfaces are
// excluded.
func buildInterfaces(perNIC []gnet.IOCountersStat, ifaces []gnet.InterfaceStat, speedOf func(name string) *int) map[string]models.InterfaceStats {
	byName := make(map[string]gnet.InterfaceStat, len(ifaces))
	for _, i := range ifaces {
		byName[i.Name] = i
	}

	out := make(map[string]models.InterfaceStats)
	for _, nic := range perNIC {
		if nic.Name == "lo" || nic.BytesSent+nic.BytesRecv == 0 {
			continue
		}
		if hasVirtualPrefix(nic.Name) {
			continue
		}

		iface, known := byName[nic.Name]
		if !known || !isUp(iface) {
			continue
		}

		stats := models.InterfaceStats{
			BytesSent:   nic.BytesSent,
			BytesRecv:   nic.BytesRecv,
			PacketsSent: nic.PacketsSent,
			PacketsRecv: nic.PacketsRecv,
			IsUp:        true,
		}
		if iface.MTU > 0 {
			mtu := iface.MTU
			stats.MTU = &mtu
		}
		if speedOf != nil {
			stats.Speed = speedOf(nic.Name)
		}
		for _, addr := range iface.Addrs {
			if ip := stripPrefixLen(addr.Addr); ip != "" {
				stats.Addresses = append(stats.Addresses, ip)
			}
		}

		out[nic.Name] = stats
	}
	return out
}

func hasVirtualPrefix(name string) bool {
	for _, p := range virtualPrefixes {
		if strings.HasPrefix(name, p) {
			return true
		}
	}
	return false
}

func isUp(iface gnet.InterfaceStat) bool {
	for _, f := range iface.Flags {
		if f == "up" {
			return true
		}
	}
	return false
}

// stripPrefixLen turns "192.168.1.5/24" into "192.168.1.5".
func stripPrefixLen(addr string) string {
	if idx := strings.IndexByte(addr, '/'); idx >= 0 {
		return addr[:idx]
	}
	return addr
}

// sysfsLinkSpeed reads the link speed in Mbit/s from sysfs. Returns nil
// when the file is missing or the interface reports no speed (-1).
func sysfsLinkSpeed(name string) *int {
	data, err := os.ReadFile(filepath.Join("/sys/class/net", name, "speed"))
	if err != nil {
		return nil
	}
	speed, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil || speed < 0 {
		return nil
	}
	return &speed
}
