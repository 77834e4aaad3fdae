// Package identity manages the agent's persistent identity: the
// hardware-derived device UID and the client state file written after a
// successful registration.
package identity

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ClientState is the persisted client configuration. It is created on
// first successful registration and read on every subsequent start.
type ClientState struct {
	DeviceID        int64  `json:"device_id"`
	DeviceUID       string `json:"device_uid"`
	ServerURL       string `json:"server_url"`
	ProtocolVersion string `json:"protocol_version"`
}

// Load reads the client state from path. Returns (nil, nil) when the
// file is absent or unusable — both cases mean a fresh registration is
// needed, not a hard failure.
func Load(path string) (*ClientState, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("reading client state: %w", err)
	}

	var state ClientState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, nil
	}
	if state.DeviceID == 0 || state.ServerURL == "" {
		return nil, nil
	}
	return &state, nil
}

// Save writes the client state to path, creating parent directories.
func Save(path string, state *ClientState) error {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("creating state directory: %w", err)
		}
	}
	data, err := json.MarshalIndent(state, "", "    ")
	if err != nil {
		return fmt.Errorf("marshaling client state: %w", err)
	}
	if err := os.WriteFile(path, data, 0640); err != nil {
		return fmt.Errorf("writing client state: %w", err)
	}
	return nil
}

// DeviceUID derives a stable device identifier from the hardware MAC
// address of the first non-loopback interface. Hosts with no usable
// MAC (rare: containers, odd virtual NICs) fall back to a random UUID;
// the value is persisted in the client state, so it stays stable for
// the lifetime of the installation either way.
func DeviceUID() string {
	ifaces, err := net.Interfaces()
	if err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || len(iface.HardwareAddr) == 0 {
				continue
			}
			return iface.HardwareAddr.String()
		}
	}
	return uuid.NewString()
}

// Hostname returns the system hostname, or "unknown" when unreadable.
func Hostname() string {
	name, err := os.Hostname()
	if err != nil || name == "" {
		return "unknown"
	}
	return name
}
