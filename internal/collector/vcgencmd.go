// Helpers for querying the Raspberry Pi firmware via vcgencmd.
package collector

import (
	"context"
	"os/exec"
	"strings"
)

// vcgencmd runs the firmware query tool and returns trimmed stdout.
func vcgencmd(ctx context.Context, args ...string) (string, error) {
	out, err := exec.CommandContext(ctx, "vcgencmd", args...).Output()
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(out)), nil
}

// vcgencmdAvailable reports whether the vcgencmd binary is on PATH.
func vcgencmdAvailable() bool {
	_, err := exec.LookPath("vcgencmd")
	return err == nil
}

// afterEquals returns the part of "key=value" after the '='. Firmware
// replies like "temp=48.3'C" and "throttled=0x50000" use this shape.
func afterEquals(s string) string {
	if idx := strings.LastIndexByte(s, '='); idx >= 0 {
		return s[idx+1:]
	}
	return s
}
