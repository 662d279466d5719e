// Package host snapshots the machine a run executes on.
package host

import (
	"context"
	"os"
	"runtime"
	"strings"

	gohost "github.com/shirou/gopsutil/v3/host"
	"github.com/shirou/gopsutil/v3/mem"

	"testbot/pkg/models"
)

// Snapshot collects host details for run metadata. Probes that fail leave
// their fields at the values derived from the Go runtime.
func Snapshot(ctx context.Context) models.HostInfo {
	hostname, _ := os.Hostname()
	info := models.HostInfo{
		Hostname: hostname,
		OS:       runtime.GOOS,
		CPUs:     runtime.NumCPU(),
	}

	if h, err := gohost.InfoWithContext(ctx); err == nil {
		if h.Hostname != "" {
			info.Hostname = h.Hostname
		}
		info.Platform = strings.TrimSpace(h.Platform + " " + h.PlatformVersion)
	}

	if v, err := mem.VirtualMemoryWithContext(ctx); err == nil {
		info.MemoryMB = v.Total / 1024 / 1024
	}

	return info
}
