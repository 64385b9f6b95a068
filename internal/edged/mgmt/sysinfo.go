package mgmt

import (
	"context"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/host"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"

	"github.com/marmos91/edged/pkg/runtime"
)

// systemInfo is the host and runtime snapshot served on /systeminfo.
type systemInfo struct {
	Hostname        string  `json:"hostname,omitempty"`
	OS              string  `json:"os,omitempty"`
	Platform        string  `json:"platform,omitempty"`
	KernelVersion   string  `json:"kernel_version,omitempty"`
	UptimeSec       uint64  `json:"uptime_sec,omitempty"`
	CPUPercent      float64 `json:"cpu_percent,omitempty"`
	Load1           float64 `json:"load1,omitempty"`
	MemTotalBytes   uint64  `json:"mem_total_bytes,omitempty"`
	MemUsedPercent  float64 `json:"mem_used_percent,omitempty"`
	DiskUsedPercent float64 `json:"disk_used_percent,omitempty"`

	Runtime *runtime.SystemInfo `json:"runtime,omitempty"`
}

// collectSystemInfo gathers the snapshot. Every probe is best effort; a
// broken proc mount or an exotic platform degrades fields, never the
// endpoint.
func collectSystemInfo(ctx context.Context, rt runtime.Runtime) systemInfo {
	var out systemInfo

	if hi, err := host.InfoWithContext(ctx); err == nil && hi != nil {
		out.Hostname = hi.Hostname
		out.OS = hi.OS
		out.Platform = hi.Platform
		out.KernelVersion = hi.KernelVersion
		out.UptimeSec = hi.Uptime
	}
	if perc, err := cpu.PercentWithContext(ctx, 0, false); err == nil && len(perc) > 0 {
		out.CPUPercent = perc[0]
	}
	if avg, err := load.AvgWithContext(ctx); err == nil && avg != nil {
		out.Load1 = avg.Load1
	}
	if vm, err := mem.VirtualMemoryWithContext(ctx); err == nil && vm != nil {
		out.MemTotalBytes = vm.Total
		out.MemUsedPercent = vm.UsedPercent
	}
	if du, err := disk.UsageWithContext(ctx, "/"); err == nil && du != nil {
		out.DiskUsedPercent = du.UsedPercent
	}

	if ip, ok := rt.(runtime.InfoProvider); ok {
		if info, err := ip.Info(ctx); err == nil {
			out.Runtime = &info
		}
	}

	return out
}
