// Package resources samples CPU and memory usage of zinit managed processes
// and of the node they run on.
package resources

import (
	"context"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"
)

// ProcessUsage is a point-in-time snapshot of one process
type ProcessUsage struct {
	Pid        int       `json:"pid"`
	Name       string    `json:"name"`
	CPUPercent float64   `json:"cpu_percent"`
	RSSBytes   uint64    `json:"rss_bytes"`
	VMSBytes   uint64    `json:"vms_bytes"`
	Threads    int32     `json:"threads"`
	StartedAt  time.Time `json:"started_at"`
}

// NodeUsage summarizes the host
type NodeUsage struct {
	CPUPercent    float64 `json:"cpu_percent"`
	MemoryUsed    uint64  `json:"memory_used_bytes"`
	MemoryTotal   uint64  `json:"memory_total_bytes"`
	MemoryPercent float64 `json:"memory_percent"`
}

// Snapshot reads the usage of pid. A pid <= 0 (zinit reports 0 for services
// that are not running) is an error.
func Snapshot(ctx context.Context, pid int) (*ProcessUsage, error) {
	if pid <= 0 {
		return nil, fmt.Errorf("invalid pid %d", pid)
	}

	p, err := process.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		return nil, fmt.Errorf("failed to open process %d: %w", pid, err)
	}

	usage := &ProcessUsage{Pid: pid}

	if usage.Name, err = p.NameWithContext(ctx); err != nil {
		return nil, fmt.Errorf("failed to read process %d name: %w", pid, err)
	}

	// best effort from here on, some fields need privileges
	if pct, err := p.CPUPercentWithContext(ctx); err == nil {
		usage.CPUPercent = pct
	}
	if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
		usage.RSSBytes = memInfo.RSS
		usage.VMSBytes = memInfo.VMS
	}
	if threads, err := p.NumThreadsWithContext(ctx); err == nil {
		usage.Threads = threads
	}
	if created, err := p.CreateTimeWithContext(ctx); err == nil {
		usage.StartedAt = time.UnixMilli(created)
	}

	return usage, nil
}

// Node samples host CPU over interval and current memory usage
func Node(ctx context.Context, interval time.Duration) (*NodeUsage, error) {
	usage := &NodeUsage{}

	cpuPercent, err := cpu.PercentWithContext(ctx, interval, false)
	if err != nil {
		return nil, fmt.Errorf("failed to read cpu usage: %w", err)
	}
	if len(cpuPercent) > 0 {
		usage.CPUPercent = cpuPercent[0]
	}

	memInfo, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read memory usage: %w", err)
	}
	usage.MemoryUsed = memInfo.Used
	usage.MemoryTotal = memInfo.Total
	usage.MemoryPercent = memInfo.UsedPercent

	return usage, nil
}
