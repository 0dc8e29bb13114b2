// Package collector reads process and host statistics from the local machine.
package collector

import (
	"context"
	"fmt"

	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"github.com/shirou/gopsutil/v3/process"

	"github.com/bc-dunia/serversnitch/internal/agent"
)

// DefaultDiskPath is the partition whose usage is reported.
const DefaultDiskPath = "/"

const (
	bytesPerMB = 1e6

	// cpuScale converts a CPU percentage into the API's unit, hundredths of
	// a percent, the same scale as the load average.
	cpuScale = 100
)

// Collector gathers statistics with gopsutil.
type Collector struct {
	diskPath string
}

// New creates a collector reporting disk usage for diskPath
// (DefaultDiskPath when empty).
func New(diskPath string) *Collector {
	if diskPath == "" {
		diskPath = DefaultDiskPath
	}
	return &Collector{diskPath: diskPath}
}

// ProcessInfo returns the status of the first process named name. A missing
// process is not an error: it is reported as not running with zero usage.
func (c *Collector) ProcessInfo(ctx context.Context, name string) (agent.ServiceStatus, error) {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return agent.NotRunning(name), fmt.Errorf("list processes: %w", err)
	}

	for _, p := range procs {
		pname, err := p.NameWithContext(ctx)
		if err != nil || pname != name {
			continue
		}

		var cpuPct float64
		var rss uint64
		if v, err := p.CPUPercentWithContext(ctx); err == nil {
			cpuPct = v
		}
		if memInfo, err := p.MemoryInfoWithContext(ctx); err == nil && memInfo != nil {
			rss = memInfo.RSS
		}
		return runningStatus(name, cpuPct, rss), nil
	}

	return agent.NotRunning(name), nil
}

// runningStatus converts raw gopsutil readings into the API's units.
func runningStatus(name string, cpuPct float64, rssBytes uint64) agent.ServiceStatus {
	return agent.ServiceStatus{
		Name:        name,
		CPUPercent:  cpuPct * cpuScale,
		MemoryRSSMB: float64(rssBytes) / bytesPerMB,
		Running:     true,
	}
}

// LoadAverage returns the 1-minute load average multiplied by 100.
func (c *Collector) LoadAverage(ctx context.Context) (float64, error) {
	avg, err := load.AvgWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read load average: %w", err)
	}
	return avg.Load1 * 100, nil
}

// DiskUsedPercent returns the used percentage of the configured partition.
func (c *Collector) DiskUsedPercent(ctx context.Context) (float64, error) {
	usage, err := disk.UsageWithContext(ctx, c.diskPath)
	if err != nil {
		return 0, fmt.Errorf("read disk usage of %s: %w", c.diskPath, err)
	}
	return usage.UsedPercent, nil
}

// MemUsedPercent returns the used percentage of physical memory.
func (c *Collector) MemUsedPercent(ctx context.Context) (float64, error) {
	vm, err := mem.VirtualMemoryWithContext(ctx)
	if err != nil {
		return 0, fmt.Errorf("read memory usage: %w", err)
	}
	return vm.UsedPercent, nil
}
