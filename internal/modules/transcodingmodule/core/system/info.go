// Package system reports host resources. The codec runtime logs them when it
// loads and the health endpoint exposes them.
package system

import (
	"context"
	"runtime"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/load"
	"github.com/shirou/gopsutil/v4/mem"
)

// SystemInfo provides real system resource information
type SystemInfo struct {
	CPUCores      int       `json:"cpu_cores"`
	TotalMemoryMB int64     `json:"total_memory_mb"`
	FreeMemoryMB  int64     `json:"free_memory_mb"`
	LoadAverage   []float64 `json:"load_average"`
	ScratchFreeMB int64     `json:"scratch_free_mb,omitempty"`
}

// GetSystemInfo collects what the host will tell us. Individual probes that
// fail leave their fields zero; only a total failure is an error.
func GetSystemInfo(ctx context.Context, scratchDir string) (*SystemInfo, error) {
	info := &SystemInfo{
		CPUCores:    runtime.NumCPU(),
		LoadAverage: []float64{0, 0, 0},
	}

	if cores, err := cpu.CountsWithContext(ctx, true); err == nil && cores > 0 {
		info.CPUCores = cores
	}

	memStats, memErr := mem.VirtualMemoryWithContext(ctx)
	if memErr == nil {
		info.TotalMemoryMB = int64(memStats.Total / (1024 * 1024))
		info.FreeMemoryMB = int64(memStats.Available / (1024 * 1024))
	}

	if avg, err := load.AvgWithContext(ctx); err == nil {
		info.LoadAverage = []float64{avg.Load1, avg.Load5, avg.Load15}
	}

	if scratchDir != "" {
		if usage, err := disk.UsageWithContext(ctx, scratchDir); err == nil {
			info.ScratchFreeMB = int64(usage.Free / (1024 * 1024))
		}
	}

	if memErr != nil && ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return info, nil
}

// LogFields flattens info into hclog key/value pairs.
func (si *SystemInfo) LogFields() []interface{} {
	if si == nil {
		return nil
	}
	fields := []interface{}{
		"cpu_cores", si.CPUCores,
		"total_memory_mb", si.TotalMemoryMB,
		"free_memory_mb", si.FreeMemoryMB,
	}
	if len(si.LoadAverage) > 0 {
		fields = append(fields, "load1", si.LoadAverage[0])
	}
	if si.ScratchFreeMB > 0 {
		fields = append(fields, "scratch_free_mb", si.ScratchFreeMB)
	}
	return fields
}
