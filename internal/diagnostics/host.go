package diagnostics

import (
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
)

const (
	mib = 1 << 20
	gib = 1 << 30
)

// Volume names a filesystem path whose free space matters to runs, such as
// the ledger directory or the scratch space ffmpeg decodes into.
type Volume struct {
	Label string
	Path  string
}

// HostMetrics is a point-in-time view of the host.
type HostMetrics struct {
	CPU     CPUStats      `json:"cpu"`
	Memory  MemoryStats   `json:"memory"`
	LoadAvg []float64     `json:"load_avg,omitempty"`
	Volumes []VolumeStats `json:"volumes,omitempty"`
}

// CPUStats describes the processor. Percent is zero on the first sample.
type CPUStats struct {
	Model   string  `json:"model,omitempty"`
	Cores   int     `json:"cores"`
	Threads int     `json:"threads"`
	Percent float64 `json:"percent"`
}

// MemoryStats is host memory in MiB.
type MemoryStats struct {
	TotalMB     float64 `json:"total_mb"`
	UsedMB      float64 `json:"used_mb"`
	AvailableMB float64 `json:"available_mb"`
	Percent     float64 `json:"percent"`
}

// VolumeStats is disk usage for one Volume in GiB.
type VolumeStats struct {
	Label   string  `json:"label"`
	Path    string  `json:"path"`
	TotalGB float64 `json:"total_gb"`
	FreeGB  float64 `json:"free_gb"`
	Percent float64 `json:"percent"`
}

// HostCollector samples host figures through gopsutil. Figures the host
// does not expose are left at zero.
type HostCollector struct {
	volumes []Volume

	mu       sync.Mutex
	cpuInfo  *CPUStats
	lastBusy float64
	lastAll  float64
}

// NewHostCollector reports usage for the given volumes, or for the system
// drive when none are given.
func NewHostCollector(volumes ...Volume) *HostCollector {
	if len(volumes) == 0 {
		volumes = []Volume{{Label: "system", Path: systemDrive()}}
	}
	return &HostCollector{volumes: volumes}
}

// Collect takes a sample.
func (c *HostCollector) Collect() HostMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()

	m := HostMetrics{CPU: c.cpuStats()}
	if vm, err := mem.VirtualMemory(); err == nil {
		m.Memory = MemoryStats{
			TotalMB:     float64(vm.Total) / mib,
			UsedMB:      float64(vm.Used) / mib,
			AvailableMB: float64(vm.Available) / mib,
			Percent:     vm.UsedPercent,
		}
	}
	if avg, err := load.Avg(); err == nil {
		m.LoadAvg = []float64{avg.Load1, avg.Load5, avg.Load15}
	}
	m.Volumes = volumeStats(c.volumes)
	return m
}

func (c *HostCollector) cpuStats() CPUStats {
	if c.cpuInfo == nil {
		info := CPUStats{}
		if infos, err := cpu.Info(); err == nil && len(infos) > 0 {
			info.Model = strings.TrimSpace(infos[0].ModelName)
		}
		if n, err := cpu.Counts(false); err == nil {
			info.Cores = n
		}
		if n, err := cpu.Counts(true); err == nil {
			info.Threads = n
		}
		c.cpuInfo = &info
	}
	stats := *c.cpuInfo

	times, err := cpu.Times(false)
	if err != nil || len(times) == 0 {
		return stats
	}
	t := times[0]
	idle := t.Idle + t.Iowait
	all := idle + t.User + t.Nice + t.System + t.Irq + t.Softirq + t.Steal
	busy := all - idle
	if c.lastAll > 0 && all > c.lastAll {
		stats.Percent = (busy - c.lastBusy) / (all - c.lastAll) * 100
	}
	c.lastBusy, c.lastAll = busy, all
	return stats
}

// volumeStats skips volumes whose path cannot be read, so a missing ledger
// directory does not hide the rest.
func volumeStats(volumes []Volume) []VolumeStats {
	out := make([]VolumeStats, 0, len(volumes))
	for _, v := range volumes {
		usage, err := disk.Usage(v.Path)
		if err != nil {
			continue
		}
		out = append(out, VolumeStats{
			Label:   v.Label,
			Path:    v.Path,
			TotalGB: float64(usage.Total) / gib,
			FreeGB:  float64(usage.Free) / gib,
			Percent: usage.UsedPercent,
		})
	}
	return out
}

func systemDrive() string {
	if runtime.GOOS != "windows" {
		return "/"
	}
	if drive := os.Getenv("SystemDrive"); drive != "" {
		return drive + `\`
	}
	return `C:\`
}
