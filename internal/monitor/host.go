package monitor

import (
	"sort"
	"time"

	"github.com/shirou/gopsutil/v4/cpu"
	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

// Sources used by the host monitors and the guard. Tests swap them.
type (
	percentFunc       func(interval time.Duration, perCPU bool) ([]float64, error)
	virtualMemoryFunc func() (*mem.VirtualMemoryStat, error)
	diskUsageFunc     func(path string) (*disk.UsageStat, error)
)

type CPUMonitor struct {
	percent percentFunc
}

func NewCPUMonitor() *CPUMonitor {
	return &CPUMonitor{percent: cpu.Percent}
}

func (m *CPUMonitor) Name() string {
	return "cpu"
}

func (m *CPUMonitor) Collect() (any, error) {
	cores, err := m.percent(0, true)
	if err != nil {
		return nil, err
	}

	var total float64
	for _, c := range cores {
		total += c
	}
	var overall float64
	if len(cores) > 0 {
		overall = total / float64(len(cores))
	}

	return &CPUState{UsagePercent: overall, Cores: cores}, nil
}

type MemoryMonitor struct {
	virtualMemory virtualMemoryFunc
}

func NewMemoryMonitor() *MemoryMonitor {
	return &MemoryMonitor{virtualMemory: mem.VirtualMemory}
}

func (m *MemoryMonitor) Name() string {
	return "memory"
}

func (m *MemoryMonitor) Collect() (any, error) {
	v, err := m.virtualMemory()
	if err != nil {
		return nil, err
	}
	return &MemoryState{
		UsedBytes:      v.Used,
		AvailableBytes: v.Available,
		TotalBytes:     v.Total,
		UsagePercent:   v.UsedPercent,
	}, nil
}

// StorageMonitor reports the volumes behind the service directories.
type StorageMonitor struct {
	paths map[string]string
	usage diskUsageFunc
}

// NewStorageMonitor takes a label to path map, e.g. "staging" to the
// staging directory.
func NewStorageMonitor(paths map[string]string) *StorageMonitor {
	if len(paths) == 0 {
		paths = map[string]string{"root": "/"}
	}
	return &StorageMonitor{paths: paths, usage: disk.Usage}
}

func (m *StorageMonitor) Name() string {
	return "storage"
}

func (m *StorageMonitor) Collect() (any, error) {
	labels := make([]string, 0, len(m.paths))
	for label := range m.paths {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	state := make(StorageState, len(labels))
	for _, label := range labels {
		path := m.paths[label]
		u, err := m.usage(path)
		if err != nil {
			// directory may not exist yet
			continue
		}
		state[label] = DiskState{
			Path:         path,
			UsedBytes:    u.Used,
			FreeBytes:    u.Free,
			TotalBytes:   u.Total,
			UsagePercent: u.UsedPercent,
		}
	}
	return state, nil
}
