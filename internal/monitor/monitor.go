// Package monitor samples host and process resources for the status
// endpoint and guards uploads and retraining against exhaustion.
package monitor

import "time"

type Monitor interface {
	Name() string
	Collect() (any, error)
}

type CPUState struct {
	UsagePercent float64   `json:"usage_percent"`
	Cores        []float64 `json:"cores"`
}

type MemoryState struct {
	UsedBytes      uint64  `json:"used_bytes"`
	AvailableBytes uint64  `json:"available_bytes"`
	TotalBytes     uint64  `json:"total_bytes"`
	UsagePercent   float64 `json:"usage_percent"`
}

type DiskState struct {
	Path         string  `json:"path"`
	UsedBytes    uint64  `json:"used_bytes"`
	FreeBytes    uint64  `json:"free_bytes"`
	TotalBytes   uint64  `json:"total_bytes"`
	UsagePercent float64 `json:"usage_percent"`
}

// StorageState is keyed by volume label (staging, model, data).
type StorageState map[string]DiskState

// ProcessState describes the running service itself.
type ProcessState struct {
	PID        int32   `json:"pid"`
	RSSBytes   uint64  `json:"rss_bytes"`
	Threads    int32   `json:"threads"`
	Goroutines int     `json:"goroutines"`
	CPUPercent float64 `json:"cpu_percent"`
	UptimeSec  int64   `json:"uptime_sec"`
}

type SystemState struct {
	CPU       CPUState     `json:"cpu"`
	Memory    MemoryState  `json:"memory"`
	Storage   StorageState `json:"storage"`
	Process   ProcessState `json:"process"`
	Timestamp time.Time    `json:"timestamp"`
}

func (s *SystemState) Clone() *SystemState {
	clone := *s
	clone.CPU.Cores = make([]float64, len(s.CPU.Cores))
	copy(clone.CPU.Cores, s.CPU.Cores)
	clone.Storage = make(StorageState, len(s.Storage))
	for k, v := range s.Storage {
		clone.Storage[k] = v
	}
	return &clone
}
