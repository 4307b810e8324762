package monitor

import (
	"errors"
	"fmt"
	"math"
	"sync/atomic"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

var (
	ErrLowDisk    = errors.New("free disk space below minimum")
	ErrHighMemory = errors.New("memory usage above limit")
)

// Guard refuses work when the host is short on disk or memory. A zero
// limit disables the corresponding check. Limits may be changed while in
// use.
type Guard struct {
	minFreeBytes  atomic.Uint64
	maxMemPercent atomic.Uint64 // float64 bits

	usage         diskUsageFunc
	virtualMemory virtualMemoryFunc
}

func NewGuard(minFreeBytes uint64, maxMemoryPercent float64) *Guard {
	g := &Guard{usage: disk.Usage, virtualMemory: mem.VirtualMemory}
	g.SetLimits(minFreeBytes, maxMemoryPercent)
	return g
}

func (g *Guard) SetLimits(minFreeBytes uint64, maxMemoryPercent float64) {
	g.minFreeBytes.Store(minFreeBytes)
	g.maxMemPercent.Store(math.Float64bits(maxMemoryPercent))
}

func (g *Guard) Limits() (minFreeBytes uint64, maxMemoryPercent float64) {
	return g.minFreeBytes.Load(), math.Float64frombits(g.maxMemPercent.Load())
}

// CheckDisk fails with ErrLowDisk when the volume holding path has less
// free space than the configured minimum.
func (g *Guard) CheckDisk(path string) error {
	floor := g.minFreeBytes.Load()
	if floor == 0 {
		return nil
	}
	u, err := g.usage(path)
	if err != nil {
		return fmt.Errorf("failed to read disk usage for %s: %w", path, err)
	}
	if u.Free < floor {
		return fmt.Errorf("%w: %s free on %s, need %s", ErrLowDisk, formatBytes(u.Free), path, formatBytes(floor))
	}
	return nil
}

// CheckMemory fails with ErrHighMemory when host memory usage is above
// the configured percentage.
func (g *Guard) CheckMemory() error {
	limit := math.Float64frombits(g.maxMemPercent.Load())
	if limit <= 0 || limit >= 100 {
		return nil
	}
	v, err := g.virtualMemory()
	if err != nil {
		return fmt.Errorf("failed to read memory usage: %w", err)
	}
	if v.UsedPercent > limit {
		return fmt.Errorf("%w: %.1f%% used, limit %.1f%%", ErrHighMemory, v.UsedPercent, limit)
	}
	return nil
}

func formatBytes(b uint64) string {
	const unit = 1024
	if b < unit {
		return fmt.Sprintf("%dB", b)
	}
	div, exp := uint64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f%ciB", float64(b)/float64(div), "KMGTPE"[exp])
}
