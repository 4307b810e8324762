package monitor

import (
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/shirou/gopsutil/v4/process"
)

// ProcessMonitor reports resource usage of the current process.
type ProcessMonitor struct {
	mu   sync.Mutex
	proc *process.Process
}

func NewProcessMonitor() *ProcessMonitor {
	return &ProcessMonitor{}
}

func (m *ProcessMonitor) Name() string {
	return "process"
}

func (m *ProcessMonitor) Collect() (any, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.proc == nil {
		p, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return nil, fmt.Errorf("failed to open own process: %w", err)
		}
		m.proc = p
	}

	mi, err := m.proc.MemoryInfo()
	if err != nil {
		return nil, err
	}

	state := &ProcessState{
		PID:        m.proc.Pid,
		RSSBytes:   mi.RSS,
		Goroutines: runtime.NumGoroutine(),
	}

	if n, err := m.proc.NumThreads(); err == nil {
		state.Threads = n
	}
	if pct, err := m.proc.CPUPercent(); err == nil {
		state.CPUPercent = pct
	}
	if created, err := m.proc.CreateTime(); err == nil {
		state.UptimeSec = int64(time.Since(time.UnixMilli(created)).Seconds())
	}

	return state, nil
}
