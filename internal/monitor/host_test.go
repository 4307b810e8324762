package monitor

import (
	"errors"
	"testing"
	"time"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

func TestCPUMonitor_AveragesCores(t *testing.T) {
	m := &CPUMonitor{percent: func(time.Duration, bool) ([]float64, error) {
		return []float64{20, 40, 60, 80}, nil
	}}

	data, err := m.Collect()
	if err != nil {
		t.Fatal(err)
	}
	state := data.(*CPUState)
	if state.UsagePercent != 50 {
		t.Errorf("expected 50, got %f", state.UsagePercent)
	}
	if len(state.Cores) != 4 {
		t.Errorf("expected 4 cores, got %d", len(state.Cores))
	}
}

func TestCPUMonitor_Real(t *testing.T) {
	m := NewCPUMonitor()
	if m.Name() != "cpu" {
		t.Errorf("expected name 'cpu', got %s", m.Name())
	}

	data, err := m.Collect()
	if err != nil {
		t.Fatalf("failed to collect CPU data: %v", err)
	}
	state, ok := data.(*CPUState)
	if !ok {
		t.Fatalf("expected *CPUState, got %T", data)
	}
	for i, core := range state.Cores {
		if core < 0 || core > 100 {
			t.Errorf("invalid core %d usage: %f", i, core)
		}
	}
}

func TestMemoryMonitor_Collect(t *testing.T) {
	m := &MemoryMonitor{virtualMemory: func() (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{Total: 100, Used: 60, Available: 40, UsedPercent: 60}, nil
	}}

	data, err := m.Collect()
	if err != nil {
		t.Fatal(err)
	}
	state := data.(*MemoryState)
	if state.UsedBytes != 60 || state.AvailableBytes != 40 || state.UsagePercent != 60 {
		t.Errorf("unexpected state %+v", state)
	}
}

func TestMemoryMonitor_Error(t *testing.T) {
	m := &MemoryMonitor{virtualMemory: func() (*mem.VirtualMemoryStat, error) {
		return nil, errors.New("no /proc")
	}}
	if _, err := m.Collect(); err == nil {
		t.Error("expected error")
	}
}

func TestStorageMonitor_SkipsUnreadablePaths(t *testing.T) {
	m := NewStorageMonitor(map[string]string{"staging": "/ok", "model": "/missing"})
	m.usage = func(path string) (*disk.UsageStat, error) {
		if path == "/missing" {
			return nil, errors.New("no such file or directory")
		}
		return &disk.UsageStat{Path: path, Total: 1000, Used: 250, Free: 750, UsedPercent: 25}, nil
	}

	data, err := m.Collect()
	if err != nil {
		t.Fatal(err)
	}
	state := data.(StorageState)
	if len(state) != 1 {
		t.Fatalf("expected one volume, got %v", state)
	}
	got := state["staging"]
	if got.Path != "/ok" || got.FreeBytes != 750 || got.UsagePercent != 25 {
		t.Errorf("unexpected disk state %+v", got)
	}
}

func TestStorageMonitor_DefaultsToRoot(t *testing.T) {
	m := NewStorageMonitor(nil)
	if m.paths["root"] != "/" {
		t.Errorf("expected root path default, got %v", m.paths)
	}
}
