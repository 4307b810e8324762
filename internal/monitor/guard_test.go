package monitor

import (
	"errors"
	"testing"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/shirou/gopsutil/v4/mem"
)

func fakeGuard(minFree uint64, maxMem float64, free uint64, used float64) *Guard {
	g := NewGuard(minFree, maxMem)
	g.usage = func(string) (*disk.UsageStat, error) {
		return &disk.UsageStat{Free: free}, nil
	}
	g.virtualMemory = func() (*mem.VirtualMemoryStat, error) {
		return &mem.VirtualMemoryStat{UsedPercent: used}, nil
	}
	return g
}

func TestGuard_CheckDisk(t *testing.T) {
	tests := []struct {
		name    string
		minFree uint64
		free    uint64
		wantErr bool
	}{
		{"disabled", 0, 0, false},
		{"enough", 100, 200, false},
		{"exactly", 100, 100, false},
		{"short", 100 << 20, 10 << 20, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fakeGuard(tt.minFree, 0, tt.free, 0).CheckDisk("/data")
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckDisk() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrLowDisk) {
				t.Errorf("expected ErrLowDisk, got %v", err)
			}
		})
	}
}

func TestGuard_CheckDiskUsageError(t *testing.T) {
	g := NewGuard(1, 0)
	g.usage = func(string) (*disk.UsageStat, error) {
		return nil, errors.New("stat failed")
	}
	if err := g.CheckDisk("/nope"); err == nil {
		t.Error("expected error")
	}
}

func TestGuard_CheckMemory(t *testing.T) {
	tests := []struct {
		name    string
		limit   float64
		used    float64
		wantErr bool
	}{
		{"disabled zero", 0, 99, false},
		{"disabled hundred", 100, 99, false},
		{"below", 90, 50, false},
		{"above", 90, 97.5, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := fakeGuard(0, tt.limit, 0, tt.used).CheckMemory()
			if (err != nil) != tt.wantErr {
				t.Fatalf("CheckMemory() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr && !errors.Is(err, ErrHighMemory) {
				t.Errorf("expected ErrHighMemory, got %v", err)
			}
		})
	}
}

func TestGuard_SetLimits(t *testing.T) {
	g := fakeGuard(0, 0, 10, 95)
	if err := g.CheckMemory(); err != nil {
		t.Fatalf("expected disabled guard to pass: %v", err)
	}

	g.SetLimits(100, 90)
	minFree, maxMem := g.Limits()
	if minFree != 100 || maxMem != 90 {
		t.Errorf("unexpected limits %d %f", minFree, maxMem)
	}
	if err := g.CheckMemory(); err == nil {
		t.Error("expected memory check to fail after SetLimits")
	}
	if err := g.CheckDisk("/"); err == nil {
		t.Error("expected disk check to fail after SetLimits")
	}
}

func TestFormatBytes(t *testing.T) {
	tests := map[uint64]string{
		512:       "512B",
		2048:      "2.0KiB",
		512 << 20: "512.0MiB",
		3 << 30:   "3.0GiB",
	}
	for in, want := range tests {
		if got := formatBytes(in); got != want {
			t.Errorf("formatBytes(%d) = %s, want %s", in, got, want)
		}
	}
}
