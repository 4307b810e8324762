package monitor

import (
	"os"
	"testing"
)

func TestProcessMonitor_Collect(t *testing.T) {
	m := NewProcessMonitor()
	if m.Name() != "process" {
		t.Errorf("expected name 'process', got %s", m.Name())
	}

	data, err := m.Collect()
	if err != nil {
		t.Fatalf("failed to collect process data: %v", err)
	}
	state, ok := data.(*ProcessState)
	if !ok {
		t.Fatalf("expected *ProcessState, got %T", data)
	}

	if state.PID != int32(os.Getpid()) {
		t.Errorf("expected pid %d, got %d", os.Getpid(), state.PID)
	}
	if state.RSSBytes == 0 {
		t.Error("expected non-zero RSS")
	}
	if state.Goroutines < 1 {
		t.Error("expected at least one goroutine")
	}
	if state.UptimeSec < 0 {
		t.Errorf("uptime should not be negative: %d", state.UptimeSec)
	}
}

func TestProcessMonitor_CollectTwiceReusesHandle(t *testing.T) {
	m := NewProcessMonitor()
	if _, err := m.Collect(); err != nil {
		t.Fatalf("first collect failed: %v", err)
	}
	first := m.proc
	if _, err := m.Collect(); err != nil {
		t.Fatalf("second collect failed: %v", err)
	}
	if m.proc != first {
		t.Error("expected the process handle to be reused")
	}
}
