package monitor

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Aggregator polls its monitors on an interval and keeps the latest
// combined snapshot.
type Aggregator struct {
	monitors []Monitor
	state    *SystemState
	interval time.Duration
	mu       sync.RWMutex
	done     chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
	logger   *slog.Logger
}

func NewAggregator(monitors []Monitor, interval time.Duration, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Aggregator{
		monitors: monitors,
		state:    &SystemState{Storage: make(StorageState)},
		interval: interval,
		done:     make(chan struct{}),
		logger:   logger,
	}
}

func (a *Aggregator) Start(ctx context.Context) error {
	a.collect()

	a.wg.Add(1)
	go a.runLoop(ctx)

	a.logger.Info("resource monitor started", "interval", a.interval, "monitors", len(a.monitors))
	return nil
}

// Stop halts polling. Safe to call more than once.
func (a *Aggregator) Stop() error {
	a.stopOnce.Do(func() {
		close(a.done)
		a.wg.Wait()
		a.logger.Info("resource monitor stopped")
	})
	return nil
}

// GetState returns a copy of the latest snapshot.
func (a *Aggregator) GetState() *SystemState {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.state.Clone()
}

func (a *Aggregator) runLoop(ctx context.Context) {
	defer a.wg.Done()
	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			a.collect()
		case <-ctx.Done():
			return
		case <-a.done:
			return
		}
	}
}

func (a *Aggregator) collect() {
	next := &SystemState{
		Timestamp: time.Now(),
		Storage:   make(StorageState),
	}

	for _, m := range a.monitors {
		data, err := m.Collect()
		if err != nil {
			a.logger.Warn("monitor collection failed",
				"monitor", m.Name(),
				"error", err,
			)
			continue
		}

		switch v := data.(type) {
		case *CPUState:
			next.CPU = *v
		case *MemoryState:
			next.Memory = *v
		case StorageState:
			next.Storage = v
		case *ProcessState:
			next.Process = *v
		default:
			a.logger.Debug("ignoring monitor output", "monitor", m.Name(), "type", fmt.Sprintf("%T", data))
		}
	}

	a.mu.Lock()
	a.state = next
	a.mu.Unlock()
}
