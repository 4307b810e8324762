// Package retrain runs threshold-triggered fine-tuning of the classifier on
// staged samples. At most one pass runs at a time.
package retrain

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/haskel/dermfox/internal/history"
	"github.com/haskel/dermfox/internal/metrics"
)

var (
	// ErrRetrainInProgress is returned by a trigger while a pass is running.
	ErrRetrainInProgress = errors.New("retrain already in progress")
	// ErrSchedulerStopped is returned by triggers after Stop.
	ErrSchedulerStopped = errors.New("retrain scheduler stopped")
)

// Trigger sources recorded in history.
const (
	TriggerUpload   = "upload"
	TriggerPeriodic = "periodic"
	TriggerOperator = "operator"
)

const (
	stateIdle int32 = iota
	stateRunning
)

// Runner executes one pass.
type Runner interface {
	Run(ctx context.Context) (*Result, error)
}

// Counter reports the number of staged samples.
type Counter interface {
	Count() int
}

// Recorder persists finished runs.
type Recorder interface {
	Record(ctx context.Context, r history.Run) (int64, error)
}

// StateRecorder tracks successful passes across restarts.
type StateRecorder interface {
	RecordRetrain(version int64, trained map[string]int)
}

// Config holds scheduler configuration.
type Config struct {
	Threshold int
	// CheckInterval re-evaluates the threshold periodically. Zero disables.
	CheckInterval time.Duration
	// Timeout bounds a single pass. Zero means no limit.
	Timeout time.Duration
	History Recorder
	State   StateRecorder
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Scheduler owns the single retraining flight.
type Scheduler struct {
	runner  Runner
	counter Counter
	cfg     Config
	logger  *slog.Logger

	threshold atomic.Int64
	state     atomic.Int32
	stopped   atomic.Bool

	baseCtx    context.Context
	baseCancel context.CancelFunc
	flights    sync.WaitGroup

	mu         sync.RWMutex
	cancelRun  context.CancelFunc
	runStarted time.Time
	runTrigger string
	runs       int64
	successes  int64
	failures   int64
	lastRun    time.Time
	lastStatus string
	lastError  error
	lastResult *Result
	looping    bool
	stopCh     chan struct{}
	doneCh     chan struct{}
}

// NewScheduler creates a scheduler. Call Start to enable periodic checks.
func NewScheduler(runner Runner, counter Counter, cfg Config) *Scheduler {
	if cfg.Threshold <= 0 {
		cfg.Threshold = 100
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Scheduler{
		runner:     runner,
		counter:    counter,
		cfg:        cfg,
		logger:     logger,
		baseCtx:    ctx,
		baseCancel: cancel,
	}
	s.threshold.Store(int64(cfg.Threshold))
	return s
}

// Threshold returns the staged sample count that triggers a pass.
func (s *Scheduler) Threshold() int {
	return int(s.threshold.Load())
}

// SetThreshold changes the trigger threshold.
func (s *Scheduler) SetThreshold(n int) {
	if n <= 0 {
		return
	}
	old := s.threshold.Swap(int64(n))
	if old != int64(n) {
		s.logger.Info("retrain threshold updated", "old", old, "new", n)
	}
}

// Running reports whether a pass is in flight.
func (s *Scheduler) Running() bool {
	return s.state.Load() == stateRunning
}

// Trigger starts a pass in the background if none is running. The
// threshold is checked again inside the flight, so a stale trigger does
// nothing.
func (s *Scheduler) Trigger() error {
	return s.launch(TriggerUpload, false)
}

// ForceRetrain starts a pass regardless of the threshold.
func (s *Scheduler) ForceRetrain() error {
	return s.launch(TriggerOperator, true)
}

func (s *Scheduler) launch(trigger string, force bool) error {
	if s.stopped.Load() {
		return ErrSchedulerStopped
	}
	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		return ErrRetrainInProgress
	}

	s.flights.Add(1)
	go func() {
		defer s.flights.Done()
		defer s.state.Store(stateIdle)
		s.execute(trigger, force)
	}()
	return nil
}

func (s *Scheduler) execute(trigger string, force bool) {
	if !force {
		if count, threshold := s.counter.Count(), s.Threshold(); count < threshold {
			s.logger.Debug("staged samples below threshold, skipping retrain",
				"staged", count,
				"threshold", threshold,
				"trigger", trigger,
			)
			return
		}
	}

	var (
		ctx    context.Context
		cancel context.CancelFunc
	)
	if s.cfg.Timeout > 0 {
		ctx, cancel = context.WithTimeout(s.baseCtx, s.cfg.Timeout)
	} else {
		ctx, cancel = context.WithCancel(s.baseCtx)
	}
	defer cancel()

	started := time.Now()
	s.mu.Lock()
	s.cancelRun = cancel
	s.runStarted = started
	s.runTrigger = trigger
	s.mu.Unlock()

	s.cfg.Metrics.SetRetrainRunning(true)
	s.logger.Info("retrain started", "trigger", trigger, "staged", s.counter.Count())

	res, err := s.runner.Run(ctx)
	if res == nil {
		res = &Result{StartedAt: started, FinishedAt: time.Now()}
	}
	if res.FinishedAt.IsZero() {
		res.FinishedAt = time.Now()
	}
	status := classify(ctx, err)

	s.cfg.Metrics.SetRetrainRunning(false)
	s.cfg.Metrics.ObserveRetrain(status, res.FinishedAt.Sub(started), res.Samples)

	s.mu.Lock()
	s.cancelRun = nil
	s.runs++
	if status == history.StatusSuccess {
		s.successes++
	} else if status != history.StatusNoData {
		s.failures++
	}
	s.lastRun = res.FinishedAt
	s.lastStatus = status
	s.lastError = err
	s.lastResult = res
	s.mu.Unlock()

	switch status {
	case history.StatusSuccess:
		s.logger.Info("retrain finished",
			"trigger", trigger,
			"samples", res.Samples,
			"skipped", res.Skipped,
			"removed", res.Removed,
			"version", res.Version,
			"duration", res.FinishedAt.Sub(started),
		)
		if s.cfg.State != nil {
			s.cfg.State.RecordRetrain(res.Version, res.ClassCounts)
		}
	case history.StatusNoData:
		s.logger.Info("retrain skipped", "trigger", trigger, "reason", err)
	default:
		s.logger.Error("retrain failed", "trigger", trigger, "status", status, "error", err)
	}

	s.record(trigger, status, res, err)
}

func classify(ctx context.Context, err error) string {
	switch {
	case err == nil:
		return history.StatusSuccess
	case errors.Is(err, ErrNoTrainingData):
		return history.StatusNoData
	case errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded):
		return history.StatusTimeout
	case errors.Is(err, context.Canceled):
		return history.StatusCancelled
	default:
		return history.StatusFailed
	}
}

func (s *Scheduler) record(trigger, status string, res *Result, runErr error) {
	if s.cfg.History == nil {
		return
	}

	run := history.Run{
		Trigger:      trigger,
		Status:       status,
		StartedAt:    res.StartedAt,
		FinishedAt:   res.FinishedAt,
		Samples:      res.Samples,
		Skipped:      res.Skipped,
		Removed:      res.Removed,
		ModelVersion: res.Version,
	}
	if res.Summary != nil {
		run.Epochs = res.Summary.Epochs
		run.BestEpoch = res.Summary.BestEpoch
		run.ValLoss = res.Summary.BestValLoss
		run.ValAccuracy = res.Summary.BestAccuracy
	}
	if runErr != nil {
		run.Error = runErr.Error()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := s.cfg.History.Record(ctx, run); err != nil {
		s.logger.Warn("failed to record retrain run", "error", err)
	}
}

// Cancel aborts the running pass. It reports whether a pass was running.
func (s *Scheduler) Cancel() bool {
	s.mu.RLock()
	cancel := s.cancelRun
	s.mu.RUnlock()

	if cancel == nil {
		return false
	}
	s.logger.Warn("cancelling running retrain")
	cancel()
	return true
}

// Wait blocks until no pass is running.
func (s *Scheduler) Wait() {
	s.flights.Wait()
}

// Start begins the periodic threshold check when CheckInterval is set.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.cfg.CheckInterval <= 0 {
		return nil
	}

	s.mu.Lock()
	if s.looping {
		s.mu.Unlock()
		return nil
	}
	s.looping = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop ends periodic checks, cancels a running pass and waits for it.
func (s *Scheduler) Stop() {
	s.stopped.Store(true)

	s.mu.Lock()
	looping := s.looping
	if looping {
		s.looping = false
		close(s.stopCh)
	}
	s.mu.Unlock()

	if looping {
		<-s.doneCh
	}

	s.baseCancel()
	s.flights.Wait()
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)

	ticker := time.NewTicker(s.cfg.CheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-s.stopCh:
			return
		case <-ticker.C:
			s.checkAndRetrain()
		}
	}
}

func (s *Scheduler) checkAndRetrain() {
	if s.counter.Count() < s.Threshold() {
		return
	}
	if err := s.launch(TriggerPeriodic, false); err != nil && !errors.Is(err, ErrRetrainInProgress) {
		s.logger.Debug("periodic retrain not started", "error", err)
	}
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	State         string    `json:"state"`
	Staged        int       `json:"staged"`
	Threshold     int       `json:"threshold"`
	CheckInterval string    `json:"check_interval,omitempty"`
	Timeout       string    `json:"timeout,omitempty"`
	RunStarted    time.Time `json:"run_started,omitempty"`
	RunTrigger    string    `json:"run_trigger,omitempty"`
	Runs          int64     `json:"runs"`
	Successes     int64     `json:"successes"`
	Failures      int64     `json:"failures"`
	LastRun       time.Time `json:"last_run,omitempty"`
	LastStatus    string    `json:"last_status,omitempty"`
	LastError     string    `json:"last_error,omitempty"`
	LastResult    *Result   `json:"last_result,omitempty"`
}

// Stats returns current scheduler statistics.
func (s *Scheduler) Stats() Stats {
	running := s.Running()

	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := Stats{
		State:      "idle",
		Staged:     s.counter.Count(),
		Threshold:  s.Threshold(),
		Runs:       s.runs,
		Successes:  s.successes,
		Failures:   s.failures,
		LastRun:    s.lastRun,
		LastStatus: s.lastStatus,
		LastResult: s.lastResult,
	}
	if running {
		stats.State = "running"
		stats.RunStarted = s.runStarted
		stats.RunTrigger = s.runTrigger
	}
	if s.cfg.CheckInterval > 0 {
		stats.CheckInterval = s.cfg.CheckInterval.String()
	}
	if s.cfg.Timeout > 0 {
		stats.Timeout = s.cfg.Timeout.String()
	}
	if s.lastError != nil {
		stats.LastError = s.lastError.Error()
	}

	return stats
}
