package retrain

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/haskel/dermfox/internal/imaging"
	"github.com/haskel/dermfox/internal/lesion"
	"github.com/haskel/dermfox/internal/nn"
	"github.com/haskel/dermfox/internal/staging"
)

var (
	// ErrNoTrainingData is returned when the staging area holds no usable
	// sample. Nothing is changed.
	ErrNoTrainingData = errors.New("no training data")
	// ErrResourcesExhausted is returned when the memory guard refuses to
	// start a pass.
	ErrResourcesExhausted = errors.New("insufficient resources for retraining")
)

// Holder is the model the trainer fine-tunes.
type Holder interface {
	Fit(ctx context.Context, xs, ys [][]float64, cfg nn.TrainConfig) (*nn.Summary, error)
	Version() int64
}

// Staging is the sample source the trainer drains.
type Staging interface {
	Snapshot() ([]staging.Sample, error)
	Remove(samples []staging.Sample) (int, error)
}

// MemoryGuard vetoes a pass when the host is short on memory.
type MemoryGuard interface {
	CheckMemory() error
}

// Result describes one retraining pass.
type Result struct {
	StartedAt   time.Time      `json:"started_at"`
	FinishedAt  time.Time      `json:"finished_at"`
	Snapshot    int            `json:"snapshot"`
	Samples     int            `json:"samples"`
	Skipped     int            `json:"skipped"`
	Removed     int            `json:"removed"`
	ClassCounts map[string]int `json:"class_counts,omitempty"`
	Version     int64          `json:"version"`
	Summary     *nn.Summary    `json:"summary,omitempty"`
}

// TrainerConfig configures a Trainer.
type TrainerConfig struct {
	Train nn.TrainConfig
	// Workers bounds concurrent sample decoding. Zero uses GOMAXPROCS.
	Workers int
	Guard   MemoryGuard
	Logger  *slog.Logger
}

// Trainer runs one retraining pass over the staging area.
type Trainer struct {
	area   Staging
	holder Holder
	cfg    TrainerConfig
	logger *slog.Logger
}

// NewTrainer creates a Trainer.
func NewTrainer(area Staging, holder Holder, cfg TrainerConfig) *Trainer {
	if cfg.Workers <= 0 {
		cfg.Workers = runtime.GOMAXPROCS(0)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Trainer{area: area, holder: holder, cfg: cfg, logger: logger}
}

type loaded struct {
	x     []float64
	class lesion.Class
	ok    bool
}

// Run snapshots the staging area, fits the holder on every decodable
// sample and then deletes exactly the snapshot files. Samples staged while
// the pass runs are kept for the next one.
func (t *Trainer) Run(ctx context.Context) (*Result, error) {
	res := &Result{StartedAt: time.Now()}

	if t.cfg.Guard != nil {
		if err := t.cfg.Guard.CheckMemory(); err != nil {
			return res, fmt.Errorf("%w: %v", ErrResourcesExhausted, err)
		}
	}

	samples, err := t.area.Snapshot()
	if err != nil {
		return res, err
	}
	res.Snapshot = len(samples)

	items, err := t.load(ctx, samples)
	if err != nil {
		return res, err
	}

	xs := make([][]float64, 0, len(items))
	ys := make([][]float64, 0, len(items))
	counts := make(map[string]int)
	for _, it := range items {
		if !it.ok {
			res.Skipped++
			continue
		}
		xs = append(xs, it.x)
		ys = append(ys, lesion.OneHot(it.class))
		counts[it.class.String()]++
	}
	res.Samples = len(xs)
	res.ClassCounts = counts

	if len(xs) == 0 {
		res.FinishedAt = time.Now()
		return res, fmt.Errorf("%w: %d staged files, %d undecodable", ErrNoTrainingData, len(samples), res.Skipped)
	}

	t.logger.Info("retraining model",
		"samples", res.Samples,
		"skipped", res.Skipped,
		"max_epochs", t.cfg.Train.MaxEpochs,
	)

	summary, err := t.holder.Fit(ctx, xs, ys, t.cfg.Train)
	if err != nil {
		res.FinishedAt = time.Now()
		return res, fmt.Errorf("fit failed: %w", err)
	}
	res.Summary = summary
	res.Version = t.holder.Version()

	removed, err := t.area.Remove(samples)
	res.Removed = removed
	if err != nil {
		t.logger.Error("failed to clear processed samples", "error", err, "removed", removed)
	}

	res.FinishedAt = time.Now()
	return res, nil
}

// load decodes samples concurrently. Unreadable or undecodable files are
// logged and marked not ok; only cancellation aborts the load.
func (t *Trainer) load(ctx context.Context, samples []staging.Sample) ([]loaded, error) {
	items := make([]loaded, len(samples))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.cfg.Workers)

	for i, s := range samples {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			data, err := os.ReadFile(s.Path)
			if err != nil {
				t.logger.Warn("skipping unreadable sample", "name", s.Name, "error", err)
				return nil
			}

			x, _, err := imaging.Load(data)
			if err != nil {
				t.logger.Warn("skipping undecodable sample", "name", s.Name, "error", err)
				return nil
			}

			items[i] = loaded{x: x, class: s.Class, ok: true}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return items, nil
}
