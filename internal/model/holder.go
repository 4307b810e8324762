// Package model owns the live classifier. Readers take an immutable
// snapshot; training works on a clone that is persisted and then published
// with a single pointer swap.
package model

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"gonum.org/v1/gonum/floats"

	"github.com/haskel/dermfox/internal/lesion"
	"github.com/haskel/dermfox/internal/nn"
	"github.com/haskel/dermfox/internal/storage"
)

// ErrNotLoaded is returned before Load has published a network.
var ErrNotLoaded = errors.New("model not loaded")

// Prediction is the classifier output for one input.
type Prediction struct {
	Class         lesion.Class
	Confidence    float64
	Probabilities []float64
}

// Snapshot is an immutable published version of the network.
type Snapshot struct {
	net       *nn.Network
	Version   int64
	Source    string
	UpdatedAt time.Time
}

// Predict classifies every input of batch with this snapshot's weights.
func (s *Snapshot) Predict(batch [][]float64) ([]Prediction, error) {
	out := make([]Prediction, len(batch))
	for i, x := range batch {
		probs, err := s.net.Predict(x)
		if err != nil {
			return nil, fmt.Errorf("sample %d: %w", i, err)
		}
		best := floats.MaxIdx(probs)
		out[i] = Prediction{
			Class:         lesion.Class(best),
			Confidence:    probs[best],
			Probabilities: probs,
		}
	}
	return out, nil
}

// Options configures a Holder.
type Options struct {
	Architecture nn.Architecture
	// Seed initialises fresh weights when no weights file exists.
	Seed int64
	// InitialVersion is the version assigned to the weights loaded at start.
	InitialVersion int64
}

// Holder publishes the current network.
type Holder struct {
	store  *storage.ModelStorage
	opts   Options
	logger *slog.Logger

	current atomic.Pointer[Snapshot]
	// fitMu serialises writers; readers never take it.
	fitMu sync.Mutex
}

// New creates a Holder backed by store. Call Load before serving.
func New(store *storage.ModelStorage, opts Options, logger *slog.Logger) *Holder {
	return &Holder{
		store:  store,
		opts:   opts,
		logger: logger,
	}
}

// Load reads the weights file, falling back to freshly initialised weights
// when there is none. A corrupt file or weights for a different
// architecture are rejected so they are never silently replaced.
func (h *Holder) Load() error {
	h.fitMu.Lock()
	defer h.fitMu.Unlock()

	net, err := nn.New(h.opts.Architecture, h.opts.Seed)
	if err != nil {
		return fmt.Errorf("failed to build network: %w", err)
	}

	loaded, err := h.store.LoadModel(net)
	if err != nil {
		return fmt.Errorf("%w (move it aside to start from fresh weights)", err)
	}

	source := "file"
	if !loaded {
		source = "fresh"
		h.logger.Warn("serving untrained weights", "path", h.store.Path())
	}

	if got := net.Architecture(); got != h.opts.Architecture {
		return fmt.Errorf("weights architecture %+v does not match configured %+v", got, h.opts.Architecture)
	}

	h.current.Store(&Snapshot{
		net:       net,
		Version:   h.opts.InitialVersion,
		Source:    source,
		UpdatedAt: time.Now(),
	})

	h.logger.Info("model ready",
		"source", source,
		"version", h.opts.InitialVersion,
		"params", net.NumParams(),
	)
	return nil
}

// Current returns the published snapshot, or nil before Load.
func (h *Holder) Current() *Snapshot {
	return h.current.Load()
}

// Ready reports whether a network has been published.
func (h *Holder) Ready() bool {
	return h.current.Load() != nil
}

// Version returns the published version.
func (h *Holder) Version() int64 {
	if s := h.current.Load(); s != nil {
		return s.Version
	}
	return 0
}

// Predict classifies a batch with the currently published weights.
func (h *Holder) Predict(batch [][]float64) ([]Prediction, error) {
	s := h.current.Load()
	if s == nil {
		return nil, ErrNotLoaded
	}
	return s.Predict(batch)
}

// PredictOne classifies a single input.
func (h *Holder) PredictOne(x []float64) (Prediction, error) {
	preds, err := h.Predict([][]float64{x})
	if err != nil {
		return Prediction{}, err
	}
	return preds[0], nil
}

// Fit trains a clone of the current network, persists it and publishes it.
// On any error the published weights and the weights file are unchanged.
func (h *Holder) Fit(ctx context.Context, xs, ys [][]float64, cfg nn.TrainConfig) (*nn.Summary, error) {
	h.fitMu.Lock()
	defer h.fitMu.Unlock()

	cur := h.current.Load()
	if cur == nil {
		return nil, ErrNotLoaded
	}

	candidate := cur.net.Clone()
	summary, err := candidate.Fit(ctx, xs, ys, cfg)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	if err := h.store.SaveModel(candidate); err != nil {
		return nil, fmt.Errorf("failed to persist weights: %w", err)
	}

	next := &Snapshot{
		net:       candidate,
		Version:   cur.Version + 1,
		Source:    "retrain",
		UpdatedAt: time.Now(),
	}
	h.current.Store(next)

	h.logger.Info("published retrained model",
		"version", next.Version,
		"epochs", summary.Epochs,
		"best_epoch", summary.BestEpoch,
		"val_loss", summary.BestValLoss,
		"val_accuracy", summary.BestAccuracy,
	)

	return summary, nil
}

// Save persists the published weights.
func (h *Holder) Save() error {
	h.fitMu.Lock()
	defer h.fitMu.Unlock()

	cur := h.current.Load()
	if cur == nil {
		return ErrNotLoaded
	}
	return h.store.SaveModel(cur.net)
}

// Info describes the published model and its weights file.
type Info struct {
	Version      int64             `json:"version"`
	Source       string            `json:"source"`
	PublishedAt  time.Time         `json:"published_at"`
	Params       int               `json:"params"`
	Architecture nn.Architecture   `json:"architecture"`
	Weights      storage.ModelInfo `json:"weights"`
}

// Info returns details about the published model.
func (h *Holder) Info() Info {
	info := Info{Weights: h.store.GetModelInfo()}
	if s := h.current.Load(); s != nil {
		info.Version = s.Version
		info.Source = s.Source
		info.PublishedAt = s.UpdatedAt
		info.Params = s.net.NumParams()
		info.Architecture = s.net.Architecture()
	}
	return info
}
