package nn

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"time"

	"gonum.org/v1/gonum/floats"
)

// ErrDiverged is returned when the training loss becomes NaN or infinite.
var ErrDiverged = errors.New("training diverged")

// TrainConfig controls a Fit call.
type TrainConfig struct {
	MaxEpochs       int
	BatchSize       int
	LearningRate    float64
	ValidationSplit float64
	// Patience is the number of epochs without validation loss improvement
	// before training stops. Zero disables early stopping.
	Patience int
	MinDelta float64
	// Seed drives the split, shuffling and dropout. Zero picks a seed from
	// the clock.
	Seed int64
}

// DefaultTrainConfig mirrors the fine-tuning settings used for retraining.
func DefaultTrainConfig() TrainConfig {
	return TrainConfig{
		MaxEpochs:       10,
		BatchSize:       32,
		LearningRate:    0.001,
		ValidationSplit: 0.2,
		Patience:        3,
		MinDelta:        1e-4,
	}
}

func (c TrainConfig) validate() error {
	if c.MaxEpochs < 1 {
		return fmt.Errorf("max epochs must be at least 1, got %d", c.MaxEpochs)
	}
	if c.BatchSize < 1 {
		return fmt.Errorf("batch size must be at least 1, got %d", c.BatchSize)
	}
	if c.LearningRate < 0 {
		return fmt.Errorf("learning rate must be non-negative, got %f", c.LearningRate)
	}
	if c.ValidationSplit < 0 || c.ValidationSplit >= 1 {
		return fmt.Errorf("validation split must be in [0,1), got %f", c.ValidationSplit)
	}
	if c.Patience < 0 {
		return fmt.Errorf("patience must be non-negative, got %d", c.Patience)
	}
	return nil
}

// EpochStats records the metrics of one training epoch.
type EpochStats struct {
	Epoch       int     `json:"epoch"`
	TrainLoss   float64 `json:"train_loss"`
	ValLoss     float64 `json:"val_loss"`
	ValAccuracy float64 `json:"val_accuracy"`
}

// Summary describes a completed Fit.
type Summary struct {
	Epochs       int          `json:"epochs"`
	BestEpoch    int          `json:"best_epoch"`
	BestValLoss  float64      `json:"best_val_loss"`
	BestAccuracy float64      `json:"best_val_accuracy"`
	StoppedEarly bool         `json:"stopped_early"`
	TrainSamples int          `json:"train_samples"`
	ValSamples   int          `json:"val_samples"`
	History      []EpochStats `json:"history"`
}

// Fit trains the network in place with mini-batch Adam. The monitored loss
// is computed on a held-out validation split, or on the training set when
// the split leaves no validation samples. When training finishes the
// weights from the best monitored epoch are restored.
//
// If ctx is cancelled or training diverges, Fit returns an error and the
// network is left in an intermediate state.
func (n *Network) Fit(ctx context.Context, xs, ys [][]float64, cfg TrainConfig) (*Summary, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := n.checkSet(xs, ys); err != nil {
		return nil, err
	}

	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	rng := rand.New(rand.NewSource(seed))

	trainIdx, valIdx := splitIndices(rng, len(xs), cfg.ValidationSplit)
	monitorX, monitorY := subset(xs, ys, valIdx)
	if len(valIdx) == 0 {
		monitorX, monitorY = xs, ys
	}

	summary := &Summary{
		TrainSamples: len(trainIdx),
		ValSamples:   len(valIdx),
		BestValLoss:  math.Inf(1),
	}

	opt := newAdam(n.params(), cfg.LearningRate)
	grads, _ := newZero(n.arch)
	var best [][]float64
	wait := 0

	for epoch := 1; epoch <= cfg.MaxEpochs; epoch++ {
		rng.Shuffle(len(trainIdx), func(i, j int) { trainIdx[i], trainIdx[j] = trainIdx[j], trainIdx[i] })

		var epochLoss float64
		for start := 0; start < len(trainIdx); start += cfg.BatchSize {
			if err := ctx.Err(); err != nil {
				return nil, err
			}

			end := min(start+cfg.BatchSize, len(trainIdx))
			grads.zero()
			for _, i := range trainIdx[start:end] {
				act := n.forward(xs[i], rng)
				epochLoss += crossEntropy(act.probs, ys[i])
				n.backward(act, ys[i], grads)
			}

			scale := 1 / float64(end-start)
			for _, g := range grads.params() {
				floats.Scale(scale, g)
			}
			opt.step(n.params(), grads.params())
		}
		epochLoss /= float64(len(trainIdx))

		if math.IsNaN(epochLoss) || math.IsInf(epochLoss, 0) {
			return nil, fmt.Errorf("%w at epoch %d", ErrDiverged, epoch)
		}

		valLoss, valAcc, err := n.Evaluate(monitorX, monitorY)
		if err != nil {
			return nil, err
		}

		summary.Epochs = epoch
		summary.History = append(summary.History, EpochStats{
			Epoch:       epoch,
			TrainLoss:   epochLoss,
			ValLoss:     valLoss,
			ValAccuracy: valAcc,
		})

		if best == nil || valLoss < summary.BestValLoss-cfg.MinDelta {
			summary.BestValLoss = valLoss
			summary.BestAccuracy = valAcc
			summary.BestEpoch = epoch
			best = n.snapshotParams()
			wait = 0
			continue
		}

		wait++
		if cfg.Patience > 0 && wait >= cfg.Patience {
			summary.StoppedEarly = true
			break
		}
	}

	if best != nil {
		n.setParams(best)
	}

	return summary, nil
}

func (n *Network) zero() {
	for _, p := range n.params() {
		clear(p)
	}
}

// splitIndices shuffles 0..count-1 and holds out a validation fraction,
// always leaving at least one training sample.
func splitIndices(rng *rand.Rand, count int, split float64) (train, val []int) {
	perm := rng.Perm(count)
	nVal := int(math.Round(float64(count) * split))
	if nVal >= count {
		nVal = count - 1
	}
	return perm[nVal:], perm[:nVal]
}

func subset(xs, ys [][]float64, idx []int) ([][]float64, [][]float64) {
	sx := make([][]float64, len(idx))
	sy := make([][]float64, len(idx))
	for i, j := range idx {
		sx[i] = xs[j]
		sy[i] = ys[j]
	}
	return sx, sy
}

// adam implements the Adam optimizer over a fixed list of parameter slices.
type adam struct {
	lr, beta1, beta2, eps float64
	t                     int
	m, v                  [][]float64
}

func newAdam(params [][]float64, lr float64) *adam {
	a := &adam{lr: lr, beta1: 0.9, beta2: 0.999, eps: 1e-7}
	a.m = make([][]float64, len(params))
	a.v = make([][]float64, len(params))
	for i, p := range params {
		a.m[i] = make([]float64, len(p))
		a.v[i] = make([]float64, len(p))
	}
	return a
}

func (a *adam) step(params, grads [][]float64) {
	a.t++
	bc1 := 1 - math.Pow(a.beta1, float64(a.t))
	bc2 := 1 - math.Pow(a.beta2, float64(a.t))

	for i, p := range params {
		g, m, v := grads[i], a.m[i], a.v[i]
		for j := range p {
			m[j] = a.beta1*m[j] + (1-a.beta1)*g[j]
			v[j] = a.beta2*v[j] + (1-a.beta2)*g[j]*g[j]
			p[j] -= a.lr * (m[j] / bc1) / (math.Sqrt(v[j]/bc2) + a.eps)
		}
	}
}
