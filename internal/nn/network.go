// Package nn implements the fixed convolutional classifier used to label
// skin-lesion images: two convolution/max-pool stages followed by a hidden
// dense layer with dropout and a softmax output.
//
// A Network is safe for concurrent Predict calls as long as nobody mutates
// it. Training mutates in place, so callers that serve traffic train a Clone.
package nn

import (
	"errors"
	"fmt"
	"math"
	"math/rand"

	"gonum.org/v1/gonum/floats"
)

// ErrInputShape is returned when an input or target vector has the wrong
// length for the network's architecture.
var ErrInputShape = errors.New("input shape mismatch")

// Architecture fixes the layer sizes of the network.
type Architecture struct {
	InputChannels int     `json:"input_channels"`
	InputSize     int     `json:"input_size"`
	Conv1Filters  int     `json:"conv1_filters"`
	Conv2Filters  int     `json:"conv2_filters"`
	Hidden        int     `json:"hidden"`
	Classes       int     `json:"classes"`
	DropoutRate   float64 `json:"dropout_rate"`
}

// DefaultArchitecture is the production classifier: 28x28 RGB input,
// 16 and 32 filter convolutions, 64 hidden units, 7 classes.
func DefaultArchitecture() Architecture {
	return Architecture{
		InputChannels: 3,
		InputSize:     28,
		Conv1Filters:  16,
		Conv2Filters:  32,
		Hidden:        64,
		Classes:       7,
		DropoutRate:   0.2,
	}
}

// Validate checks that the layer sizes produce a usable network.
func (a Architecture) Validate() error {
	if a.InputChannels < 1 || a.Conv1Filters < 1 || a.Conv2Filters < 1 || a.Hidden < 1 {
		return fmt.Errorf("layer sizes must be positive: %+v", a)
	}
	if a.Classes < 2 {
		return fmt.Errorf("need at least 2 classes, got %d", a.Classes)
	}
	if a.DropoutRate < 0 || a.DropoutRate >= 1 {
		return fmt.Errorf("dropout rate must be in [0,1), got %f", a.DropoutRate)
	}
	if a.pool2Size() < 1 {
		return fmt.Errorf("input size %d too small", a.InputSize)
	}
	return nil
}

// InputLen is the length of one input tensor.
func (a Architecture) InputLen() int {
	return a.InputChannels * a.InputSize * a.InputSize
}

func (a Architecture) pool1Size() int { return a.InputSize / 2 }
func (a Architecture) conv2Size() int { return a.pool1Size() - 2 }
func (a Architecture) pool2Size() int { return a.conv2Size() / 2 }
func (a Architecture) flatLen() int   { return a.Conv2Filters * a.pool2Size() * a.pool2Size() }

// conv2D is a square-kernel convolution with stride 1.
// W is laid out [out][in][ky][kx].
type conv2D struct {
	In, Out, K, Pad int
	W, B            []float64
}

func newConv2D(in, out, k, pad int) *conv2D {
	return &conv2D{
		In: in, Out: out, K: k, Pad: pad,
		W: make([]float64, out*in*k*k),
		B: make([]float64, out),
	}
}

func (c *conv2D) outSize(s int) int {
	return s + 2*c.Pad - c.K + 1
}

func (c *conv2D) forward(x []float64, s int) []float64 {
	os := c.outSize(s)
	y := make([]float64, c.Out*os*os)

	for o := 0; o < c.Out; o++ {
		for oy := 0; oy < os; oy++ {
			for ox := 0; ox < os; ox++ {
				sum := c.B[o]
				for i := 0; i < c.In; i++ {
					for ky := 0; ky < c.K; ky++ {
						iy := oy + ky - c.Pad
						if iy < 0 || iy >= s {
							continue
						}
						for kx := 0; kx < c.K; kx++ {
							ix := ox + kx - c.Pad
							if ix < 0 || ix >= s {
								continue
							}
							sum += c.W[((o*c.In+i)*c.K+ky)*c.K+kx] * x[(i*s+iy)*s+ix]
						}
					}
				}
				y[(o*os+oy)*os+ox] = sum
			}
		}
	}
	return y
}

// backward accumulates parameter gradients into g and, when dx is non-nil,
// input gradients into dx.
func (c *conv2D) backward(x []float64, s int, dy []float64, g *conv2D, dx []float64) {
	os := c.outSize(s)

	for o := 0; o < c.Out; o++ {
		for oy := 0; oy < os; oy++ {
			for ox := 0; ox < os; ox++ {
				d := dy[(o*os+oy)*os+ox]
				if d == 0 {
					continue
				}
				g.B[o] += d
				for i := 0; i < c.In; i++ {
					for ky := 0; ky < c.K; ky++ {
						iy := oy + ky - c.Pad
						if iy < 0 || iy >= s {
							continue
						}
						for kx := 0; kx < c.K; kx++ {
							ix := ox + kx - c.Pad
							if ix < 0 || ix >= s {
								continue
							}
							wi := ((o*c.In+i)*c.K+ky)*c.K + kx
							xi := (i*s+iy)*s + ix
							g.W[wi] += d * x[xi]
							if dx != nil {
								dx[xi] += d * c.W[wi]
							}
						}
					}
				}
			}
		}
	}
}

// dense is a fully connected layer. W is laid out [out][in].
type dense struct {
	In, Out int
	W, B    []float64
}

func newDense(in, out int) *dense {
	return &dense{In: in, Out: out, W: make([]float64, out*in), B: make([]float64, out)}
}

func (d *dense) row(o int) []float64 {
	return d.W[o*d.In : (o+1)*d.In]
}

func (d *dense) forward(x []float64) []float64 {
	y := make([]float64, d.Out)
	for o := range y {
		y[o] = d.B[o] + floats.Dot(d.row(o), x)
	}
	return y
}

func (d *dense) backward(x, dy []float64, g *dense) []float64 {
	dx := make([]float64, d.In)
	for o, v := range dy {
		if v == 0 {
			continue
		}
		g.B[o] += v
		floats.AddScaled(g.row(o), v, x)
		floats.AddScaled(dx, v, d.row(o))
	}
	return dx
}

// maxPool2 applies a 2x2 stride-2 max pool to c channels of size s and
// records the argmax position of every output.
func maxPool2(x []float64, c, s int) ([]float64, []int) {
	ps := s / 2
	y := make([]float64, c*ps*ps)
	idx := make([]int, len(y))

	for ch := 0; ch < c; ch++ {
		for py := 0; py < ps; py++ {
			for px := 0; px < ps; px++ {
				best := -1
				bestVal := math.Inf(-1)
				for dy := 0; dy < 2; dy++ {
					for dx := 0; dx < 2; dx++ {
						i := (ch*s+2*py+dy)*s + 2*px + dx
						if x[i] > bestVal {
							bestVal = x[i]
							best = i
						}
					}
				}
				o := (ch*ps+py)*ps + px
				y[o] = bestVal
				idx[o] = best
			}
		}
	}
	return y, idx
}

func maxPool2Backward(dy []float64, idx []int, inLen int) []float64 {
	dx := make([]float64, inLen)
	for o, i := range idx {
		dx[i] += dy[o]
	}
	return dx
}

func reluInPlace(x []float64) {
	for i, v := range x {
		if v < 0 {
			x[i] = 0
		}
	}
}

// reluMask zeroes gradient entries whose activation was clipped.
func reluMask(grad, act []float64) {
	for i, a := range act {
		if a <= 0 {
			grad[i] = 0
		}
	}
}

func softmax(z []float64) []float64 {
	p := make([]float64, len(z))
	maxZ := floats.Max(z)
	var sum float64
	for i, v := range z {
		p[i] = math.Exp(v - maxZ)
		sum += p[i]
	}
	floats.Scale(1/sum, p)
	return p
}

func crossEntropy(p, target []float64) float64 {
	var loss float64
	for i, t := range target {
		if t == 0 {
			continue
		}
		loss -= t * math.Log(math.Max(p[i], 1e-12))
	}
	return loss
}

// Network is the convolutional classifier.
type Network struct {
	arch   Architecture
	conv1  *conv2D
	conv2  *conv2D
	hidden *dense
	output *dense
}

// New returns a network with He-initialised weights drawn from seed.
func New(arch Architecture, seed int64) (*Network, error) {
	n, err := newZero(arch)
	if err != nil {
		return nil, err
	}

	rng := rand.New(rand.NewSource(seed))
	heUniform(rng, n.conv1.W, n.conv1.In*n.conv1.K*n.conv1.K)
	heUniform(rng, n.conv2.W, n.conv2.In*n.conv2.K*n.conv2.K)
	heUniform(rng, n.hidden.W, n.hidden.In)
	heUniform(rng, n.output.W, n.output.In)

	return n, nil
}

func newZero(arch Architecture) (*Network, error) {
	if err := arch.Validate(); err != nil {
		return nil, err
	}
	return &Network{
		arch:   arch,
		conv1:  newConv2D(arch.InputChannels, arch.Conv1Filters, 3, 1),
		conv2:  newConv2D(arch.Conv1Filters, arch.Conv2Filters, 3, 0),
		hidden: newDense(arch.flatLen(), arch.Hidden),
		output: newDense(arch.Hidden, arch.Classes),
	}, nil
}

func heUniform(rng *rand.Rand, w []float64, fanIn int) {
	limit := math.Sqrt(6 / float64(fanIn))
	for i := range w {
		w[i] = (rng.Float64()*2 - 1) * limit
	}
}

// Architecture returns the network's layer sizes.
func (n *Network) Architecture() Architecture {
	return n.arch
}

// NumParams returns the number of trainable parameters.
func (n *Network) NumParams() int {
	total := 0
	for _, p := range n.params() {
		total += len(p)
	}
	return total
}

// params returns the parameter slices in a fixed order. The slices alias
// the network's storage.
func (n *Network) params() [][]float64 {
	return [][]float64{
		n.conv1.W, n.conv1.B,
		n.conv2.W, n.conv2.B,
		n.hidden.W, n.hidden.B,
		n.output.W, n.output.B,
	}
}

// Clone returns a deep copy.
func (n *Network) Clone() *Network {
	c, _ := newZero(n.arch)
	c.setParams(n.params())
	return c
}

func (n *Network) setParams(src [][]float64) {
	for i, dst := range n.params() {
		copy(dst, src[i])
	}
}

func (n *Network) snapshotParams() [][]float64 {
	src := n.params()
	out := make([][]float64, len(src))
	for i, p := range src {
		out[i] = append([]float64(nil), p...)
	}
	return out
}

// activations holds the intermediate values of one forward pass.
type activations struct {
	input []float64
	a1    []float64
	p1    []float64
	idx1  []int
	a2    []float64
	p2    []float64
	idx2  []int
	h     []float64
	hd    []float64
	mask  []float64
	probs []float64
}

// forward runs the network on x. Dropout is applied only when rng is
// non-nil.
func (n *Network) forward(x []float64, rng *rand.Rand) *activations {
	a := n.arch
	act := &activations{input: x}

	act.a1 = n.conv1.forward(x, a.InputSize)
	reluInPlace(act.a1)
	act.p1, act.idx1 = maxPool2(act.a1, a.Conv1Filters, a.InputSize)

	act.a2 = n.conv2.forward(act.p1, a.pool1Size())
	reluInPlace(act.a2)
	act.p2, act.idx2 = maxPool2(act.a2, a.Conv2Filters, a.conv2Size())

	act.h = n.hidden.forward(act.p2)
	reluInPlace(act.h)

	act.hd = act.h
	if rng != nil && a.DropoutRate > 0 {
		keep := 1 - a.DropoutRate
		act.mask = make([]float64, len(act.h))
		act.hd = make([]float64, len(act.h))
		for i, v := range act.h {
			if rng.Float64() < keep {
				act.mask[i] = 1 / keep
				act.hd[i] = v / keep
			}
		}
	}

	act.probs = softmax(n.output.forward(act.hd))
	return act
}

// backward accumulates the gradient of the cross-entropy loss for one
// sample into g.
func (n *Network) backward(act *activations, target []float64, g *Network) {
	a := n.arch

	dz := make([]float64, len(act.probs))
	floats.SubTo(dz, act.probs, target)

	dh := n.output.backward(act.hd, dz, g.output)
	if act.mask != nil {
		floats.Mul(dh, act.mask)
	}
	reluMask(dh, act.h)

	dp2 := n.hidden.backward(act.p2, dh, g.hidden)
	da2 := maxPool2Backward(dp2, act.idx2, len(act.a2))
	reluMask(da2, act.a2)

	dp1 := make([]float64, len(act.p1))
	n.conv2.backward(act.p1, a.pool1Size(), da2, g.conv2, dp1)

	da1 := maxPool2Backward(dp1, act.idx1, len(act.a1))
	reluMask(da1, act.a1)
	n.conv1.backward(act.input, a.InputSize, da1, g.conv1, nil)
}

func (n *Network) checkInput(x []float64) error {
	if len(x) != n.arch.InputLen() {
		return fmt.Errorf("%w: expected %d values, got %d", ErrInputShape, n.arch.InputLen(), len(x))
	}
	return nil
}

// Predict returns class probabilities for one input tensor.
func (n *Network) Predict(x []float64) ([]float64, error) {
	if err := n.checkInput(x); err != nil {
		return nil, err
	}
	return n.forward(x, nil).probs, nil
}

// Evaluate returns mean cross-entropy loss and accuracy over a labeled set.
func (n *Network) Evaluate(xs, ys [][]float64) (loss, accuracy float64, err error) {
	if err := n.checkSet(xs, ys); err != nil {
		return 0, 0, err
	}
	correct := 0
	for i, x := range xs {
		p := n.forward(x, nil).probs
		loss += crossEntropy(p, ys[i])
		if floats.MaxIdx(p) == floats.MaxIdx(ys[i]) {
			correct++
		}
	}
	count := float64(len(xs))
	return loss / count, float64(correct) / count, nil
}

func (n *Network) checkSet(xs, ys [][]float64) error {
	if len(xs) == 0 {
		return fmt.Errorf("%w: empty dataset", ErrInputShape)
	}
	if len(xs) != len(ys) {
		return fmt.Errorf("%w: %d inputs but %d targets", ErrInputShape, len(xs), len(ys))
	}
	for i := range xs {
		if err := n.checkInput(xs[i]); err != nil {
			return fmt.Errorf("sample %d: %w", i, err)
		}
		if len(ys[i]) != n.arch.Classes {
			return fmt.Errorf("%w: sample %d target has %d classes, expected %d", ErrInputShape, i, len(ys[i]), n.arch.Classes)
		}
	}
	return nil
}
