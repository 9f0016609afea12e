package nn

import (
	"math"
	"math/rand"

	"github.com/samcharles93/wrn/internal/tensor"
)

// Linear computes y = x·W + b for a batch of row vectors.
type Linear struct {
	In, Out int
	Weight  *Param // [In x Out]
	Bias    *Param // [1 x Out]

	workers int
	x       tensor.Mat
}

// NewLinear allocates a zero-initialised layer.
func NewLinear(name string, in, out, workers int) *Linear {
	return &Linear{
		In:      in,
		Out:     out,
		Weight:  newParam(name+".weight", in, out),
		Bias:    newParam(name+".bias", 1, out),
		workers: workers,
	}
}

// Init draws weights from Xavier-uniform with gain √2 and zeroes the bias.
func (l *Linear) Init(rng *rand.Rand) {
	tensor.XavierUniform(&l.Weight.W, math.Sqrt2, rng)
	l.Bias.W.Zero()
}

func (l *Linear) Params() Params {
	return Params{l.Weight, l.Bias}
}

// Forward writes the layer output for x into dst.
func (l *Linear) Forward(dst, x *tensor.Mat) {
	if x.C != l.In {
		panic("linear: input width mismatch")
	}
	l.x.CopyFrom(x)
	dst.Reshape(x.R, l.Out)
	tensor.Gemm(dst, x, &l.Weight.W, tensor.NoTrans, tensor.NoTrans, 1, 0, l.workers)
	tensor.AddRowVec(dst, l.Bias.W.Data)
}

// Backward accumulates parameter gradients for dy and, when dx is non-nil,
// writes the gradient with respect to the input.
func (l *Linear) Backward(dx, dy *tensor.Mat) {
	tensor.Gemm(&l.Weight.G, &l.x, dy, tensor.Trans, tensor.NoTrans, 1, 1, l.workers)
	tensor.SumRows(l.Bias.G.Data, dy)
	if dx == nil {
		return
	}
	dx.Reshape(dy.R, l.In)
	tensor.Gemm(dx, dy, &l.Weight.W, tensor.NoTrans, tensor.Trans, 1, 0, l.workers)
}
