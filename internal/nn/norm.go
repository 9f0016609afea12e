package nn

import (
	"math"

	"github.com/samcharles93/wrn/internal/tensor"
)

const normEps = 1e-5

// LayerNorm normalises each row to zero mean and unit variance, then
// applies a per-feature gain and bias. It sits where a convolutional WRN
// has batch norm, before every ReLU, and behaves the same in train and
// eval mode so single-image inference needs no running statistics.
type LayerNorm struct {
	Dim  int
	Gain *Param // [1 x Dim]
	Bias *Param // [1 x Dim]

	xhat   tensor.Mat
	invStd []float32
}

func NewLayerNorm(name string, dim int) *LayerNorm {
	n := &LayerNorm{
		Dim:  dim,
		Gain: newParam(name+".weight", 1, dim),
		Bias: newParam(name+".bias", 1, dim),
	}
	n.Init()
	return n
}

// Init sets the gain to one and the bias to zero.
func (n *LayerNorm) Init() {
	for i := range n.Gain.W.Data {
		n.Gain.W.Data[i] = 1
	}
	n.Bias.W.Zero()
}

func (n *LayerNorm) Params() Params {
	return Params{n.Gain, n.Bias}
}

// Forward writes the normalised x into dst. dst must not alias x.
func (n *LayerNorm) Forward(dst, x *tensor.Mat) {
	if x.C != n.Dim {
		panic("layernorm: input width mismatch")
	}
	dst.Reshape(x.R, x.C)
	n.xhat.Reshape(x.R, x.C)
	if cap(n.invStd) < x.R {
		n.invStd = make([]float32, x.R)
	}
	n.invStd = n.invStd[:x.R]

	g, b := n.Gain.W.Data, n.Bias.W.Data
	for i := 0; i < x.R; i++ {
		row := x.Row(i)
		var mean float64
		for _, v := range row {
			mean += float64(v)
		}
		mean /= float64(len(row))
		var variance float64
		for _, v := range row {
			d := float64(v) - mean
			variance += d * d
		}
		variance /= float64(len(row))
		inv := 1 / math.Sqrt(variance+normEps)
		n.invStd[i] = float32(inv)

		xh, out := n.xhat.Row(i), dst.Row(i)
		for j, v := range row {
			xh[j] = float32((float64(v) - mean) * inv)
			out[j] = g[j]*xh[j] + b[j]
		}
	}
}

// Backward accumulates gain and bias gradients and writes the input
// gradient into dx. dx may alias dy.
func (n *LayerNorm) Backward(dx, dy *tensor.Mat) {
	dx.Reshape(dy.R, dy.C)
	g := n.Gain.W.Data
	dg, db := n.Gain.G.Data, n.Bias.G.Data
	inv := 1 / float64(dy.C)
	for i := 0; i < dy.R; i++ {
		dyRow, xh := dy.Row(i), n.xhat.Row(i)
		var sumD, sumDX float64
		for j, d := range dyRow {
			dg[j] += d * xh[j]
			db[j] += d
			dxh := float64(d * g[j])
			sumD += dxh
			sumDX += dxh * float64(xh[j])
		}
		meanD, meanDX := sumD*inv, sumDX*inv
		s := float64(n.invStd[i])
		dxRow := dx.Row(i)
		for j, d := range dyRow {
			dxh := float64(d * g[j])
			dxRow[j] = float32(s * (dxh - meanD - float64(xh[j])*meanDX))
		}
	}
}
