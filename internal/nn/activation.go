package nn

import (
	"math/rand"

	"github.com/samcharles93/wrn/internal/tensor"
)

// relu writes max(0, x) into dst.
func relu(dst, x *tensor.Mat) {
	dst.Reshape(x.R, x.C)
	for i, v := range x.Data {
		if v > 0 {
			dst.Data[i] = v
		} else {
			dst.Data[i] = 0
		}
	}
}

// reluBackward writes dy masked by x > 0 into dx. dx may alias dy.
func reluBackward(dx, dy, x *tensor.Mat) {
	dx.Reshape(dy.R, dy.C)
	for i, v := range x.Data {
		if v > 0 {
			dx.Data[i] = dy.Data[i]
		} else {
			dx.Data[i] = 0
		}
	}
}

// Dropout zeroes activations with probability P during training and scales
// survivors by 1/(1-P). It is the identity in eval mode.
type Dropout struct {
	P    float64
	rng  *rand.Rand
	mask []float32
	on   bool
}

func NewDropout(p float64, rng *rand.Rand) *Dropout {
	return &Dropout{P: p, rng: rng}
}

// Forward applies dropout to x in place.
func (d *Dropout) Forward(x *tensor.Mat, training bool) {
	d.on = training && d.P > 0
	if !d.on {
		return
	}
	if cap(d.mask) < len(x.Data) {
		d.mask = make([]float32, len(x.Data))
	}
	d.mask = d.mask[:len(x.Data)]
	scale := float32(1 / (1 - d.P))
	for i := range x.Data {
		if d.rng.Float64() < d.P {
			d.mask[i] = 0
		} else {
			d.mask[i] = scale
		}
		x.Data[i] *= d.mask[i]
	}
}

// Backward applies the forward mask to dy in place.
func (d *Dropout) Backward(dy *tensor.Mat) {
	if !d.on {
		return
	}
	for i := range dy.Data {
		dy.Data[i] *= d.mask[i]
	}
}
