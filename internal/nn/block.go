package nn

import (
	"fmt"
	"math/rand"

	"github.com/samcharles93/wrn/internal/tensor"
)

// Block is a pre-activation residual block:
//
//	out = shortcut + fc2(dropout(relu(norm2(fc1(relu(norm1(x)))))))
//
// The shortcut is x itself when In == Out, otherwise a projection of
// relu(norm1(x)).
type Block struct {
	In, Out int
	Norm1   *LayerNorm
	FC1     *Linear
	Norm2   *LayerNorm
	FC2     *Linear
	Proj    *Linear
	Drop    *Dropout

	n1, a, h1, n2, r, tmp, da tensor.Mat
}

func NewBlock(name string, in, out int, dropout float64, rng *rand.Rand, workers int) *Block {
	b := &Block{
		In:    in,
		Out:   out,
		Norm1: NewLayerNorm(name+".norm1", in),
		FC1:   NewLinear(name+".fc1", in, out, workers),
		Norm2: NewLayerNorm(name+".norm2", out),
		FC2:   NewLinear(name+".fc2", out, out, workers),
		Drop:  NewDropout(dropout, rng),
	}
	if in != out {
		b.Proj = NewLinear(name+".shortcut", in, out, workers)
	}
	return b
}

func (b *Block) Init(rng *rand.Rand) {
	b.Norm1.Init()
	b.Norm2.Init()
	b.FC1.Init(rng)
	b.FC2.Init(rng)
	if b.Proj != nil {
		b.Proj.Init(rng)
	}
}

func (b *Block) Params() Params {
	var ps Params
	ps = append(ps, b.Norm1.Params()...)
	ps = append(ps, b.FC1.Params()...)
	ps = append(ps, b.Norm2.Params()...)
	ps = append(ps, b.FC2.Params()...)
	if b.Proj != nil {
		ps = append(ps, b.Proj.Params()...)
	}
	return ps
}

func (b *Block) String() string {
	return fmt.Sprintf("Block(%d->%d, proj=%t, p=%g)", b.In, b.Out, b.Proj != nil, b.Drop.P)
}

// Forward writes the block output for x into dst. dst must not alias x.
func (b *Block) Forward(dst, x *tensor.Mat, training bool) {
	b.Norm1.Forward(&b.n1, x)
	relu(&b.a, &b.n1)
	b.FC1.Forward(&b.h1, &b.a)
	b.Norm2.Forward(&b.n2, &b.h1)
	relu(&b.r, &b.n2)
	b.Drop.Forward(&b.r, training)
	b.FC2.Forward(dst, &b.r)

	if b.Proj != nil {
		b.Proj.Forward(&b.tmp, &b.a)
		tensor.Axpy(dst.Data, 1, b.tmp.Data)
		return
	}
	tensor.Axpy(dst.Data, 1, x.Data)
}

// Backward writes the input gradient for dy into dx.
func (b *Block) Backward(dx, dy *tensor.Mat) {
	b.FC2.Backward(&b.tmp, dy)
	b.Drop.Backward(&b.tmp)
	reluBackward(&b.tmp, &b.tmp, &b.n2)
	b.Norm2.Backward(&b.tmp, &b.tmp)
	b.FC1.Backward(&b.da, &b.tmp)

	if b.Proj != nil {
		b.Proj.Backward(&b.tmp, dy)
		tensor.Axpy(b.da.Data, 1, b.tmp.Data)
	}
	reluBackward(&b.da, &b.da, &b.n1)
	b.Norm1.Backward(dx, &b.da)
	if b.Proj == nil {
		tensor.Axpy(dx.Data, 1, dy.Data)
	}
}
