// Package nn implements the wide residual network trained by wrn.
//
// Layers are dense; each layer caches what its backward pass needs during
// Forward, so a Backward call must follow the matching Forward on the same
// batch. Gradients accumulate into Param.G until ZeroGrad.
package nn

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/wrn/internal/tensor"
)

var (
	ErrMissingParam  = errors.New("nn: missing parameter")
	ErrShapeMismatch = errors.New("nn: parameter shape mismatch")
)

// Param is a named trainable tensor and its gradient.
type Param struct {
	Name string
	W    tensor.Mat
	G    tensor.Mat
}

func newParam(name string, r, c int) *Param {
	return &Param{
		Name: name,
		W:    tensor.NewMat(r, c),
		G:    tensor.NewMat(r, c),
	}
}

// Shape returns the stored shape. Bias vectors are reported as 1-D.
func (p *Param) Shape() []int {
	if p.W.R == 1 {
		return []int{p.W.C}
	}
	return []int{p.W.R, p.W.C}
}

// Tensor is a detached copy of a parameter used for persistence.
type Tensor struct {
	Shape []int
	Data  []float32
}

// NumElements returns the product of the shape.
func (t Tensor) NumElements() int {
	n := 1
	for _, d := range t.Shape {
		n *= d
	}
	return n
}

// Params is an ordered parameter registry.
type Params []*Param

// ZeroGrad clears every gradient.
func (ps Params) ZeroGrad() {
	for _, p := range ps {
		p.G.Zero()
	}
}

// Count returns the total number of scalar parameters.
func (ps Params) Count() int {
	n := 0
	for _, p := range ps {
		n += len(p.W.Data)
	}
	return n
}

// Names returns parameter names in registry order.
func (ps Params) Names() []string {
	out := make([]string, len(ps))
	for i, p := range ps {
		out[i] = p.Name
	}
	return out
}

// StateDict copies every parameter value.
func (ps Params) StateDict() map[string]Tensor {
	out := make(map[string]Tensor, len(ps))
	for _, p := range ps {
		out[p.Name] = Tensor{
			Shape: p.Shape(),
			Data:  slices.Clone(p.W.Data),
		}
	}
	return out
}

// LoadStateDict copies values from sd into the registry. Every parameter
// must be present with a matching shape; extra entries are ignored.
func (ps Params) LoadStateDict(sd map[string]Tensor) error {
	for _, p := range ps {
		t, ok := sd[p.Name]
		if !ok {
			return fmt.Errorf("%w: %s", ErrMissingParam, p.Name)
		}
		if !slices.Equal(t.Shape, p.Shape()) || len(t.Data) != len(p.W.Data) {
			return fmt.Errorf("%w: %s has %v, want %v", ErrShapeMismatch, p.Name, t.Shape, p.Shape())
		}
	}
	for _, p := range ps {
		copy(p.W.Data, sd[p.Name].Data)
	}
	return nil
}
