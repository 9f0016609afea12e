// Package optim implements stochastic gradient descent with momentum and
// L2 weight decay over an nn.Params registry.
package optim

import (
	"errors"
	"fmt"
	"slices"

	"github.com/samcharles93/wrn/internal/nn"
)

var ErrStateMismatch = errors.New("optim: state does not match parameters")

// SGDConfig holds the optimizer hyperparameters.
type SGDConfig struct {
	LR          float64
	Momentum    float64
	WeightDecay float64
}

// SGD updates parameters as
//
//	d   = g + wd*p
//	buf = d                (first step)
//	buf = momentum*buf + d (afterwards)
//	p  -= lr*buf
type SGD struct {
	cfg    SGDConfig
	params nn.Params
	bufs   map[string][]float32
	steps  int64
}

// NewSGD validates cfg and binds the optimizer to params.
func NewSGD(params nn.Params, cfg SGDConfig) (*SGD, error) {
	if cfg.LR < 0 {
		return nil, fmt.Errorf("optim: learning rate cannot be negative: %g", cfg.LR)
	}
	if cfg.Momentum < 0 || cfg.Momentum > 1 {
		return nil, fmt.Errorf("optim: momentum must be in [0,1]: %g", cfg.Momentum)
	}
	if cfg.WeightDecay < 0 {
		return nil, fmt.Errorf("optim: weight decay cannot be negative: %g", cfg.WeightDecay)
	}
	return &SGD{
		cfg:    cfg,
		params: params,
		bufs:   make(map[string][]float32, len(params)),
	}, nil
}

func (o *SGD) LR() float64 { return o.cfg.LR }

// SetLR changes the learning rate for subsequent steps.
func (o *SGD) SetLR(lr float64) { o.cfg.LR = lr }

func (o *SGD) Steps() int64 { return o.steps }

// ZeroGrad clears the gradients of every bound parameter.
func (o *SGD) ZeroGrad() { o.params.ZeroGrad() }

// Step applies one update using the accumulated gradients.
func (o *SGD) Step() {
	lr := float32(o.cfg.LR)
	wd := float32(o.cfg.WeightDecay)
	mom := float32(o.cfg.Momentum)
	for _, p := range o.params {
		w, g := p.W.Data, p.G.Data
		if mom == 0 {
			for i := range w {
				w[i] -= lr * (g[i] + wd*w[i])
			}
			continue
		}
		buf, ok := o.bufs[p.Name]
		if !ok {
			buf = make([]float32, len(w))
			for i := range w {
				buf[i] = g[i] + wd*w[i]
			}
			o.bufs[p.Name] = buf
		} else {
			for i := range w {
				buf[i] = mom*buf[i] + g[i] + wd*w[i]
			}
		}
		for i := range w {
			w[i] -= lr * buf[i]
		}
	}
	o.steps++
}

// State is the serialisable optimizer state.
type State struct {
	Steps    int64
	Momentum map[string][]float32
}

// StateDict returns a copy of the momentum buffers and step count.
func (o *SGD) StateDict() State {
	st := State{Steps: o.steps, Momentum: make(map[string][]float32, len(o.bufs))}
	for name, buf := range o.bufs {
		st.Momentum[name] = slices.Clone(buf)
	}
	return st
}

// LoadStateDict restores buffers saved by StateDict. Buffers must name
// bound parameters and match their sizes.
func (o *SGD) LoadStateDict(st State) error {
	sizes := make(map[string]int, len(o.params))
	for _, p := range o.params {
		sizes[p.Name] = len(p.W.Data)
	}
	for name, buf := range st.Momentum {
		n, ok := sizes[name]
		if !ok {
			return fmt.Errorf("%w: unknown parameter %s", ErrStateMismatch, name)
		}
		if n != len(buf) {
			return fmt.Errorf("%w: %s has %d values, want %d", ErrStateMismatch, name, len(buf), n)
		}
	}
	o.bufs = make(map[string][]float32, len(st.Momentum))
	for name, buf := range st.Momentum {
		o.bufs[name] = slices.Clone(buf)
	}
	o.steps = st.Steps
	return nil
}
