// Package schedule computes per-epoch learning rates.
package schedule

import (
	"errors"
	"fmt"
	"math"
)

var ErrUnsortedMilestones = errors.New("schedule: decay epochs must be strictly increasing")

// Scheduler returns the learning rate to use for a 1-based epoch.
type Scheduler interface {
	LR(epoch int) float64
	Name() string
}

// StepDecay is a piecewise-constant schedule: the base rate is multiplied
// by Rate once for every milestone the epoch has passed.
type StepDecay struct {
	Base       float64
	Rate       float64
	Milestones []int
}

// NewStepDecay validates milestones and builds a StepDecay.
func NewStepDecay(base, rate float64, milestones []int) (*StepDecay, error) {
	for i := 1; i < len(milestones); i++ {
		if milestones[i] <= milestones[i-1] {
			return nil, fmt.Errorf("%w: %v", ErrUnsortedMilestones, milestones)
		}
	}
	ms := make([]int, len(milestones))
	copy(ms, milestones)
	return &StepDecay{Base: base, Rate: rate, Milestones: ms}, nil
}

// LR returns Base * Rate^k, k = number of milestones strictly below epoch.
func (s *StepDecay) LR(epoch int) float64 {
	k := s.Crossed(epoch)
	if k == 0 {
		return s.Base
	}
	return s.Base * math.Pow(s.Rate, float64(k))
}

// Crossed reports how many milestones epoch has passed.
func (s *StepDecay) Crossed(epoch int) int {
	k := 0
	for _, m := range s.Milestones {
		if epoch > m {
			k++
		}
	}
	return k
}

func (s *StepDecay) Name() string {
	return "StepDecay"
}
