package kernel

import (
	"fmt"
	"math"
	"math/rand/v2"
)

// WeightedKernel pairs a kernel with its selection weight
type WeightedKernel struct {
	Kernel Kernel
	Weight float64
}

// Proposer picks kernels from a weighted menu by roulette wheel
type Proposer struct {
	menu    []WeightedKernel
	weights []float64
	total   float64
}

// NewProposer validates a kernel menu. Weights must be positive and finite.
func NewProposer(menu ...WeightedKernel) (*Proposer, error) {
	if len(menu) == 0 {
		return nil, &InitError{Component: "kernel proposer", Err: ErrEmptyMenu}
	}
	p := &Proposer{
		menu:    append([]WeightedKernel(nil), menu...),
		weights: make([]float64, len(menu)),
	}
	for i, wk := range menu {
		if wk.Kernel == nil {
			return nil, &InitError{Component: "kernel proposer", Err: fmt.Errorf("menu entry %d has no kernel", i)}
		}
		if !(wk.Weight > 0) || math.IsInf(wk.Weight, 1) {
			return nil, &InitError{
				Component: "kernel proposer",
				Err:       fmt.Errorf("kernel %s has invalid weight %f", wk.Kernel.Name(), wk.Weight),
			}
		}
		p.weights[i] = wk.Weight
		p.total += wk.Weight
	}
	return p, nil
}

// Init initialises every kernel against ctx
func (p *Proposer) Init(ctx *Context) error {
	for _, wk := range p.menu {
		if err := wk.Kernel.Init(ctx); err != nil {
			return err
		}
	}
	return nil
}

// Propose selects a kernel with probability proportional to its weight
func (p *Proposer) Propose(rng *rand.Rand) Kernel {
	return p.menu[roulette(rng.Float64()*p.total, p.weights)].Kernel
}

// Menu returns a copy of the kernel menu
func (p *Proposer) Menu() []WeightedKernel {
	return append([]WeightedKernel(nil), p.menu...)
}
