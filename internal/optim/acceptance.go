package optim

import (
	"math"

	"github.com/cwbudde/mppfit/internal/anneal"
	"github.com/cwbudde/mppfit/internal/kernel"
)

// AcceptanceProbabilityCalculator combines the annealing density ratio with
// each kernel's dimension-matching correction
type AcceptanceProbabilityCalculator struct {
	Anneal anneal.Scheme
}

// Calculate returns the probability of moving from current to proposal.
// Either state may be nil when absent. An absent state makes the density
// ratio NaN, which kernels treat as certain acceptance.
func (c AcceptanceProbabilityCalculator) Calculate(k kernel.Kernel, current, proposal Scored, iteration int, ctx *kernel.Context) float64 {
	sizeCurrent := sizeOrZero(current)
	sizeProposal := sizeOrZero(proposal)
	ratio := c.DensityRatio(current, proposal, iteration)
	return k.AcceptanceProbability(sizeCurrent, sizeProposal, ctx.PoissonIntensity, ctx.Dimensions, ratio)
}

// DensityRatio returns the annealed ratio of proposal to current, or NaN
// if either is absent
func (c AcceptanceProbabilityCalculator) DensityRatio(current, proposal Scored, iteration int) float64 {
	if current == nil || proposal == nil {
		return math.NaN()
	}
	return c.Anneal.DensityRatio(proposal.Score(), current.Score(), iteration)
}

func sizeOrZero(s Scored) int {
	if s == nil {
		return 0
	}
	return s.Size()
}
