// Package kernel implements the moves of the marked point process sampler.
// Each kernel proposes a candidate configuration from the current one and
// knows the acceptance correction for its move type.
package kernel

import (
	"math"

	"github.com/cwbudde/mppfit/internal/energy"
	"github.com/cwbudde/mppfit/internal/mark"
)

// Kernel is a proposal-generating move. The set of variants is closed:
// Birth, BirthFromPartition, Death and Refine.
type Kernel interface {
	// Name identifies the kernel in logs, metrics and error trees
	Name() string

	// Init checks the kernel can operate on ctx
	Init(ctx *Context) error

	// MakeProposal builds a candidate next configuration. current is nil on
	// the first iteration. A zero Proposal means nothing could be proposed;
	// an error is always a *ProposalAbnormalFailureError.
	MakeProposal(ctx *Context, current *energy.MarksWithTotalEnergy) (Proposal, error)

	// AcceptanceProbability folds the move's dimension-matching correction
	// into the density ratio. The result lies in [0,1].
	AcceptanceProbability(sizeCurrent, sizeProposal int, poissonIntensity float64, dims energy.Dimensions, densityRatio float64) float64

	// UpdateAfterAcceptance applies side effects of an accepted proposal
	UpdateAfterAcceptance(ctx *Context, p Proposal) error

	// IsCompatibleWith reports whether the kernel can operate on m
	IsCompatibleWith(m mark.Mark) bool

	kernel()
}

// Proposal is a candidate configuration together with the marks the move
// touched: born marks for births, removed marks for deaths, the new mark
// for refinements.
type Proposal struct {
	Marks   *energy.MarksWithTotalEnergy
	Changed []mark.Mark

	// Replaced holds marks a refinement swapped out
	Replaced []mark.Mark

	Description string
}

// Empty reports whether the kernel had nothing to propose
func (p Proposal) Empty() bool {
	return p.Marks == nil
}

// Score returns the proposal's energy
func (p Proposal) Score() float64 {
	return p.Marks.Score()
}

// Size returns the proposal's mark count
func (p Proposal) Size() int {
	return p.Marks.Size()
}

// dimensionMatching applies the reversible-jump correction for moves that
// change the number of marks by k. With reference mass lambda = intensity*volume:
// a birth from n to n+k multiplies the ratio by prod_{i=1..k} lambda/(n+i),
// and a death from n to n-k by prod_{i=0..k-1} (n-i)/lambda.
// A NaN ratio means a state was absent and the move is accepted.
func dimensionMatching(sizeCurrent, sizeProposal int, intensity float64, dims energy.Dimensions, ratio float64) float64 {
	if math.IsNaN(ratio) {
		return 1
	}
	lambda := intensity * dims.Volume()
	p := ratio
	if lambda > 0 {
		switch {
		case sizeProposal > sizeCurrent:
			for i := 1; i <= sizeProposal-sizeCurrent; i++ {
				p *= lambda / float64(sizeCurrent+i)
			}
		case sizeProposal < sizeCurrent:
			for i := 0; i < sizeCurrent-sizeProposal; i++ {
				p *= float64(sizeCurrent-i) / lambda
			}
		}
	}
	return probability(p)
}

// probability clamps p into [0,1]
func probability(p float64) float64 {
	switch {
	case math.IsNaN(p), p <= 0:
		return 0
	case p >= 1:
		return 1
	default:
		return p
	}
}
