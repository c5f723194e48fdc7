package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

var _ Seedable = (*MayflyAdapter)(nil)

// MinPopulation is the smallest population mayfly accepts
const MinPopulation = 20

// MayflyAdapter wraps the mayfly library to conform to the Optimizer interface
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// NewMayfly creates a new Mayfly optimizer adapter
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  max(popSize, MinPopulation),
		seed:     seed,
	}
}

// Reseed returns a copy using a different seed
func (m *MayflyAdapter) Reseed(seed int64) Optimizer {
	c := *m
	c.seed = seed
	return &c
}

// Run executes the Mayfly optimization. Mayfly only supports scalar bounds,
// so the search happens in the unit cube and is mapped onto [lower, upper].
func (m *MayflyAdapter) Run(eval func([]float64) float64, lower, upper []float64) ([]float64, float64, error) {
	b, err := newBox(lower, upper)
	if err != nil {
		return nil, 0, err
	}

	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = func(u []float64) float64 {
		return eval(b.fromUnit(u))
	}
	config.ProblemSize = len(lower)
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = 0
	config.UpperBound = 1
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly optimization failed: %w", err)
	}

	best := b.fromUnit(result.GlobalBest.Position)
	return best, eval(best), nil
}
