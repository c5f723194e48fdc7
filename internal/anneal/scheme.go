// Package anneal provides cooling schedules that control how readily the
// optimizer accepts score-decreasing moves over the course of a run.
package anneal

import (
	"fmt"
	"math"
)

// Scheme turns a score change at a given iteration into a density ratio.
// Scores are maximised, so improvements yield ratios >= 1.
type Scheme interface {
	// DensityRatio returns the ratio of target densities of the new and old states
	DensityRatio(scoreNew, scoreOld float64, iteration int) float64

	// Temperature returns the temperature at the given iteration
	Temperature(iteration int) float64
}

// minTemperature keeps ratios finite when schedules reach zero
const minTemperature = 1e-12

// boltzmann computes exp((new-old)/T), saturating at +Inf for huge gains
func boltzmann(scoreNew, scoreOld, temperature float64) float64 {
	return math.Exp((scoreNew - scoreOld) / math.Max(temperature, minTemperature))
}

// Geometric cools as Start * Decay^iteration, never below Min
type Geometric struct {
	Start float64
	Decay float64
	Min   float64
}

// NewGeometric validates and creates a geometric schedule
func NewGeometric(start, decay, minimum float64) (Geometric, error) {
	if start <= 0 {
		return Geometric{}, fmt.Errorf("anneal: start temperature must be positive, got %f", start)
	}
	if decay <= 0 || decay > 1 {
		return Geometric{}, fmt.Errorf("anneal: decay must be in (0,1], got %f", decay)
	}
	if minimum < 0 {
		return Geometric{}, fmt.Errorf("anneal: minimum temperature cannot be negative, got %f", minimum)
	}
	return Geometric{Start: start, Decay: decay, Min: minimum}, nil
}

func (g Geometric) Temperature(iteration int) float64 {
	return math.Max(g.Start*math.Pow(g.Decay, float64(iteration)), g.Min)
}

func (g Geometric) DensityRatio(scoreNew, scoreOld float64, iteration int) float64 {
	return boltzmann(scoreNew, scoreOld, g.Temperature(iteration))
}

// Linear cools from Start to End across Iterations, then stays at End
type Linear struct {
	Start      float64
	End        float64
	Iterations int
}

func (l Linear) Temperature(iteration int) float64 {
	if l.Iterations <= 1 || iteration >= l.Iterations-1 {
		return l.End
	}
	frac := float64(iteration) / float64(l.Iterations-1)
	return l.Start + frac*(l.End-l.Start)
}

func (l Linear) DensityRatio(scoreNew, scoreOld float64, iteration int) float64 {
	return boltzmann(scoreNew, scoreOld, l.Temperature(iteration))
}

// None accepts only moves that do not lower the score
type None struct{}

func (None) Temperature(int) float64 { return 0 }

func (None) DensityRatio(scoreNew, scoreOld float64, _ int) float64 {
	if scoreNew >= scoreOld {
		return 1
	}
	return 0
}

// New builds a scheme by name: "geometric", "linear" or "none"
func New(name string, start, end, decay float64, iterations int) (Scheme, error) {
	switch name {
	case "geometric", "":
		return NewGeometric(start, decay, end)
	case "linear":
		if start < end {
			return nil, fmt.Errorf("anneal: linear schedule must cool, start %f < end %f", start, end)
		}
		return Linear{Start: start, End: end, Iterations: iterations}, nil
	case "none", "greedy":
		return None{}, nil
	default:
		return nil, fmt.Errorf("anneal: unknown scheme %q", name)
	}
}
