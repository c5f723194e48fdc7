// Package opt wraps continuous black-box optimizers used to refine the
// parameters of individual marks.
package opt

import "errors"

// ErrBounds is returned when lower and upper bounds are inconsistent
var ErrBounds = errors.New("opt: invalid bounds")

// Optimizer defines a continuous minimiser
type Optimizer interface {
	// Run minimises eval inside the box [lower, upper].
	// Returns the best parameters and their cost.
	Run(eval func([]float64) float64, lower, upper []float64) ([]float64, float64, error)
}

// Seedable optimizers can be cloned with a new random seed, letting callers
// derive reproducible runs from their own random source
type Seedable interface {
	Optimizer
	Reseed(seed int64) Optimizer
}

// box maps between a per-dimension box and the unit cube, so optimizers
// supporting only scalar bounds can search anisotropic spaces.
type box struct {
	lower []float64
	span  []float64
}

func newBox(lower, upper []float64) (box, error) {
	if len(lower) == 0 || len(lower) != len(upper) {
		return box{}, ErrBounds
	}
	span := make([]float64, len(lower))
	for i := range lower {
		if upper[i] < lower[i] {
			return box{}, ErrBounds
		}
		span[i] = upper[i] - lower[i]
	}
	return box{lower: lower, span: span}, nil
}

// fromUnit converts a unit-cube position into the original box
func (b box) fromUnit(u []float64) []float64 {
	x := make([]float64, len(u))
	for i, v := range u {
		v = min(max(v, 0), 1)
		x[i] = b.lower[i] + v*b.span[i]
	}
	return x
}
