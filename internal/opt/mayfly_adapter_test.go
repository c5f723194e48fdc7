package opt

import (
	"errors"
	"math"
	"testing"
)

// Sphere function shifted to c: f(x) = sum((x_i-c_i)^2)
func shiftedSphere(c []float64) func([]float64) float64 {
	return func(x []float64) float64 {
		var sum float64
		for i, v := range x {
			d := v - c[i]
			sum += d * d
		}
		return sum
	}
}

func TestMayflyAdapterOnSphere(t *testing.T) {
	optimizer := NewMayfly(100, 20, 42)

	centre := []float64{0, 0, 0}
	lower := []float64{-10, -10, -10}
	upper := []float64{10, 10, 10}

	best, cost, err := optimizer.Run(shiftedSphere(centre), lower, upper)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(best) != len(centre) {
		t.Fatalf("Expected %d parameters, got %d", len(centre), len(best))
	}
	if cost > 0.1 {
		t.Errorf("Expected cost near 0, got %f", cost)
	}
	for i, v := range best {
		if math.Abs(v) > 1.0 {
			t.Errorf("Parameter %d = %f, expected near 0", i, v)
		}
	}
}

func TestMayflyAdapterPerDimensionBounds(t *testing.T) {
	optimizer := NewMayfly(150, 20, 7)

	// dimensions with very different ranges
	centre := []float64{120, 3, 0.5}
	lower := []float64{100, 0, 0}
	upper := []float64{200, 10, math.Pi}

	best, _, err := optimizer.Run(shiftedSphere(centre), lower, upper)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	for i, v := range best {
		if v < lower[i] || v > upper[i] {
			t.Errorf("Parameter %d = %f outside [%f, %f]", i, v, lower[i], upper[i])
		}
	}
	if math.Abs(best[0]-centre[0]) > 2 {
		t.Errorf("Expected x near %f, got %f", centre[0], best[0])
	}
}

func TestMayflyAdapterDeterministic(t *testing.T) {
	lower := []float64{-5, -5}
	upper := []float64{5, 5}
	eval := shiftedSphere([]float64{1, -1})

	_, cost1, err := NewMayfly(50, 20, 123).Run(eval, lower, upper)
	if err != nil {
		t.Fatal(err)
	}
	_, cost2, err := NewMayfly(50, 20, 123).Run(eval, lower, upper)
	if err != nil {
		t.Fatal(err)
	}

	if cost1 != cost2 {
		t.Errorf("Non-deterministic: cost1=%f, cost2=%f", cost1, cost2)
	}
}

func TestMayflyAdapterInvalidBounds(t *testing.T) {
	optimizer := NewMayfly(10, 20, 1)
	eval := shiftedSphere([]float64{0})

	tests := []struct {
		name         string
		lower, upper []float64
	}{
		{"empty", nil, nil},
		{"length mismatch", []float64{0}, []float64{1, 2}},
		{"inverted", []float64{1}, []float64{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := optimizer.Run(eval, tt.lower, tt.upper)
			if !errors.Is(err, ErrBounds) {
				t.Errorf("Expected ErrBounds, got %v", err)
			}
		})
	}
}

func TestNewMayflyRaisesPopulation(t *testing.T) {
	m := NewMayfly(10, 5, 1)
	if m.popSize != MinPopulation {
		t.Errorf("Expected population %d, got %d", MinPopulation, m.popSize)
	}
	r, ok := m.Reseed(9).(*MayflyAdapter)
	if !ok {
		t.Fatalf("Reseed returned %T", m.Reseed(9))
	}
	if r.seed != 9 || m.seed != 1 {
		t.Errorf("Reseed should copy: got %d / %d", r.seed, m.seed)
	}
}
