package mark

import (
	"math"
	"testing"
)

func TestEllipseEncoding(t *testing.T) {
	tests := []struct {
		name    string
		ellipse Ellipse
	}{
		{
			name:    "axis aligned",
			ellipse: Ellipse{Id: 3, X: 50, Y: 40, A: 12, B: 6},
		},
		{
			name:    "rotated",
			ellipse: Ellipse{Id: 9, X: 10.5, Y: 80.25, A: 4, B: 9, Theta: 1.2},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			params := NewParamVector(2)
			params.EncodeEllipse(1, tt.ellipse)
			decoded := params.DecodeEllipse(1, tt.ellipse.Id)

			if decoded != tt.ellipse {
				t.Errorf("decoded %+v, want %+v", decoded, tt.ellipse)
			}
			for i := 0; i < ParamsPerEllipse; i++ {
				if params.Data[i] != 0 {
					t.Errorf("slot 0 param %d touched: %f", i, params.Data[i])
				}
			}
		})
	}
}

func TestBoundsValidation(t *testing.T) {
	bounds := NewBounds(100, 60, 2, 0)

	if bounds.MaxRadius != 30 {
		t.Errorf("default max radius = %f, want 30", bounds.MaxRadius)
	}

	lower, upper := bounds.Lower(), bounds.Upper()
	if len(lower) != ParamsPerEllipse || len(upper) != ParamsPerEllipse {
		t.Fatalf("expected %d bounds, got %d/%d", ParamsPerEllipse, len(lower), len(upper))
	}
	if lower[0] != 0 || upper[0] != 100 {
		t.Errorf("X bounds incorrect: [%f, %f]", lower[0], upper[0])
	}
	if lower[1] != 0 || upper[1] != 60 {
		t.Errorf("Y bounds incorrect: [%f, %f]", lower[1], upper[1])
	}
	if lower[2] != 2 || upper[3] != 30 {
		t.Errorf("axis bounds incorrect: [%f, %f]", lower[2], upper[3])
	}
	if upper[4] != math.Pi {
		t.Errorf("theta upper bound = %f, want pi", upper[4])
	}
}

func TestBoundsMinimumRadius(t *testing.T) {
	bounds := NewBounds(10, 10, 0, 0.5)
	if bounds.MinRadius != 1 || bounds.MaxRadius != 1 {
		t.Errorf("radius range = [%f, %f], want [1, 1]", bounds.MinRadius, bounds.MaxRadius)
	}
}

func TestClampMark(t *testing.T) {
	bounds := NewBounds(100, 100, 2, 20)

	clamped := bounds.Clamp(Ellipse{Id: 1, X: -10, Y: 150, A: 200, B: 0.5, Theta: -0.5}).(Ellipse)

	if clamped.X != 0 || clamped.Y != 100 {
		t.Errorf("centre not clamped: (%f, %f)", clamped.X, clamped.Y)
	}
	if clamped.A != 20 || clamped.B != 2 {
		t.Errorf("axes not clamped: (%f, %f)", clamped.A, clamped.B)
	}
	if clamped.Theta < 0 || clamped.Theta >= math.Pi {
		t.Errorf("theta not normalized: %f", clamped.Theta)
	}
	if clamped.Id != 1 {
		t.Errorf("clamp changed id to %d", clamped.Id)
	}
}

func TestClampVector(t *testing.T) {
	bounds := NewBounds(50, 50, 1, 10)
	data := []float64{-1, 70, 0, 30, 4, 25, 25, 5, 5, 1}

	bounds.ClampVector(data)

	want := []float64{0, 50, 1, 10, math.Pi, 25, 25, 5, 5, 1}
	for i := range want {
		if data[i] != want[i] {
			t.Errorf("data[%d] = %f, want %f", i, data[i], want[i])
		}
	}
}
