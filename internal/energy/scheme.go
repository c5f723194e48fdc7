package energy

import (
	"errors"
	"fmt"
	"image"

	"github.com/cwbudde/mppfit/internal/mark"
)

// ErrNoStack is returned when scoring is attempted without image data
var ErrNoStack = errors.New("energy stack is absent")

// Scheme computes the energy of marks. Scores are maximised: a mark pays off
// when it is brighter than its surrounding shell by more than
// ContrastThreshold, and every pixel shared by two marks costs OverlapWeight.
type Scheme struct {
	Stack *Stack

	// ShellWidth is the width in pixels of the ring around a mark that its
	// interior is compared with
	ShellWidth float64

	// ContrastThreshold is the minimum inside-minus-shell intensity for a
	// mark to contribute a positive energy
	ContrastThreshold float64

	// OverlapWeight is the penalty per overlapping pixel
	OverlapWeight float64
}

// DefaultScheme returns a scheme with commonly useful parameters
func DefaultScheme(stack *Stack) *Scheme {
	return &Scheme{
		Stack:             stack,
		ShellWidth:        3,
		ContrastThreshold: 0.1,
		OverlapWeight:     1,
	}
}

// Validate checks the scheme can score marks
func (s *Scheme) Validate() error {
	if s == nil || s.Stack == nil {
		return ErrNoStack
	}
	if s.ShellWidth <= 0 {
		return fmt.Errorf("shell width must be positive, got %f", s.ShellWidth)
	}
	if s.OverlapWeight < 0 {
		return fmt.Errorf("overlap weight cannot be negative, got %f", s.OverlapWeight)
	}
	return nil
}

// Unary returns the data term of a single mark
func (s *Scheme) Unary(m mark.Mark) float64 {
	shell := m.Dilate(s.ShellWidth)
	box := shell.BoundingBox().Intersect(s.bounds())

	var inSum, shellSum float64
	var inCount, shellCount int
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			v, _ := s.Stack.At(x, y)
			switch {
			case m.Contains(px, py):
				inSum += v
				inCount++
			case shell.Contains(px, py):
				shellSum += v
				shellCount++
			}
		}
	}

	if inCount == 0 {
		return -s.ContrastThreshold
	}
	contrast := inSum / float64(inCount)
	if shellCount > 0 {
		contrast -= shellSum / float64(shellCount)
	}
	return (contrast - s.ContrastThreshold) * float64(inCount)
}

// Pairwise returns the interaction energy of two marks
func (s *Scheme) Pairwise(a, b mark.Mark) float64 {
	if s.OverlapWeight == 0 {
		return 0
	}
	return -s.OverlapWeight * float64(mark.Overlap(a, b))
}

func (s *Scheme) bounds() image.Rectangle {
	d := s.Stack.Dimensions()
	return image.Rect(0, 0, d.X, d.Y)
}

// Empty returns the scored empty configuration
func (s *Scheme) Empty() *MarksWithTotalEnergy {
	return &MarksWithTotalEnergy{
		scheme: s,
		marks:  mark.NewCollection(),
		unary:  map[uint64]float64{},
		pairs:  map[pairKey]float64{},
	}
}

// Score computes the energy of a whole configuration from scratch
func (s *Scheme) Score(c *mark.Collection) (*MarksWithTotalEnergy, error) {
	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s.Empty().Add(c.Marks()...)
}
