// Package energy scores mark configurations against image data.
package energy

import (
	"fmt"
	"image"
	"image/color"
	_ "image/jpeg"
	_ "image/png"
	"os"
)

// Dimensions is the extent of the energy stack in voxels
type Dimensions struct {
	X, Y, Z int
}

// Volume returns the number of voxels, used as the reference area for
// Poisson-intensity corrections
func (d Dimensions) Volume() float64 {
	z := d.Z
	if z < 1 {
		z = 1
	}
	return float64(d.X * d.Y * z)
}

// Stack holds the image data marks are scored against: one intensity
// channel normalised to [0,1]
type Stack struct {
	dims      Dimensions
	intensity []float64
}

// NewStack converts any image to a normalised luminance stack
func NewStack(img image.Image) *Stack {
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	s := &Stack{
		dims:      Dimensions{X: w, Y: h, Z: 1},
		intensity: make([]float64, w*h),
	}
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			g := color.Gray16Model.Convert(img.At(bounds.Min.X+x, bounds.Min.Y+y)).(color.Gray16)
			s.intensity[y*w+x] = float64(g.Y) / 0xffff
		}
	}
	return s
}

// NewStackFromValues builds a stack from row-major intensities in [0,1]
func NewStackFromValues(width, height int, values []float64) (*Stack, error) {
	if len(values) != width*height {
		return nil, fmt.Errorf("stack: expected %d values, got %d", width*height, len(values))
	}
	return &Stack{
		dims:      Dimensions{X: width, Y: height, Z: 1},
		intensity: append([]float64(nil), values...),
	}, nil
}

// LoadStack decodes an image file into a stack, also returning the image
// converted to NRGBA for rendering
func LoadStack(path string) (*Stack, *image.NRGBA, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open image: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to decode image: %w", err)
	}

	// Convert to NRGBA
	bounds := img.Bounds()
	ref := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			ref.Set(x-bounds.Min.X, y-bounds.Min.Y, img.At(x, y))
		}
	}

	return NewStack(ref), ref, nil
}

// Dimensions returns the stack extent
func (s *Stack) Dimensions() Dimensions {
	return s.dims
}

// At returns the intensity at pixel (x, y); ok is false outside the stack
func (s *Stack) At(x, y int) (float64, bool) {
	if x < 0 || y < 0 || x >= s.dims.X || y >= s.dims.Y {
		return 0, false
	}
	return s.intensity[y*s.dims.X+x], true
}
