package energy

import (
	"fmt"
	"image"
)

// MaskError computes the mean squared error between a rendered mask and the
// stack intensities, both on a [0,1] scale. It summarises how well a final
// configuration explains the bright structures of the image.
func MaskError(stack *Stack, mask *image.Gray) (float64, error) {
	dims := stack.Dimensions()
	if mask.Bounds().Dx() != dims.X || mask.Bounds().Dy() != dims.Y {
		return 0, fmt.Errorf("mask is %dx%d, stack is %dx%d",
			mask.Bounds().Dx(), mask.Bounds().Dy(), dims.X, dims.Y)
	}

	var sum float64
	for y := 0; y < dims.Y; y++ {
		for x := 0; x < dims.X; x++ {
			v, _ := stack.At(x, y)
			d := float64(mask.GrayAt(x, y).Y)/255 - v
			sum += d * d
		}
	}
	return sum / float64(dims.X*dims.Y), nil
}
