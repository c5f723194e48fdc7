package energy

import (
	"image"
	"image/color"

	"github.com/cwbudde/mppfit/internal/mark"
)

// SyntheticImage draws marks with foreground intensity over a uniform
// background, both in [0,1]. Used for demos and reproducible tests.
func SyntheticImage(width, height int, marks []mark.Mark, background, foreground float64) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	bg := uint8(background * 255)
	fg := uint8(foreground * 255)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := bg
			for _, m := range marks {
				if m.Contains(float64(x)+0.5, float64(y)+0.5) {
					v = fg
					break
				}
			}
			img.SetNRGBA(x, y, color.NRGBA{v, v, v, 255})
		}
	}
	return img
}
