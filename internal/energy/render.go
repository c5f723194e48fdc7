package energy

import (
	"image"
	"image/color"
	"math"

	"github.com/cwbudde/mppfit/internal/mark"
)

// OverlayStyle controls how marks are drawn over the reference image
type OverlayStyle struct {
	Fill    color.NRGBA
	Outline color.NRGBA
	Opacity float64 // fill opacity in [0,1]
}

// DefaultOverlayStyle draws translucent green marks with opaque yellow outlines
func DefaultOverlayStyle() OverlayStyle {
	return OverlayStyle{
		Fill:    color.NRGBA{0, 200, 80, 255},
		Outline: color.NRGBA{255, 220, 0, 255},
		Opacity: 0.35,
	}
}

// RenderOverlay composites marks over a copy of the reference image
func RenderOverlay(ref *image.NRGBA, marks *mark.Collection, style OverlayStyle) *image.NRGBA {
	bounds := ref.Bounds()
	img := image.NewNRGBA(bounds)
	copy(img.Pix, ref.Pix)

	fr := float64(style.Fill.R) / 255
	fg := float64(style.Fill.G) / 255
	fb := float64(style.Fill.B) / 255

	for _, m := range marks.Marks() {
		box := m.BoundingBox().Intersect(bounds)
		for y := box.Min.Y; y < box.Max.Y; y++ {
			for x := box.Min.X; x < box.Max.X; x++ {
				px, py := float64(x)+0.5, float64(y)+0.5
				if !m.Contains(px, py) {
					continue
				}
				if onOutline(m, px, py) {
					img.SetNRGBA(x, y, style.Outline)
					continue
				}
				compositePixel(img, x, y, fr, fg, fb, style.Opacity)
			}
		}
	}
	return img
}

// onOutline reports whether an inside pixel has a 4-neighbour outside the mark
func onOutline(m mark.Mark, px, py float64) bool {
	return !m.Contains(px-1, py) || !m.Contains(px+1, py) ||
		!m.Contains(px, py-1) || !m.Contains(px, py+1)
}

// RenderMask rasterises marks as white on black
func RenderMask(width, height int, marks *mark.Collection) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for _, m := range marks.Marks() {
		box := m.BoundingBox().Intersect(img.Bounds())
		for y := box.Min.Y; y < box.Max.Y; y++ {
			for x := box.Min.X; x < box.Max.X; x++ {
				if m.Contains(float64(x)+0.5, float64(y)+0.5) {
					img.SetGray(x, y, color.Gray{Y: 255})
				}
			}
		}
	}
	return img
}

// compositePixel blends a color onto the image at (x,y) using premultiplied alpha
func compositePixel(img *image.NRGBA, x, y int, r, g, b, alpha float64) {
	i := img.PixOffset(x, y)

	// Current background color (non-premultiplied)
	bgR := float64(img.Pix[i+0]) / 255.0
	bgG := float64(img.Pix[i+1]) / 255.0
	bgB := float64(img.Pix[i+2]) / 255.0
	bgA := float64(img.Pix[i+3]) / 255.0

	// Porter-Duff "over" operator
	outA := alpha + bgA*(1-alpha)
	if outA == 0 {
		return
	}

	outR := (r*alpha + bgR*bgA*(1-alpha)) / outA
	outG := (g*alpha + bgG*bgA*(1-alpha)) / outA
	outB := (b*alpha + bgB*bgA*(1-alpha)) / outA

	img.Pix[i+0] = uint8(math.Round(outR * 255))
	img.Pix[i+1] = uint8(math.Round(outG * 255))
	img.Pix[i+2] = uint8(math.Round(outB * 255))
	img.Pix[i+3] = uint8(math.Round(outA * 255))
}
