package mark

import "math"

// Bounds defines valid placement and size ranges for marks in a WxH image
type Bounds struct {
	Width     int
	Height    int
	MinRadius float64
	MaxRadius float64
}

// NewBounds creates bounds for a WxH image. A non-positive maxRadius
// defaults to half the smaller image side.
func NewBounds(width, height int, minRadius, maxRadius float64) Bounds {
	if minRadius < 1 {
		minRadius = 1
	}
	if maxRadius <= 0 {
		maxRadius = float64(min(width, height)) / 2
	}
	if maxRadius < minRadius {
		maxRadius = minRadius
	}
	return Bounds{
		Width:     width,
		Height:    height,
		MinRadius: minRadius,
		MaxRadius: maxRadius,
	}
}

// Clamp moves a mark's parameters into the valid ranges
func (b Bounds) Clamp(m Mark) Mark {
	switch v := m.(type) {
	case Point:
		v.X = clamp(v.X, 0, float64(b.Width))
		v.Y = clamp(v.Y, 0, float64(b.Height))
		return v
	case Circle:
		v.X = clamp(v.X, 0, float64(b.Width))
		v.Y = clamp(v.Y, 0, float64(b.Height))
		v.R = clamp(v.R, b.MinRadius, b.MaxRadius)
		return v
	case Ellipse:
		v.X = clamp(v.X, 0, float64(b.Width))
		v.Y = clamp(v.Y, 0, float64(b.Height))
		v.A = clamp(v.A, b.MinRadius, b.MaxRadius)
		v.B = clamp(v.B, b.MinRadius, b.MaxRadius)
		v.Theta = normalizeAngle(v.Theta)
		return v
	default:
		return m
	}
}

// InImage reports whether the centre of m lies inside the image
func (b Bounds) InImage(m Mark) bool {
	c := m.Centre()
	return c.X >= 0 && c.Y >= 0 && c.X < float64(b.Width) && c.Y < float64(b.Height)
}

// Lower returns the lower parameter bounds for one encoded ellipse
func (b Bounds) Lower() []float64 {
	return []float64{0, 0, b.MinRadius, b.MinRadius, 0}
}

// Upper returns the upper parameter bounds for one encoded ellipse
func (b Bounds) Upper() []float64 {
	return []float64{float64(b.Width), float64(b.Height), b.MaxRadius, b.MaxRadius, math.Pi}
}

// ClampVector clamps every encoded ellipse in data
func (b Bounds) ClampVector(data []float64) {
	lower, upper := b.Lower(), b.Upper()
	for i := range data {
		j := i % paramsPerEllipse
		data[i] = clamp(data[i], lower[j], upper[j])
	}
}

// ParamVector encodes K ellipses as a flat float64 slice for continuous optimizers
type ParamVector struct {
	Data []float64
	K    int
}

const paramsPerEllipse = 5

// ParamsPerEllipse is the number of floats used to encode one ellipse
const ParamsPerEllipse = paramsPerEllipse

// NewParamVector creates a parameter vector for K ellipses
func NewParamVector(k int) *ParamVector {
	return &ParamVector{
		Data: make([]float64, k*paramsPerEllipse),
		K:    k,
	}
}

// EncodeEllipse writes an ellipse to position i in the vector
func (pv *ParamVector) EncodeEllipse(i int, e Ellipse) {
	offset := i * paramsPerEllipse
	pv.Data[offset+0] = e.X
	pv.Data[offset+1] = e.Y
	pv.Data[offset+2] = e.A
	pv.Data[offset+3] = e.B
	pv.Data[offset+4] = e.Theta
}

// DecodeEllipse reads an ellipse from position i in the vector
func (pv *ParamVector) DecodeEllipse(i int, id uint64) Ellipse {
	offset := i * paramsPerEllipse
	return Ellipse{
		Id:    id,
		X:     pv.Data[offset+0],
		Y:     pv.Data[offset+1],
		A:     pv.Data[offset+2],
		B:     pv.Data[offset+3],
		Theta: pv.Data[offset+4],
	}
}

// AsEllipse widens circles and points to the equivalent ellipse
func AsEllipse(m Mark) (Ellipse, bool) {
	switch v := m.(type) {
	case Ellipse:
		return v, true
	case Circle:
		return Ellipse{Id: v.Id, X: v.X, Y: v.Y, A: v.R, B: v.R}, true
	default:
		return Ellipse{}, false
	}
}

func clamp(val, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, val))
}

// normalizeAngle folds an orientation into [0, pi)
func normalizeAngle(theta float64) float64 {
	theta = math.Mod(theta, math.Pi)
	if theta < 0 {
		theta += math.Pi
	}
	return theta
}
