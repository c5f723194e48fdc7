// Package mark defines the geometric primitives placed on an image by the
// marked point process optimizer, and immutable collections of them.
package mark

import (
	"fmt"
	"image"
	"math"
)

// Kind names a mark variant
type Kind string

const (
	KindPoint   Kind = "point"
	KindCircle  Kind = "circle"
	KindEllipse Kind = "ellipse"
)

// ParseKind converts a configuration string to a Kind
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindPoint, KindCircle, KindEllipse:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown mark kind: %q", s)
	}
}

// Point2 is a position in continuous image coordinates
type Point2 struct {
	X, Y float64
}

// Mark is a geometric entity placed in an image.
// Implementations are immutable values; changing a mark means creating a new one.
type Mark interface {
	// ID uniquely identifies the mark within a run
	ID() uint64

	// Kind returns the variant of the mark
	Kind() Kind

	// Centre returns the position of the mark
	Centre() Point2

	// BoundingBox returns the smallest pixel rectangle enclosing the mark
	BoundingBox() image.Rectangle

	// Contains reports whether the continuous point (x, y) lies inside the mark
	Contains(x, y float64) bool

	// Area returns the geometric area in pixels
	Area() float64

	// Dilate returns the mark grown outward by d pixels, keeping its ID
	Dilate(d float64) Mark
}

// Point is a single-pixel mark
type Point struct {
	Id   uint64
	X, Y float64
}

func (p Point) ID() uint64     { return p.Id }
func (p Point) Kind() Kind     { return KindPoint }
func (p Point) Centre() Point2 { return Point2{p.X, p.Y} }
func (p Point) Area() float64  { return 1 }

func (p Point) BoundingBox() image.Rectangle {
	x, y := int(math.Floor(p.X)), int(math.Floor(p.Y))
	return image.Rect(x, y, x+1, y+1)
}

func (p Point) Contains(x, y float64) bool {
	return math.Floor(x) == math.Floor(p.X) && math.Floor(y) == math.Floor(p.Y)
}

func (p Point) Dilate(d float64) Mark {
	if d <= 0 {
		return p
	}
	return Circle{Id: p.Id, X: p.X, Y: p.Y, R: d}
}

// Circle is a disc of radius R
type Circle struct {
	Id   uint64
	X, Y float64
	R    float64
}

func (c Circle) ID() uint64     { return c.Id }
func (c Circle) Kind() Kind     { return KindCircle }
func (c Circle) Centre() Point2 { return Point2{c.X, c.Y} }
func (c Circle) Area() float64  { return math.Pi * c.R * c.R }

func (c Circle) BoundingBox() image.Rectangle {
	return boxAround(c.X, c.Y, c.R, c.R)
}

func (c Circle) Contains(x, y float64) bool {
	dx := x - c.X
	dy := y - c.Y
	return dx*dx+dy*dy <= c.R*c.R
}

func (c Circle) Dilate(d float64) Mark {
	return Circle{Id: c.Id, X: c.X, Y: c.Y, R: math.Max(0, c.R+d)}
}

// Ellipse has semi-axes A and B, with A rotated by Theta radians from the x axis
type Ellipse struct {
	Id    uint64
	X, Y  float64
	A, B  float64
	Theta float64
}

func (e Ellipse) ID() uint64     { return e.Id }
func (e Ellipse) Kind() Kind     { return KindEllipse }
func (e Ellipse) Centre() Point2 { return Point2{e.X, e.Y} }
func (e Ellipse) Area() float64  { return math.Pi * e.A * e.B }

func (e Ellipse) BoundingBox() image.Rectangle {
	sin, cos := math.Sincos(e.Theta)
	hx := math.Sqrt(e.A*e.A*cos*cos + e.B*e.B*sin*sin)
	hy := math.Sqrt(e.A*e.A*sin*sin + e.B*e.B*cos*cos)
	return boxAround(e.X, e.Y, hx, hy)
}

func (e Ellipse) Contains(x, y float64) bool {
	if e.A <= 0 || e.B <= 0 {
		return false
	}
	sin, cos := math.Sincos(e.Theta)
	dx := x - e.X
	dy := y - e.Y
	u := dx*cos + dy*sin
	v := -dx*sin + dy*cos
	return (u*u)/(e.A*e.A)+(v*v)/(e.B*e.B) <= 1
}

func (e Ellipse) Dilate(d float64) Mark {
	return Ellipse{
		Id:    e.Id,
		X:     e.X,
		Y:     e.Y,
		A:     math.Max(0, e.A+d),
		B:     math.Max(0, e.B+d),
		Theta: e.Theta,
	}
}

// boxAround returns the pixel rectangle covering centre +/- half extents
func boxAround(x, y, hx, hy float64) image.Rectangle {
	return image.Rect(
		int(math.Floor(x-hx)),
		int(math.Floor(y-hy)),
		int(math.Ceil(x+hx))+1,
		int(math.Ceil(y+hy))+1,
	)
}

// WithID returns a copy of m carrying a different identifier
func WithID(m Mark, id uint64) Mark {
	switch v := m.(type) {
	case Point:
		v.Id = id
		return v
	case Circle:
		v.Id = id
		return v
	case Ellipse:
		v.Id = id
		return v
	default:
		panic(fmt.Sprintf("mark: unsupported variant %T", m))
	}
}

// Overlap counts the pixels whose centres lie inside both marks
func Overlap(a, b Mark) int {
	box := a.BoundingBox().Intersect(b.BoundingBox())
	if box.Empty() {
		return 0
	}
	count := 0
	for y := box.Min.Y; y < box.Max.Y; y++ {
		for x := box.Min.X; x < box.Max.X; x++ {
			px, py := float64(x)+0.5, float64(y)+0.5
			if a.Contains(px, py) && b.Contains(px, py) {
				count++
			}
		}
	}
	return count
}
