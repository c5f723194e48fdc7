package mark

import (
	"math"
	"math/rand/v2"
)

// IDSource hands out unique mark identifiers. Not safe for concurrent use;
// each optimization chain owns its own source.
type IDSource struct {
	next uint64
}

// NewIDSource starts numbering at first
func NewIDSource(first uint64) *IDSource {
	return &IDSource{next: first}
}

// Next returns a fresh identifier
func (s *IDSource) Next() uint64 {
	id := s.next
	s.next++
	return id
}

// Reserve ensures id is never handed out
func (s *IDSource) Reserve(id uint64) {
	if id >= s.next {
		s.next = id + 1
	}
}

// Peek returns the identifier the next call to Next will return
func (s *IDSource) Peek() uint64 {
	return s.next
}

// Factory creates random marks uniformly placed inside the image bounds
type Factory struct {
	Kind   Kind
	Bounds Bounds
	ids    *IDSource
	rng    *rand.Rand
}

// NewFactory creates a mark factory drawing from rng and numbering from ids
func NewFactory(kind Kind, bounds Bounds, ids *IDSource, rng *rand.Rand) *Factory {
	return &Factory{
		Kind:   kind,
		Bounds: bounds,
		ids:    ids,
		rng:    rng,
	}
}

// IDs exposes the identifier source so derived marks share the numbering
func (f *Factory) IDs() *IDSource {
	return f.ids
}

// New creates one random mark
func (f *Factory) New() Mark {
	id := f.ids.Next()
	x := f.rng.Float64() * float64(f.Bounds.Width)
	y := f.rng.Float64() * float64(f.Bounds.Height)

	switch f.Kind {
	case KindPoint:
		return Point{Id: id, X: x, Y: y}
	case KindCircle:
		return Circle{Id: id, X: x, Y: y, R: f.radius()}
	default:
		return Ellipse{
			Id:    id,
			X:     x,
			Y:     y,
			A:     f.radius(),
			B:     f.radius(),
			Theta: f.rng.Float64() * math.Pi,
		}
	}
}

// NewN creates n random marks
func (f *Factory) NewN(n int) []Mark {
	marks := make([]Mark, n)
	for i := range marks {
		marks[i] = f.New()
	}
	return marks
}

func (f *Factory) radius() float64 {
	return f.Bounds.MinRadius + f.rng.Float64()*(f.Bounds.MaxRadius-f.Bounds.MinRadius)
}
