// Package partition splits a universe of candidate marks into an available
// set, from which births are drawn, and an accepted set forming part of the
// current configuration.
package partition

import (
	"errors"
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"gonum.org/v1/gonum/stat/sampleuv"

	"github.com/cwbudde/mppfit/internal/mark"
)

var (
	// ErrNotAvailable is returned when moving a mark that is not in the available set
	ErrNotAvailable = errors.New("mark is not available")

	// ErrNotAccepted is returned when moving a mark that is not in the accepted set
	ErrNotAccepted = errors.New("mark is not accepted")
)

// WeightFunc assigns a sampling weight to a mark. Non-positive and NaN
// weights exclude a mark from sampling unless every available mark has one.
type WeightFunc func(mark.Mark) float64

// Uniform weights every mark equally
func Uniform(mark.Mark) float64 { return 1 }

// PartitionedMarks keeps every mark of its universe in exactly one of two
// sets. Not safe for concurrent use.
type PartitionedMarks struct {
	universe  []mark.Mark
	available map[uint64]mark.Mark
	accepted  map[uint64]mark.Mark
	weight    WeightFunc
	rng       *rand.Rand

	// sampling distribution over available, rebuilt when stale
	stale   bool
	order   []mark.Mark
	weights []float64
}

// New places every mark of universe in the available set
func New(universe []mark.Mark, weight WeightFunc, rng *rand.Rand) (*PartitionedMarks, error) {
	if weight == nil {
		weight = Uniform
	}
	if rng == nil {
		return nil, fmt.Errorf("partition: random source is required")
	}

	available := make(map[uint64]mark.Mark, len(universe))
	for _, m := range universe {
		if _, dup := available[m.ID()]; dup {
			return nil, fmt.Errorf("partition: duplicate mark id %d", m.ID())
		}
		available[m.ID()] = m
	}

	return &PartitionedMarks{
		universe:  append([]mark.Mark(nil), universe...),
		available: available,
		accepted:  make(map[uint64]mark.Mark),
		weight:    weight,
		rng:       rng,
		stale:     true,
	}, nil
}

// SampleFromAvailable draws up to idealCount distinct marks from the
// available set, weighted by the weight function. It returns false iff the
// available set is empty. Asking for more marks than are available
// truncates to the available count.
func (p *PartitionedMarks) SampleFromAvailable(idealCount int) ([]mark.Mark, bool) {
	if len(p.available) == 0 {
		return nil, false
	}
	if idealCount <= 0 {
		return []mark.Mark{}, true
	}

	p.rebuild()

	n := min(idealCount, len(p.order))
	sampler := sampleuv.NewWeighted(append([]float64(nil), p.weights...), p.rng)

	sampled := make([]mark.Mark, 0, n)
	for len(sampled) < n {
		idx, ok := sampler.Take()
		if !ok {
			break
		}
		sampled = append(sampled, p.order[idx])
	}
	return sampled, true
}

// rebuild recomputes the sampling distribution if the available set changed
func (p *PartitionedMarks) rebuild() {
	if !p.stale {
		return
	}

	p.order = p.order[:0]
	for _, m := range p.available {
		p.order = append(p.order, m)
	}
	sort.Slice(p.order, func(i, j int) bool { return p.order[i].ID() < p.order[j].ID() })

	p.weights = make([]float64, len(p.order))
	total := 0.0
	for i, m := range p.order {
		w := p.weight(m)
		if math.IsNaN(w) || w <= 0 {
			w = 0
		}
		p.weights[i] = w
		total += w
	}

	// All weights excluded: fall back to uniform so the set stays samplable
	if total == 0 || math.IsInf(total, 1) {
		for i := range p.weights {
			p.weights[i] = 1
		}
	}

	p.stale = false
}

// MoveAvailableToAccepted moves every mark from available to accepted.
// Either all marks move or, on error, none do.
func (p *PartitionedMarks) MoveAvailableToAccepted(marks ...mark.Mark) error {
	for _, m := range marks {
		if _, ok := p.available[m.ID()]; !ok {
			return fmt.Errorf("move mark %d to accepted: %w", m.ID(), ErrNotAvailable)
		}
	}
	for _, m := range marks {
		delete(p.available, m.ID())
		p.accepted[m.ID()] = m
	}
	if len(marks) > 0 {
		p.stale = true
	}
	return nil
}

// MoveAcceptedToAvailable returns an accepted mark to the available set
func (p *PartitionedMarks) MoveAcceptedToAvailable(m mark.Mark) error {
	if _, ok := p.accepted[m.ID()]; !ok {
		return fmt.Errorf("move mark %d to available: %w", m.ID(), ErrNotAccepted)
	}
	delete(p.accepted, m.ID())
	p.available[m.ID()] = m
	p.stale = true
	return nil
}

// IsAvailable reports whether the mark with the given ID is available
func (p *PartitionedMarks) IsAvailable(id uint64) bool {
	_, ok := p.available[id]
	return ok
}

// IsAccepted reports whether the mark with the given ID is accepted
func (p *PartitionedMarks) IsAccepted(id uint64) bool {
	_, ok := p.accepted[id]
	return ok
}

// InUniverse reports whether the mark belongs to this partition at all
func (p *PartitionedMarks) InUniverse(id uint64) bool {
	return p.IsAvailable(id) || p.IsAccepted(id)
}

// NumAvailable returns the size of the available set
func (p *PartitionedMarks) NumAvailable() int { return len(p.available) }

// NumAccepted returns the size of the accepted set
func (p *PartitionedMarks) NumAccepted() int { return len(p.accepted) }

// Available returns the available marks ordered by ID
func (p *PartitionedMarks) Available() []mark.Mark { return sorted(p.available) }

// Accepted returns the accepted marks ordered by ID
func (p *PartitionedMarks) Accepted() []mark.Mark { return sorted(p.accepted) }

// Universe returns every mark the partition was created with
func (p *PartitionedMarks) Universe() []mark.Mark {
	return append([]mark.Mark(nil), p.universe...)
}

func sorted(set map[uint64]mark.Mark) []mark.Mark {
	out := make([]mark.Mark, 0, len(set))
	for _, m := range set {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}
