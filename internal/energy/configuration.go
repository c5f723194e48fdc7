package energy

import (
	"fmt"

	"github.com/cwbudde/mppfit/internal/mark"
)

type pairKey struct {
	lo, hi uint64
}

func keyOf(a, b uint64) pairKey {
	if a > b {
		a, b = b, a
	}
	return pairKey{a, b}
}

// MarksWithTotalEnergy is a scored configuration. It is immutable: Add,
// Remove and Replace return new snapshots, recomputing only the energy
// terms that involve changed marks.
type MarksWithTotalEnergy struct {
	scheme   *Scheme
	marks    *mark.Collection
	unary    map[uint64]float64
	pairs    map[pairKey]float64 // non-zero pairwise terms only
	total    float64
	pairwise float64
}

// Scheme returns the energy scheme that scored this configuration
func (e *MarksWithTotalEnergy) Scheme() *Scheme { return e.scheme }

// Marks returns the configuration's marks
func (e *MarksWithTotalEnergy) Marks() *mark.Collection { return e.marks }

// Score returns the total energy, higher is better
func (e *MarksWithTotalEnergy) Score() float64 { return e.total }

// Size returns the number of marks
func (e *MarksWithTotalEnergy) Size() int { return e.marks.Len() }

// Pairwise returns the summed interaction energy
func (e *MarksWithTotalEnergy) Pairwise() float64 { return e.pairwise }

// Unary returns the data term of the mark with the given ID
func (e *MarksWithTotalEnergy) Unary(id uint64) (float64, bool) {
	u, ok := e.unary[id]
	return u, ok
}

func (e *MarksWithTotalEnergy) clone() *MarksWithTotalEnergy {
	c := &MarksWithTotalEnergy{
		scheme:   e.scheme,
		marks:    e.marks,
		unary:    make(map[uint64]float64, len(e.unary)+1),
		pairs:    make(map[pairKey]float64, len(e.pairs)),
		total:    e.total,
		pairwise: e.pairwise,
	}
	for k, v := range e.unary {
		c.unary[k] = v
	}
	for k, v := range e.pairs {
		c.pairs[k] = v
	}
	return c
}

// Add returns a snapshot with marks added
func (e *MarksWithTotalEnergy) Add(marks ...mark.Mark) (*MarksWithTotalEnergy, error) {
	collection, err := e.marks.With(marks...)
	if err != nil {
		return nil, fmt.Errorf("add marks: %w", err)
	}

	next := e.clone()
	others := e.marks.Marks()
	for _, m := range marks {
		u := e.scheme.Unary(m)
		next.unary[m.ID()] = u
		next.total += u

		// pairs with marks already present and with earlier new marks
		for _, other := range others {
			p := e.scheme.Pairwise(m, other)
			if p == 0 {
				continue
			}
			next.pairs[keyOf(m.ID(), other.ID())] = p
			next.pairwise += p
			next.total += p
		}
		others = append(others, m)
	}
	next.marks = collection
	return next, nil
}

// Remove returns a snapshot without the marks with the given IDs
func (e *MarksWithTotalEnergy) Remove(ids ...uint64) (*MarksWithTotalEnergy, error) {
	collection, err := e.marks.Without(ids...)
	if err != nil {
		return nil, fmt.Errorf("remove marks: %w", err)
	}

	next := e.clone()
	for _, id := range ids {
		next.total -= next.unary[id]
		delete(next.unary, id)
	}
	removed := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		removed[id] = true
	}
	for k, p := range next.pairs {
		if removed[k.lo] || removed[k.hi] {
			next.pairwise -= p
			next.total -= p
			delete(next.pairs, k)
		}
	}
	next.marks = collection
	return next, nil
}

// Replace returns a snapshot where the mark with ID old is swapped for m
func (e *MarksWithTotalEnergy) Replace(old uint64, m mark.Mark) (*MarksWithTotalEnergy, error) {
	if !e.marks.Contains(old) {
		return nil, fmt.Errorf("replace mark: mark %d not in configuration", old)
	}
	removed, err := e.Remove(old)
	if err != nil {
		return nil, err
	}
	added, err := removed.Add(m)
	if err != nil {
		return nil, err
	}

	// keep the replaced mark's position in the ordering
	collection, err := e.marks.Replace(old, m)
	if err != nil {
		return nil, fmt.Errorf("replace mark: %w", err)
	}
	added.marks = collection
	return added, nil
}
