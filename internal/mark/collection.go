package mark

import "fmt"

// Collection is an ordered, duplicate-free set of marks.
// Operations never modify the receiver; they return a new collection that
// shares the unmodified marks with the original.
type Collection struct {
	marks []Mark
	index map[uint64]int
}

// NewCollection builds a collection, dropping later duplicates of an ID
func NewCollection(marks ...Mark) *Collection {
	c := &Collection{
		marks: make([]Mark, 0, len(marks)),
		index: make(map[uint64]int, len(marks)),
	}
	for _, m := range marks {
		if _, dup := c.index[m.ID()]; dup {
			continue
		}
		c.index[m.ID()] = len(c.marks)
		c.marks = append(c.marks, m)
	}
	return c
}

// Len returns the number of marks
func (c *Collection) Len() int {
	if c == nil {
		return 0
	}
	return len(c.marks)
}

// At returns the i-th mark
func (c *Collection) At(i int) Mark {
	return c.marks[i]
}

// Get looks up a mark by ID
func (c *Collection) Get(id uint64) (Mark, bool) {
	if c == nil {
		return nil, false
	}
	i, ok := c.index[id]
	if !ok {
		return nil, false
	}
	return c.marks[i], true
}

// Contains reports whether a mark with the given ID is present
func (c *Collection) Contains(id uint64) bool {
	_, ok := c.Get(id)
	return ok
}

// Marks returns a copy of the marks in order
func (c *Collection) Marks() []Mark {
	if c == nil {
		return nil
	}
	return append([]Mark(nil), c.marks...)
}

// IDs returns the mark identifiers in order
func (c *Collection) IDs() []uint64 {
	if c == nil {
		return nil
	}
	ids := make([]uint64, len(c.marks))
	for i, m := range c.marks {
		ids[i] = m.ID()
	}
	return ids
}

// With returns a collection with the marks appended. Marks already present
// are rejected so the collection stays duplicate-free.
func (c *Collection) With(marks ...Mark) (*Collection, error) {
	for _, m := range marks {
		if c.Contains(m.ID()) {
			return nil, fmt.Errorf("mark %d already in collection", m.ID())
		}
	}
	return NewCollection(append(c.Marks(), marks...)...), nil
}

// Without returns a collection with the given IDs removed. Unknown IDs are an error.
func (c *Collection) Without(ids ...uint64) (*Collection, error) {
	drop := make(map[uint64]bool, len(ids))
	for _, id := range ids {
		if !c.Contains(id) {
			return nil, fmt.Errorf("mark %d not in collection", id)
		}
		drop[id] = true
	}
	kept := make([]Mark, 0, c.Len()-len(drop))
	for _, m := range c.marks {
		if !drop[m.ID()] {
			kept = append(kept, m)
		}
	}
	return NewCollection(kept...), nil
}

// Replace swaps the mark with ID old for m, keeping its position
func (c *Collection) Replace(old uint64, m Mark) (*Collection, error) {
	if c == nil {
		return nil, fmt.Errorf("mark %d not in collection", old)
	}
	i, ok := c.index[old]
	if !ok {
		return nil, fmt.Errorf("mark %d not in collection", old)
	}
	if m.ID() != old && c.Contains(m.ID()) {
		return nil, fmt.Errorf("mark %d already in collection", m.ID())
	}
	marks := c.Marks()
	marks[i] = m
	return NewCollection(marks...), nil
}

// Record is the serialisable form of a mark
type Record struct {
	ID    uint64  `json:"id"`
	Kind  Kind    `json:"kind"`
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	A     float64 `json:"a,omitempty"`
	B     float64 `json:"b,omitempty"`
	Theta float64 `json:"theta,omitempty"`
}

// ToRecord converts a mark for persistence
func ToRecord(m Mark) Record {
	switch v := m.(type) {
	case Point:
		return Record{ID: v.Id, Kind: KindPoint, X: v.X, Y: v.Y}
	case Circle:
		return Record{ID: v.Id, Kind: KindCircle, X: v.X, Y: v.Y, A: v.R, B: v.R}
	case Ellipse:
		return Record{ID: v.Id, Kind: KindEllipse, X: v.X, Y: v.Y, A: v.A, B: v.B, Theta: v.Theta}
	default:
		panic(fmt.Sprintf("mark: unsupported variant %T", m))
	}
}

// FromRecord restores a mark from its persisted form
func FromRecord(r Record) (Mark, error) {
	switch r.Kind {
	case KindPoint:
		return Point{Id: r.ID, X: r.X, Y: r.Y}, nil
	case KindCircle:
		return Circle{Id: r.ID, X: r.X, Y: r.Y, R: r.A}, nil
	case KindEllipse:
		return Ellipse{Id: r.ID, X: r.X, Y: r.Y, A: r.A, B: r.B, Theta: r.Theta}, nil
	default:
		return nil, fmt.Errorf("unknown mark kind: %q", r.Kind)
	}
}

// Records converts a collection for persistence
func Records(c *Collection) []Record {
	records := make([]Record, 0, c.Len())
	for _, m := range c.Marks() {
		records = append(records, ToRecord(m))
	}
	return records
}

// FromRecords restores a collection
func FromRecords(records []Record) (*Collection, error) {
	marks := make([]Mark, 0, len(records))
	for _, r := range records {
		m, err := FromRecord(r)
		if err != nil {
			return nil, err
		}
		marks = append(marks, m)
	}
	return NewCollection(marks...), nil
}
