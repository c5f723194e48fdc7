package partition

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/mppfit/internal/mark"
)

func points(ids ...uint64) []mark.Mark {
	marks := make([]mark.Mark, len(ids))
	for i, id := range ids {
		marks[i] = mark.Point{Id: id, X: float64(id)}
	}
	return marks
}

func newPartition(t *testing.T, universe []mark.Mark, weight WeightFunc, seed uint64) *PartitionedMarks {
	t.Helper()
	p, err := New(universe, weight, rand.New(rand.NewPCG(seed, seed)))
	require.NoError(t, err)
	return p
}

// assertPartitioned checks that available and accepted are disjoint and cover the universe
func assertPartitioned(t *testing.T, p *PartitionedMarks) {
	t.Helper()
	seen := make(map[uint64]int)
	for _, m := range p.Available() {
		seen[m.ID()]++
	}
	for _, m := range p.Accepted() {
		seen[m.ID()]++
	}
	universe := p.Universe()
	require.Len(t, seen, len(universe))
	for _, m := range universe {
		assert.Equalf(t, 1, seen[m.ID()], "mark %d held %d times", m.ID(), seen[m.ID()])
	}
}

func TestNewRejectsDuplicates(t *testing.T) {
	_, err := New(points(1, 2, 1), nil, rand.New(rand.NewPCG(1, 1)))
	assert.Error(t, err)
}

func TestNewRequiresRandomSource(t *testing.T) {
	_, err := New(points(1), nil, nil)
	assert.Error(t, err)
}

func TestSampleEmpty(t *testing.T) {
	p := newPartition(t, nil, nil, 1)
	sampled, ok := p.SampleFromAvailable(3)
	assert.False(t, ok)
	assert.Empty(t, sampled)
}

func TestSampleBound(t *testing.T) {
	p := newPartition(t, points(1, 2, 3, 4, 5), nil, 3)

	for n := 0; n <= 8; n++ {
		sampled, ok := p.SampleFromAvailable(n)
		require.True(t, ok)
		assert.LessOrEqual(t, len(sampled), min(n, p.NumAvailable()))

		ids := make(map[uint64]bool)
		for _, m := range sampled {
			assert.False(t, ids[m.ID()], "sampled with replacement")
			assert.True(t, p.IsAvailable(m.ID()))
			ids[m.ID()] = true
		}
	}

	sampled, ok := p.SampleFromAvailable(10)
	require.True(t, ok)
	assert.Len(t, sampled, 5, "oversized request truncates to available count")
}

func TestSampleEmptyAfterAllAccepted(t *testing.T) {
	universe := points(1, 2)
	p := newPartition(t, universe, nil, 1)
	require.NoError(t, p.MoveAvailableToAccepted(universe...))

	_, ok := p.SampleFromAvailable(1)
	assert.False(t, ok)
}

func TestSampleFrequencyUniform(t *testing.T) {
	p := newPartition(t, points(1, 2, 3), nil, 42)

	const trials = 6000
	counts := make(map[uint64]int)
	for i := 0; i < trials; i++ {
		sampled, ok := p.SampleFromAvailable(2)
		require.True(t, ok)
		require.Len(t, sampled, 2)
		for _, m := range sampled {
			counts[m.ID()]++
		}
	}

	for id := uint64(1); id <= 3; id++ {
		freq := float64(counts[id]) / trials
		assert.InDeltaf(t, 2.0/3.0, freq, 0.04, "mark %d frequency", id)
	}
}

func TestSampleFrequencyWeighted(t *testing.T) {
	weight := func(m mark.Mark) float64 { return float64(m.ID()) }
	p := newPartition(t, points(1, 3), weight, 9)

	const trials = 8000
	first := 0
	for i := 0; i < trials; i++ {
		sampled, _ := p.SampleFromAvailable(1)
		if sampled[0].ID() == 3 {
			first++
		}
	}
	assert.InDelta(t, 0.75, float64(first)/trials, 0.03)
}

func TestSampleIgnoresZeroWeightsUnlessAllZero(t *testing.T) {
	weight := func(m mark.Mark) float64 {
		if m.ID() == 2 {
			return 1
		}
		return 0
	}
	p := newPartition(t, points(1, 2, 3), weight, 5)

	for i := 0; i < 50; i++ {
		sampled, ok := p.SampleFromAvailable(3)
		require.True(t, ok)
		require.Len(t, sampled, 1)
		assert.Equal(t, uint64(2), sampled[0].ID())
	}

	require.NoError(t, p.MoveAvailableToAccepted(points(2)...))
	sampled, ok := p.SampleFromAvailable(3)
	require.True(t, ok)
	assert.Len(t, sampled, 2, "all-zero weights fall back to uniform")
}

func TestSampleDeterministic(t *testing.T) {
	p1 := newPartition(t, points(1, 2, 3, 4, 5, 6), nil, 11)
	p2 := newPartition(t, points(1, 2, 3, 4, 5, 6), nil, 11)

	for i := 0; i < 20; i++ {
		a, _ := p1.SampleFromAvailable(3)
		b, _ := p2.SampleFromAvailable(3)
		assert.Equal(t, a, b)
	}
}

func TestMoveKeepsPartition(t *testing.T) {
	rng := rand.New(rand.NewPCG(8, 8))
	p := newPartition(t, points(1, 2, 3, 4, 5, 6, 7, 8), nil, 8)

	for i := 0; i < 200; i++ {
		if rng.IntN(2) == 0 {
			sampled, ok := p.SampleFromAvailable(1 + rng.IntN(3))
			if ok {
				require.NoError(t, p.MoveAvailableToAccepted(sampled...))
			}
		} else if accepted := p.Accepted(); len(accepted) > 0 {
			require.NoError(t, p.MoveAcceptedToAvailable(accepted[rng.IntN(len(accepted))]))
		}
		assertPartitioned(t, p)
	}
}

func TestNoOpCycleRestoresPartition(t *testing.T) {
	universe := points(1, 2, 3, 4)
	p := newPartition(t, universe, nil, 2)
	require.NoError(t, p.MoveAvailableToAccepted(universe[3]))

	beforeAvailable, beforeAccepted := p.Available(), p.Accepted()

	subset := []mark.Mark{universe[0], universe[2]}
	require.NoError(t, p.MoveAvailableToAccepted(subset...))
	for _, m := range subset {
		require.NoError(t, p.MoveAcceptedToAvailable(m))
	}

	assert.Equal(t, beforeAvailable, p.Available())
	assert.Equal(t, beforeAccepted, p.Accepted())
}

func TestMoveErrorsAreAtomic(t *testing.T) {
	universe := points(1, 2, 3)
	p := newPartition(t, universe, nil, 4)
	require.NoError(t, p.MoveAvailableToAccepted(universe[1]))

	err := p.MoveAvailableToAccepted(universe[0], universe[1])
	assert.ErrorIs(t, err, ErrNotAvailable)
	assert.True(t, p.IsAvailable(1), "failed move left mark 1 untouched")

	err = p.MoveAcceptedToAvailable(universe[2])
	assert.ErrorIs(t, err, ErrNotAccepted)

	err = p.MoveAcceptedToAvailable(mark.Point{Id: 99})
	assert.ErrorIs(t, err, ErrNotAccepted)
	assert.False(t, p.InUniverse(99))
	assertPartitioned(t, p)
}

func TestSamplingSeesMoves(t *testing.T) {
	universe := points(1, 2, 3)
	p := newPartition(t, universe, nil, 6)

	_, _ = p.SampleFromAvailable(1)
	require.NoError(t, p.MoveAvailableToAccepted(universe[0], universe[1]))

	for i := 0; i < 20; i++ {
		sampled, ok := p.SampleFromAvailable(3)
		require.True(t, ok)
		require.Len(t, sampled, 1)
		assert.Equal(t, uint64(3), sampled[0].ID())
	}
}
