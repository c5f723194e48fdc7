package optim

import (
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNumberIterationsMonotonic(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 2))
	cond := NumberIterations{Max: 25}
	for i := 0; i < 60; i++ {
		score := rng.NormFloat64() * 100
		size := rng.IntN(50)
		assert.Equal(t, i < 25, cond.ContinueIterations(i, score, size, nil), "iteration %d", i)
	}
}

func TestConstantScoreStopsAtNumRep(t *testing.T) {
	const numRep = 4
	cond := NewConstantScore(-3, numRep)

	// a few changing scores first
	for i, s := range []float64{1, 5, 2} {
		require.True(t, cond.ContinueIterations(i, s, 0, nil))
	}

	// now the score stays at 7 (within 1e-3) for numRep+1 calls
	scores := []float64{7, 7.0001, 7, 6.9999, 7}
	for i, s := range scores {
		got := cond.ContinueIterations(3+i, s, 0, nil)
		if i < numRep {
			assert.True(t, got, "call %d should continue", i)
		} else {
			assert.False(t, got, "repeat %d should stop", i)
		}
	}
}

func TestConstantScoreResetsOnChange(t *testing.T) {
	cond := NewConstantScore(-2, 2)
	seq := []struct {
		score float64
		want  bool
	}{
		{1, true},
		{1, true},      // repeat 1
		{2, true},      // reset
		{2, true},      // repeat 1
		{2.001, false}, // repeat 2 within 1e-2
	}
	for i, s := range seq {
		assert.Equal(t, s.want, cond.ContinueIterations(i, s.score, 0, nil), "call %d", i)
	}
}

func TestConstantSize(t *testing.T) {
	cond := NewConstantSize(3)
	sizes := []int{0, 1, 2, 2, 2, 3, 3, 3, 3}
	want := []bool{true, true, true, true, true, true, true, true, false}
	for i, size := range sizes {
		assert.Equal(t, want[i], cond.ContinueIterations(i, float64(i), size, nil), "call %d", i)
	}
}

func TestStagnation(t *testing.T) {
	cond := NewStagnation(3, 0.01)

	assert.True(t, cond.ContinueIterations(0, 100, 0, nil))
	assert.True(t, cond.ContinueIterations(1, 110, 0, nil), "10% improvement")
	assert.Equal(t, 0, cond.StaleCount())

	assert.True(t, cond.ContinueIterations(2, 110.5, 0, nil))
	assert.True(t, cond.ContinueIterations(3, 110.6, 0, nil))
	assert.Equal(t, 2, cond.StaleCount())
	assert.False(t, cond.ContinueIterations(4, 110.7, 0, nil))
	assert.Equal(t, 110.7, cond.Best())
}

func TestStagnationFromZero(t *testing.T) {
	cond := NewStagnation(2, 0.5)
	assert.True(t, cond.ContinueIterations(0, 0, 0, nil))
	assert.True(t, cond.ContinueIterations(1, 1, 0, nil), "absolute improvement from zero")
	assert.True(t, cond.ContinueIterations(2, 1.2, 0, nil))
	assert.False(t, cond.ContinueIterations(3, 1.3, 0, nil))
}

func TestAnyCallsEveryCondition(t *testing.T) {
	size := NewConstantSize(2)
	cond := Any{NumberIterations{Max: 100}, size}

	assert.True(t, cond.ContinueIterations(0, 0, 5, nil))
	assert.True(t, cond.ContinueIterations(1, 0, 5, nil))
	assert.False(t, cond.ContinueIterations(2, 0, 5, nil))

	cond = Any{NumberIterations{Max: 1}, NewConstantSize(10)}
	assert.True(t, cond.ContinueIterations(0, 0, 0, nil))
	assert.False(t, cond.ContinueIterations(1, 0, 1, nil))
}

func TestValidateTermination(t *testing.T) {
	assert.Error(t, validateTermination(nil))
	assert.Error(t, validateTermination(NumberIterations{Max: -1}))
	assert.Error(t, validateTermination(NewConstantScore(-3, 0)))
	assert.Error(t, validateTermination(NewConstantSize(0)))
	assert.Error(t, validateTermination(NewStagnation(0, 0.1)))
	assert.Error(t, validateTermination(Any{}))
	assert.Error(t, validateTermination(Any{NumberIterations{Max: 3}, NewConstantSize(0)}))
	assert.NoError(t, validateTermination(Any{NumberIterations{Max: 3}, NewConstantScore(-3, 5)}))
}
