package kernel

import (
	"errors"
	"math"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cwbudde/mppfit/internal/energy"
	"github.com/cwbudde/mppfit/internal/mark"
	"github.com/cwbudde/mppfit/internal/opt"
	"github.com/cwbudde/mppfit/internal/partition"
)

var discs = []mark.Mark{
	mark.Circle{Id: 1, X: 15, Y: 15, R: 5},
	mark.Circle{Id: 2, X: 45, Y: 30, R: 6},
}

func newTestContext(t *testing.T, seed uint64) *Context {
	t.Helper()
	stack := energy.NewStack(energy.SyntheticImage(64, 48, discs, 0.1, 0.9))
	bounds := mark.NewBounds(64, 48, 3, 10)
	ctx, err := NewContext(energy.DefaultScheme(stack), bounds, 1e-3, rand.New(rand.NewPCG(seed, seed)), nil)
	require.NoError(t, err)
	return ctx
}

func scored(t *testing.T, ctx *Context, marks ...mark.Mark) *energy.MarksWithTotalEnergy {
	t.Helper()
	s, err := ctx.Scheme.Score(mark.NewCollection(marks...))
	require.NoError(t, err)
	return s
}

func TestNewContextValidation(t *testing.T) {
	rng := rand.New(rand.NewPCG(1, 1))
	bounds := mark.NewBounds(10, 10, 1, 3)

	_, err := NewContext(&energy.Scheme{}, bounds, 1, rng, nil)
	assert.ErrorIs(t, err, energy.ErrNoStack)
	assert.ErrorIs(t, err, &InitError{})

	stack := energy.NewStack(energy.SyntheticImage(10, 10, nil, 0, 1))
	_, err = NewContext(energy.DefaultScheme(stack), bounds, 1, nil, nil)
	assert.Error(t, err)
	_, err = NewContext(energy.DefaultScheme(stack), bounds, -1, rng, nil)
	assert.Error(t, err)

	ctx, err := NewContext(energy.DefaultScheme(stack), bounds, 1, rng, nil)
	require.NoError(t, err)
	assert.Equal(t, energy.Dimensions{X: 10, Y: 10, Z: 1}, ctx.Dimensions)
}

func TestAttachPartitionReservesIDs(t *testing.T) {
	ctx := newTestContext(t, 1)
	p, err := partition.New([]mark.Mark{mark.Point{Id: 40}}, nil, ctx.Rand)
	require.NoError(t, err)

	ctx.AttachPartition(p)
	f := ctx.AttachFactory(mark.KindCircle)
	assert.Equal(t, uint64(41), f.New().ID())
}

func TestDimensionMatching(t *testing.T) {
	dims := energy.Dimensions{X: 10, Y: 10, Z: 1}
	const intensity = 0.1 // lambda = 10

	tests := []struct {
		name          string
		current, next int
		ratio         float64
		want          float64
	}{
		{"birth from empty", 0, 1, 0.01, 0.1},
		{"birth saturates", 0, 1, 1, 1},
		{"birth of two", 1, 3, 0.01, 0.01 * 10 / 2 * 10 / 3},
		{"death", 1, 0, 1, 0.1},
		{"death of two", 4, 2, 1, 4.0 / 10 * 3.0 / 10},
		{"same size", 3, 3, 0.5, 0.5},
		{"absent state", 0, 1, math.NaN(), 1},
		{"zero ratio", 2, 3, 0, 0},
		{"infinite ratio", 2, 1, math.Inf(1), 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := dimensionMatching(tt.current, tt.next, intensity, dims, tt.ratio)
			assert.InDelta(t, tt.want, got, 1e-12)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}

	// without a reference intensity only the ratio counts
	assert.Equal(t, 0.3, dimensionMatching(0, 1, 0, dims, 0.3))
}

func TestBirthFirstIteration(t *testing.T) {
	ctx := newTestContext(t, 2)
	ctx.AttachFactory(mark.KindEllipse)
	k := Birth{Count: 3}
	require.NoError(t, k.Init(ctx))

	p, err := k.MakeProposal(ctx, nil)
	require.NoError(t, err)
	require.False(t, p.Empty())
	assert.Equal(t, 3, p.Size())
	assert.Len(t, p.Changed, 3)
	for _, m := range p.Changed {
		assert.True(t, p.Marks.Marks().Contains(m.ID()))
		assert.True(t, ctx.Bounds.InImage(m))
	}
	assert.NoError(t, k.UpdateAfterAcceptance(ctx, p))
}

func TestBirthRequiresFactory(t *testing.T) {
	ctx := newTestContext(t, 3)
	k := Birth{Count: 1}

	err := k.Init(ctx)
	var initErr *InitError
	require.ErrorAs(t, err, &initErr)
	assert.Equal(t, "birth", initErr.Component)

	_, err = k.MakeProposal(ctx, nil)
	assert.ErrorIs(t, err, &ProposalAbnormalFailureError{})

	ctx.AttachFactory(mark.KindCircle)
	assert.Error(t, Birth{Count: 0}.Init(ctx))
}

func TestBirthFromPartition(t *testing.T) {
	ctx := newTestContext(t, 4)
	universe := []mark.Mark{
		mark.Circle{Id: 1, X: 15, Y: 15, R: 5},
		mark.Circle{Id: 2, X: 45, Y: 30, R: 6},
		mark.Circle{Id: 3, X: 30, Y: 10, R: 4},
	}
	p, err := partition.New(universe, nil, ctx.Rand)
	require.NoError(t, err)
	ctx.AttachPartition(p)

	k := BirthFromPartition{Count: 2}
	require.NoError(t, k.Init(ctx))

	proposal, err := k.MakeProposal(ctx, nil)
	require.NoError(t, err)
	require.Len(t, proposal.Changed, 2)

	// proposing alone does not move marks
	assert.Equal(t, 3, p.NumAvailable())

	require.NoError(t, k.UpdateAfterAcceptance(ctx, proposal))
	assert.Equal(t, 1, p.NumAvailable())
	for _, m := range proposal.Changed {
		assert.True(t, p.IsAccepted(m.ID()))
	}

	// one left, then nothing
	proposal, err = k.MakeProposal(ctx, proposal.Marks)
	require.NoError(t, err)
	require.Len(t, proposal.Changed, 1)
	require.NoError(t, k.UpdateAfterAcceptance(ctx, proposal))

	proposal, err = k.MakeProposal(ctx, proposal.Marks)
	require.NoError(t, err)
	assert.True(t, proposal.Empty())
}

func TestBirthFromPartitionSkipsMarksAlreadyPresent(t *testing.T) {
	ctx := newTestContext(t, 5)
	m := mark.Circle{Id: 1, X: 15, Y: 15, R: 5}
	p, err := partition.New([]mark.Mark{m}, nil, ctx.Rand)
	require.NoError(t, err)
	ctx.AttachPartition(p)

	proposal, err := BirthFromPartition{Count: 1}.MakeProposal(ctx, scored(t, ctx, m))
	require.NoError(t, err)
	assert.True(t, proposal.Empty())
}

func TestBirthFromPartitionRequiresPartition(t *testing.T) {
	ctx := newTestContext(t, 6)
	assert.ErrorIs(t, BirthFromPartition{Count: 1}.Init(ctx), &InitError{})

	_, err := BirthFromPartition{Count: 1}.MakeProposal(ctx, nil)
	var abnormalErr *ProposalAbnormalFailureError
	require.ErrorAs(t, err, &abnormalErr)
	assert.Equal(t, "birth_partition", abnormalErr.Kernel)
}

func TestDeath(t *testing.T) {
	ctx := newTestContext(t, 7)
	k := Death{}

	p, err := k.MakeProposal(ctx, nil)
	require.NoError(t, err)
	assert.True(t, p.Empty(), "nothing to kill on the first iteration")

	p, err = k.MakeProposal(ctx, ctx.Scheme.Empty())
	require.NoError(t, err)
	assert.True(t, p.Empty())

	current := scored(t, ctx, discs...)
	p, err = k.MakeProposal(ctx, current)
	require.NoError(t, err)
	require.Len(t, p.Changed, 1)
	assert.Equal(t, 1, p.Size())
	assert.False(t, p.Marks.Marks().Contains(p.Changed[0].ID()))
	assert.Equal(t, 2, current.Size(), "current snapshot untouched")
}

func TestDeathReturnsMarksToPartition(t *testing.T) {
	ctx := newTestContext(t, 8)
	p, err := partition.New(discs, nil, ctx.Rand)
	require.NoError(t, err)
	ctx.AttachPartition(p)

	birth := BirthFromPartition{Count: 2}
	born, err := birth.MakeProposal(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, birth.UpdateAfterAcceptance(ctx, born))
	require.Equal(t, 2, p.NumAccepted())

	death := Death{}
	died, err := death.MakeProposal(ctx, born.Marks)
	require.NoError(t, err)
	require.NoError(t, death.UpdateAfterAcceptance(ctx, died))

	assert.Equal(t, 1, p.NumAccepted())
	assert.True(t, p.IsAvailable(died.Changed[0].ID()))

	// marks that never came from the partition are ignored
	foreign := Proposal{Changed: []mark.Mark{mark.Point{Id: 99}}}
	assert.NoError(t, death.UpdateAfterAcceptance(ctx, foreign))
}

func TestWeightedDeathPrefersWeakMarks(t *testing.T) {
	ctx := newTestContext(t, 9)
	good := mark.Circle{Id: 1, X: 15, Y: 15, R: 5}
	bad := mark.Circle{Id: 7, X: 30, Y: 40, R: 5}
	current := scored(t, ctx, good, bad)

	killed := map[uint64]int{}
	for range 500 {
		p, err := Death{Policy: DeathWeighted}.MakeProposal(ctx, current)
		require.NoError(t, err)
		killed[p.Changed[0].ID()]++
	}
	assert.Greater(t, killed[bad.ID()], killed[good.ID()]*3)
}

func TestParseDeathPolicy(t *testing.T) {
	p, err := ParseDeathPolicy("weighted")
	require.NoError(t, err)
	assert.Equal(t, DeathWeighted, p)
	assert.Equal(t, "weighted", p.String())

	p, err = ParseDeathPolicy("")
	require.NoError(t, err)
	assert.Equal(t, DeathUniform, p)

	_, err = ParseDeathPolicy("oldest")
	assert.Error(t, err)
}

func TestRoulette(t *testing.T) {
	w := []float64{1, 2, 3}
	assert.Equal(t, 0, roulette(0, w))
	assert.Equal(t, 1, roulette(1, w))
	assert.Equal(t, 2, roulette(5.9, w))
	assert.Equal(t, 2, roulette(6, w), "rounding past the end picks the last")
}

func TestRefineReplacesMark(t *testing.T) {
	ctx := newTestContext(t, 12)
	p, err := partition.New([]mark.Mark{mark.Circle{Id: 1, X: 17, Y: 13, R: 4}}, nil, ctx.Rand)
	require.NoError(t, err)
	ctx.AttachPartition(p)

	birth := BirthFromPartition{Count: 1}
	born, err := birth.MakeProposal(ctx, nil)
	require.NoError(t, err)
	require.NoError(t, birth.UpdateAfterAcceptance(ctx, born))

	k := Refine{Optimizer: opt.NewMayfly(20, 20, 1)}
	require.NoError(t, k.Init(ctx))
	refined, err := k.MakeProposal(ctx, born.Marks)
	require.NoError(t, err)
	require.False(t, refined.Empty())

	require.Len(t, refined.Changed, 1)
	require.Len(t, refined.Replaced, 1)
	assert.Equal(t, uint64(1), refined.Replaced[0].ID())
	assert.Greater(t, refined.Changed[0].ID(), uint64(1))
	assert.Equal(t, 1, refined.Size())

	c, ok := refined.Changed[0].(mark.Circle)
	require.True(t, ok, "circles stay circles")
	assert.InDelta(t, 17, c.X, 5)
	assert.InDelta(t, 13, c.Y, 5)
	assert.GreaterOrEqual(t, c.R, ctx.Bounds.MinRadius)
	assert.LessOrEqual(t, c.R, ctx.Bounds.MaxRadius)

	// the candidate it replaced goes back to the partition
	require.NoError(t, k.UpdateAfterAcceptance(ctx, refined))
	assert.True(t, p.IsAvailable(1))
}

type failingOptimizer struct{}

func (failingOptimizer) Run(func([]float64) float64, []float64, []float64) ([]float64, float64, error) {
	return nil, 0, errors.New("diverged")
}

func TestRefineAbnormalFailure(t *testing.T) {
	ctx := newTestContext(t, 10)
	k := Refine{Optimizer: failingOptimizer{}}
	require.NoError(t, k.Init(ctx))

	_, err := k.MakeProposal(ctx, scored(t, ctx, discs[0]))
	var abnormalErr *ProposalAbnormalFailureError
	require.ErrorAs(t, err, &abnormalErr)
	assert.EqualError(t, abnormalErr.Err, "diverged")

	assert.ErrorIs(t, Refine{}.Init(ctx), &InitError{})
}

func TestRefineSkipsIncompatibleMarks(t *testing.T) {
	ctx := newTestContext(t, 11)
	k := Refine{Optimizer: failingOptimizer{}}

	p, err := k.MakeProposal(ctx, nil)
	require.NoError(t, err)
	assert.True(t, p.Empty())

	p, err = k.MakeProposal(ctx, scored(t, ctx, mark.Point{Id: 1, X: 3, Y: 3}))
	require.NoError(t, err)
	assert.True(t, p.Empty())

	assert.True(t, k.IsCompatibleWith(mark.Ellipse{A: 1, B: 1}))
	assert.False(t, k.IsCompatibleWith(mark.Point{}))
}

func TestRefineAcceptanceProbability(t *testing.T) {
	k := Refine{}
	dims := energy.Dimensions{X: 10, Y: 10}
	assert.Equal(t, 1.0, k.AcceptanceProbability(3, 3, 1, dims, math.NaN()))
	assert.Equal(t, 1.0, k.AcceptanceProbability(3, 3, 1, dims, 2))
	assert.Equal(t, 0.25, k.AcceptanceProbability(3, 3, 1, dims, 0.25))
}
