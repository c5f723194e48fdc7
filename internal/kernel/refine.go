package kernel

import (
	"fmt"
	"image"
	"math"

	"github.com/cwbudde/mppfit/internal/energy"
	"github.com/cwbudde/mppfit/internal/mark"
	"github.com/cwbudde/mppfit/internal/opt"
)

// Refine re-fits the shape of one mark with a continuous optimizer,
// maximising the mark's data term plus its interactions with neighbours.
// The refined mark replaces the original under a new ID.
type Refine struct {
	Optimizer opt.Optimizer

	// Bounds overrides the context's parameter bounds when non-zero
	Bounds mark.Bounds

	// Shift is the largest centre displacement searched. Zero means half
	// the maximum radius.
	Shift float64
}

func (Refine) kernel() {}

func (Refine) Name() string { return "refine" }

func (r Refine) Init(*Context) error {
	if r.Optimizer == nil {
		return &InitError{Component: r.Name(), Err: fmt.Errorf("no continuous optimizer")}
	}
	if r.Shift < 0 {
		return &InitError{Component: r.Name(), Err: fmt.Errorf("shift cannot be negative, got %f", r.Shift)}
	}
	return nil
}

func (r Refine) MakeProposal(ctx *Context, current *energy.MarksWithTotalEnergy) (Proposal, error) {
	if r.Optimizer == nil {
		return Proposal{}, abnormal(r, "no continuous optimizer", nil)
	}
	if current == nil || current.Size() == 0 {
		return Proposal{}, nil
	}

	var candidates []mark.Mark
	for _, m := range current.Marks().Marks() {
		if r.IsCompatibleWith(m) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return Proposal{}, nil
	}
	target := candidates[ctx.Rand.IntN(len(candidates))]

	bounds := r.bounds(ctx)
	shift := r.Shift
	if shift == 0 {
		shift = bounds.MaxRadius / 2
	}
	space := newSearchSpace(target, bounds, shift)

	reach := shift + bounds.MaxRadius
	c := target.Centre()
	region := image.Rect(
		int(math.Floor(c.X-reach)), int(math.Floor(c.Y-reach)),
		int(math.Ceil(c.X+reach))+1, int(math.Ceil(c.Y+reach))+1,
	)
	var neighbours []mark.Mark
	for _, m := range current.Marks().Marks() {
		if m.ID() != target.ID() && m.BoundingBox().Overlaps(region) {
			neighbours = append(neighbours, m)
		}
	}

	id := ctx.IDs.Next()
	scheme := ctx.Scheme
	eval := func(x []float64) float64 {
		m := space.decode(x, id)
		e := scheme.Unary(m)
		for _, n := range neighbours {
			e += scheme.Pairwise(m, n)
		}
		return -e
	}

	optimizer := r.Optimizer
	if seedable, ok := optimizer.(opt.Seedable); ok {
		optimizer = seedable.Reseed(ctx.Rand.Int64())
	}
	best, _, err := optimizer.Run(eval, space.lower, space.upper)
	if err != nil {
		return Proposal{}, abnormal(r, "continuous optimization", err)
	}

	refined := bounds.Clamp(space.decode(best, id))
	next, err := current.Replace(target.ID(), refined)
	if err != nil {
		return Proposal{}, abnormal(r, "replacing mark", err)
	}
	return Proposal{
		Marks:       next,
		Changed:     []mark.Mark{refined},
		Replaced:    []mark.Mark{target},
		Description: fmt.Sprintf("refine mark %d as %d", target.ID(), id),
	}, nil
}

func (r Refine) bounds(ctx *Context) mark.Bounds {
	if r.Bounds != (mark.Bounds{}) {
		return r.Bounds
	}
	return ctx.Bounds
}

// AcceptanceProbability is the plain Metropolis ratio since refinement
// keeps the dimension
func (Refine) AcceptanceProbability(_, _ int, _ float64, _ energy.Dimensions, ratio float64) float64 {
	if math.IsNaN(ratio) {
		return 1
	}
	return probability(ratio)
}

// UpdateAfterAcceptance returns replaced candidate marks to the partition
func (r Refine) UpdateAfterAcceptance(ctx *Context, p Proposal) error {
	if ctx.Partition == nil {
		return nil
	}
	for _, m := range p.Replaced {
		if !ctx.Partition.IsAccepted(m.ID()) {
			continue
		}
		if err := ctx.Partition.MoveAcceptedToAvailable(m); err != nil {
			return fmt.Errorf("%s: %w", r.Name(), err)
		}
	}
	return nil
}

func (Refine) IsCompatibleWith(m mark.Mark) bool {
	switch m.(type) {
	case mark.Circle, mark.Ellipse:
		return true
	default:
		return false
	}
}

// searchSpace is the box of shape parameters explored around one mark
type searchSpace struct {
	lower, upper []float64
	decode       func(x []float64, id uint64) mark.Mark
}

func newSearchSpace(target mark.Mark, bounds mark.Bounds, shift float64) searchSpace {
	c := target.Centre()
	xlo := math.Max(0, c.X-shift)
	xhi := math.Min(float64(bounds.Width), c.X+shift)
	ylo := math.Max(0, c.Y-shift)
	yhi := math.Min(float64(bounds.Height), c.Y+shift)

	if _, ok := target.(mark.Circle); ok {
		return searchSpace{
			lower: []float64{xlo, ylo, bounds.MinRadius},
			upper: []float64{xhi, yhi, bounds.MaxRadius},
			decode: func(x []float64, id uint64) mark.Mark {
				return mark.Circle{Id: id, X: x[0], Y: x[1], R: x[2]}
			},
		}
	}

	lower, upper := bounds.Lower(), bounds.Upper()
	lower[0], upper[0] = xlo, xhi
	lower[1], upper[1] = ylo, yhi
	return searchSpace{
		lower: lower,
		upper: upper,
		decode: func(x []float64, id uint64) mark.Mark {
			pv := &mark.ParamVector{Data: x, K: 1}
			return pv.DecodeEllipse(0, id)
		},
	}
}
