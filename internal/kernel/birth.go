package kernel

import (
	"errors"
	"fmt"

	"github.com/cwbudde/mppfit/internal/energy"
	"github.com/cwbudde/mppfit/internal/mark"
)

// Birth adds Count marks generated by the context's mark factory
type Birth struct {
	Count int
}

func (Birth) kernel() {}

func (b Birth) Name() string {
	if b.Count > 1 {
		return fmt.Sprintf("birth(%d)", b.Count)
	}
	return "birth"
}

func (b Birth) Init(ctx *Context) error {
	if ctx.Factory == nil {
		return &InitError{Component: b.Name(), Err: errors.New("no mark factory")}
	}
	if b.Count < 1 {
		return &InitError{Component: b.Name(), Err: fmt.Errorf("count must be positive, got %d", b.Count)}
	}
	return nil
}

func (b Birth) MakeProposal(ctx *Context, current *energy.MarksWithTotalEnergy) (Proposal, error) {
	if ctx.Factory == nil {
		return Proposal{}, abnormal(b, "no mark factory", nil)
	}
	born := make([]mark.Mark, 0, b.Count)
	for _, m := range ctx.Factory.NewN(b.Count) {
		if b.IsCompatibleWith(m) {
			born = append(born, ctx.Bounds.Clamp(m))
		}
	}
	return birthProposal(b, ctx, current, born)
}

func (b Birth) AcceptanceProbability(sizeCurrent, sizeProposal int, intensity float64, dims energy.Dimensions, ratio float64) float64 {
	return dimensionMatching(sizeCurrent, sizeProposal, intensity, dims, ratio)
}

func (Birth) UpdateAfterAcceptance(*Context, Proposal) error { return nil }

func (Birth) IsCompatibleWith(m mark.Mark) bool {
	return m.Area() > 0
}

// BirthFromPartition adds up to Count marks drawn from the available set of
// the context's partition
type BirthFromPartition struct {
	Count int
}

func (BirthFromPartition) kernel() {}

func (b BirthFromPartition) Name() string {
	if b.Count > 1 {
		return fmt.Sprintf("birth_partition(%d)", b.Count)
	}
	return "birth_partition"
}

func (b BirthFromPartition) Init(ctx *Context) error {
	if ctx.Partition == nil {
		return &InitError{Component: b.Name(), Err: errors.New("no mark partition")}
	}
	if b.Count < 1 {
		return &InitError{Component: b.Name(), Err: fmt.Errorf("count must be positive, got %d", b.Count)}
	}
	return nil
}

func (b BirthFromPartition) MakeProposal(ctx *Context, current *energy.MarksWithTotalEnergy) (Proposal, error) {
	if ctx.Partition == nil {
		return Proposal{}, abnormal(b, "no mark partition", nil)
	}
	sample, ok := ctx.Partition.SampleFromAvailable(b.Count)
	if !ok {
		ctx.logger().Debug("No available marks for birth", "kernel", b.Name())
		return Proposal{}, nil
	}
	start := ctx.start(current)
	born := make([]mark.Mark, 0, len(sample))
	for _, m := range sample {
		if b.IsCompatibleWith(m) && !start.Marks().Contains(m.ID()) {
			born = append(born, m)
		}
	}
	return birthProposal(b, ctx, current, born)
}

func (b BirthFromPartition) AcceptanceProbability(sizeCurrent, sizeProposal int, intensity float64, dims energy.Dimensions, ratio float64) float64 {
	return dimensionMatching(sizeCurrent, sizeProposal, intensity, dims, ratio)
}

func (b BirthFromPartition) UpdateAfterAcceptance(ctx *Context, p Proposal) error {
	if err := ctx.Partition.MoveAvailableToAccepted(p.Changed...); err != nil {
		return fmt.Errorf("%s: %w", b.Name(), err)
	}
	return nil
}

func (BirthFromPartition) IsCompatibleWith(m mark.Mark) bool {
	return m.Area() > 0
}

// birthProposal adds born to the current configuration. No compatible marks
// means no proposal.
func birthProposal(k Kernel, ctx *Context, current *energy.MarksWithTotalEnergy, born []mark.Mark) (Proposal, error) {
	if len(born) == 0 {
		return Proposal{}, nil
	}
	next, err := ctx.start(current).Add(born...)
	if err != nil {
		return Proposal{}, abnormal(k, "adding marks", err)
	}
	return Proposal{
		Marks:       next,
		Changed:     born,
		Description: fmt.Sprintf("birth of %d mark(s)", len(born)),
	}, nil
}
