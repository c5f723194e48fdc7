package kernel

import (
	"fmt"
	"math"

	"github.com/cwbudde/mppfit/internal/energy"
	"github.com/cwbudde/mppfit/internal/mark"
)

// DeathPolicy selects which mark a death removes
type DeathPolicy int

const (
	// DeathUniform removes a uniformly chosen mark
	DeathUniform DeathPolicy = iota

	// DeathWeighted favours marks with a low data term
	DeathWeighted
)

func (p DeathPolicy) String() string {
	switch p {
	case DeathUniform:
		return "uniform"
	case DeathWeighted:
		return "weighted"
	default:
		return fmt.Sprintf("DeathPolicy(%d)", int(p))
	}
}

// ParseDeathPolicy converts a configuration string to a policy
func ParseDeathPolicy(s string) (DeathPolicy, error) {
	switch s {
	case "", "uniform":
		return DeathUniform, nil
	case "weighted":
		return DeathWeighted, nil
	default:
		return 0, fmt.Errorf("unknown death policy: %q", s)
	}
}

// Death removes one mark from the current configuration
type Death struct {
	Policy DeathPolicy
}

func (Death) kernel() {}

func (d Death) Name() string {
	if d.Policy == DeathWeighted {
		return "death_weighted"
	}
	return "death"
}

func (Death) Init(*Context) error { return nil }

func (d Death) MakeProposal(ctx *Context, current *energy.MarksWithTotalEnergy) (Proposal, error) {
	if current == nil || current.Size() == 0 {
		return Proposal{}, nil
	}

	candidates := make([]mark.Mark, 0, current.Size())
	for _, m := range current.Marks().Marks() {
		if d.IsCompatibleWith(m) {
			candidates = append(candidates, m)
		}
	}
	if len(candidates) == 0 {
		return Proposal{}, nil
	}

	victim := d.choose(ctx, current, candidates)
	next, err := current.Remove(victim.ID())
	if err != nil {
		return Proposal{}, abnormal(d, "removing mark", err)
	}
	return Proposal{
		Marks:       next,
		Changed:     []mark.Mark{victim},
		Description: fmt.Sprintf("death of mark %d", victim.ID()),
	}, nil
}

func (d Death) choose(ctx *Context, current *energy.MarksWithTotalEnergy, candidates []mark.Mark) mark.Mark {
	if d.Policy != DeathWeighted || len(candidates) == 1 {
		return candidates[ctx.Rand.IntN(len(candidates))]
	}

	// weight each mark by how far its data term falls below the best one
	best := math.Inf(-1)
	unary := make([]float64, len(candidates))
	for i, m := range candidates {
		unary[i], _ = current.Unary(m.ID())
		best = math.Max(best, unary[i])
	}
	weights := make([]float64, len(candidates))
	var total float64
	for i, u := range unary {
		weights[i] = best - u + 1
		total += weights[i]
	}
	return candidates[roulette(ctx.Rand.Float64()*total, weights)]
}

func (Death) AcceptanceProbability(sizeCurrent, sizeProposal int, intensity float64, dims energy.Dimensions, ratio float64) float64 {
	return dimensionMatching(sizeCurrent, sizeProposal, intensity, dims, ratio)
}

// UpdateAfterAcceptance returns removed candidate marks to the partition
func (d Death) UpdateAfterAcceptance(ctx *Context, p Proposal) error {
	if ctx.Partition == nil {
		return nil
	}
	for _, m := range p.Changed {
		if !ctx.Partition.IsAccepted(m.ID()) {
			continue
		}
		if err := ctx.Partition.MoveAcceptedToAvailable(m); err != nil {
			return fmt.Errorf("%s: %w", d.Name(), err)
		}
	}
	return nil
}

func (Death) IsCompatibleWith(mark.Mark) bool { return true }

// roulette returns the index whose cumulative weight first exceeds r
func roulette(r float64, weights []float64) int {
	for i, w := range weights {
		if r < w {
			return i
		}
		r -= w
	}
	return len(weights) - 1
}
