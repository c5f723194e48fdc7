package optim

import (
	"fmt"

	"github.com/cwbudde/mppfit/internal/energy"
	"github.com/cwbudde/mppfit/internal/kernel"
)

// Scored is implemented by optimizer states
type Scored interface {
	Score() float64
	Size() int
}

// Step is the mutable record of one optimization iteration. It carries the
// current state across iterations and the latest proposal for diagnostics.
// States themselves are never modified; accepting replaces the current state.
type Step[S Scored] struct {
	iteration int

	current    S
	hasCurrent bool
	best       S
	hasBest    bool

	proposal    S
	hasProposal bool
	kernel      kernel.Kernel
	raw         kernel.Proposal

	probability float64
	accepted    bool
}

// Reset clears the per-iteration record, keeping current and best states
func (s *Step[S]) Reset(iteration int) {
	var zero S
	s.iteration = iteration
	s.proposal = zero
	s.hasProposal = false
	s.kernel = nil
	s.raw = kernel.Proposal{}
	s.probability = 0
	s.accepted = false
}

// Iteration returns the iteration this step records
func (s *Step[S]) Iteration() int { return s.iteration }

// Current returns the current state; false before anything was accepted
func (s *Step[S]) Current() (S, bool) { return s.current, s.hasCurrent }

// Best returns the highest-scoring state seen so far, seeded or accepted
func (s *Step[S]) Best() (S, bool) { return s.best, s.hasBest }

// SeedBest sets the baseline that accepted states must beat to become best.
// The current state stays absent.
func (s *Step[S]) SeedBest(state S) {
	s.best = state
	s.hasBest = true
}

// Proposal returns this iteration's proposed state, if any
func (s *Step[S]) Proposal() (S, bool) { return s.proposal, s.hasProposal }

// Kernel returns the kernel that ran in this iteration
func (s *Step[S]) Kernel() kernel.Kernel { return s.kernel }

// KernelProposal returns the proposal in the kernel's own representation
func (s *Step[S]) KernelProposal() kernel.Proposal { return s.raw }

// Probability returns the acceptance probability of the proposal
func (s *Step[S]) Probability() float64 { return s.probability }

// Accepted reports whether the proposal became the current state
func (s *Step[S]) Accepted() bool { return s.accepted }

// SetProposal records a proposed state
func (s *Step[S]) SetProposal(k kernel.Kernel, state S, raw kernel.Proposal) {
	s.kernel = k
	s.proposal = state
	s.hasProposal = true
	s.raw = raw
}

// SetNoProposal records that k had nothing to propose
func (s *Step[S]) SetNoProposal(k kernel.Kernel) {
	var zero S
	s.kernel = k
	s.proposal = zero
	s.hasProposal = false
	s.raw = kernel.Proposal{}
}

// Accept makes the proposal the current state
func (s *Step[S]) Accept() {
	if !s.hasProposal {
		return
	}
	s.current = s.proposal
	s.hasCurrent = true
	s.accepted = true
	if !s.hasBest || s.current.Score() > s.best.Score() {
		s.best = s.current
		s.hasBest = true
	}
}

// scored returns the current and proposed states as interface values,
// nil where absent
func (s *Step[S]) scored() (current, proposal Scored) {
	if s.hasCurrent {
		current = s.current
	}
	if s.hasProposal {
		proposal = s.proposal
	}
	return current, proposal
}

// Transformer converts between the optimizer's state and the scored
// configuration kernels work on
type Transformer[S Scored] interface {
	ToKernel(state S, ctx *kernel.Context) (*energy.MarksWithTotalEnergy, error)
	FromKernel(marks *energy.MarksWithTotalEnergy, ctx *kernel.Context) (S, error)
}

// IdentityTransformer is used when the optimizer state is the configuration itself
type IdentityTransformer struct{}

func (IdentityTransformer) ToKernel(state *energy.MarksWithTotalEnergy, _ *kernel.Context) (*energy.MarksWithTotalEnergy, error) {
	if state == nil {
		return nil, fmt.Errorf("state is nil")
	}
	return state, nil
}

func (IdentityTransformer) FromKernel(marks *energy.MarksWithTotalEnergy, _ *kernel.Context) (*energy.MarksWithTotalEnergy, error) {
	if marks == nil {
		return nil, fmt.Errorf("proposal is nil")
	}
	return marks, nil
}

// RescoreTransformer rescores every proposal from scratch with the context's
// scheme, so results never depend on incremental bookkeeping. It fails when
// the energy stack is absent.
type RescoreTransformer struct{}

func (RescoreTransformer) ToKernel(state *energy.MarksWithTotalEnergy, ctx *kernel.Context) (*energy.MarksWithTotalEnergy, error) {
	return IdentityTransformer{}.ToKernel(state, ctx)
}

func (RescoreTransformer) FromKernel(marks *energy.MarksWithTotalEnergy, ctx *kernel.Context) (*energy.MarksWithTotalEnergy, error) {
	if marks == nil {
		return nil, fmt.Errorf("proposal is nil")
	}
	return ctx.Scheme.Score(marks.Marks())
}
