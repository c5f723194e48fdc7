package optim

import (
	"errors"

	"github.com/cwbudde/mppfit/internal/energy"
	"github.com/cwbudde/mppfit/internal/kernel"
)

// KernelAssigner runs a kernel against the step's current state and writes
// the outcome into the step
type KernelAssigner[S Scored] interface {
	AssignProposal(step *Step[S], ctx *kernel.Context, k kernel.Kernel) error
}

const (
	stageToKernel   = "state to kernel"
	stageFromKernel = "kernel to state"
	stagePropose    = "propose"
)

// Assigner converts states with a Transformer around the kernel call.
// Conversion failures are returned as *KernelCalculateEnergyError; kernel
// failures are passed through unchanged.
type Assigner[S Scored] struct {
	Transformer Transformer[S]
}

func (a Assigner[S]) AssignProposal(step *Step[S], ctx *kernel.Context, k kernel.Kernel) error {
	var current *energy.MarksWithTotalEnergy
	if state, ok := step.Current(); ok {
		var err error
		current, err = a.Transformer.ToKernel(state, ctx)
		if err != nil {
			return &KernelCalculateEnergyError{Kernel: k.Name(), Stage: stageToKernel, Err: err}
		}
	}

	proposal, err := k.MakeProposal(ctx, current)
	if err != nil {
		return err
	}
	if proposal.Empty() {
		step.SetNoProposal(k)
		return nil
	}

	state, err := a.Transformer.FromKernel(proposal.Marks, ctx)
	if err != nil {
		step.SetNoProposal(k)
		return &KernelCalculateEnergyError{Kernel: k.Name(), Stage: stageFromKernel, Err: err}
	}
	step.SetProposal(k, state, proposal)
	return nil
}

// AddErrorLevel records failures of the wrapped assigner under a node
// named after the kernel, and below it the failing stage
type AddErrorLevel[S Scored] struct {
	Inner  KernelAssigner[S]
	Errors *ErrorNode
}

func (a AddErrorLevel[S]) AssignProposal(step *Step[S], ctx *kernel.Context, k kernel.Kernel) error {
	err := a.Inner.AssignProposal(step, ctx, k)
	if err == nil {
		return nil
	}

	node := a.Errors.Child(k.Name())
	var kce *KernelCalculateEnergyError
	if errors.As(err, &kce) {
		node.Child(kce.Stage).Record(err)
	} else {
		node.Child(stagePropose).Record(err)
	}
	return err
}
