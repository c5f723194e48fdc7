// Package fit assembles complete marked point process runs from a
// configuration: image loading, energy scheme, candidate partition, kernel
// menu, annealing, termination and concurrent chains.
package fit

import (
	"context"
	"fmt"
	"image"
	"log/slog"
	"math"
	"math/rand/v2"

	"github.com/cwbudde/mppfit/internal/anneal"
	"github.com/cwbudde/mppfit/internal/config"
	"github.com/cwbudde/mppfit/internal/energy"
	"github.com/cwbudde/mppfit/internal/kernel"
	"github.com/cwbudde/mppfit/internal/mark"
	"github.com/cwbudde/mppfit/internal/opt"
	"github.com/cwbudde/mppfit/internal/optim"
	"github.com/cwbudde/mppfit/internal/partition"
)

// State is the optimizer state used by fitting runs
type State = *energy.MarksWithTotalEnergy

// Image is the data a run is fitted against
type Image struct {
	Stack     *energy.Stack
	Reference *image.NRGBA

	// Truth holds the generating marks of synthetic images
	Truth []mark.Mark
}

// LoadImage reads the configured reference image, or generates a synthetic
// one of bright discs on a dark background
func LoadImage(cfg config.RunConfig) (*Image, error) {
	if cfg.Image.RefPath != "" {
		stack, ref, err := energy.LoadStack(cfg.Image.RefPath)
		if err != nil {
			return nil, err
		}
		return &Image{Stack: stack, Reference: ref}, nil
	}

	s := cfg.Image.Synthetic
	bounds := mark.NewBounds(s.Width, s.Height, cfg.Marks.MinRadius, cfg.Marks.MaxRadius)
	rng := rand.New(rand.NewPCG(cfg.Run.Seed, math.MaxUint64))
	truth := mark.NewFactory(mark.KindCircle, bounds, mark.NewIDSource(1), rng).NewN(s.Objects)
	ref := energy.SyntheticImage(s.Width, s.Height, truth, 0.1, 0.9)
	return &Image{Stack: energy.NewStack(ref), Reference: ref, Truth: truth}, nil
}

// Scheme builds the energy scheme for stack
func Scheme(cfg config.RunConfig, stack *energy.Stack) *energy.Scheme {
	return &energy.Scheme{
		Stack:             stack,
		ShellWidth:        cfg.Energy.ShellWidth,
		ContrastThreshold: cfg.Energy.ContrastThreshold,
		OverlapWeight:     cfg.Energy.OverlapWeight,
	}
}

// Anneal builds the cooling schedule
func Anneal(cfg config.RunConfig) (anneal.Scheme, error) {
	a := cfg.Anneal
	return anneal.New(a.Scheme, a.Start, a.End, a.Decay, cfg.Termination.MaxIterations)
}

// Termination builds the combined stopping rule. Conditions are stateful,
// so every chain needs its own.
func Termination(cfg config.RunConfig) optim.TerminationCondition {
	t := cfg.Termination
	conds := optim.Any{optim.NumberIterations{Max: t.MaxIterations}}
	if t.ConstantScoreReps > 0 {
		conds = append(conds, optim.NewConstantScore(t.ToleranceLog10, t.ConstantScoreReps))
	}
	if t.ConstantSizeReps > 0 {
		conds = append(conds, optim.NewConstantSize(t.ConstantSizeReps))
	}
	if t.StagnationPatience > 0 {
		conds = append(conds, optim.NewStagnation(t.StagnationPatience, t.StagnationThreshold))
	}
	if len(conds) == 1 {
		return conds[0]
	}
	return conds
}

// Menu builds the weighted kernel menu
func Menu(cfg config.RunConfig, seed uint64) ([]kernel.WeightedKernel, error) {
	k := cfg.Kernels
	var menu []kernel.WeightedKernel
	if k.BirthWeight > 0 {
		menu = append(menu, kernel.WeightedKernel{Kernel: kernel.Birth{Count: k.BirthCount}, Weight: k.BirthWeight})
	}
	if k.PartitionBirthWeight > 0 {
		menu = append(menu, kernel.WeightedKernel{
			Kernel: kernel.BirthFromPartition{Count: k.PartitionBirthCount},
			Weight: k.PartitionBirthWeight,
		})
	}
	if k.DeathWeight > 0 {
		policy, err := kernel.ParseDeathPolicy(k.DeathPolicy)
		if err != nil {
			return nil, err
		}
		menu = append(menu, kernel.WeightedKernel{Kernel: kernel.Death{Policy: policy}, Weight: k.DeathWeight})
	}
	if k.RefineWeight > 0 {
		menu = append(menu, kernel.WeightedKernel{
			Kernel: kernel.Refine{
				Optimizer: opt.NewMayfly(k.RefineIters, k.RefinePopSize, int64(seed)),
				Shift:     k.RefineShift,
			},
			Weight: k.RefineWeight,
		})
	}
	return menu, nil
}

// Builder returns a chain builder. Chain i draws from its own random stream
// derived from the configured seed, so runs are reproducible. A shared
// observer must be safe for concurrent use when more than one chain runs.
func Builder(cfg config.RunConfig, img *Image, observer optim.Observer, logger *slog.Logger) optim.ChainBuilder[State] {
	if logger == nil {
		logger = slog.Default()
	}
	return func(chain int) (*optim.Optimizer[State], *kernel.Context, error) {
		rng := rand.New(rand.NewPCG(cfg.Run.Seed, uint64(chain)))
		chainLogger := logger.With("chain", chain)

		kind, err := mark.ParseKind(cfg.Marks.Kind)
		if err != nil {
			return nil, nil, &optim.CreateError{Field: "marks.kind", Err: err}
		}
		scheme := Scheme(cfg, img.Stack)
		dims := img.Stack.Dimensions()
		bounds := mark.NewBounds(dims.X, dims.Y, cfg.Marks.MinRadius, cfg.Marks.MaxRadius)

		kctx, err := kernel.NewContext(scheme, bounds, cfg.Run.PoissonIntensity, rng, chainLogger)
		if err != nil {
			return nil, nil, err
		}
		factory := kctx.AttachFactory(kind)

		if cfg.Marks.Candidates > 0 {
			p, err := candidatePartition(scheme, factory.NewN(cfg.Marks.Candidates), rng)
			if err != nil {
				return nil, nil, &optim.CreateError{Field: "partition", Err: err}
			}
			kctx.AttachPartition(p)
		}

		menu, err := Menu(cfg, rng.Uint64())
		if err != nil {
			return nil, nil, &optim.CreateError{Field: "kernels", Err: err}
		}
		proposer, err := kernel.NewProposer(menu...)
		if err != nil {
			return nil, nil, err
		}
		schedule, err := Anneal(cfg)
		if err != nil {
			return nil, nil, &optim.CreateError{Field: "anneal", Err: err}
		}

		var transformer optim.Transformer[State] = optim.IdentityTransformer{}
		if cfg.Energy.Rescore {
			transformer = optim.RescoreTransformer{}
		}

		o, err := optim.New(optim.Config[State]{
			Proposer:    proposer,
			Transformer: transformer,
			Anneal:      schedule,
			Termination: Termination(cfg),
			Observer:    observer,
			Logger:      logger,
			Chain:       chain,
		})
		if err != nil {
			return nil, nil, err
		}
		return o, kctx, nil
	}
}

// candidatePartition weights candidates by their positive data term so that
// births favour marks on objects
func candidatePartition(scheme *energy.Scheme, candidates []mark.Mark, rng *rand.Rand) (*partition.PartitionedMarks, error) {
	weights := make(map[uint64]float64, len(candidates))
	for _, m := range candidates {
		weights[m.ID()] = math.Max(scheme.Unary(m), 0) + 1e-3
	}
	return partition.New(candidates, func(m mark.Mark) float64 { return weights[m.ID()] }, rng)
}

// Outcome is the result of a multi-chain fit
type Outcome struct {
	Best      State
	BestChain int
	Results   []*optim.Result[State]
}

// Run fits cfg to img with the configured number of chains
func Run(ctx context.Context, cfg config.RunConfig, img *Image, observer optim.Observer, logger *slog.Logger) (*Outcome, error) {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Info("Starting fit",
		"chains", cfg.Run.Chains,
		"max_iterations", cfg.Termination.MaxIterations,
		"kind", cfg.Marks.Kind,
		"candidates", cfg.Marks.Candidates,
	)

	results, best, err := optim.RunChains(ctx, cfg.Run.Chains, Builder(cfg, img, observer, logger))
	if err != nil {
		return nil, fmt.Errorf("fit: %w", err)
	}

	outcome := &Outcome{Best: results[best].Best, BestChain: best, Results: results}
	logger.Info("Fit complete",
		"best_chain", best,
		"best_score", outcome.Best.Score(),
		"marks", outcome.Best.Size(),
	)
	return outcome, nil
}
