// Package optim drives the marked point process sampler: it picks kernels,
// converts states, computes acceptance probabilities, applies accepted moves
// and decides when to stop.
package optim

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/cwbudde/mppfit/internal/anneal"
	"github.com/cwbudde/mppfit/internal/kernel"
)

// Config assembles an optimizer
type Config[S Scored] struct {
	Proposer    *kernel.Proposer
	Transformer Transformer[S]
	Anneal      anneal.Scheme
	Termination TerminationCondition

	// Observer is optional
	Observer Observer

	// Logger defaults to slog.Default()
	Logger *slog.Logger

	// Chain numbers the run when several execute side by side
	Chain int
}

// Optimizer runs one single-threaded annealing chain
type Optimizer[S Scored] struct {
	cfg    Config[S]
	logger *slog.Logger
}

// Result is the outcome of a completed run
type Result[S Scored] struct {
	Chain int

	// Best is the highest-scoring state visited. The empty configuration
	// counts as visited.
	Best S

	// Final is the state current when the run stopped
	Final S

	Summary  Summary
	Errors   *ErrorNode
	Duration time.Duration
}

// New validates cfg and creates an optimizer
func New[S Scored](cfg Config[S]) (*Optimizer[S], error) {
	if cfg.Proposer == nil {
		return nil, &CreateError{Field: "proposer", Err: fmt.Errorf("not set")}
	}
	if cfg.Transformer == nil {
		return nil, &CreateError{Field: "transformer", Err: fmt.Errorf("not set")}
	}
	if cfg.Anneal == nil {
		return nil, &CreateError{Field: "anneal", Err: fmt.Errorf("not set")}
	}
	if err := validateTermination(cfg.Termination); err != nil {
		return nil, &CreateError{Field: "termination", Err: err}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Optimizer[S]{cfg: cfg, logger: logger.With("chain", cfg.Chain)}, nil
}

// Run iterates until the termination condition stops it. Cancelling ctx
// stops the run at the next iteration boundary with *OptTerminatedEarlyError,
// as does an abnormal kernel failure. Recoverable per-iteration faults are
// logged, counted and skipped.
func (o *Optimizer[S]) Run(ctx context.Context, kctx *kernel.Context) (*Result[S], error) {
	ctx, span := tracer.Start(ctx, "optim.Run", trace.WithAttributes(attribute.Int("chain", o.cfg.Chain)))
	defer span.End()
	start := time.Now()

	if err := o.cfg.Proposer.Init(kctx); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		runsTotal.WithLabelValues("init_error").Inc()
		return nil, err
	}

	errs := NewErrorNode("optimizer")
	assigner := AddErrorLevel[S]{Inner: Assigner[S]{Transformer: o.cfg.Transformer}, Errors: errs}
	calc := AcceptanceProbabilityCalculator{Anneal: o.cfg.Anneal}
	step := &Step[S]{}
	rec := newRecorder()

	// the empty configuration is a valid answer, so an accepted state only
	// becomes best when it scores higher
	empty, err := o.cfg.Transformer.FromKernel(kctx.Scheme.Empty(), kctx)
	if err != nil {
		err = &CreateError{Field: "empty configuration", Err: err}
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		runsTotal.WithLabelValues("init_error").Inc()
		return nil, err
	}
	step.SeedBest(empty)

	o.logger.Info("Starting optimization", "kernels", len(o.cfg.Proposer.Menu()))

	for iteration := 0; ; iteration++ {
		if err := ctx.Err(); err != nil {
			return nil, o.abort(span, &OptTerminatedEarlyError{Iteration: iteration, Err: err, Errors: errs})
		}

		var score float64
		var size int
		if cur, ok := step.Current(); ok {
			score, size = cur.Score(), cur.Size()
		}
		if !o.cfg.Termination.ContinueIterations(iteration, score, size, o.logger) {
			break
		}

		step.Reset(iteration)
		fb, err := o.iterate(ctx, step, assigner, calc, kctx, errs)
		if err != nil {
			err.Errors = errs
			return nil, o.abort(span, err)
		}
		rec.observe(fb)
		if o.cfg.Observer != nil {
			o.cfg.Observer.Observe(fb)
		}
	}

	result := o.result(step, rec, errs, time.Since(start))

	runsTotal.WithLabelValues("completed").Inc()
	runDuration.Observe(result.Duration.Seconds())
	bestScore.Set(result.Best.Score())
	span.SetAttributes(
		attribute.Int("iterations", result.Summary.Iterations),
		attribute.Float64("best_score", result.Best.Score()),
		attribute.Int("best_size", result.Best.Size()),
	)
	span.SetStatus(codes.Ok, "")

	o.logger.Info("Optimization complete",
		"iterations", result.Summary.Iterations,
		"best_score", result.Best.Score(),
		"size", result.Best.Size(),
		"acceptance_rate", result.Summary.AcceptanceRate,
		"faults", result.Summary.Faults,
		"duration", result.Duration,
	)
	return result, nil
}

// iterate performs one propose, score, accept or reject, update cycle
func (o *Optimizer[S]) iterate(
	ctx context.Context,
	step *Step[S],
	assigner KernelAssigner[S],
	calc AcceptanceProbabilityCalculator,
	kctx *kernel.Context,
	errs *ErrorNode,
) (Feedback, *OptTerminatedEarlyError) {
	k := o.cfg.Proposer.Propose(kctx.Rand)
	label := kernelLabel(k)
	_, span := tracer.Start(ctx, "optim.Iteration", trace.WithAttributes(
		attribute.Int("iteration", step.Iteration()),
		attribute.String("kernel", k.Name()),
	))
	defer span.End()

	fb := Feedback{Chain: o.cfg.Chain, Iteration: step.Iteration(), Kernel: k.Name()}

	err := assigner.AssignProposal(step, kctx, k)
	switch {
	case err != nil && recoverable(err):
		o.logger.Debug("Skipping iteration after recoverable fault",
			"iteration", step.Iteration(),
			"kernel", k.Name(),
			"error", err,
		)
		fb.Outcome = OutcomeFault

	case err != nil:
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		iterationsTotal.WithLabelValues(label, string(OutcomeFault)).Inc()
		return fb, &OptTerminatedEarlyError{Iteration: step.Iteration(), Kernel: k.Name(), Err: err}

	case !step.hasProposal:
		fb.Outcome = OutcomeSkipped

	default:
		current, proposal := step.scored()
		p := calc.Calculate(k, current, proposal, step.Iteration(), kctx)
		step.probability = p
		fb.Probability = p
		acceptanceProbability.WithLabelValues(label).Observe(p)

		if kctx.Rand.Float64() >= p {
			fb.Outcome = OutcomeRejected
			break
		}
		if err := k.UpdateAfterAcceptance(kctx, step.KernelProposal()); err != nil {
			errs.Child(k.Name()).Child("update").Record(err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return fb, &OptTerminatedEarlyError{
				Iteration: step.Iteration(),
				Kernel:    k.Name(),
				Err:       fmt.Errorf("update after acceptance: %w", err),
			}
		}
		step.Accept()
		fb.Outcome = OutcomeAccepted
		o.logger.Debug("Accepted proposal",
			"iteration", step.Iteration(),
			"kernel", k.Name(),
			"description", step.KernelProposal().Description,
			"probability", p,
		)
	}

	if cur, ok := step.Current(); ok {
		fb.Score, fb.Size = cur.Score(), cur.Size()
	}
	if best, ok := step.Best(); ok {
		fb.BestScore = best.Score()
	}
	fb.Description = step.KernelProposal().Description

	iterationsTotal.WithLabelValues(label, string(fb.Outcome)).Inc()
	span.SetAttributes(attribute.String("outcome", string(fb.Outcome)))
	return fb, nil
}

// result packages the final states. A run that never accepted anything
// ends in the empty configuration.
func (o *Optimizer[S]) result(step *Step[S], rec *recorder, errs *ErrorNode, elapsed time.Duration) *Result[S] {
	best, _ := step.Best()
	final, ok := step.Current()
	if !ok {
		final = best
	}
	return &Result[S]{
		Chain:    o.cfg.Chain,
		Best:     best,
		Final:    final,
		Summary:  rec.finish(),
		Errors:   errs,
		Duration: elapsed,
	}
}

func (o *Optimizer[S]) abort(span trace.Span, err *OptTerminatedEarlyError) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	runsTotal.WithLabelValues("aborted").Inc()
	o.logger.Error("Optimization terminated early",
		"iteration", err.Iteration,
		"kernel", err.Kernel,
		"error", err.Err,
		"errors", err.Errors.String(),
	)
	return err
}
