package optim

import (
	"fmt"
	"log/slog"
	"math"
)

// TerminationCondition decides after each iteration whether to continue.
// Conditions may keep state between calls; use a fresh one per run.
type TerminationCondition interface {
	ContinueIterations(iteration int, score float64, size int, logger *slog.Logger) bool
}

// NumberIterations continues while iteration < Max
type NumberIterations struct {
	Max int
}

func (n NumberIterations) ContinueIterations(iteration int, _ float64, _ int, logger *slog.Logger) bool {
	if iteration < n.Max {
		return true
	}
	loggerOrDefault(logger).Info("Iteration limit reached", "iteration", iteration, "max", n.Max)
	return false
}

// ConstantScore stops once the score has changed by less than
// 10^ToleranceLog10 on NumRep consecutive calls
type ConstantScore struct {
	ToleranceLog10 float64
	NumRep         int

	previous float64
	started  bool
	repeats  int
}

// NewConstantScore creates a constant-score condition
func NewConstantScore(toleranceLog10 float64, numRep int) *ConstantScore {
	return &ConstantScore{ToleranceLog10: toleranceLog10, NumRep: numRep}
}

func (c *ConstantScore) ContinueIterations(iteration int, score float64, _ int, logger *slog.Logger) bool {
	if c.started && math.Abs(score-c.previous) < math.Pow(10, c.ToleranceLog10) {
		c.repeats++
	} else {
		c.repeats = 0
	}
	c.previous = score
	c.started = true

	if c.repeats >= c.NumRep {
		loggerOrDefault(logger).Info("Score constant - stopping",
			"iteration", iteration,
			"score", score,
			"repeats", c.repeats,
		)
		return false
	}
	return true
}

// ConstantSize stops once the configuration size has stayed the same on
// NumRep consecutive calls
type ConstantSize struct {
	NumRep int

	previous int
	started  bool
	repeats  int
}

// NewConstantSize creates a constant-size condition
func NewConstantSize(numRep int) *ConstantSize {
	return &ConstantSize{NumRep: numRep}
}

func (c *ConstantSize) ContinueIterations(iteration int, _ float64, size int, logger *slog.Logger) bool {
	if c.started && size == c.previous {
		c.repeats++
	} else {
		c.repeats = 0
	}
	c.previous = size
	c.started = true

	if c.repeats >= c.NumRep {
		loggerOrDefault(logger).Info("Size constant - stopping",
			"iteration", iteration,
			"size", size,
			"repeats", c.repeats,
		)
		return false
	}
	return true
}

// Stagnation stops when the score has not improved by at least Threshold
// (relative) for Patience consecutive iterations
type Stagnation struct {
	Patience  int
	Threshold float64

	best            float64
	lastSignificant float64
	started         bool
	staleCount      int
}

// NewStagnation creates a stagnation condition
func NewStagnation(patience int, threshold float64) *Stagnation {
	return &Stagnation{Patience: patience, Threshold: threshold, best: math.Inf(-1)}
}

func (s *Stagnation) ContinueIterations(iteration int, score float64, _ int, logger *slog.Logger) bool {
	logger = loggerOrDefault(logger)
	if score > s.best {
		s.best = score
	}
	if !s.started {
		s.started = true
		s.lastSignificant = score
		return true
	}

	improvement := score - s.lastSignificant
	if s.lastSignificant != 0 {
		improvement /= math.Abs(s.lastSignificant)
	}

	if improvement >= s.Threshold {
		s.lastSignificant = score
		s.staleCount = 0
		return true
	}

	s.staleCount++
	if s.staleCount >= s.Patience {
		logger.Info("Convergence detected - stopping early",
			"iteration", iteration,
			"stale_count", s.staleCount,
			"patience", s.Patience,
			"best_score", s.best,
		)
		return false
	}
	return true
}

// Best returns the best score seen
func (s *Stagnation) Best() float64 { return s.best }

// StaleCount returns the number of iterations without significant improvement
func (s *Stagnation) StaleCount() int { return s.staleCount }

// Any stops as soon as one of its conditions stops. Every condition sees
// every iteration so stateful counters stay in step.
type Any []TerminationCondition

func (a Any) ContinueIterations(iteration int, score float64, size int, logger *slog.Logger) bool {
	cont := true
	for _, c := range a {
		if !c.ContinueIterations(iteration, score, size, logger) {
			cont = false
		}
	}
	return cont
}

// validateTermination rejects conditions that can never stop a run
func validateTermination(t TerminationCondition) error {
	switch c := t.(type) {
	case nil:
		return fmt.Errorf("no termination condition")
	case NumberIterations:
		if c.Max < 0 {
			return fmt.Errorf("iteration limit cannot be negative, got %d", c.Max)
		}
	case *ConstantScore:
		if c.NumRep < 1 {
			return fmt.Errorf("constant score repetitions must be positive, got %d", c.NumRep)
		}
	case *ConstantSize:
		if c.NumRep < 1 {
			return fmt.Errorf("constant size repetitions must be positive, got %d", c.NumRep)
		}
	case *Stagnation:
		if c.Patience < 1 {
			return fmt.Errorf("stagnation patience must be positive, got %d", c.Patience)
		}
	case Any:
		if len(c) == 0 {
			return fmt.Errorf("empty termination combination")
		}
		for _, inner := range c {
			if err := validateTermination(inner); err != nil {
				return err
			}
		}
	}
	return nil
}

func loggerOrDefault(logger *slog.Logger) *slog.Logger {
	if logger == nil {
		return slog.Default()
	}
	return logger
}
