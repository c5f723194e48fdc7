package kernel

import (
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/cwbudde/mppfit/internal/energy"
	"github.com/cwbudde/mppfit/internal/mark"
	"github.com/cwbudde/mppfit/internal/partition"
)

// Context carries everything kernels need to build proposals. One context
// belongs to one optimization chain and is not safe for concurrent use.
type Context struct {
	// Scheme scores new configurations
	Scheme *energy.Scheme

	// Partition holds pre-computed candidate marks. Optional; required by
	// BirthFromPartition.
	Partition *partition.PartitionedMarks

	// Factory generates new random marks. Optional; required by Birth.
	Factory *mark.Factory

	// IDs numbers marks derived from existing ones
	IDs *mark.IDSource

	// Bounds limits mark parameters
	Bounds mark.Bounds

	// Dimensions is the extent of the energy stack
	Dimensions energy.Dimensions

	// PoissonIntensity is the reference intensity of the point process
	// per voxel, used in birth/death corrections
	PoissonIntensity float64

	Rand   *rand.Rand
	Logger *slog.Logger
}

// NewContext creates a context for scheme, deriving dimensions from its
// stack. Factory and partition are attached by the caller as needed.
func NewContext(scheme *energy.Scheme, bounds mark.Bounds, intensity float64, rng *rand.Rand, logger *slog.Logger) (*Context, error) {
	if err := scheme.Validate(); err != nil {
		return nil, &InitError{Component: "kernel context", Err: err}
	}
	if rng == nil {
		return nil, &InitError{Component: "kernel context", Err: fmt.Errorf("random source is nil")}
	}
	if intensity < 0 {
		return nil, &InitError{Component: "kernel context", Err: fmt.Errorf("poisson intensity cannot be negative, got %f", intensity)}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Context{
		Scheme:           scheme,
		IDs:              mark.NewIDSource(1),
		Bounds:           bounds,
		Dimensions:       scheme.Stack.Dimensions(),
		PoissonIntensity: intensity,
		Rand:             rng,
		Logger:           logger,
	}, nil
}

// start returns current, or the empty configuration on the first iteration
func (c *Context) start(current *energy.MarksWithTotalEnergy) *energy.MarksWithTotalEnergy {
	if current != nil {
		return current
	}
	return c.Scheme.Empty()
}

// logger returns the configured logger or the default
func (c *Context) logger() *slog.Logger {
	if c.Logger == nil {
		return slog.Default()
	}
	return c.Logger
}

// AttachFactory creates a mark factory sharing the context's bounds,
// numbering and random source
func (c *Context) AttachFactory(kind mark.Kind) *mark.Factory {
	c.Factory = mark.NewFactory(kind, c.Bounds, c.IDs, c.Rand)
	return c.Factory
}

// AttachPartition sets the candidate partition and reserves its mark IDs so
// derived marks never collide with candidates
func (c *Context) AttachPartition(p *partition.PartitionedMarks) {
	for _, m := range p.Universe() {
		c.IDs.Reserve(m.ID())
	}
	c.Partition = p
}
