package store

import (
	"fmt"
	"math"
	"time"

	"github.com/cwbudde/mppfit/internal/config"
	"github.com/cwbudde/mppfit/internal/mark"
	"github.com/cwbudde/mppfit/internal/optim"
)

// RunRecord is the persisted outcome of a fit.
//
// Only the best configuration is saved, not the sampler state: the
// partition, random streams and annealing temperature are rebuilt from
// Config when a run is repeated.
type RunRecord struct {
	RunID string `json:"runId"`

	// Marks is the best configuration found
	Marks []mark.Record `json:"marks"`

	// Score is the total energy of Marks
	Score float64 `json:"score"`

	// Chain is the index of the chain that produced Marks
	Chain int `json:"chain"`

	// Iteration counts the iterations of the winning chain
	Iteration int `json:"iteration"`

	Summary   optim.Summary    `json:"summary"`
	Timestamp time.Time        `json:"timestamp"`
	Config    config.RunConfig `json:"config"`
}

// RunInfo is the listing view of a run
type RunInfo struct {
	RunID     string    `json:"runId"`
	Score     float64   `json:"score"`
	Marks     int       `json:"marks"`
	Iteration int       `json:"iteration"`
	Timestamp time.Time `json:"timestamp"`
	Kind      string    `json:"kind"`
	RefPath   string    `json:"refPath,omitempty"`
}

// NewRunRecord creates a record from the best configuration of a run
func NewRunRecord(runID string, marks *mark.Collection, score float64, chain int, summary optim.Summary, cfg config.RunConfig) *RunRecord {
	return &RunRecord{
		RunID:     runID,
		Marks:     mark.Records(marks),
		Score:     score,
		Chain:     chain,
		Iteration: summary.Iterations,
		Summary:   summary,
		Timestamp: time.Now(),
		Config:    cfg,
	}
}

// ToInfo converts a record to its listing view
func (r *RunRecord) ToInfo() RunInfo {
	return RunInfo{
		RunID:     r.RunID,
		Score:     r.Score,
		Marks:     len(r.Marks),
		Iteration: r.Iteration,
		Timestamp: r.Timestamp,
		Kind:      r.Config.Marks.Kind,
		RefPath:   r.Config.Image.RefPath,
	}
}

// Collection restores the saved marks
func (r *RunRecord) Collection() (*mark.Collection, error) {
	return mark.FromRecords(r.Marks)
}

// Validate checks the record is complete and consistent
func (r *RunRecord) Validate() error {
	if r.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if r.Marks == nil {
		return &ValidationError{Field: "Marks", Reason: "cannot be nil"}
	}
	seen := make(map[uint64]bool, len(r.Marks))
	for _, rec := range r.Marks {
		if _, err := mark.FromRecord(rec); err != nil {
			return &ValidationError{Field: "Marks", Reason: err.Error()}
		}
		if seen[rec.ID] {
			return &ValidationError{Field: "Marks", Reason: fmt.Sprintf("duplicate mark id %d", rec.ID)}
		}
		seen[rec.ID] = true
	}
	if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
		return &ValidationError{Field: "Score", Reason: "must be finite"}
	}
	if r.Iteration < 0 {
		return &ValidationError{Field: "Iteration", Reason: "cannot be negative"}
	}
	if r.Chain < 0 {
		return &ValidationError{Field: "Chain", Reason: "cannot be negative"}
	}
	if r.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := r.Config.Validate(); err != nil {
		return &ValidationError{Field: "Config", Reason: err.Error()}
	}
	return nil
}

// ValidationError represents a run record validation error
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether the saved marks can be compared with a run of
// cfg: same image and same mark kind
func (r *RunRecord) IsCompatible(cfg config.RunConfig) error {
	if r.Config.Image.RefPath != cfg.Image.RefPath {
		return &CompatibilityError{
			Field:    "Image.RefPath",
			Expected: r.Config.Image.RefPath,
			Actual:   cfg.Image.RefPath,
		}
	}
	// synthetic images are generated from the run seed
	if r.Config.Image.RefPath == "" && (r.Config.Image.Synthetic != cfg.Image.Synthetic || r.Config.Run.Seed != cfg.Run.Seed) {
		return &CompatibilityError{
			Field:    "Image.Synthetic",
			Expected: fmt.Sprintf("%+v seed %d", r.Config.Image.Synthetic, r.Config.Run.Seed),
			Actual:   fmt.Sprintf("%+v seed %d", cfg.Image.Synthetic, cfg.Run.Seed),
		}
	}
	if r.Config.Marks.Kind != cfg.Marks.Kind {
		return &CompatibilityError{
			Field:    "Marks.Kind",
			Expected: r.Config.Marks.Kind,
			Actual:   cfg.Marks.Kind,
		}
	}
	return nil
}

// CompatibilityError represents a run compatibility error
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
