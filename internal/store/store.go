// Package store persists finished runs: the best mark configuration with its
// score and configuration, image artifacts and the iteration trace.
package store

import (
	"fmt"
	"log/slog"

	"github.com/cwbudde/mppfit/internal/config"
)

// Store defines run persistence. Implementations must be safe for
// concurrent use.
//
// Error handling conventions:
//   - Return ErrNotFound if a run or artifact doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRun atomically saves a run record, overwriting any previous record
	// with the same ID. The record is validated first.
	SaveRun(runID string, record *RunRecord) error

	// LoadRun retrieves a run record
	LoadRun(runID string) (*RunRecord, error)

	// ListRuns returns metadata for all saved runs, newest first
	ListRuns() ([]RunInfo, error)

	// DeleteRun removes the record and all artifacts of a run
	DeleteRun(runID string) error

	// SaveArtifact stores a named blob (overlay.png, mask.png) for a run
	SaveArtifact(runID, name string, data []byte) error

	// LoadArtifact retrieves a named blob
	LoadArtifact(runID, name string) ([]byte, error)

	Close() error
}

// Artifact names
const (
	ArtifactOverlay = "overlay.png"
	ArtifactMask    = "mask.png"
)

// ErrNotFound is returned when a requested run does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing run or artifact
type NotFoundError struct {
	RunID    string
	Artifact string
}

func (e *NotFoundError) Error() string {
	switch {
	case e.Artifact != "":
		return "artifact not found: " + e.RunID + "/" + e.Artifact
	case e.RunID != "":
		return "run not found: " + e.RunID
	default:
		return "run not found"
	}
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}

// Open creates the store selected by cfg
func Open(cfg config.StoreConfig, logger *slog.Logger) (Store, error) {
	switch cfg.Backend {
	case "", "fs":
		return NewFSStore(cfg.Dir)
	case "badger":
		return NewBadgerStore(BadgerConfig{Path: cfg.Dir, SyncWrites: true, Logger: logger})
	default:
		return nil, fmt.Errorf("unknown store backend: %q", cfg.Backend)
	}
}
