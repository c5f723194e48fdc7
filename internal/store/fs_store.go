package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// FSStore implements Store on the filesystem.
// Runs are stored in a directory structure: <baseDir>/runs/<runID>/
//
// Thread-safety: writes go through a temp file and an atomic rename, so no
// locks are needed.
type FSStore struct {
	baseDir string
}

var _ Store = (*FSStore)(nil)

// NewFSStore creates a filesystem store, creating baseDir if needed
func NewFSStore(baseDir string) (*FSStore, error) {
	if err := os.MkdirAll(baseDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &FSStore{baseDir: baseDir}, nil
}

// BaseDir returns the root directory of the store
func (fs *FSStore) BaseDir() string {
	return fs.baseDir
}

func (fs *FSStore) runDir(runID string) string {
	return filepath.Join(fs.baseDir, "runs", runID)
}

func (fs *FSStore) recordPath(runID string) string {
	return filepath.Join(fs.runDir(runID), "run.json")
}

// writeAtomic writes data to path via a temp file and rename
func writeAtomic(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create run directory: %w", err)
	}
	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename %s: %w", filepath.Base(path), err)
	}
	return nil
}

// SaveRun atomically saves a run record
func (fs *FSStore) SaveRun(runID string, record *RunRecord) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}

	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize run record: %w", err)
	}
	path := fs.recordPath(runID)
	if err := writeAtomic(path, data); err != nil {
		return err
	}

	slog.Debug("Run saved", "runID", runID, "path", path)
	return nil
}

// LoadRun retrieves a run record
func (fs *FSStore) LoadRun(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}

	data, err := os.ReadFile(fs.recordPath(runID))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read run record: %w", err)
	}

	var record RunRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return nil, fmt.Errorf("failed to deserialize run record: %w", err)
	}
	return &record, nil
}

// ListRuns returns metadata for all saved runs, newest first.
// Unreadable records are logged and skipped.
func (fs *FSStore) ListRuns() ([]RunInfo, error) {
	runsDir := filepath.Join(fs.baseDir, "runs")
	entries, err := os.ReadDir(runsDir)
	if os.IsNotExist(err) {
		return []RunInfo{}, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to read runs directory: %w", err)
	}

	infos := []RunInfo{}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		record, err := fs.LoadRun(entry.Name())
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				slog.Warn("Failed to load run for listing", "runID", entry.Name(), "error", err)
			}
			continue
		}
		infos = append(infos, record.ToInfo())
	}
	sortInfos(infos)

	slog.Debug("Listed runs", "count", len(infos))
	return infos, nil
}

// DeleteRun removes the run directory with its record, artifacts and trace
func (fs *FSStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}

	dir := fs.runDir(runID)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		return &NotFoundError{RunID: runID}
	} else if err != nil {
		return fmt.Errorf("failed to stat run directory: %w", err)
	}
	if err := os.RemoveAll(dir); err != nil {
		return fmt.Errorf("failed to remove run directory: %w", err)
	}

	slog.Debug("Run deleted", "runID", runID, "path", dir)
	return nil
}

// SaveArtifact atomically writes a named file into the run directory
func (fs *FSStore) SaveArtifact(runID, name string, data []byte) error {
	if err := checkArtifact(runID, name); err != nil {
		return err
	}
	return writeAtomic(filepath.Join(fs.runDir(runID), name), data)
}

// LoadArtifact reads a named file from the run directory
func (fs *FSStore) LoadArtifact(runID, name string) ([]byte, error) {
	if err := checkArtifact(runID, name); err != nil {
		return nil, err
	}
	data, err := os.ReadFile(filepath.Join(fs.runDir(runID), name))
	if os.IsNotExist(err) {
		return nil, &NotFoundError{RunID: runID, Artifact: name}
	} else if err != nil {
		return nil, fmt.Errorf("failed to read artifact: %w", err)
	}
	return data, nil
}

// Close is a no-op for the filesystem store
func (fs *FSStore) Close() error { return nil }

func checkArtifact(runID, name string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if name == "" || filepath.Base(name) != name || name == "run.json" || name == TraceFile {
		return fmt.Errorf("invalid artifact name: %q", name)
	}
	return nil
}

func sortInfos(infos []RunInfo) {
	sort.Slice(infos, func(i, j int) bool {
		if !infos[i].Timestamp.Equal(infos[j].Timestamp) {
			return infos[i].Timestamp.After(infos[j].Timestamp)
		}
		return infos[i].RunID < infos[j].RunID
	})
}
