package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/dgraph-io/badger/v4"
)

// BadgerConfig configures a BadgerStore
type BadgerConfig struct {
	// Path is the database directory; ignored when InMemory is set
	Path string

	InMemory   bool
	SyncWrites bool

	// Logger receives badger's internal log output. Nil silences it.
	Logger *slog.Logger
}

// BadgerStore implements Store in an embedded badger database.
//
// Key layout:
//
//	run/<runID>                record JSON
//	artifact/<runID>/<name>    artifact bytes
type BadgerStore struct {
	db *badger.DB
}

var _ Store = (*BadgerStore)(nil)

type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Info(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

// NewBadgerStore opens or creates a badger-backed store
func NewBadgerStore(cfg BadgerConfig) (*BadgerStore, error) {
	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if cfg.Path == "" {
			return nil, errors.New("path is required for persistent database")
		}
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return &BadgerStore{db: db}, nil
}

func runKey(runID string) []byte {
	return []byte("run/" + runID)
}

func artifactPrefix(runID string) []byte {
	return []byte("artifact/" + runID + "/")
}

func artifactKey(runID, name string) []byte {
	return append(artifactPrefix(runID), name...)
}

// SaveRun writes the record in a single transaction
func (s *BadgerStore) SaveRun(runID string, record *RunRecord) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	if record == nil {
		return fmt.Errorf("record cannot be nil")
	}
	if err := record.Validate(); err != nil {
		return err
	}
	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to serialize run record: %w", err)
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(runKey(runID), data)
	}); err != nil {
		return fmt.Errorf("save run %s: %w", runID, err)
	}
	return nil
}

// LoadRun retrieves a run record
func (s *BadgerStore) LoadRun(runID string) (*RunRecord, error) {
	if runID == "" {
		return nil, fmt.Errorf("runID cannot be empty")
	}
	var record RunRecord
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(runKey(runID))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &NotFoundError{RunID: runID}
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &record)
		})
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load run %s: %w", runID, err)
	}
	return &record, nil
}

// ListRuns scans all records, newest first. Undecodable records are logged
// and skipped.
func (s *BadgerStore) ListRuns() ([]RunInfo, error) {
	infos := []RunInfo{}
	prefix := []byte("run/")
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			item := it.Item()
			var record RunRecord
			if err := item.Value(func(val []byte) error {
				return json.Unmarshal(val, &record)
			}); err != nil {
				slog.Warn("Failed to decode run for listing", "key", string(item.Key()), "error", err)
				continue
			}
			infos = append(infos, record.ToInfo())
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	sortInfos(infos)
	return infos, nil
}

// DeleteRun removes the record and every artifact of the run
func (s *BadgerStore) DeleteRun(runID string) error {
	if runID == "" {
		return fmt.Errorf("runID cannot be empty")
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(runKey(runID)); errors.Is(err, badger.ErrKeyNotFound) {
			return &NotFoundError{RunID: runID}
		} else if err != nil {
			return err
		}
		if err := txn.Delete(runKey(runID)); err != nil {
			return err
		}

		prefix := artifactPrefix(runID)
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		var keys [][]byte
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		it.Close()

		for _, k := range keys {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
	if errors.Is(err, ErrNotFound) {
		return err
	}
	if err != nil {
		return fmt.Errorf("delete run %s: %w", runID, err)
	}
	return nil
}

// SaveArtifact stores a named blob for a run
func (s *BadgerStore) SaveArtifact(runID, name string, data []byte) error {
	if err := checkArtifact(runID, name); err != nil {
		return err
	}
	if err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(artifactKey(runID, name), data)
	}); err != nil {
		return fmt.Errorf("save artifact %s/%s: %w", runID, name, err)
	}
	return nil
}

// LoadArtifact retrieves a named blob
func (s *BadgerStore) LoadArtifact(runID, name string) ([]byte, error) {
	if err := checkArtifact(runID, name); err != nil {
		return nil, err
	}
	var data []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(artifactKey(runID, name))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return &NotFoundError{RunID: runID, Artifact: name}
		}
		if err != nil {
			return err
		}
		data, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, ErrNotFound) {
		return nil, err
	}
	if err != nil {
		return nil, fmt.Errorf("load artifact %s/%s: %w", runID, name, err)
	}
	return data, nil
}

// Close closes the database
func (s *BadgerStore) Close() error {
	return s.db.Close()
}
