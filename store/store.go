// Package store persists the console session state: every Datastore plus the
// input history, written as one JSON snapshot.
package store

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"
	"pkt.systems/pslog"
)

// Snapshot is the state that survives a restart.
type Snapshot struct {
	// Stores maps a Datastore name to its raw values.
	Stores map[string]map[string]json.RawMessage `json:"stores"`
	// History holds the submitted input lines, oldest first.
	History []string `json:"history,omitempty"`
}

// Store reads and writes a Snapshot file on a filesystem.
type Store struct {
	fs   afero.Fs
	path string
	log  pslog.Logger
}

// New returns a Store writing path on fs. A nil fs means the OS filesystem.
func New(fs afero.Fs, path string, logger pslog.Logger) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, errors.New("state path is required")
	}
	if fs == nil {
		fs = afero.NewOsFs()
	}
	if logger != nil {
		logger = logger.With("state_path", path)
	}
	return &Store{fs: fs, path: path, log: logger}, nil
}

// Path returns the snapshot file path.
func (s *Store) Path() string { return s.path }

// Load reads the snapshot. ok is false when no snapshot has been saved yet.
func (s *Store) Load() (Snapshot, bool, error) {
	data, err := afero.ReadFile(s.fs, s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if s.log != nil {
				s.log.Debug("state load miss")
			}
			return Snapshot{}, false, nil
		}
		if s.log != nil {
			s.log.Warn("state load failed", "err", err)
		}
		return Snapshot{}, false, err
	}
	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		if s.log != nil {
			s.log.Warn("state load failed", "err", err)
		}
		return Snapshot{}, false, err
	}
	if s.log != nil {
		s.log.Debug("state load ok", "stores", len(snap.Stores), "history", len(snap.History))
	}
	return snap, true, nil
}

// Save writes the snapshot through a temporary file renamed into place.
func (s *Store) Save(snap Snapshot) error {
	if err := s.save(snap); err != nil {
		if s.log != nil {
			s.log.Warn("state save failed", "err", err)
		}
		return err
	}
	if s.log != nil {
		s.log.Trace("state save ok", "stores", len(snap.Stores), "history", len(snap.History))
	}
	return nil
}

func (s *Store) save(snap Snapshot) error {
	dir := filepath.Dir(s.path)
	if err := s.fs.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return err
	}
	tmp, err := afero.TempFile(s.fs, dir, "state-*.json")
	if err != nil {
		return err
	}
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmp.Name())
		return err
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		_ = s.fs.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return err
	}
	if err := s.fs.Chmod(tmp.Name(), 0o600); err != nil {
		_ = s.fs.Remove(tmp.Name())
		return err
	}
	return s.fs.Rename(tmp.Name(), s.path)
}
