// Package state manages ContextFS's single JSON state file (spec.md
// §4.10): counters, revision, current session id, and the last search
// index the packer injects.
package state

import (
	"encoding/json"
	"time"

	"contextfs/internal/fsstore"
	"contextfs/internal/model"
)

const FileName = "state.json"

const currentVersion = 1

// Store loads and persists state.json under a workspace's fsstore.Store.
type Store struct {
	fs *fsstore.Store
}

// New returns a state Store.
func New(fs *fsstore.Store) *Store {
	return &Store{fs: fs}
}

// Default returns a fresh State with version/createdAt/updatedAt set.
func Default() model.State {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	return model.State{
		Version:   currentVersion,
		Revision:  0,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// ReadState returns the defaults merged with whatever state.json holds
// (spec.md §4.10: "read_state returns defaults merged with the file"). A
// missing or empty file yields Default() unmodified.
func (s *Store) ReadState() (model.State, error) {
	raw, err := s.fs.ReadText(FileName)
	if err != nil {
		return model.State{}, err
	}
	st := Default()
	if raw == "" {
		return st, nil
	}
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		// A corrupt state file is never fatal: fall back to defaults rather
		// than block every other operation on a hand-edited file.
		return Default(), nil
	}
	if st.Version == 0 {
		st.Version = currentVersion
	}
	return st, nil
}

// UpdatePatch lock-scoped merges patch into the current state (via a
// shallow field copy, since model.State has no optional-wrapper types),
// bumps revision/updatedAt, and writes atomically.
func (s *Store) UpdatePatch(patch func(*model.State)) (model.State, error) {
	return s.update(patch)
}

func (s *Store) update(fn func(*model.State)) (model.State, error) {
	var result model.State
	err := s.fs.WithLock(func() error {
		raw, err := s.fs.ReadText(FileName)
		if err != nil {
			return err
		}
		st := Default()
		if raw != "" {
			if err := json.Unmarshal([]byte(raw), &st); err != nil {
				st = Default()
			}
		}

		fn(&st)
		st.Revision++
		st.UpdatedAt = time.Now().UTC().Format(time.RFC3339Nano)

		data, err := json.Marshal(st)
		if err != nil {
			return err
		}
		if err := s.fs.WriteTextAtomic(FileName, data); err != nil {
			return err
		}
		result = st
		return nil
	})
	if err != nil {
		return model.State{}, err
	}
	return result, nil
}
