// File: internal/browser/profiles.go
package browser

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/webpilot-ai/webpilot/api/schemas"
)

const stateFileVersion = 1

// stateFile is the on-disk record of known sessions, kept under the state
// directory so operators can inspect what was running across restarts.
type stateFile struct {
	Version  int                                `json:"version"`
	Sessions map[string]schemas.SessionSnapshot `json:"sessions"`
}

// profileStore persists session snapshots to <stateDir>/profiles.json with
// read-modify-write under a mutex. A corrupt or missing file is treated as
// empty rather than fatal.
type profileStore struct {
	path   string
	mu     sync.Mutex
	logger *zap.Logger
}

func newProfileStore(stateDir string, logger *zap.Logger) *profileStore {
	return &profileStore{
		path:   filepath.Join(stateDir, "profiles.json"),
		logger: logger.Named("profile_store"),
	}
}

// Load returns the recorded sessions. Unreadable state logs and returns
// empty.
func (s *profileStore) Load() map[string]schemas.SessionSnapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loadLocked().Sessions
}

// Put records or updates one session snapshot.
func (s *profileStore) Put(snap schemas.SessionSnapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.loadLocked()
	state.Sessions[snap.ID] = snap
	return s.writeLocked(state)
}

// Remove drops one session record. Removing an unknown id is a no-op.
func (s *profileStore) Remove(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	state := s.loadLocked()
	if _, ok := state.Sessions[sessionID]; !ok {
		return nil
	}
	delete(state.Sessions, sessionID)
	return s.writeLocked(state)
}

func (s *profileStore) loadLocked() *stateFile {
	empty := &stateFile{Version: stateFileVersion, Sessions: make(map[string]schemas.SessionSnapshot)}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !os.IsNotExist(err) {
			s.logger.Warn("Failed to read session state file, starting empty",
				zap.String("path", s.path), zap.Error(err))
		}
		return empty
	}

	var state stateFile
	if err := json.Unmarshal(data, &state); err != nil {
		s.logger.Warn("Session state file is corrupt, starting empty",
			zap.String("path", s.path), zap.Error(err))
		return empty
	}
	if state.Sessions == nil {
		state.Sessions = make(map[string]schemas.SessionSnapshot)
	}
	state.Version = stateFileVersion
	return &state
}

// writeLocked writes atomically via temp file and rename so a crash cannot
// leave a half-written state file behind.
func (s *profileStore) writeLocked(state *stateFile) error {
	if err := os.MkdirAll(filepath.Dir(s.path), 0o700); err != nil {
		return fmt.Errorf("create state directory: %w", err)
	}

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("encode session state: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), "profiles-*.json")
	if err != nil {
		return fmt.Errorf("create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write session state: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("replace session state: %w", err)
	}
	return nil
}
