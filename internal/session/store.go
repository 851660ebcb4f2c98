package session

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/okline/relay/internal/bus"
	logpkg "github.com/okline/relay/pkg/log"
)

const snapshotName = "sessions.json"

// Store is a durable channel→session-id mapping.
//
// Mutations are serialized on an internal mutex; the kernel's single ingest
// loop is the only writer in practice, but the admin API reads concurrently.
type Store struct {
	path   string
	logger logpkg.Logger

	mu       sync.Mutex
	sessions map[string]string
	dirty    bool

	// debounce > 0 batches saves; 0 persists on every mutation.
	debounce time.Duration
	timer    *time.Timer
}

// Options configures a Store.
type Options struct {
	// Dir is the directory holding the snapshot file.
	Dir string
	// Debounce batches saves within the window. Zero means write-through.
	Debounce time.Duration
}

// NewStore creates a session store; call Load before first use.
func NewStore(opts Options, logger logpkg.Logger) *Store {
	return &Store{
		path:     filepath.Join(opts.Dir, snapshotName),
		logger:   logger.WithComponent("session"),
		sessions: make(map[string]string),
		debounce: opts.Debounce,
	}
}

// Load reads the snapshot into memory. A missing file is a first run and
// yields an empty mapping; an unreadable or corrupt file is logged and also
// falls back to empty rather than failing startup.
func (s *Store) Load() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	b, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			s.sessions = make(map[string]string)
			return nil
		}
		s.logger.Warn("session snapshot unreadable, starting empty",
			logpkg.Str("path", s.path), logpkg.Err(err))
		s.sessions = make(map[string]string)
		return nil
	}

	m := make(map[string]string)
	if err := json.Unmarshal(b, &m); err != nil {
		s.logger.Warn("session snapshot corrupt, starting empty",
			logpkg.Str("path", s.path), logpkg.Err(err))
		s.sessions = make(map[string]string)
		return nil
	}
	s.sessions = m
	return nil
}

// Get returns the remote session id for a channel.
func (s *Store) Get(channelID string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sid, ok := s.sessions[channelID]
	return sid, ok
}

// All returns a copy of the current mapping.
func (s *Store) All() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.sessions))
	for k, v := range s.sessions {
		out[k] = v
	}
	return out
}

// Set stores the session id for a channel and persists. With write-through
// the mapping is durable before Set returns.
func (s *Store) Set(channelID, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[channelID] = sessionID
	return s.persistLocked()
}

// Delete removes the entry if present, reports whether it existed, and
// persists only when something changed.
func (s *Store) Delete(channelID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[channelID]; !ok {
		return false, nil
	}
	delete(s.sessions, channelID)
	return true, s.persistLocked()
}

// Clear empties the mapping and persists.
func (s *Store) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions = make(map[string]string)
	return s.persistLocked()
}

// Close flushes any debounced save.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
	if s.dirty {
		return s.saveLocked()
	}
	return nil
}

func (s *Store) persistLocked() error {
	if s.debounce <= 0 {
		return s.saveLocked()
	}
	s.dirty = true
	if s.timer == nil {
		s.timer = time.AfterFunc(s.debounce, s.flushDebounced)
	}
	return nil
}

func (s *Store) flushDebounced() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.timer = nil
	if !s.dirty {
		return
	}
	if err := s.saveLocked(); err != nil {
		s.logger.Error("debounced session save failed", logpkg.Err(err))
	}
}

// saveLocked serializes the full mapping and atomically replaces the
// snapshot: write temp, fsync, rename. On failure the temp artifact is
// removed and the error propagates (session persistence is user-visible).
func (s *Store) saveLocked() error {
	b, err := json.MarshalIndent(s.sessions, "", "  ")
	if err != nil {
		return fmt.Errorf("%w: %v", bus.ErrSessionPersist, err)
	}

	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("%w: %v", bus.ErrSessionPersist, err)
	}

	tmp := s.path + ".tmp"
	f, err := os.OpenFile(tmp, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, 0o644)
	if err != nil {
		return fmt.Errorf("%w: %v", bus.ErrSessionPersist, err)
	}
	if _, err := f.Write(b); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", bus.ErrSessionPersist, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", bus.ErrSessionPersist, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", bus.ErrSessionPersist, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("%w: %v", bus.ErrSessionPersist, err)
	}
	s.dirty = false
	return nil
}
