// Package marker keeps the client-local "already voted" record. It is the
// only vote de-duplication the engine has, and it is deliberately weak: no
// participant authentication is in scope, so the marker exists to stop the
// honest double-click, not the determined cheat. Everything about that
// trade-off is isolated here so a real identity scheme can replace it
// without touching the tally transaction.
package marker

import (
	"encoding/json"
	"fmt"
	"os"
	"sync"
)

// Marker records which option this client voted for in one session.
// CreatedAt carries the session's creation timestamp so a marker left
// behind by a deleted session cannot block a vote in a new session that
// happens to reuse the ID.
type Marker struct {
	OptionID  string `json:"option_id"`
	CreatedAt int64  `json:"created_at"`
}

// Store is a key-value map from session ID to Marker, scoped to the
// client device. Markers are never cleared automatically.
type Store interface {
	Get(sessionID string) (Marker, bool, error)
	Set(sessionID string, m Marker) error
	Delete(sessionID string) error
}

// Memory is an in-process Store, used in tests and as the per-connection
// default when no marker file is configured.
type Memory struct {
	mu sync.RWMutex
	m  map[string]Marker
}

func NewMemory() *Memory {
	return &Memory{m: make(map[string]Marker)}
}

func (s *Memory) Get(sessionID string) (Marker, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	m, ok := s.m[sessionID]
	return m, ok, nil
}

func (s *Memory) Set(sessionID string, m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[sessionID] = m
	return nil
}

func (s *Memory) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.m, sessionID)
	return nil
}

// File persists markers to a single JSON document, the moral equivalent of
// the browser's localStorage. The whole map is rewritten on every change;
// marker volume is one entry per session this client ever voted in.
type File struct {
	mu   sync.Mutex
	path string
	m    map[string]Marker
}

func OpenFile(path string) (*File, error) {
	f := &File{path: path, m: make(map[string]Marker)}

	b, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return f, nil
	}
	if err != nil {
		return nil, fmt.Errorf("marker: open %s: %w", path, err)
	}

	if err := json.Unmarshal(b, &f.m); err != nil {
		return nil, fmt.Errorf("marker: parse %s: %w", path, err)
	}

	return f, nil
}

func (s *File) Get(sessionID string) (Marker, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	m, ok := s.m[sessionID]
	return m, ok, nil
}

func (s *File) Set(sessionID string, m Marker) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.m[sessionID] = m
	return s.flush()
}

func (s *File) Delete(sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.m, sessionID)
	return s.flush()
}

func (s *File) flush() error {
	b, err := json.Marshal(s.m)
	if err != nil {
		return fmt.Errorf("marker: encode: %w", err)
	}

	if err := os.WriteFile(s.path, b, 0o600); err != nil {
		return fmt.Errorf("marker: write %s: %w", s.path, err)
	}

	return nil
}
