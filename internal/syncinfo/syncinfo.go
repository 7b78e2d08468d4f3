// Package syncinfo keeps the lastSync timestamp in a small plain file,
// independent of the structured store so it stays readable when SQLite is
// unavailable.
package syncinfo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

// Slot is a single-value file slot holding one RFC3339 timestamp.
type Slot struct {
	mu   sync.RWMutex
	path string
	last time.Time
}

// NewSlot returns a slot backed by path. The file is not touched until the
// first Load or Record.
func NewSlot(path string) *Slot {
	return &Slot{path: path}
}

// Path returns the backing file path.
func (s *Slot) Path() string {
	return s.path
}

// Record stores t as the last sync time. The in-memory value is updated even
// when the file cannot be written.
func (s *Slot) Record(t time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.last = t.UTC()
	if s.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create sync info dir: %w", err)
	}

	tmp, err := os.CreateTemp(filepath.Dir(s.path), ".lastsync-*")
	if err != nil {
		return fmt.Errorf("create temp sync info: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.WriteString(s.last.Format(time.RFC3339Nano)); err != nil {
		tmp.Close()
		return fmt.Errorf("write sync info: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close sync info: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.path); err != nil {
		return fmt.Errorf("replace sync info: %w", err)
	}
	return nil
}

// Load reads the timestamp from the file. A missing file yields the zero time
// and no error.
func (s *Slot) Load() (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.path == "" {
		return s.last, nil
	}
	b, err := os.ReadFile(s.path)
	if errors.Is(err, os.ErrNotExist) {
		return s.last, nil
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("read sync info: %w", err)
	}

	raw := strings.TrimSpace(string(b))
	if raw == "" {
		return s.last, nil
	}
	t, err := time.Parse(time.RFC3339Nano, raw)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse sync info: %w", err)
	}
	s.last = t.UTC()
	return s.last, nil
}

// LastSync returns the most recently recorded or loaded value.
func (s *Slot) LastSync() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.last
}
