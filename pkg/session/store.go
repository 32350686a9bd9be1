package session

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"gopkg.in/ini.v1"
)

// ErrCorrupt indicates a persisted configuration file could not be parsed.
// It only affects requests for the user that owns the file.
var ErrCorrupt = errors.New("corrupt configuration")

// Store is a sectioned key/value store. Implementations must tolerate reads
// of absent sections and keys.
type Store interface {
	// Get returns the value for key in section, and whether it was present.
	Get(section, key string) (string, bool, error)
	// Set writes value under section/key, creating the section if needed.
	Set(section, key, value string) error
}

// FileStore persists settings to an INI file. The file is re-read on every
// access; there is no in-process state to coordinate, matching the
// one-request-at-a-time usage model. Concurrent writers race and the last
// write wins.
type FileStore struct {
	Path string
}

func (s *FileStore) load() (*ini.File, error) {
	cfg, err := ini.LooseLoad(s.Path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrCorrupt, s.Path, err)
	}
	return cfg, nil
}

func (s *FileStore) Get(section, key string) (string, bool, error) {
	cfg, err := s.load()
	if err != nil {
		return "", false, err
	}
	sec, err := cfg.GetSection(section)
	if err != nil {
		return "", false, nil
	}
	if !sec.HasKey(key) {
		return "", false, nil
	}
	return sec.Key(key).String(), true, nil
}

func (s *FileStore) Set(section, key, value string) error {
	cfg, err := s.load()
	if err != nil {
		return err
	}
	cfg.Section(section).Key(key).SetValue(value)
	if err := os.MkdirAll(filepath.Dir(s.Path), 0700); err != nil {
		return fmt.Errorf("failed to create settings directory: %w", err)
	}
	if err := cfg.SaveTo(s.Path); err != nil {
		return fmt.Errorf("failed to save settings to %s: %w", s.Path, err)
	}
	return nil
}

// MemoryStore is an in-memory Store for tests.
type MemoryStore struct {
	mu       sync.Mutex
	sections map[string]map[string]string
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{sections: make(map[string]map[string]string)}
}

func (s *MemoryStore) Get(section, key string) (string, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	value, ok := s.sections[section][key]
	return value, ok, nil
}

func (s *MemoryStore) Set(section, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sections[section] == nil {
		s.sections[section] = make(map[string]string)
	}
	s.sections[section][key] = value
	return nil
}
