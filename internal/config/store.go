package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
)

// Loaded captures the resolved settings path, parsed values, and non-fatal warnings.
type Loaded struct {
	Path     string
	Settings Settings
	Warnings []Warning
	Exists   bool
}

// Store reads and writes the settings document at one path.
type Store struct {
	path string
	mu   sync.Mutex
}

// NewStore returns a store bound to an already resolved path.
func NewStore(path string) *Store {
	return &Store{path: path}
}

// Open resolves the settings location and returns a store for it.
func Open(explicitPath string) (*Store, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return nil, err
	}
	return NewStore(path), nil
}

// Path returns the settings file location.
func (s *Store) Path() string { return s.path }

// Load reads the settings file, overlaying it on Default().
//
// A missing file is created with defaults. A malformed file or out-of-range values
// yield Default() together with a *ConfigError; the returned Loaded is always usable.
func (s *Store) Load() (Loaded, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	base := Default()
	loaded := Loaded{Path: s.path, Settings: base}

	content, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			return loaded, &ConfigError{Path: s.path, Err: err}
		}
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("settings file %q not found; writing defaults", s.path),
		})
		if err := s.write(base); err != nil {
			return loaded, &ConfigError{Path: s.path, Err: err}
		}
		return loaded, nil
	}

	loaded.Exists = true
	settings, warnings, err := Parse(string(content), base)
	if err != nil {
		return loaded, &ConfigError{Path: s.path, Err: err}
	}
	if err := Validate(settings); err != nil {
		return loaded, &ConfigError{Path: s.path, Err: err}
	}

	loaded.Settings = settings
	loaded.Warnings = warnings
	return loaded, nil
}

// Save validates and atomically writes the full settings document.
func (s *Store) Save(settings Settings) error {
	if err := Validate(settings); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(settings)
}

func (s *Store) write(settings Settings) error {
	data, err := json.MarshalIndent(settings, "", "  ")
	if err != nil {
		return fmt.Errorf("encode settings: %w", err)
	}
	return writeFileAtomic(s.path, append(data, '\n'))
}

// writeFileAtomic replaces path through a temp file and rename so readers never
// observe a partial document.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpPath := tmp.Name()
	cleanup := func() { _ = os.Remove(tmpPath) }

	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("write %s: %w", tmpPath, err)
	}
	if err := tmp.Sync(); err != nil {
		_ = tmp.Close()
		cleanup()
		return fmt.Errorf("sync %s: %w", tmpPath, err)
	}
	if err := tmp.Close(); err != nil {
		cleanup()
		return fmt.Errorf("close %s: %w", tmpPath, err)
	}
	if err := os.Chmod(tmpPath, 0o600); err != nil {
		cleanup()
		return fmt.Errorf("chmod %s: %w", tmpPath, err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		cleanup()
		return fmt.Errorf("replace %s: %w", path, err)
	}
	return nil
}
