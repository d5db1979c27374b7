// Package prefs persists the small set of user preferences the
// controller keeps across restarts: the last connected device and the
// device-list display toggles.
package prefs

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Preferences is the on-disk document.
type Preferences struct {
	LastDeviceID          string `toml:"last_device_id"`
	ShowOnlyActiveDevices bool   `toml:"show_only_active_devices"`
	ShowDeviceIP          bool   `toml:"show_device_ip"`
}

// Store reads and writes Preferences at a fixed path. A missing file is
// not an error; it reads as zero-value preferences.
type Store struct {
	path string

	mu    sync.Mutex
	prefs Preferences
}

// DefaultPath returns the per-user preference file location.
func DefaultPath() (string, error) {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("resolve config dir: %w", err)
	}
	return filepath.Join(dir, "voluctl", "prefs.toml"), nil
}

func NewStore(path string) *Store {
	return &Store{path: path}
}

// Path returns the backing file location.
func (s *Store) Path() string {
	return s.path
}

// Load reads the preference file. Absence yields defaults and no error.
func (s *Store) Load() error {
	data, err := os.ReadFile(s.path)
	if errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("read preferences: %w", err)
	}

	var prefs Preferences
	if err := toml.Unmarshal(data, &prefs); err != nil {
		return fmt.Errorf("parse preferences: %w", err)
	}

	s.mu.Lock()
	s.prefs = prefs
	s.mu.Unlock()
	return nil
}

// Save writes the preference file, creating parent directories as
// needed.
func (s *Store) Save() error {
	s.mu.Lock()
	prefs := s.prefs
	s.mu.Unlock()

	data, err := toml.Marshal(prefs)
	if err != nil {
		return fmt.Errorf("encode preferences: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return fmt.Errorf("create preference dir: %w", err)
	}
	if err := os.WriteFile(s.path, data, 0o644); err != nil {
		return fmt.Errorf("write preferences: %w", err)
	}
	return nil
}

// Preferences returns a copy of the current values.
func (s *Store) Preferences() Preferences {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// LastDeviceID returns the remembered device identifier, empty when
// none was recorded.
func (s *Store) LastDeviceID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs.LastDeviceID
}

// SetLastDeviceID records the identifier and saves.
func (s *Store) SetLastDeviceID(id string) error {
	s.mu.Lock()
	s.prefs.LastDeviceID = id
	s.mu.Unlock()
	return s.Save()
}

// SetDisplayToggles records the device-list toggles and saves.
func (s *Store) SetDisplayToggles(onlyActive, showIP bool) error {
	s.mu.Lock()
	s.prefs.ShowOnlyActiveDevices = onlyActive
	s.prefs.ShowDeviceIP = showIP
	s.mu.Unlock()
	return s.Save()
}
