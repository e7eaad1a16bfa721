// Package store persists the kiosk's session/credit document.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"pixbridge/pkg/models"
)

// ErrCorrupt reports a state file that exists but cannot be decoded.
var ErrCorrupt = errors.New("corrupt state file")

// Repository loads and saves the device state document.
type Repository interface {
	Load() (models.DeviceState, error)
	Save(state models.DeviceState) error
}

// FileRepository stores the document as JSON and replaces it atomically.
type FileRepository struct {
	path string
}

// NewFileRepository creates a repository backed by path.
func NewFileRepository(path string) *FileRepository {
	return &FileRepository{path: path}
}

// Path returns the state file location.
func (r *FileRepository) Path() string {
	return r.path
}

// Load reads the state file. A missing file yields the default state and no
// error; an unreadable or undecodable one yields the default state and an
// error wrapping ErrCorrupt.
func (r *FileRepository) Load() (models.DeviceState, error) {
	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return models.DefaultDeviceState(), nil
		}
		return models.DefaultDeviceState(), fmt.Errorf("%w: read %s: %v", ErrCorrupt, r.path, err)
	}

	var state models.DeviceState
	if err := json.Unmarshal(data, &state); err != nil {
		return models.DefaultDeviceState(), fmt.Errorf("%w: decode %s: %v", ErrCorrupt, r.path, err)
	}
	return state, nil
}

// Save writes state to a temp file in the same directory and renames it over
// the state file.
func (r *FileRepository) Save(state models.DeviceState) error {
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode state: %w", err)
	}

	dir := filepath.Dir(r.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create state dir: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(r.path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Rename(tmpName, r.path); err != nil {
		return fmt.Errorf("failed to replace state file: %w", err)
	}
	return nil
}

// MemoryRepository keeps the document in memory.
type MemoryRepository struct {
	mu    sync.Mutex
	state models.DeviceState
	saves int
}

// NewMemoryRepository creates a repository seeded with state.
func NewMemoryRepository(state models.DeviceState) *MemoryRepository {
	return &MemoryRepository{state: state}
}

func (m *MemoryRepository) Load() (models.DeviceState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return clone(m.state), nil
}

func (m *MemoryRepository) Save(state models.DeviceState) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.state = clone(state)
	m.saves++
	return nil
}

// Saves returns how many times Save was called.
func (m *MemoryRepository) Saves() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.saves
}

func clone(state models.DeviceState) models.DeviceState {
	if state.ActiveSession != nil {
		s := *state.ActiveSession
		state.ActiveSession = &s
	}
	return state
}

// LoadOrDefault loads the document and falls back to the default state with a
// warning when it is corrupt.
func LoadOrDefault(repo Repository) models.DeviceState {
	state, err := repo.Load()
	if err != nil {
		slog.Warn("State unreadable, using safe default", "component", "Store", "error", err)
		return models.DefaultDeviceState()
	}
	return state
}
