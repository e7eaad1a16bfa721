package kiosk

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/google/uuid"
)

// Identity is the kiosk's device id, persisted in a text file.
type Identity struct {
	mu   sync.RWMutex
	path string
	id   string
}

// LoadIdentity resolves the device id: override wins, then the file at path,
// then a freshly generated id which is written to path.
func LoadIdentity(path, override string) (*Identity, error) {
	ident := &Identity{path: path}
	if override = strings.TrimSpace(override); override != "" {
		ident.id = override
		return ident, nil
	}

	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		if id := strings.TrimSpace(string(data)); id != "" {
			ident.id = id
			return ident, nil
		}
	case !errors.Is(err, os.ErrNotExist):
		return nil, fmt.Errorf("failed to read device id: %w", err)
	}

	id := uuid.NewString()
	if err := ident.Set(id); err != nil {
		return nil, err
	}
	slog.Info("Generated device id", "component", "Kiosk", "device_id", id)
	return ident, nil
}

// ID returns the current device id.
func (i *Identity) ID() string {
	i.mu.RLock()
	defer i.mu.RUnlock()
	return i.id
}

// Set persists a new device id.
func (i *Identity) Set(id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return errors.New("device id must not be empty")
	}
	i.mu.Lock()
	defer i.mu.Unlock()
	if err := os.MkdirAll(filepath.Dir(i.path), 0o755); err != nil {
		return fmt.Errorf("failed to create identity dir: %w", err)
	}
	if err := os.WriteFile(i.path, []byte(id), 0o644); err != nil {
		return fmt.Errorf("failed to write device id: %w", err)
	}
	i.id = id
	return nil
}
