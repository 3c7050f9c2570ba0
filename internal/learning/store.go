package learning

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Store backends
const (
	BackendJSON   = "json"
	BackendBolt   = "bolt"
	BackendSQLite = "sqlite"
)

var (
	// ErrCorruptStore is returned when persisted notes cannot be decoded.
	ErrCorruptStore = errors.New("learning store is corrupt")
	// ErrUnknownBackend is returned by OpenStore for an unsupported backend name.
	ErrUnknownBackend = errors.New("unknown learning store backend")
)

// Store persists the ordered sequence of notes.
type Store interface {
	// Load returns every note in insertion order.
	Load(ctx context.Context) ([]Note, error)
	// Append adds a note at the end of the sequence.
	Append(ctx context.Context, note Note) error
	Close() error
}

// OpenStore opens the store for backend at path, creating parent directories.
func OpenStore(backend, path string) (Store, error) {
	switch backend {
	case BackendJSON, "":
		return OpenJSONStore(path)
	case BackendBolt:
		return OpenBoltStore(path)
	case BackendSQLite:
		return OpenSQLiteStore(path)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, backend)
	}
}

func ensureDir(path string) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create learning directory %s: %w", dir, err)
	}
	return nil
}

func normalize(n Note) Note {
	if n.Tags == nil {
		n.Tags = []string{}
	}
	return n
}
