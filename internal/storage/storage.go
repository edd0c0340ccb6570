// Package storage persists embedded dialogue tables as disposable per-movie vector caches.
package storage

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/hyperjump/cinetalk/internal/models"
)

// Cache formats.
const (
	FormatBinary = "binary"
	FormatSQLite = "sqlite"
)

var (
	// ErrCacheNotFound means no cache file exists at the path.
	ErrCacheNotFound = errors.New("cache not found")
	// ErrCacheCorrupt means the file exists but cannot be decoded.
	ErrCacheCorrupt = errors.New("cache corrupt")
)

// Snapshot is the persisted form of a corpus: its lines with embeddings, whether the
// source had a speaker column, and the id of the model that produced the vectors.
type Snapshot struct {
	Model      string
	HasSpeaker bool
	Lines      []models.DialogueLine
}

// Dimensions returns the length of the first non-empty embedding, or 0.
func (s *Snapshot) Dimensions() int {
	for i := range s.Lines {
		if n := len(s.Lines[i].Embedding); n > 0 {
			return n
		}
	}
	return 0
}

// CacheStore reads and writes a Snapshot at a file path.
type CacheStore interface {
	// Load returns ErrCacheNotFound when path does not exist and wraps ErrCacheCorrupt
	// when it cannot be decoded.
	Load(ctx context.Context, path string) (*Snapshot, error)
	// Save replaces any existing cache at path.
	Save(ctx context.Context, path string, snap *Snapshot) error
	// Remove deletes the cache at path. A missing file is not an error.
	Remove(path string) error
	Format() string
}

// NewCacheStore returns the store for format.
func NewCacheStore(format string) (CacheStore, error) {
	switch format {
	case FormatBinary, "":
		return &BinaryStore{}, nil
	case FormatSQLite:
		return &SQLiteStore{}, nil
	default:
		return nil, fmt.Errorf("unknown cache format: %s", format)
	}
}

func removeFiles(paths ...string) error {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}
	return nil
}
