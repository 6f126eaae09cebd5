// Package fsblob is a filesystem-backed BlobStore adapter: one file per
// key, written atomically via a temp-file-then-rename so a crash mid-write
// never leaves a torn blob visible under its final name. This mirrors the
// atomic-publish pattern used for on-disk manifest persistence elsewhere in
// the corpus this engine is built from, applied here to chunk blobs
// instead of a JSON manifest.
package fsblob

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chainidx/finalidx/core"
)

// Store persists each blob as baseDir/<hex(key)>.
type Store struct {
	baseDir string
}

func Open(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("fsblob: mkdir %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir}, nil
}

func (s *Store) pathFor(key []byte) string {
	return filepath.Join(s.baseDir, hex.EncodeToString(key))
}

// Put is idempotent: writing the same bytes to an existing key is a no-op;
// differing bytes at an existing key is a hard error.
func (s *Store) Put(_ context.Context, key, value []byte) error {
	path := s.pathFor(key)
	existing, err := os.ReadFile(path)
	if err == nil {
		if bytes.Equal(existing, value) {
			return nil
		}
		return &core.CorruptionError{Message: "fsblob: differing bytes at existing key", Key: hex.EncodeToString(key)}
	}
	if !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fsblob: read %s: %w", path, err)
	}

	tmp, err := os.CreateTemp(s.baseDir, "blob-*.tmp")
	if err != nil {
		return fmt.Errorf("fsblob: create temp: %w", err)
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(value); err != nil {
		tmp.Close()
		return fmt.Errorf("fsblob: write temp: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("fsblob: fsync temp: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("fsblob: close temp: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("fsblob: rename into place: %w", err)
	}
	return nil
}

func (s *Store) Get(_ context.Context, key []byte) ([]byte, bool, error) {
	data, err := os.ReadFile(s.pathFor(key))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("fsblob: read: %w", err)
	}
	return data, true, nil
}

// Delete is best-effort: an absent key is success.
func (s *Store) Delete(_ context.Context, key []byte) error {
	err := os.Remove(s.pathFor(key))
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("fsblob: remove: %w", err)
	}
	return nil
}
