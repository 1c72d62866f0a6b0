package snapshot

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
)

// Blobstore is the minimal object-store surface the sync engine needs:
// put a blob at a key, get it back. Implementations must make Put visible
// only once the blob is complete (no partial reads).
type Blobstore interface {
	Put(ctx context.Context, key string, data []byte) error
	// Get returns ErrBlobNotFound for an absent key.
	Get(ctx context.Context, key string) ([]byte, error)
	Delete(ctx context.Context, key string) error
}

// fsBlobstore stores blobs as files under a root directory. Writes go to a
// temp file in the destination directory and are renamed into place, so a
// reader never observes a partial blob.
type fsBlobstore struct {
	root string
}

// NewFSBlobstore creates a filesystem-backed Blobstore rooted at root.
func NewFSBlobstore(root string) Blobstore {
	return &fsBlobstore{root: root}
}

func (s *fsBlobstore) path(key string) string {
	return filepath.Join(s.root, filepath.FromSlash(key))
}

func (s *fsBlobstore) Put(_ context.Context, key string, data []byte) error {
	path := s.path(key)
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("blobstore: mkdir for %s: %w", key, err)
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("blobstore: staging %s: %w", key, err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: writing %s: %w", key, err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: closing %s: %w", key, err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("blobstore: publishing %s: %w", key, err)
	}
	return nil
}

func (s *fsBlobstore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("blobstore: reading %s: %w", key, err)
	}
	return data, nil
}

func (s *fsBlobstore) Delete(_ context.Context, key string) error {
	if err := os.Remove(s.path(key)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("blobstore: deleting %s: %w", key, err)
	}
	return nil
}
