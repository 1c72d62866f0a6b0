package snapshot

import (
	"bytes"
	"context"
	"fmt"
	"strings"

	storage "github.com/supabase-community/storage-go"
)

// supabaseBlobstore stores blobs in a Supabase Storage bucket. Supabase
// finalizes an object only after a successful upload, which satisfies the
// no-partial-reads requirement.
type supabaseBlobstore struct {
	client *storage.Client
	bucket string
}

// NewSupabaseBlobstore creates a Blobstore backed by a Supabase Storage
// bucket. The bucket must already exist.
func NewSupabaseBlobstore(url, apiKey, bucket string) Blobstore {
	return &supabaseBlobstore{
		client: storage.NewClient(url, apiKey, nil),
		bucket: bucket,
	}
}

func (s *supabaseBlobstore) Put(_ context.Context, key string, data []byte) error {
	// UploadFile refuses to overwrite; fall back to UpdateFile for keys
	// that already exist (the manifest pointer is rewritten every
	// checkpoint).
	_, err := s.client.UploadFile(s.bucket, key, bytes.NewReader(data))
	if err != nil {
		if _, updateErr := s.client.UpdateFile(s.bucket, key, bytes.NewReader(data)); updateErr != nil {
			return fmt.Errorf("blobstore: uploading %s: %w", key, updateErr)
		}
	}
	return nil
}

func (s *supabaseBlobstore) Get(_ context.Context, key string) ([]byte, error) {
	data, err := s.client.DownloadFile(s.bucket, key)
	if err != nil {
		if strings.Contains(err.Error(), "not_found") || strings.Contains(err.Error(), "404") {
			return nil, fmt.Errorf("%w: %s", ErrBlobNotFound, key)
		}
		return nil, fmt.Errorf("blobstore: downloading %s: %w", key, err)
	}
	return data, nil
}

func (s *supabaseBlobstore) Delete(_ context.Context, key string) error {
	if _, err := s.client.RemoveFile(s.bucket, []string{key}); err != nil {
		return fmt.Errorf("blobstore: deleting %s: %w", key, err)
	}
	return nil
}
