package snapshot

import "errors"

// Sentinel errors for sync operations.
var (
	// ErrSyncFailure classifies any restore/checkpoint/flush failure. Sync
	// failures are never fatal to a session; callers log and move on.
	ErrSyncFailure = errors.New("snapshot sync failed")
	// ErrNoSnapshot indicates no snapshot exists for the session yet.
	ErrNoSnapshot = errors.New("no snapshot for session")
	// ErrCorrupt indicates the stored archive does not match its manifest
	// digest, i.e. an incomplete or damaged snapshot.
	ErrCorrupt = errors.New("snapshot digest mismatch")
	// ErrBlobNotFound is returned by a Blobstore for an absent key.
	ErrBlobNotFound = errors.New("blob not found")
)
