// Package snapshot synchronizes a session's working directory with durable
// object storage. Directions are explicit and each is a whole-tree overwrite;
// the engine never merges file-by-file. Restore pulls the latest complete
// snapshot before the agent starts; Checkpoint pushes one after each
// completed turn; Flush is the final checkpoint on session termination.
//
// Publication is atomic: the archive is uploaded under a fresh version key,
// and only then is the per-session manifest pointer overwritten. A restore
// that races a checkpoint sees either the old complete snapshot or the new
// one, never a partial write. Sync failures are retried within a small bound
// and surface as ErrSyncFailure; they are not fatal to the session.
package snapshot

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/sessionworks/broker/observability"
)

const (
	defaultRetries = 3
	defaultBackoff = 200 * time.Millisecond
)

// Driver selects the blobstore backend.
type Driver string

const (
	DriverFS       Driver = "fs"
	DriverSupabase Driver = "supabase"
)

// Config holds sync engine settings.
type Config struct {
	Driver Driver `json:"driver,omitempty"`
	// Root is the fs driver's storage directory.
	Root string `json:"root,omitempty"`
	// SupabaseURL, SupabaseKey, and Bucket configure the supabase driver.
	SupabaseURL string `json:"supabase_url,omitempty"`
	SupabaseKey string `json:"supabase_key,omitempty"`
	Bucket      string `json:"bucket,omitempty"`
	// Retries bounds attempts per operation; Backoff is the initial delay
	// between attempts, doubling each retry.
	Retries int           `json:"retries,omitempty"`
	Backoff time.Duration `json:"backoff,omitempty"`
}

// DefaultConfig returns the fs driver with standard retry bounds.
func DefaultConfig() Config {
	return Config{
		Driver:  DriverFS,
		Root:    "snapshots",
		Retries: defaultRetries,
		Backoff: defaultBackoff,
	}
}

// Merge applies non-zero values from source into c.
func (c *Config) Merge(source *Config) {
	if source.Driver != "" {
		c.Driver = source.Driver
	}
	if source.Root != "" {
		c.Root = source.Root
	}
	if source.SupabaseURL != "" {
		c.SupabaseURL = source.SupabaseURL
	}
	if source.SupabaseKey != "" {
		c.SupabaseKey = source.SupabaseKey
	}
	if source.Bucket != "" {
		c.Bucket = source.Bucket
	}
	if source.Retries > 0 {
		c.Retries = source.Retries
	}
	if source.Backoff > 0 {
		c.Backoff = source.Backoff
	}
}

// Result reports what a sync operation moved.
type Result struct {
	Files int
	Bytes int64
}

// Manifest is the per-session pointer to the latest complete snapshot.
// Stored as CBOR at a stable key; rewritten last during checkpoint so it
// always references a fully uploaded archive.
type Manifest struct {
	Version    string `cbor:"1,keyasint"`
	ArchiveKey string `cbor:"2,keyasint"`
	Digest     []byte `cbor:"3,keyasint"`
	Files      int    `cbor:"4,keyasint"`
	Bytes      int64  `cbor:"5,keyasint"`
	CreatedAt  int64  `cbor:"6,keyasint"`
}

var manifestEncMode cbor.EncMode

func init() {
	var err error
	manifestEncMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("snapshot: CBOR encoder initialization failed: " + err.Error())
	}
}

// Engine performs directional directory sync against a Blobstore.
type Engine struct {
	store    Blobstore
	retries  int
	backoff  time.Duration
	dispatch *observability.Dispatcher
}

// Option configures an Engine after config-driven initialization.
type Option func(*Engine)

// WithBlobstore overrides the config-created blobstore.
func WithBlobstore(store Blobstore) Option {
	return func(e *Engine) { e.store = store }
}

// WithDispatcher sets the telemetry dispatcher. Without one, events are
// dropped.
func WithDispatcher(d *observability.Dispatcher) Option {
	return func(e *Engine) { e.dispatch = d }
}

// NewEngine creates an Engine from configuration.
func NewEngine(cfg Config, opts ...Option) (*Engine, error) {
	defaults := DefaultConfig()
	defaults.Merge(&cfg)

	var store Blobstore
	switch defaults.Driver {
	case DriverFS:
		store = NewFSBlobstore(defaults.Root)
	case DriverSupabase:
		if defaults.SupabaseURL == "" || defaults.SupabaseKey == "" || defaults.Bucket == "" {
			return nil, errors.New("snapshot: supabase driver requires url, key, and bucket")
		}
		store = NewSupabaseBlobstore(defaults.SupabaseURL, defaults.SupabaseKey, defaults.Bucket)
	default:
		return nil, fmt.Errorf("snapshot: unknown driver %q", defaults.Driver)
	}

	e := &Engine{
		store:   store,
		retries: defaults.Retries,
		backoff: defaults.Backoff,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

func manifestKey(sessionID string) string {
	return fmt.Sprintf("sessions/%s/manifest", sessionID)
}

func archiveKey(sessionID, version string) string {
	return fmt.Sprintf("sessions/%s/snapshots/%s.tar.zst", sessionID, version)
}

// Restore downloads the latest snapshot for the session into dir
// (from_store). Succeeds with a zero Result when no snapshot exists yet.
func (e *Engine) Restore(ctx context.Context, sessionID, dir string) (Result, error) {
	start := time.Now()
	result, err := e.withRetry(ctx, func() (Result, error) {
		return e.restoreOnce(ctx, sessionID, dir)
	})
	e.emit(observability.EventSyncRestore, sessionID, "from_store", result, start, err)
	return result, err
}

// Checkpoint uploads dir as a new snapshot for the session (to_store).
// Called after each completed turn.
func (e *Engine) Checkpoint(ctx context.Context, sessionID, dir string) (Result, error) {
	start := time.Now()
	result, err := e.withRetry(ctx, func() (Result, error) {
		return e.checkpointOnce(ctx, sessionID, dir)
	})
	e.emit(observability.EventSyncCheckpoint, sessionID, "to_store", result, start, err)
	return result, err
}

// Flush is the final checkpoint on session termination. The coordinator
// guarantees it runs on every exit path.
func (e *Engine) Flush(ctx context.Context, sessionID, dir string) (Result, error) {
	start := time.Now()
	result, err := e.withRetry(ctx, func() (Result, error) {
		return e.checkpointOnce(ctx, sessionID, dir)
	})
	e.emit(observability.EventSyncFlush, sessionID, "to_store", result, start, err)
	return result, err
}

// LatestManifest returns the current snapshot manifest, or ErrNoSnapshot.
func (e *Engine) LatestManifest(ctx context.Context, sessionID string) (Manifest, error) {
	data, err := e.store.Get(ctx, manifestKey(sessionID))
	if err != nil {
		if errors.Is(err, ErrBlobNotFound) {
			return Manifest{}, ErrNoSnapshot
		}
		return Manifest{}, fmt.Errorf("%w: reading manifest: %w", ErrSyncFailure, err)
	}

	var m Manifest
	if err := cbor.Unmarshal(data, &m); err != nil {
		return Manifest{}, fmt.Errorf("%w: decoding manifest: %w", ErrSyncFailure, err)
	}
	return m, nil
}

func (e *Engine) restoreOnce(ctx context.Context, sessionID, dir string) (Result, error) {
	manifest, err := e.LatestManifest(ctx, sessionID)
	if errors.Is(err, ErrNoSnapshot) {
		// First-ever session: nothing to restore.
		return Result{}, nil
	}
	if err != nil {
		return Result{}, err
	}

	archive, err := e.store.Get(ctx, manifest.ArchiveKey)
	if err != nil {
		return Result{}, fmt.Errorf("%w: fetching archive: %w", ErrSyncFailure, err)
	}

	digest := blake3.Sum256(archive)
	if subtle.ConstantTimeCompare(digest[:], manifest.Digest) != 1 {
		return Result{}, fmt.Errorf("%w: %w", ErrSyncFailure, ErrCorrupt)
	}

	files, bytes, err := unpack(archive, dir)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSyncFailure, err)
	}
	return Result{Files: files, Bytes: bytes}, nil
}

func (e *Engine) checkpointOnce(ctx context.Context, sessionID, dir string) (Result, error) {
	archive, files, bytes, err := pack(dir)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %w", ErrSyncFailure, err)
	}

	version := uuid.Must(uuid.NewV7()).String()
	key := archiveKey(sessionID, version)
	if err := e.store.Put(ctx, key, archive); err != nil {
		return Result{}, fmt.Errorf("%w: uploading archive: %w", ErrSyncFailure, err)
	}

	digest := blake3.Sum256(archive)
	manifest := Manifest{
		Version:    version,
		ArchiveKey: key,
		Digest:     digest[:],
		Files:      files,
		Bytes:      bytes,
		CreatedAt:  time.Now().Unix(),
	}
	data, err := manifestEncMode.Marshal(manifest)
	if err != nil {
		return Result{}, fmt.Errorf("%w: encoding manifest: %w", ErrSyncFailure, err)
	}

	// The pointer write is the publish; everything before it is invisible
	// to restore.
	if err := e.store.Put(ctx, manifestKey(sessionID), data); err != nil {
		return Result{}, fmt.Errorf("%w: publishing manifest: %w", ErrSyncFailure, err)
	}

	return Result{Files: files, Bytes: bytes}, nil
}

func (e *Engine) withRetry(ctx context.Context, op func() (Result, error)) (Result, error) {
	var result Result
	var err error

	backoff := e.backoff
	for attempt := 1; attempt <= e.retries; attempt++ {
		result, err = op()
		if err == nil {
			return result, nil
		}
		if attempt == e.retries {
			break
		}
		if sleepErr := sleepContext(ctx, backoff); sleepErr != nil {
			return Result{}, fmt.Errorf("%w: %w", ErrSyncFailure, sleepErr)
		}
		backoff *= 2
	}
	return result, err
}

func (e *Engine) emit(eventType observability.EventType, sessionID, direction string, result Result, start time.Time, err error) {
	if e.dispatch == nil {
		return
	}
	level := observability.LevelInfo
	data := map[string]any{
		"session_id":  sessionID,
		"direction":   direction,
		"files":       result.Files,
		"bytes":       result.Bytes,
		"duration_ms": time.Since(start).Milliseconds(),
	}
	if err != nil {
		level = observability.LevelError
		data["error"] = err.Error()
	}
	e.dispatch.Emit(eventType, level, "snapshot", data)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
