package snapshot_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/sessionworks/broker/snapshot"
)

func newEngine(t *testing.T) *snapshot.Engine {
	t.Helper()
	engine, err := snapshot.NewEngine(snapshot.Config{
		Driver:  snapshot.DriverFS,
		Root:    t.TempDir(),
		Retries: 1,
		Backoff: 1,
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	return engine
}

func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for rel, content := range files {
		path := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			t.Fatalf("mkdir: %v", err)
		}
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatalf("write %s: %v", rel, err)
		}
	}
}

func readTree(t *testing.T, root string) map[string]string {
	t.Helper()
	tree := make(map[string]string)
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		tree[filepath.ToSlash(rel)] = string(data)
		return nil
	})
	if err != nil {
		t.Fatalf("reading tree: %v", err)
	}
	return tree
}

func TestRestore_NoSnapshotSucceedsEmpty(t *testing.T) {
	engine := newEngine(t)

	result, err := engine.Restore(context.Background(), "fresh", t.TempDir())
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if result.Files != 0 {
		t.Errorf("restored %d files from nothing, want 0", result.Files)
	}
}

func TestCheckpointRestore_RoundTrip(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	src := t.TempDir()
	tree := map[string]string{
		"notes.md":           "# session notes\n",
		"workspace/main.go":  "package main\n",
		"workspace/sub/x.go": "package sub\n",
		".agent/state.json":  `{"turn":3}`,
	}
	writeTree(t, src, tree)

	result, err := engine.Checkpoint(ctx, "sess-1", src)
	if err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if result.Files != 4 {
		t.Errorf("checkpointed %d files, want 4", result.Files)
	}

	// Simulated fresh container: restore into an unrelated directory.
	dest := filepath.Join(t.TempDir(), "sessiondir")
	restored, err := engine.Restore(ctx, "sess-1", dest)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if restored.Files != 4 {
		t.Errorf("restored %d files, want 4", restored.Files)
	}

	got := readTree(t, dest)
	if len(got) != len(tree) {
		t.Fatalf("restored tree has %d files, want %d", len(got), len(tree))
	}
	for rel, want := range tree {
		if got[rel] != want {
			t.Errorf("file %s = %q, want %q", rel, got[rel], want)
		}
	}
}

func TestRestore_OverwritesExistingTree(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"kept.txt": "new"})
	if _, err := engine.Checkpoint(ctx, "sess-1", src); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "sessiondir")
	writeTree(t, dest, map[string]string{"stale.txt": "old"})

	if _, err := engine.Restore(ctx, "sess-1", dest); err != nil {
		t.Fatalf("Restore: %v", err)
	}

	got := readTree(t, dest)
	if _, exists := got["stale.txt"]; exists {
		t.Error("restore must fully overwrite the target, stale file survived")
	}
	if got["kept.txt"] != "new" {
		t.Errorf("kept.txt = %q, want %q", got["kept.txt"], "new")
	}
}

func TestRestore_AppliesLatestSnapshot(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"v.txt": "one"})
	if _, err := engine.Checkpoint(ctx, "sess-1", src); err != nil {
		t.Fatalf("first Checkpoint: %v", err)
	}

	if err := os.WriteFile(filepath.Join(src, "v.txt"), []byte("two"), 0o644); err != nil {
		t.Fatalf("rewrite: %v", err)
	}
	if _, err := engine.Checkpoint(ctx, "sess-1", src); err != nil {
		t.Fatalf("second Checkpoint: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "d")
	if _, err := engine.Restore(ctx, "sess-1", dest); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if got := readTree(t, dest)["v.txt"]; got != "two" {
		t.Errorf("restored %q, want latest checkpoint %q", got, "two")
	}
}

func TestSessionsAreIsolated(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})
	if _, err := engine.Checkpoint(ctx, "sess-a", src); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	dest := filepath.Join(t.TempDir(), "d")
	result, err := engine.Restore(ctx, "sess-b", dest)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if result.Files != 0 {
		t.Errorf("session b restored %d files from session a", result.Files)
	}
}

func TestLatestManifest(t *testing.T) {
	engine := newEngine(t)
	ctx := context.Background()

	if _, err := engine.LatestManifest(ctx, "sess-1"); !errors.Is(err, snapshot.ErrNoSnapshot) {
		t.Errorf("got %v, want ErrNoSnapshot", err)
	}

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})
	if _, err := engine.Checkpoint(ctx, "sess-1", src); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}

	manifest, err := engine.LatestManifest(ctx, "sess-1")
	if err != nil {
		t.Fatalf("LatestManifest: %v", err)
	}
	if manifest.Files != 1 || manifest.Version == "" || len(manifest.Digest) == 0 {
		t.Errorf("manifest = %+v, want populated", manifest)
	}
}

// failingBlobstore fails every operation a fixed number of times before
// delegating, for exercising the retry bound.
type failingBlobstore struct {
	inner     snapshot.Blobstore
	failures  int
	putCalls  int
	failError error
}

func (f *failingBlobstore) Put(ctx context.Context, key string, data []byte) error {
	f.putCalls++
	if f.putCalls <= f.failures {
		return f.failError
	}
	return f.inner.Put(ctx, key, data)
}

func (f *failingBlobstore) Get(ctx context.Context, key string) ([]byte, error) {
	return f.inner.Get(ctx, key)
}

func (f *failingBlobstore) Delete(ctx context.Context, key string) error {
	return f.inner.Delete(ctx, key)
}

func TestCheckpoint_RetriesThenSucceeds(t *testing.T) {
	flaky := &failingBlobstore{
		inner:     snapshot.NewFSBlobstore(t.TempDir()),
		failures:  2,
		failError: errors.New("transient"),
	}
	engine, err := snapshot.NewEngine(snapshot.Config{Retries: 3, Backoff: 1},
		snapshot.WithBlobstore(flaky))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})

	if _, err := engine.Checkpoint(context.Background(), "sess-1", src); err != nil {
		t.Fatalf("Checkpoint should succeed within retry bound: %v", err)
	}
}

func TestCheckpoint_ExhaustsRetries(t *testing.T) {
	flaky := &failingBlobstore{
		inner:     snapshot.NewFSBlobstore(t.TempDir()),
		failures:  100,
		failError: errors.New("store down"),
	}
	engine, err := snapshot.NewEngine(snapshot.Config{Retries: 3, Backoff: 1},
		snapshot.WithBlobstore(flaky))
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}

	src := t.TempDir()
	writeTree(t, src, map[string]string{"a.txt": "a"})

	_, err = engine.Checkpoint(context.Background(), "sess-1", src)
	if !errors.Is(err, snapshot.ErrSyncFailure) {
		t.Errorf("got %v, want ErrSyncFailure", err)
	}
	if flaky.putCalls != 3 {
		t.Errorf("made %d attempts, want 3", flaky.putCalls)
	}
}
