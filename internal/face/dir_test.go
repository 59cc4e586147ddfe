package face

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"sync/atomic"
	"testing"
)

// countingExtractor tracks how often extraction runs and fails for
// payloads registered as faceless.
type countingExtractor struct {
	calls    atomic.Int64
	faceless map[string]bool
}

func (e *countingExtractor) ExtractReference(imageData []byte) ([]float32, error) {
	e.calls.Add(1)
	if e.faceless[string(imageData)] {
		return nil, errors.New("no face detected")
	}
	return []float32{float32(len(imageData)), 0}, nil
}

func newDirFixture(t *testing.T) (*DirStore, *countingExtractor, string) {
	t.Helper()
	dir := t.TempDir()
	extractor := &countingExtractor{faceless: make(map[string]bool)}
	store, err := NewDirStore(dir, extractor)
	if err != nil {
		t.Fatalf("NewDirStore: %v", err)
	}
	return store, extractor, dir
}

func writeImage(t *testing.T, dir, uid, payload string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, uid+".jpg"), []byte(payload), 0o644); err != nil {
		t.Fatal(err)
	}
}

func TestDirLookupCachesEmbedding(t *testing.T) {
	store, extractor, dir := newDirFixture(t)
	writeImage(t, dir, "alice", "alice-photo")
	ctx := context.Background()

	first, err := store.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	second, err := store.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("second lookup: %v", err)
	}

	if !reflect.DeepEqual(first, second) {
		t.Errorf("cached lookup changed the embedding: %v vs %v", first, second)
	}
	if n := extractor.calls.Load(); n != 1 {
		t.Errorf("extractor ran %d times, want 1", n)
	}
}

func TestDirLookupUnknownUID(t *testing.T) {
	store, _, _ := newDirFixture(t)

	_, err := store.Lookup(context.Background(), "nobody")
	if !errors.Is(err, ErrUnknownIdentity) {
		t.Errorf("err = %v, want ErrUnknownIdentity", err)
	}
}

func TestDirLookupFacelessImageNotCachedNegative(t *testing.T) {
	store, extractor, dir := newDirFixture(t)
	writeImage(t, dir, "alice", "blurry")
	extractor.faceless["blurry"] = true
	ctx := context.Background()

	if _, err := store.Lookup(ctx, "alice"); !errors.Is(err, ErrUnknownIdentity) {
		t.Fatalf("err = %v, want ErrUnknownIdentity", err)
	}

	// Replacing the bad image must take effect without a restart.
	writeImage(t, dir, "alice", "sharp")
	if _, err := store.Lookup(ctx, "alice"); err != nil {
		t.Errorf("lookup after fixing image: %v", err)
	}
}

func TestDirLookupRejectsPathTraversal(t *testing.T) {
	store, _, _ := newDirFixture(t)
	ctx := context.Background()

	for _, uid := range []string{"", "../etc/passwd", "a/b", `a\b`, "x..y"} {
		if _, err := store.Lookup(ctx, uid); !errors.Is(err, ErrUnknownIdentity) {
			t.Errorf("uid %q: err = %v, want ErrUnknownIdentity", uid, err)
		}
	}
}

func TestDirInvalidateDropsCacheEntry(t *testing.T) {
	store, extractor, dir := newDirFixture(t)
	writeImage(t, dir, "alice", "v1")
	ctx := context.Background()

	store.Lookup(ctx, "alice")
	store.Invalidate("alice")
	store.Lookup(ctx, "alice")

	if n := extractor.calls.Load(); n != 2 {
		t.Errorf("extractor ran %d times after invalidate, want 2", n)
	}
}

func TestDirInvalidateAll(t *testing.T) {
	store, extractor, dir := newDirFixture(t)
	writeImage(t, dir, "alice", "a")
	writeImage(t, dir, "bob", "b")
	ctx := context.Background()

	store.Lookup(ctx, "alice")
	store.Lookup(ctx, "bob")
	store.InvalidateAll()
	store.Lookup(ctx, "alice")
	store.Lookup(ctx, "bob")

	if n := extractor.calls.Load(); n != 4 {
		t.Errorf("extractor ran %d times, want 4", n)
	}
}

func TestDirEnrollReplacesReference(t *testing.T) {
	store, _, _ := newDirFixture(t)
	ctx := context.Background()

	if err := store.Enroll(ctx, "alice", []byte("photo-v1"), []float32{1}, ""); err != nil {
		t.Fatalf("enroll: %v", err)
	}
	v1, err := store.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("lookup v1: %v", err)
	}

	// Re-enrollment must invalidate the cached v1 embedding.
	if err := store.Enroll(ctx, "alice", []byte("photo-v2-longer"), []float32{2}, ""); err != nil {
		t.Fatalf("re-enroll: %v", err)
	}
	v2, err := store.Lookup(ctx, "alice")
	if err != nil {
		t.Fatalf("lookup v2: %v", err)
	}

	if reflect.DeepEqual(v1, v2) {
		t.Error("lookup still serves the stale embedding after re-enrollment")
	}
}

func TestDirRemove(t *testing.T) {
	store, _, _ := newDirFixture(t)
	ctx := context.Background()

	store.Enroll(ctx, "alice", []byte("photo"), nil, "")
	if err := store.Remove(ctx, "alice"); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := store.Lookup(ctx, "alice"); !errors.Is(err, ErrUnknownIdentity) {
		t.Errorf("lookup after remove: %v, want ErrUnknownIdentity", err)
	}
	if err := store.Remove(ctx, "alice"); !errors.Is(err, ErrUnknownIdentity) {
		t.Errorf("double remove: %v, want ErrUnknownIdentity", err)
	}
}

func TestDirList(t *testing.T) {
	store, _, dir := newDirFixture(t)
	writeImage(t, dir, "bob", "b")
	writeImage(t, dir, "alice", "a")
	// Non-jpg files and subdirectories are not references.
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644)
	os.Mkdir(filepath.Join(dir, "sub"), 0o755)

	uids, err := store.List(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if want := []string{"alice", "bob"}; !reflect.DeepEqual(uids, want) {
		t.Errorf("list = %v, want %v", uids, want)
	}
}
