package face

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
)

// ReferenceExtractor computes the embedding of the single face expected
// in a reference image.
type ReferenceExtractor interface {
	ExtractReference(imageData []byte) ([]float32, error)
}

// DirStore keeps reference faces as <uid>.jpg files in one directory and
// lazily extracts embeddings on first lookup. A reference image with no
// detectable face resolves to ErrUnknownIdentity but is not cached as a
// negative, so correcting the image takes effect without a restart.
type DirStore struct {
	dir     string
	extract ReferenceExtractor

	mu    sync.RWMutex
	cache map[string][]float32
}

func NewDirStore(dir string, extract ReferenceExtractor) (*DirStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create reference dir: %w", err)
	}
	return &DirStore{
		dir:     dir,
		extract: extract,
		cache:   make(map[string][]float32),
	}, nil
}

func (s *DirStore) Lookup(ctx context.Context, uid string) ([]float32, error) {
	if err := validateUID(uid); err != nil {
		return nil, err
	}

	s.mu.RLock()
	emb, ok := s.cache[uid]
	s.mu.RUnlock()
	if ok {
		return emb, nil
	}

	data, err := os.ReadFile(s.imagePath(uid))
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, uid)
	}

	emb, err = s.extract.ExtractReference(data)
	if err != nil {
		return nil, fmt.Errorf("%w: reference image for %s has no usable face", ErrUnknownIdentity, uid)
	}

	// Concurrent misses may both reach here; last writer wins, and both
	// wrote the same deterministic value.
	s.mu.Lock()
	s.cache[uid] = emb
	s.mu.Unlock()

	return emb, nil
}

func (s *DirStore) Invalidate(uid string) {
	s.mu.Lock()
	delete(s.cache, uid)
	s.mu.Unlock()
}

func (s *DirStore) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string][]float32)
	s.mu.Unlock()
}

func (s *DirStore) Enroll(ctx context.Context, uid string, imageData []byte, embedding []float32, sourceKey string) error {
	if err := validateUID(uid); err != nil {
		return err
	}
	if err := os.WriteFile(s.imagePath(uid), imageData, 0o644); err != nil {
		return fmt.Errorf("write reference image: %w", err)
	}
	s.Invalidate(uid)
	return nil
}

func (s *DirStore) Remove(ctx context.Context, uid string) error {
	if err := validateUID(uid); err != nil {
		return err
	}
	if err := os.Remove(s.imagePath(uid)); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrUnknownIdentity, uid)
		}
		return fmt.Errorf("remove reference image: %w", err)
	}
	s.Invalidate(uid)
	return nil
}

func (s *DirStore) List(ctx context.Context) ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read reference dir: %w", err)
	}

	var uids []string
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !strings.HasSuffix(strings.ToLower(name), ".jpg") {
			continue
		}
		uids = append(uids, strings.TrimSuffix(name, filepath.Ext(name)))
	}
	sort.Strings(uids)
	return uids, nil
}

func (s *DirStore) imagePath(uid string) string {
	return filepath.Join(s.dir, uid+".jpg")
}

// validateUID rejects keys that would escape the reference directory.
func validateUID(uid string) error {
	if uid == "" || strings.ContainsAny(uid, "/\\") || strings.Contains(uid, "..") {
		return fmt.Errorf("%w: invalid uid", ErrUnknownIdentity)
	}
	return nil
}
