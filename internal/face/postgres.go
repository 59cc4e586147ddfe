package face

import (
	"context"
	"fmt"
	"sync"

	"github.com/your-org/doorgate/internal/storage"
)

// PostgresStore resolves reference embeddings from the face_references
// table, with the same process-wide cache as DirStore. The durable
// backend for multi-instance deployments.
type PostgresStore struct {
	db *storage.PostgresStore

	mu    sync.RWMutex
	cache map[string][]float32
}

func NewPostgresStore(db *storage.PostgresStore) *PostgresStore {
	return &PostgresStore{
		db:    db,
		cache: make(map[string][]float32),
	}
}

func (s *PostgresStore) Lookup(ctx context.Context, uid string) ([]float32, error) {
	s.mu.RLock()
	emb, ok := s.cache[uid]
	s.mu.RUnlock()
	if ok {
		return emb, nil
	}

	ref, err := s.db.GetReference(ctx, uid)
	if err != nil {
		return nil, fmt.Errorf("load reference: %w", err)
	}
	if ref == nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownIdentity, uid)
	}

	s.mu.Lock()
	s.cache[uid] = ref.Embedding
	s.mu.Unlock()

	return ref.Embedding, nil
}

func (s *PostgresStore) Invalidate(uid string) {
	s.mu.Lock()
	delete(s.cache, uid)
	s.mu.Unlock()
}

func (s *PostgresStore) InvalidateAll() {
	s.mu.Lock()
	s.cache = make(map[string][]float32)
	s.mu.Unlock()
}

func (s *PostgresStore) Enroll(ctx context.Context, uid string, imageData []byte, embedding []float32, sourceKey string) error {
	if _, err := s.db.UpsertReference(ctx, uid, embedding, sourceKey); err != nil {
		return err
	}
	s.Invalidate(uid)
	return nil
}

func (s *PostgresStore) Remove(ctx context.Context, uid string) error {
	found, err := s.db.DeleteReference(ctx, uid)
	if err != nil {
		return err
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrUnknownIdentity, uid)
	}
	s.Invalidate(uid)
	return nil
}

func (s *PostgresStore) List(ctx context.Context) ([]string, error) {
	return s.db.ListReferenceUIDs(ctx)
}
