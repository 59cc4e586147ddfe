// Package face resolves reference embeddings for identity keys.
package face

import (
	"context"
	"errors"
)

// ErrUnknownIdentity means no reference face is on file for the uid.
// Callers report it as an explicit denial, distinct from a frame that
// merely failed to match.
var ErrUnknownIdentity = errors.New("unknown identity")

// Store resolves the reference embedding for a uid. Lookups are cached
// process-wide; Invalidate drops cached entries after the reference
// image for a uid is added, replaced or removed.
type Store interface {
	Lookup(ctx context.Context, uid string) ([]float32, error)
	Invalidate(uid string)
	InvalidateAll()
}

// AdminStore extends Store with the enrollment operations the
// administrative API needs.
type AdminStore interface {
	Store

	// Enroll puts a reference on file for uid, replacing any previous
	// one. imageData is the original upload; embedding the vector
	// already extracted from it; sourceKey an optional archive pointer.
	Enroll(ctx context.Context, uid string, imageData []byte, embedding []float32, sourceKey string) error
	Remove(ctx context.Context, uid string) error
	List(ctx context.Context) ([]string, error)
}
