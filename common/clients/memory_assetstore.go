package clients

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
)

// MemoryAssetStore is an in-process asset store for local development and
// tests. Same namespace and promote semantics as the Redis store, minus TTL
// expiry.
type MemoryAssetStore struct {
	blobs  map[string][]byte
	mu     sync.RWMutex
	logger Logger
}

// NewMemoryAssetStore creates a new in-memory asset store
func NewMemoryAssetStore(logger Logger) *MemoryAssetStore {
	return &MemoryAssetStore{
		blobs:  make(map[string][]byte),
		logger: logger,
	}
}

// PutTemp stores image bytes in the temporary namespace
func (s *MemoryAssetStore) PutTemp(ctx context.Context, id uuid.UUID, data []byte) (string, error) {
	key := tempAssetKey(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[key] = buf

	return key, nil
}

// Get retrieves asset bytes by reference
func (s *MemoryAssetStore) Get(ctx context.Context, ref string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	data, exists := s.blobs[ref]
	if !exists {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, ref)
	}

	buf := make([]byte, len(data))
	copy(buf, data)
	return buf, nil
}

// Promote copies the temporary asset to the id-derived permanent key with
// the same write-once destination semantics as the Redis store
func (s *MemoryAssetStore) Promote(ctx context.Context, tempRef string, id uuid.UUID) (string, error) {
	dest := permanentAssetKey(id)

	s.mu.Lock()
	defer s.mu.Unlock()

	src, srcExists := s.blobs[tempRef]
	existing, destExists := s.blobs[dest]

	if destExists {
		if srcExists && !bytes.Equal(src, existing) {
			return "", fmt.Errorf("%w: %s", ErrPromoteConflict, dest)
		}
		// Earlier promote already completed. Idempotent success.
		return dest, nil
	}

	if !srcExists {
		return "", fmt.Errorf("%w: temp asset %s", ErrAssetNotFound, tempRef)
	}

	buf := make([]byte, len(src))
	copy(buf, src)
	s.blobs[dest] = buf

	return dest, nil
}

// DeletePermanent removes a permanent asset (compensation path)
func (s *MemoryAssetStore) DeletePermanent(ctx context.Context, permanentRef string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.blobs, permanentRef)
	return nil
}
