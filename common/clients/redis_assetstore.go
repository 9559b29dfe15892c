package clients

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	redisWrapper "github.com/lyzr/adstudio/common/redis"
)

// RedisAssetStore keeps both asset namespaces in Redis. Temporary keys carry
// a TTL so orphans from failed generations expire on their own; permanent
// keys never expire.
type RedisAssetStore struct {
	redis   *redisWrapper.Client
	tempTTL time.Duration
	logger  Logger
}

// NewRedisAssetStore creates a new Redis-backed asset store
func NewRedisAssetStore(redis *redisWrapper.Client, tempTTL time.Duration, logger Logger) *RedisAssetStore {
	return &RedisAssetStore{
		redis:   redis,
		tempTTL: tempTTL,
		logger:  logger,
	}
}

// PutTemp stores image bytes in the temporary namespace
func (s *RedisAssetStore) PutTemp(ctx context.Context, id uuid.UUID, data []byte) (string, error) {
	key := tempAssetKey(id)

	if err := s.redis.SetBytes(ctx, key, data, s.tempTTL); err != nil {
		return "", fmt.Errorf("failed to store temp asset: %w", err)
	}

	s.logger.Debug("stored temp asset", "ref", key, "size", len(data))
	return key, nil
}

// Get retrieves asset bytes by reference
func (s *RedisAssetStore) Get(ctx context.Context, ref string) ([]byte, error) {
	data, err := s.redis.GetBytes(ctx, ref)
	if err != nil {
		if errors.Is(err, redisWrapper.ErrKeyNotFound) {
			return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, ref)
		}
		return nil, fmt.Errorf("failed to read asset: %w", err)
	}
	return data, nil
}

// Promote copies the temporary asset to the id-derived permanent key.
//
// COPY without replace makes the destination write-once: a retried promote
// finds the destination already populated and verifies it instead of
// overwriting. COPY carries the source TTL, so the destination is PERSISTed
// after a successful copy.
func (s *RedisAssetStore) Promote(ctx context.Context, tempRef string, id uuid.UUID) (string, error) {
	dest := permanentAssetKey(id)

	copied, err := s.redis.Copy(ctx, tempRef, dest)
	if err != nil {
		return "", fmt.Errorf("failed to promote asset: %w", err)
	}

	if copied {
		if err := s.redis.Persist(ctx, dest); err != nil {
			return "", fmt.Errorf("failed to persist promoted asset: %w", err)
		}
		s.logger.Info("promoted asset", "temp_ref", tempRef, "permanent_ref", dest)
		return dest, nil
	}

	// Nothing copied: the destination already exists, or the source expired.
	destData, err := s.redis.GetBytes(ctx, dest)
	if err != nil {
		if errors.Is(err, redisWrapper.ErrKeyNotFound) {
			return "", fmt.Errorf("%w: temp asset %s", ErrAssetNotFound, tempRef)
		}
		return "", fmt.Errorf("failed to verify promoted asset: %w", err)
	}

	srcData, err := s.redis.GetBytes(ctx, tempRef)
	if err != nil {
		if errors.Is(err, redisWrapper.ErrKeyNotFound) {
			// Source expired after an earlier successful promote.
			// The destination is the promoted asset.
			s.logger.Info("promote found existing permanent asset, temp expired", "permanent_ref", dest)
			return dest, nil
		}
		return "", fmt.Errorf("failed to read temp asset: %w", err)
	}

	if !bytes.Equal(srcData, destData) {
		return "", fmt.Errorf("%w: %s", ErrPromoteConflict, dest)
	}

	// Identical content at the destination: an earlier promote already
	// completed. Idempotent success.
	if err := s.redis.Persist(ctx, dest); err != nil {
		return "", fmt.Errorf("failed to persist promoted asset: %w", err)
	}

	s.logger.Info("promote repeated, destination already consistent", "permanent_ref", dest)
	return dest, nil
}

// DeletePermanent removes a permanent asset (compensation path)
func (s *RedisAssetStore) DeletePermanent(ctx context.Context, permanentRef string) error {
	if err := s.redis.Delete(ctx, permanentRef); err != nil {
		return fmt.Errorf("failed to delete permanent asset: %w", err)
	}
	s.logger.Info("deleted permanent asset", "permanent_ref", permanentRef)
	return nil
}
