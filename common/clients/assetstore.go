package clients

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	goredis "github.com/redis/go-redis/v9"

	"github.com/lyzr/adstudio/common/config"
	redisWrapper "github.com/lyzr/adstudio/common/redis"
)

// ErrAssetNotFound is returned when a referenced asset does not exist
var ErrAssetNotFound = errors.New("asset not found")

// ErrPromoteConflict is returned when the permanent key already holds
// different bytes than the temporary asset being promoted
var ErrPromoteConflict = errors.New("permanent asset exists with different content")

// AssetStore is the object store boundary: a keyed blob store with a
// temporary namespace (TTL'd, review-time assets) and a permanent namespace
// (committed assets, named deterministically from the ad id).
//
// Promote must be idempotent under retry: a second promote for the same id
// after a partial failure observes the existing identical destination and
// succeeds without duplicating anything.
type AssetStore interface {
	// PutTemp writes image bytes to the temporary namespace and returns
	// the temp reference
	PutTemp(ctx context.Context, id uuid.UUID, data []byte) (string, error)

	// Get reads asset bytes by reference, from either namespace
	Get(ctx context.Context, ref string) ([]byte, error)

	// Promote copies the temporary asset into the permanent namespace
	// under the id-derived key and returns the permanent reference
	Promote(ctx context.Context, tempRef string, id uuid.UUID) (string, error)

	// DeletePermanent removes a permanent asset. Compensating action only.
	DeletePermanent(ctx context.Context, permanentRef string) error
}

// Namespace key derivation. The permanent key is a pure function of the ad
// id so retried promotes land on the same destination.
func tempAssetKey(id uuid.UUID) string {
	return fmt.Sprintf("ad:asset:tmp:%s", id)
}

func permanentAssetKey(id uuid.UUID) string {
	return fmt.Sprintf("ad:asset:perm:%s.png", id)
}

// NewAssetStore creates an asset store based on configuration
//
//	STORAGE_BACKEND=redis  -> Redis-backed namespaces (deployments)
//	STORAGE_BACKEND=memory -> in-process store (local development)
func NewAssetStore(cfg *config.Config, redisClient *goredis.Client, logger Logger) (AssetStore, error) {
	switch cfg.Storage.Backend {
	case "redis":
		logger.Info("using redis asset store", "temp_ttl", cfg.Storage.TempTTL)
		return NewRedisAssetStore(redisWrapper.NewClient(redisClient, logger), cfg.Storage.TempTTL, logger), nil
	case "memory":
		logger.Warn("using in-memory asset store; assets will not survive restarts")
		return NewMemoryAssetStore(logger), nil
	default:
		return nil, fmt.Errorf("unknown storage backend: %s", cfg.Storage.Backend)
	}
}
