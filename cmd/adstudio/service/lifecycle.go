package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"

	"github.com/lyzr/adstudio/cmd/adstudio/repository"
	"github.com/lyzr/adstudio/common/cache"
	"github.com/lyzr/adstudio/common/clients"
	"github.com/lyzr/adstudio/common/logger"
	"github.com/lyzr/adstudio/common/models"
)

// LifecycleStream is the Redis stream carrying lifecycle events for the
// out-of-band review notification surface
const LifecycleStream = "ads.lifecycle"

// StagePromote names the object-store step of Commit in CommitError
const StagePromote = "promote"

// ErrInvalidBrief is returned when a brief is missing required input
var ErrInvalidBrief = errors.New("brief is missing a visual description")

// CommitError reports a Commit that failed before any state changed.
// The record stays PENDING; the whole operation is safe to retry.
type CommitError struct {
	Stage string
	Err   error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("commit failed at %s stage: %v", e.Stage, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// PartialCommitError reports the one cross-store inconsistency this protocol
// can leave behind: the promote succeeded but the metadata finalize
// exhausted its retry budget. The record is still PENDING and the permanent
// object is orphaned under PermanentRef. Requires operator reconciliation;
// monitoring must be able to tell this apart from ordinary failures.
type PartialCommitError struct {
	AdID         uuid.UUID
	PermanentRef string
	Err          error
}

func (e *PartialCommitError) Error() string {
	return fmt.Sprintf("commit finalization failed for ad %s: record left PENDING with orphaned permanent object %s: %v",
		e.AdID, e.PermanentRef, e.Err)
}

func (e *PartialCommitError) Unwrap() error {
	return e.Err
}

// AdvertisementStore is the metadata store boundary consumed by the
// lifecycle. Implemented by repository.AdvertisementRepository; the
// conditional writes behind MarkApproved/MarkRejected are the sole
// serialization point for concurrent transitions.
type AdvertisementStore interface {
	CreatePending(ctx context.Context, ad *models.Advertisement) error
	Get(ctx context.Context, id uuid.UUID) (*models.Advertisement, error)
	ListByStatus(ctx context.Context, status models.AdStatus, limit int) ([]*models.Advertisement, error)
	MarkApproved(ctx context.Context, id uuid.UUID, permanentRef string, approvedAt time.Time) error
	MarkRejected(ctx context.Context, id uuid.UUID) error
}

// EventPublisher publishes lifecycle events. Satisfied by the common redis
// client; nil disables publishing.
type EventPublisher interface {
	AddToStream(ctx context.Context, stream string, values map[string]interface{}) (string, error)
}

// LifecycleService owns the Generate/Commit/Reject state machine and all
// cross-store consistency policy.
//
// Write ordering is fixed: assets before metadata on Generate, promote
// before finalize on Commit. Combined with the idempotent promote this
// yields an all-or-nothing observable outcome without a cross-store
// transaction, and limits the orphan classes to (a) TTL'd temp objects and
// (b) the permanent object named by PartialCommitError.
type LifecycleService struct {
	repo             AdvertisementStore
	assets           clients.AssetStore
	generator        ContentGenerator
	policy           *ReviewPolicy
	events           EventPublisher
	recordCache      cache.Cache
	cacheTTL         time.Duration
	finalizeAttempts int
	finalizeInterval time.Duration
	log              *logger.Logger
}

// NewLifecycleService creates a new lifecycle service. policy, events and
// recordCache may be nil.
func NewLifecycleService(
	repo AdvertisementStore,
	assets clients.AssetStore,
	generator ContentGenerator,
	policy *ReviewPolicy,
	events EventPublisher,
	recordCache cache.Cache,
	cacheTTL time.Duration,
	finalizeAttempts int,
	finalizeInterval time.Duration,
	log *logger.Logger,
) *LifecycleService {
	if finalizeAttempts < 1 {
		finalizeAttempts = 1
	}

	return &LifecycleService{
		repo:             repo,
		assets:           assets,
		generator:        generator,
		policy:           policy,
		events:           events,
		recordCache:      recordCache,
		cacheTTL:         cacheTTL,
		finalizeAttempts: finalizeAttempts,
		finalizeInterval: finalizeInterval,
		log:              log,
	}
}

// Generate runs the generative pipeline for a brief and persists the
// resulting PENDING record.
//
// Failure modes:
//   - generation failure: nothing persisted anywhere
//   - temp asset write failure: nothing persisted anywhere
//   - record write failure: the temp asset is orphaned until its TTL
//     expires; Generate still fails. A dangling record pointing at a
//     missing asset can never occur under this ordering.
func (s *LifecycleService) Generate(ctx context.Context, brief models.Brief, createdBy string) (*models.Advertisement, error) {
	if strings.TrimSpace(brief.VisualDescription) == "" {
		return nil, ErrInvalidBrief
	}

	id := uuid.New()
	log := s.log.WithAdID(id.String())

	image, content, err := s.generator.Generate(ctx, brief)
	if err != nil {
		return nil, err
	}

	// Empty, not nil: review_flags is NOT NULL in the store
	flags := []string{}
	if s.policy != nil {
		if fired := s.policy.Evaluate(content, brief); len(fired) > 0 {
			flags = fired
			log.Info("review policy flagged generated content", "flags", flags)
		}
	}

	tempRef, err := s.assets.PutTemp(ctx, id, image)
	if err != nil {
		return nil, fmt.Errorf("failed to stage generated asset: %w", err)
	}

	ad := &models.Advertisement{
		AdID:         id,
		Status:       models.StatusPending,
		Brief:        brief,
		Content:      content,
		ReviewFlags:  flags,
		TempAssetRef: &tempRef,
		CreatedBy:    createdBy,
		GeneratedAt:  time.Now().UTC(),
	}

	if err := s.repo.CreatePending(ctx, ad); err != nil {
		log.Error("pending record write failed, temp asset orphaned until TTL expiry",
			"temp_ref", tempRef,
			"error", err,
		)
		return nil, fmt.Errorf("failed to persist pending record: %w", err)
	}

	log.Info("advertisement generated",
		"campaign", brief.CampaignName,
		"temp_ref", tempRef,
		"review_flags", len(flags),
	)

	s.publish(ctx, "ad.generated", ad)
	return ad, nil
}

// Commit promotes the temporary asset into the permanent namespace and
// finalizes the record as APPROVED.
//
// Promotion runs before the metadata write; a promote failure leaves the
// record untouched and is retry-safe (CommitError). A finalize failure
// after a successful promote is retried alone, against the already-promoted
// idempotent destination; exhausting that budget surfaces
// PartialCommitError and never a silent success.
func (s *LifecycleService) Commit(ctx context.Context, id uuid.UUID) (*models.Advertisement, error) {
	log := s.log.WithAdID(id.String())

	ad, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !ad.IsPending() {
		return nil, fmt.Errorf("%w: %s is %s", repository.ErrInvalidTransition, id, ad.Status)
	}

	if ad.TempAssetRef == nil {
		return nil, fmt.Errorf("pending advertisement %s has no temp asset reference", id)
	}

	permanentRef, err := s.assets.Promote(ctx, *ad.TempAssetRef, id)
	if err != nil {
		return nil, &CommitError{Stage: StagePromote, Err: err}
	}

	approvedAt := time.Now().UTC()

	finalize := func() error {
		err := s.repo.MarkApproved(ctx, id, permanentRef, approvedAt)
		if errors.Is(err, repository.ErrInvalidTransition) || errors.Is(err, repository.ErrNotFound) {
			// Guard violations are decided by the store; retrying
			// cannot change the outcome
			return backoff.Permanent(err)
		}
		return err
	}

	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.finalizeInterval), uint64(s.finalizeAttempts-1)),
		ctx,
	)

	if err := backoff.Retry(finalize, policy); err != nil {
		if errors.Is(err, repository.ErrInvalidTransition) {
			s.compensateLostCommit(ctx, id, permanentRef, log)
			return nil, err
		}
		if errors.Is(err, repository.ErrNotFound) {
			return nil, err
		}

		log.Error("metadata finalize exhausted retries, permanent object orphaned",
			"permanent_ref", permanentRef,
			"attempts", s.finalizeAttempts,
			"error", err,
		)
		return nil, &PartialCommitError{AdID: id, PermanentRef: permanentRef, Err: err}
	}

	ad.Status = models.StatusApproved
	ad.PermanentAssetRef = &permanentRef
	ad.ApprovedAt = &approvedAt
	ad.TempAssetRef = nil

	log.Info("advertisement committed", "permanent_ref", permanentRef)

	s.invalidate(ctx, id)
	s.publish(ctx, "ad.approved", ad)
	return ad, nil
}

// Reject transitions a PENDING advertisement to REJECTED. The object store
// is not touched: the temporary asset stays for audit until its TTL.
func (s *LifecycleService) Reject(ctx context.Context, id uuid.UUID) (*models.Advertisement, error) {
	log := s.log.WithAdID(id.String())

	ad, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if !ad.IsPending() {
		return nil, fmt.Errorf("%w: %s is %s", repository.ErrInvalidTransition, id, ad.Status)
	}

	if err := s.repo.MarkRejected(ctx, id); err != nil {
		return nil, err
	}

	ad.Status = models.StatusRejected

	log.Info("advertisement rejected")

	s.invalidate(ctx, id)
	s.publish(ctx, "ad.rejected", ad)
	return ad, nil
}

// Get retrieves an advertisement, through the record cache when enabled.
// Cached status is advisory only: every transition is still guarded by the
// store's conditional write, so a stale read can never corrupt state.
func (s *LifecycleService) Get(ctx context.Context, id uuid.UUID) (*models.Advertisement, error) {
	cacheKey := recordCacheKey(id)

	if s.recordCache != nil {
		if data, hit, err := s.recordCache.Get(ctx, cacheKey); err == nil && hit {
			ad := &models.Advertisement{}
			if err := json.Unmarshal(data, ad); err == nil {
				return ad, nil
			}
		}
	}

	ad, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	if s.recordCache != nil {
		if data, err := json.Marshal(ad); err == nil {
			_ = s.recordCache.Set(ctx, cacheKey, data, s.cacheTTL)
		}
	}

	return ad, nil
}

// ListPending lists advertisements awaiting review, newest first
func (s *LifecycleService) ListPending(ctx context.Context, limit int) ([]*models.Advertisement, error) {
	return s.repo.ListByStatus(ctx, models.StatusPending, limit)
}

// Asset returns the image bytes for an advertisement: the temporary asset
// while PENDING, the permanent asset once APPROVED
func (s *LifecycleService) Asset(ctx context.Context, id uuid.UUID) ([]byte, error) {
	ad, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	var ref *string
	switch ad.Status {
	case models.StatusApproved:
		ref = ad.PermanentAssetRef
	case models.StatusPending:
		ref = ad.TempAssetRef
	}

	if ref == nil {
		return nil, fmt.Errorf("%w: no asset for advertisement %s", clients.ErrAssetNotFound, id)
	}

	return s.assets.Get(ctx, *ref)
}

// compensateLostCommit handles a finalize that lost the guard race after a
// successful promote. If a concurrent Commit won, the permanent object at
// the id-derived key is the winner's asset and must stay. If a Reject won,
// the object this call promoted is unreachable and is compensated away.
func (s *LifecycleService) compensateLostCommit(ctx context.Context, id uuid.UUID, permanentRef string, log *logger.Logger) {
	current, err := s.repo.Get(ctx, id)
	if err != nil {
		log.Warn("could not inspect record after lost commit race", "error", err)
		return
	}

	if current.Status != models.StatusRejected {
		return
	}

	log.Info("commit lost race to rejection, deleting promoted object", "permanent_ref", permanentRef)
	if err := s.assets.DeletePermanent(ctx, permanentRef); err != nil {
		log.Error("compensating deletion failed, permanent object orphaned",
			"permanent_ref", permanentRef,
			"error", err,
		)
	}
}

// publish emits a lifecycle event. Best effort: failures are logged and
// never fail the operation.
func (s *LifecycleService) publish(ctx context.Context, event string, ad *models.Advertisement) {
	if s.events == nil {
		return
	}

	_, err := s.events.AddToStream(ctx, LifecycleStream, map[string]interface{}{
		"event":  event,
		"ad_id":  ad.AdID.String(),
		"status": string(ad.Status),
	})
	if err != nil {
		s.log.Warn("failed to publish lifecycle event", "event", event, "ad_id", ad.AdID, "error", err)
	}
}

// invalidate drops a record from the read cache after a transition
func (s *LifecycleService) invalidate(ctx context.Context, id uuid.UUID) {
	if s.recordCache == nil {
		return
	}
	_ = s.recordCache.Delete(ctx, recordCacheKey(id))
}

func recordCacheKey(id uuid.UUID) string {
	return fmt.Sprintf("ad:record:%s", id)
}
