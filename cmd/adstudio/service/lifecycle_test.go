package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lyzr/adstudio/cmd/adstudio/repository"
	"github.com/lyzr/adstudio/common/cache"
	"github.com/lyzr/adstudio/common/clients"
	"github.com/lyzr/adstudio/common/logger"
	"github.com/lyzr/adstudio/common/models"
)

// fakeStore reproduces the repository's conditional-write semantics in
// memory: every transition is guarded on the current status under a lock,
// exactly like the single-statement conditional UPDATE.
type fakeStore struct {
	mu            sync.Mutex
	records       map[uuid.UUID]*models.Advertisement
	createErr     error
	approveErr    error
	approveCalls  int
	beforeApprove func(s *fakeStore)
}

func newFakeStore() *fakeStore {
	return &fakeStore{records: make(map[uuid.UUID]*models.Advertisement)}
}

func (s *fakeStore) CreatePending(ctx context.Context, ad *models.Advertisement) error {
	if s.createErr != nil {
		return s.createErr
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	stored := *ad
	s.records[ad.AdID] = &stored
	return nil
}

func (s *fakeStore) Get(ctx context.Context, id uuid.UUID) (*models.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: advertisement %s", repository.ErrNotFound, id)
	}

	out := *rec
	return &out, nil
}

func (s *fakeStore) ListByStatus(ctx context.Context, status models.AdStatus, limit int) ([]*models.Advertisement, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Advertisement
	for _, rec := range s.records {
		if rec.Status == status {
			c := *rec
			out = append(out, &c)
		}
	}
	return out, nil
}

func (s *fakeStore) MarkApproved(ctx context.Context, id uuid.UUID, permanentRef string, approvedAt time.Time) error {
	if s.beforeApprove != nil {
		s.beforeApprove(s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.approveCalls++
	if s.approveErr != nil {
		return s.approveErr
	}

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: advertisement %s", repository.ErrNotFound, id)
	}
	if rec.Status != models.StatusPending {
		return fmt.Errorf("%w: advertisement %s is %s", repository.ErrInvalidTransition, id, rec.Status)
	}

	rec.Status = models.StatusApproved
	rec.PermanentAssetRef = &permanentRef
	at := approvedAt
	rec.ApprovedAt = &at
	rec.TempAssetRef = nil
	return nil
}

func (s *fakeStore) MarkRejected(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return fmt.Errorf("%w: advertisement %s", repository.ErrNotFound, id)
	}
	if rec.Status != models.StatusPending {
		return fmt.Errorf("%w: advertisement %s is %s", repository.ErrInvalidTransition, id, rec.Status)
	}

	rec.Status = models.StatusRejected
	return nil
}

// setStatus mutates a record directly, bypassing the guards. Test-only
// back door for staging race outcomes.
func (s *fakeStore) setStatus(id uuid.UUID, status models.AdStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[id].Status = status
}

// fakeGenerator returns canned content without touching a provider
type fakeGenerator struct {
	err error
}

func (g *fakeGenerator) Generate(ctx context.Context, brief models.Brief) ([]byte, *models.GeneratedContent, error) {
	if g.err != nil {
		return nil, nil, g.err
	}

	kws := make([]string, models.KeywordCount)
	for i := range kws {
		kws[i] = fmt.Sprintf("keyword-%d", i)
	}

	return []byte("image-bytes"), &models.GeneratedContent{
		Title:       "Drive the Future",
		Description: "A sleek red sports car built for the open road.",
		Keywords:    kws,
	}, nil
}

// failingAssets wraps a real store and fails Promote
type failingAssets struct {
	clients.AssetStore
	promoteErr error
}

// capturingAssets wraps a real store and records the last temp reference,
// so tests can inspect staged assets after a failed Generate
type capturingAssets struct {
	clients.AssetStore
	lastTempRef string
}

func (c *capturingAssets) PutTemp(ctx context.Context, id uuid.UUID, data []byte) (string, error) {
	ref, err := c.AssetStore.PutTemp(ctx, id, data)
	c.lastTempRef = ref
	return ref, err
}

func (f *failingAssets) Promote(ctx context.Context, tempRef string, id uuid.UUID) (string, error) {
	return "", f.promoteErr
}

func newLifecycle(store AdvertisementStore, assets clients.AssetStore) *LifecycleService {
	return NewLifecycleService(
		store,
		assets,
		&fakeGenerator{},
		nil, // policy
		nil, // events
		nil, // cache
		0,
		3,
		time.Millisecond,
		logger.New("error", "text"),
	)
}

func permRefFor(id uuid.UUID) string {
	return fmt.Sprintf("ad:asset:perm:%s.png", id)
}

func TestLifecycle_Generate(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	assets := clients.NewMemoryAssetStore(logger.New("error", "text"))
	svc := newLifecycle(store, assets)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	assert.Equal(t, models.StatusPending, ad.Status)
	assert.Len(t, ad.Content.Keywords, models.KeywordCount)
	require.NotNil(t, ad.TempAssetRef)
	assert.Nil(t, ad.PermanentAssetRef)
	assert.Nil(t, ad.ApprovedAt)
	assert.Equal(t, "tester", ad.CreatedBy)
	require.NotNil(t, ad.ReviewFlags)

	// Asset was staged before the record was written
	data, err := assets.Get(ctx, *ad.TempAssetRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)

	stored, err := store.Get(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
}

func TestLifecycle_GenerateEmptyBrief(t *testing.T) {
	svc := newLifecycle(newFakeStore(), clients.NewMemoryAssetStore(logger.New("error", "text")))

	_, err := svc.Generate(context.Background(), models.Brief{CampaignName: "x"}, "tester")
	assert.ErrorIs(t, err, ErrInvalidBrief)
}

func TestLifecycle_GenerateRecordWriteFails(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.createErr = errors.New("connection refused")

	real := clients.NewMemoryAssetStore(logger.New("error", "text"))
	assets := &capturingAssets{AssetStore: real}
	svc := newLifecycle(store, assets)

	_, err := svc.Generate(ctx, testBrief(), "tester")
	require.Error(t, err)
	assert.Empty(t, store.records)

	// Asset-before-record ordering: the staged temp object is the only
	// orphan class, left in place for TTL cleanup. A record pointing at a
	// missing asset must never exist.
	require.NotEmpty(t, assets.lastTempRef)
	data, err := real.Get(ctx, assets.lastTempRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)
}

func TestLifecycle_GenerateUnflaggedContentKeepsEmptyFlags(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	assets := clients.NewMemoryAssetStore(logger.New("error", "text"))

	policy, err := NewReviewPolicy(DefaultPolicyRules(), logger.New("error", "text"))
	require.NoError(t, err)

	svc := NewLifecycleService(
		store,
		assets,
		&fakeGenerator{},
		policy,
		nil,
		nil,
		0,
		3,
		time.Millisecond,
		logger.New("error", "text"),
	)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	// No rule fires for clean content, but the flags stay an empty slice,
	// never nil: the review_flags column is NOT NULL and a nil slice would
	// write SQL NULL
	require.NotNil(t, ad.ReviewFlags)
	assert.Empty(t, ad.ReviewFlags)

	stored, err := store.Get(ctx, ad.AdID)
	require.NoError(t, err)
	require.NotNil(t, stored.ReviewFlags)
	assert.Empty(t, stored.ReviewFlags)
}

func TestLifecycle_Commit(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	assets := clients.NewMemoryAssetStore(logger.New("error", "text"))
	svc := newLifecycle(store, assets)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)
	originalContent := *ad.Content

	committed, err := svc.Commit(ctx, ad.AdID)
	require.NoError(t, err)

	assert.Equal(t, models.StatusApproved, committed.Status)
	require.NotNil(t, committed.PermanentAssetRef)
	assert.Equal(t, permRefFor(ad.AdID), *committed.PermanentAssetRef)
	assert.NotNil(t, committed.ApprovedAt)
	assert.Nil(t, committed.TempAssetRef)

	// Content is immutable across the transition
	assert.Equal(t, originalContent, *committed.Content)

	// Permanent object holds the staged bytes
	data, err := assets.Get(ctx, *committed.PermanentAssetRef)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)

	stored, err := store.Get(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
}

func TestLifecycle_CommitNotFound(t *testing.T) {
	svc := newLifecycle(newFakeStore(), clients.NewMemoryAssetStore(logger.New("error", "text")))

	_, err := svc.Commit(context.Background(), uuid.New())
	assert.ErrorIs(t, err, repository.ErrNotFound)
}

func TestLifecycle_CommitAlreadyApproved(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	assets := clients.NewMemoryAssetStore(logger.New("error", "text"))
	svc := newLifecycle(store, assets)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	first, err := svc.Commit(ctx, ad.AdID)
	require.NoError(t, err)

	_, err = svc.Commit(ctx, ad.AdID)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	// The winning commit's state is untouched
	stored, err := store.Get(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
	assert.Equal(t, *first.PermanentAssetRef, *stored.PermanentAssetRef)
}

func TestLifecycle_ConcurrentCommit(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	assets := clients.NewMemoryAssetStore(logger.New("error", "text"))
	svc := newLifecycle(store, assets)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	const callers = 4
	errs := make(chan error, callers)

	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.Commit(ctx, ad.AdID)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	var successes, invalid int
	for err := range errs {
		switch {
		case err == nil:
			successes++
		case errors.Is(err, repository.ErrInvalidTransition):
			invalid++
		default:
			t.Fatalf("unexpected commit error: %v", err)
		}
	}

	// Exactly one caller wins the guard
	assert.Equal(t, 1, successes)
	assert.Equal(t, callers-1, invalid)

	stored, err := store.Get(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, stored.Status)
	assert.Equal(t, permRefFor(ad.AdID), *stored.PermanentAssetRef)
}

func TestLifecycle_CommitPromoteFails(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	real := clients.NewMemoryAssetStore(logger.New("error", "text"))
	assets := &failingAssets{AssetStore: real, promoteErr: errors.New("store unavailable")}

	svc := newLifecycle(store, assets)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	_, err = svc.Commit(ctx, ad.AdID)

	var commitErr *CommitError
	require.ErrorAs(t, err, &commitErr)
	assert.Equal(t, StagePromote, commitErr.Stage)

	// Nothing changed: the whole commit is safe to retry
	stored, err := store.Get(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)
	assert.NotNil(t, stored.TempAssetRef)
}

func TestLifecycle_CommitFinalizeExhausted(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.approveErr = errors.New("connection reset")
	assets := clients.NewMemoryAssetStore(logger.New("error", "text"))
	svc := newLifecycle(store, assets)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	_, err = svc.Commit(ctx, ad.AdID)

	var partial *PartialCommitError
	require.ErrorAs(t, err, &partial)
	assert.Equal(t, ad.AdID, partial.AdID)
	assert.Equal(t, permRefFor(ad.AdID), partial.PermanentRef)

	// The full retry budget was spent before giving up
	assert.Equal(t, 3, store.approveCalls)

	// Record is still PENDING; the promoted object is the named orphan
	stored, err := store.Get(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, stored.Status)

	_, err = assets.Get(ctx, partial.PermanentRef)
	assert.NoError(t, err)
}

func TestLifecycle_CommitRetryAfterPartialFailure(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	store.approveErr = errors.New("connection reset")
	assets := clients.NewMemoryAssetStore(logger.New("error", "text"))
	svc := newLifecycle(store, assets)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	_, err = svc.Commit(ctx, ad.AdID)
	var partial *PartialCommitError
	require.ErrorAs(t, err, &partial)

	// Metadata store recovers; the retried commit re-promotes onto the
	// already-existing identical destination and finalizes
	store.approveErr = nil

	committed, err := svc.Commit(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, committed.Status)
	assert.Equal(t, partial.PermanentRef, *committed.PermanentAssetRef)
}

func TestLifecycle_CommitLosesRaceToReject(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	assets := clients.NewMemoryAssetStore(logger.New("error", "text"))
	svc := newLifecycle(store, assets)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	// A rejection lands between this commit's status read and its
	// finalize. The guard refuses, and the already-promoted object must
	// be compensated away.
	store.beforeApprove = func(s *fakeStore) {
		s.setStatus(ad.AdID, models.StatusRejected)
		s.beforeApprove = nil
	}

	_, err = svc.Commit(ctx, ad.AdID)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)

	_, err = assets.Get(ctx, permRefFor(ad.AdID))
	assert.ErrorIs(t, err, clients.ErrAssetNotFound)
}

func TestLifecycle_Reject(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	assets := clients.NewMemoryAssetStore(logger.New("error", "text"))
	svc := newLifecycle(store, assets)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	rejected, err := svc.Reject(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusRejected, rejected.Status)

	// Object store untouched: temp asset stays until TTL, nothing promoted
	_, err = assets.Get(ctx, *ad.TempAssetRef)
	assert.NoError(t, err)
	_, err = assets.Get(ctx, permRefFor(ad.AdID))
	assert.ErrorIs(t, err, clients.ErrAssetNotFound)

	_, err = svc.Commit(ctx, ad.AdID)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
}

func TestLifecycle_RejectTwice(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := newLifecycle(store, clients.NewMemoryAssetStore(logger.New("error", "text")))

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	_, err = svc.Reject(ctx, ad.AdID)
	require.NoError(t, err)

	_, err = svc.Reject(ctx, ad.AdID)
	assert.ErrorIs(t, err, repository.ErrInvalidTransition)
}

func TestLifecycle_Asset(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	assets := clients.NewMemoryAssetStore(logger.New("error", "text"))
	svc := newLifecycle(store, assets)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	// PENDING serves the temp asset
	data, err := svc.Asset(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)

	_, err = svc.Commit(ctx, ad.AdID)
	require.NoError(t, err)

	// APPROVED serves the permanent asset
	data, err = svc.Asset(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, []byte("image-bytes"), data)
}

func TestLifecycle_AssetAfterReject(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := newLifecycle(store, clients.NewMemoryAssetStore(logger.New("error", "text")))

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	_, err = svc.Reject(ctx, ad.AdID)
	require.NoError(t, err)

	_, err = svc.Asset(ctx, ad.AdID)
	assert.ErrorIs(t, err, clients.ErrAssetNotFound)
}

func TestLifecycle_GetCacheInvalidation(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	assets := clients.NewMemoryAssetStore(logger.New("error", "text"))

	svc := NewLifecycleService(
		store,
		assets,
		&fakeGenerator{},
		nil,
		nil,
		cache.NewMemoryCache(logger.New("error", "text")),
		time.Minute,
		3,
		time.Millisecond,
		logger.New("error", "text"),
	)

	ad, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	// Warm the cache with the PENDING record
	got, err := svc.Get(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusPending, got.Status)

	_, err = svc.Commit(ctx, ad.AdID)
	require.NoError(t, err)

	// Transition invalidated the cache; no stale PENDING read
	got, err = svc.Get(ctx, ad.AdID)
	require.NoError(t, err)
	assert.Equal(t, models.StatusApproved, got.Status)
}

func TestLifecycle_ListPending(t *testing.T) {
	ctx := context.Background()
	store := newFakeStore()
	svc := newLifecycle(store, clients.NewMemoryAssetStore(logger.New("error", "text")))

	first, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)
	second, err := svc.Generate(ctx, testBrief(), "tester")
	require.NoError(t, err)

	_, err = svc.Commit(ctx, first.AdID)
	require.NoError(t, err)

	pending, err := svc.ListPending(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, second.AdID, pending[0].AdID)
}
