package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/lyzr/adstudio/common/db"
	"github.com/lyzr/adstudio/common/models"
)

// ErrNotFound is returned when no advertisement exists for the given id
var ErrNotFound = errors.New("advertisement not found")

// ErrInvalidTransition is returned when a status-guarded write finds the
// record outside PENDING. Never retried by callers.
var ErrInvalidTransition = errors.New("advertisement status does not allow this transition")

// AdvertisementRepository handles database operations for advertisements.
//
// All writes are single-row, single-statement operations. The status guards
// on MarkApproved/MarkRejected are conditional updates enforced by the store
// itself, so they stay correct with multiple service instances behind a
// load balancer.
type AdvertisementRepository struct {
	db *db.DB
}

// NewAdvertisementRepository creates a new advertisement repository
func NewAdvertisementRepository(db *db.DB) *AdvertisementRepository {
	return &AdvertisementRepository{db: db}
}

// CreatePending inserts a new advertisement in PENDING state
func (r *AdvertisementRepository) CreatePending(ctx context.Context, ad *models.Advertisement) error {
	query := `
		INSERT INTO advertisement (
			ad_id, status, brief, content, review_flags,
			temp_asset_ref, created_by, generated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)
	`

	// A nil slice would encode as SQL NULL and violate the NOT NULL column
	flags := ad.ReviewFlags
	if flags == nil {
		flags = []string{}
	}

	_, err := r.db.Exec(ctx, query,
		ad.AdID,
		models.StatusPending,
		ad.Brief,
		ad.Content,
		flags,
		ad.TempAssetRef,
		ad.CreatedBy,
		ad.GeneratedAt,
	)

	if err != nil {
		return fmt.Errorf("failed to create advertisement: %w", err)
	}

	ad.Status = models.StatusPending
	return nil
}

// Get retrieves an advertisement by its ID
func (r *AdvertisementRepository) Get(ctx context.Context, id uuid.UUID) (*models.Advertisement, error) {
	query := `
		SELECT
			ad_id, status, brief, content, review_flags,
			temp_asset_ref, permanent_asset_ref,
			created_by, generated_at, approved_at
		FROM advertisement
		WHERE ad_id = $1
	`

	ad := &models.Advertisement{}
	err := r.db.QueryRow(ctx, query, id).Scan(
		&ad.AdID,
		&ad.Status,
		&ad.Brief,
		&ad.Content,
		&ad.ReviewFlags,
		&ad.TempAssetRef,
		&ad.PermanentAssetRef,
		&ad.CreatedBy,
		&ad.GeneratedAt,
		&ad.ApprovedAt,
	)

	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get advertisement: %w", err)
	}

	return ad, nil
}

// ListByStatus lists advertisements in a given status, newest first
func (r *AdvertisementRepository) ListByStatus(ctx context.Context, status models.AdStatus, limit int) ([]*models.Advertisement, error) {
	query := `
		SELECT
			ad_id, status, brief, content, review_flags,
			temp_asset_ref, permanent_asset_ref,
			created_by, generated_at, approved_at
		FROM advertisement
		WHERE status = $1
		ORDER BY generated_at DESC
		LIMIT $2
	`

	rows, err := r.db.Query(ctx, query, status, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list advertisements: %w", err)
	}
	defer rows.Close()

	var ads []*models.Advertisement
	for rows.Next() {
		ad := &models.Advertisement{}
		err := rows.Scan(
			&ad.AdID,
			&ad.Status,
			&ad.Brief,
			&ad.Content,
			&ad.ReviewFlags,
			&ad.TempAssetRef,
			&ad.PermanentAssetRef,
			&ad.CreatedBy,
			&ad.GeneratedAt,
			&ad.ApprovedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan advertisement: %w", err)
		}
		ads = append(ads, ad)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating advertisements: %w", err)
	}

	return ads, nil
}

// MarkApproved transitions PENDING -> APPROVED and records the permanent
// reference. The WHERE clause is the check-and-set: concurrent callers race
// on it, and exactly one wins.
func (r *AdvertisementRepository) MarkApproved(ctx context.Context, id uuid.UUID, permanentRef string, approvedAt time.Time) error {
	query := `
		UPDATE advertisement
		SET status = $2, permanent_asset_ref = $3, approved_at = $4, temp_asset_ref = NULL
		WHERE ad_id = $1 AND status = $5
	`

	tag, err := r.db.Exec(ctx, query, id, models.StatusApproved, permanentRef, approvedAt, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark advertisement approved: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return r.guardFailure(ctx, id)
	}

	return nil
}

// MarkRejected transitions PENDING -> REJECTED. Same guard as MarkApproved.
// The temporary asset is left in place for audit and external cleanup.
func (r *AdvertisementRepository) MarkRejected(ctx context.Context, id uuid.UUID) error {
	query := `
		UPDATE advertisement
		SET status = $2
		WHERE ad_id = $1 AND status = $3
	`

	tag, err := r.db.Exec(ctx, query, id, models.StatusRejected, models.StatusPending)
	if err != nil {
		return fmt.Errorf("failed to mark advertisement rejected: %w", err)
	}

	if tag.RowsAffected() == 0 {
		return r.guardFailure(ctx, id)
	}

	return nil
}

// guardFailure disambiguates a zero-row conditional update: the record is
// either missing or already terminal
func (r *AdvertisementRepository) guardFailure(ctx context.Context, id uuid.UUID) error {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM advertisement WHERE ad_id = $1)`, id).Scan(&exists)
	if err != nil {
		return fmt.Errorf("failed to check advertisement existence: %w", err)
	}

	if !exists {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}

	return fmt.Errorf("%w: %s", ErrInvalidTransition, id)
}
