package models

import (
	"time"

	"github.com/google/uuid"
)

// AdStatus represents the lifecycle state of an advertisement
type AdStatus string

const (
	// StatusPending is the only entry state; set when Generate completes
	StatusPending AdStatus = "PENDING"
	// StatusApproved is terminal; set when Commit completes
	StatusApproved AdStatus = "APPROVED"
	// StatusRejected is terminal; set by an explicit rejection
	StatusRejected AdStatus = "REJECTED"
)

// KeywordCount is the exact number of keywords every accepted copy carries.
// Partial keyword sets are never persisted.
const KeywordCount = 15

// DesignSpecs carries constraint hints forwarded to image generation
type DesignSpecs struct {
	Palette     string `json:"palette,omitempty"`
	AspectRatio string `json:"aspect_ratio,omitempty"`
	StyleHints  string `json:"style_hints,omitempty"`
}

// Brief is the caller-supplied input for a generation.
// Immutable after the record is created.
type Brief struct {
	CampaignName      string      `json:"campaign_name"`
	ProductName       string      `json:"product_name"`
	TargetAudience    string      `json:"target_audience"`
	BrandVoice        string      `json:"brand_voice"`
	VisualDescription string      `json:"visual_description"`
	DesignSpecs       DesignSpecs `json:"design_specs"`
}

// GeneratedContent is the structured copy produced from the generated image.
// Written once at Generate time, never mutated afterwards.
type GeneratedContent struct {
	Title       string   `json:"title"`
	Description string   `json:"description"`
	Keywords    []string `json:"keywords"`
}

// Advertisement is the sole persistent entity.
// Maps to: advertisement table
type Advertisement struct {
	// Primary key; also the deterministic naming basis for the
	// permanent asset key
	AdID uuid.UUID `db:"ad_id" json:"ad_id"`

	// Forward-only: PENDING -> APPROVED | REJECTED
	Status AdStatus `db:"status" json:"status"`

	Brief   Brief             `db:"brief" json:"brief"`
	Content *GeneratedContent `db:"content" json:"content,omitempty"`

	// Names of review policy rules that fired at generation time.
	// Advisory for the human reviewer, never blocks a transition.
	ReviewFlags []string `db:"review_flags" json:"review_flags,omitempty"`

	// Present from Generate until Commit clears it
	TempAssetRef *string `db:"temp_asset_ref" json:"temp_asset_ref,omitempty"`

	// Set if and only if status is APPROVED
	PermanentAssetRef *string `db:"permanent_asset_ref" json:"permanent_asset_ref,omitempty"`

	// Audit fields
	CreatedBy   string     `db:"created_by" json:"created_by"`
	GeneratedAt time.Time  `db:"generated_at" json:"generated_at"`
	ApprovedAt  *time.Time `db:"approved_at" json:"approved_at,omitempty"`
}

// IsPending checks if the advertisement still awaits review
func (a *Advertisement) IsPending() bool {
	return a.Status == StatusPending
}

// IsTerminal checks if the advertisement reached a final state
func (a *Advertisement) IsTerminal() bool {
	return a.Status == StatusApproved || a.Status == StatusRejected
}
