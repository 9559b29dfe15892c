package handlers

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/lyzr/adstudio/cmd/adstudio/repository"
	"github.com/lyzr/adstudio/cmd/adstudio/service"
	"github.com/lyzr/adstudio/common/bootstrap"
	"github.com/lyzr/adstudio/common/clients"
	"github.com/lyzr/adstudio/common/models"
)

const defaultListLimit = 50

// GenerateAdRequest is the request body for POST /ads
type GenerateAdRequest struct {
	CampaignName      string `json:"campaign_name"`
	ProductName       string `json:"product_name"`
	TargetAudience    string `json:"target_audience"`
	BrandVoice        string `json:"brand_voice"`
	VisualDescription string `json:"visual_description"`
	Palette           string `json:"palette"`
	AspectRatio       string `json:"aspect_ratio"`
	StyleHints        string `json:"style_hints"`
}

// ToBrief converts the request into the domain brief
func (r *GenerateAdRequest) ToBrief() models.Brief {
	return models.Brief{
		CampaignName:      r.CampaignName,
		ProductName:       r.ProductName,
		TargetAudience:    r.TargetAudience,
		BrandVoice:        r.BrandVoice,
		VisualDescription: r.VisualDescription,
		DesignSpecs: models.DesignSpecs{
			Palette:     r.Palette,
			AspectRatio: r.AspectRatio,
			StyleHints:  r.StyleHints,
		},
	}
}

// AdvertisementHandler handles advertisement lifecycle operations
type AdvertisementHandler struct {
	components *bootstrap.Components
	lifecycle  *service.LifecycleService
}

// NewAdvertisementHandler creates a new advertisement handler
func NewAdvertisementHandler(components *bootstrap.Components, lifecycle *service.LifecycleService) *AdvertisementHandler {
	return &AdvertisementHandler{
		components: components,
		lifecycle:  lifecycle,
	}
}

// Generate runs the generative pipeline for a brief
// POST /api/v1/ads
func (h *AdvertisementHandler) Generate(c echo.Context) error {
	var req GenerateAdRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	createdBy := c.Request().Header.Get("X-User-ID")
	if createdBy == "" {
		createdBy = "anonymous"
	}

	ad, err := h.lifecycle.Generate(c.Request().Context(), req.ToBrief(), createdBy)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusCreated, ad)
}

// Get retrieves an advertisement by id
// GET /api/v1/ads/:id
func (h *AdvertisementHandler) Get(c echo.Context) error {
	id, err := parseAdID(c)
	if err != nil {
		return err
	}

	ad, err := h.lifecycle.Get(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusOK, ad)
}

// List lists advertisements awaiting review
// GET /api/v1/ads
func (h *AdvertisementHandler) List(c echo.Context) error {
	ads, err := h.lifecycle.ListPending(c.Request().Context(), defaultListLimit)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusOK, map[string]interface{}{
		"ads":   ads,
		"count": len(ads),
	})
}

// Commit promotes and approves a pending advertisement
// POST /api/v1/ads/:id/commit
func (h *AdvertisementHandler) Commit(c echo.Context) error {
	id, err := parseAdID(c)
	if err != nil {
		return err
	}

	ad, err := h.lifecycle.Commit(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusOK, ad)
}

// Reject marks a pending advertisement as rejected
// POST /api/v1/ads/:id/reject
func (h *AdvertisementHandler) Reject(c echo.Context) error {
	id, err := parseAdID(c)
	if err != nil {
		return err
	}

	ad, err := h.lifecycle.Reject(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.JSON(http.StatusOK, ad)
}

// Asset serves the advertisement image bytes
// GET /api/v1/ads/:id/asset
func (h *AdvertisementHandler) Asset(c echo.Context) error {
	id, err := parseAdID(c)
	if err != nil {
		return err
	}

	data, err := h.lifecycle.Asset(c.Request().Context(), id)
	if err != nil {
		return h.mapError(c, err)
	}

	return c.Blob(http.StatusOK, "image/png", data)
}

// mapError translates the lifecycle error taxonomy to HTTP responses
func (h *AdvertisementHandler) mapError(c echo.Context, err error) error {
	log := h.components.Logger

	var partial *service.PartialCommitError
	var genErr *service.GenerationError
	var commitErr *service.CommitError

	switch {
	case errors.Is(err, service.ErrInvalidBrief):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())

	case errors.Is(err, repository.ErrNotFound), errors.Is(err, clients.ErrAssetNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())

	case errors.Is(err, repository.ErrInvalidTransition):
		return echo.NewHTTPError(http.StatusConflict, err.Error())

	case errors.As(err, &partial):
		// Distinguishable from ordinary failures so monitoring can alert
		// on cross-store inconsistency
		log.Error("partial commit requires reconciliation",
			"ad_id", partial.AdID,
			"permanent_ref", partial.PermanentRef,
			"error", err,
		)
		return c.JSON(http.StatusBadGateway, map[string]interface{}{
			"error":         "partial_commit",
			"ad_id":         partial.AdID,
			"permanent_ref": partial.PermanentRef,
		})

	case errors.As(err, &genErr):
		log.Error("generation failed", "stage", genErr.Stage, "timeout", genErr.Timeout(), "error", err)
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())

	case errors.As(err, &commitErr):
		log.Error("commit failed, safe to retry", "stage", commitErr.Stage, "error", err)
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())

	default:
		log.Error("request failed", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "internal error")
	}
}

func parseAdID(c echo.Context) (uuid.UUID, error) {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return uuid.Nil, echo.NewHTTPError(http.StatusBadRequest, "invalid ad id format")
	}
	return id, nil
}
