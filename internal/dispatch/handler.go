package dispatch

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/epimap/geodispatch/internal/entitlement"
	"github.com/epimap/geodispatch/internal/geocode"
	"github.com/epimap/geodispatch/internal/overlay"
	"github.com/epimap/geodispatch/internal/providers"
	"github.com/epimap/geodispatch/internal/strategy"
	"github.com/epimap/geodispatch/pkg/common"
	"github.com/epimap/geodispatch/pkg/logger"
	"github.com/epimap/geodispatch/pkg/middleware"
	"github.com/epimap/geodispatch/pkg/validation"
)

// statusClientClosedRequest mirrors nginx's non-standard code for
// caller-aborted requests.
const statusClientClosedRequest = 499

// Handler handles HTTP requests for the dispatch surface
type Handler struct {
	service *Service
}

// NewHandler creates a new dispatch handler
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers public data routes
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.GET("/map/config", h.GetMapConfig)
	rg.GET("/tiles/:provider/:z/:x/:y", h.ResolveTile)
	rg.GET("/geocode", h.Geocode)
	rg.GET("/geocode/reverse", h.ReverseGeocode)
	rg.GET("/overlays/:disease", h.GetDiseaseOverlay)
}

// RegisterAdminRoutes registers the operator surface. The caller is expected
// to guard the group with the internal API key middleware.
func (h *Handler) RegisterAdminRoutes(rg *gin.RouterGroup) {
	rg.GET("/status", h.GetStatus)
	rg.GET("/tiers", h.ListTiers)
	rg.PUT("/strategy", h.SetStrategy)
	rg.PUT("/credentials", h.SetCredential)
	rg.POST("/providers", h.AddProvider)
}

// ========================================
// PUBLIC HANDLERS
// ========================================

// GetMapConfig resolves the map configuration for the caller's tier
// @Summary Resolve map configuration
// @Tags Dispatch
// @Produce json
// @Success 200 {object} MapConfig
// @Router /api/v1/map/config [get]
func (h *Handler) GetMapConfig(c *gin.Context) {
	tier := callerTier(c)

	cfg, err := h.service.GetMapConfig(tier, c.Query("provider"), c.Query("style"))
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, cfg)
}

// ResolveTile resolves one concrete tile URL
// @Summary Resolve a tile URL
// @Tags Dispatch
// @Produce json
// @Success 200 {object} TileURL
// @Router /api/v1/tiles/{provider}/{z}/{x}/{y} [get]
func (h *Handler) ResolveTile(c *gin.Context) {
	z, errZ := strconv.Atoi(c.Param("z"))
	x, errX := strconv.Atoi(c.Param("x"))
	y, errY := strconv.Atoi(c.Param("y"))
	if errZ != nil || errX != nil || errY != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "tile coordinates must be integers")
		return
	}

	req := validation.TileRequest{
		Zoom:       z,
		X:          x,
		Y:          y,
		Style:      c.Query("style"),
		ProviderID: c.Param("provider"),
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	tile, err := h.service.ResolveTileURL(req.ProviderID, providers.TileRequest{
		Z: req.Zoom, X: req.X, Y: req.Y, Style: req.Style,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, tile)
}

// Geocode resolves a free-text address
// @Summary Geocode an address
// @Tags Dispatch
// @Produce json
// @Success 200 {object} providers.GeocodeResult
// @Router /api/v1/geocode [get]
func (h *Handler) Geocode(c *gin.Context) {
	req := validation.GeocodeRequest{
		Query:      c.Query("query"),
		ProviderID: c.Query("provider"),
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	result, err := h.service.Geocode(c.Request.Context(), req.Query, callerTier(c), req.ProviderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, result)
}

// ReverseGeocode resolves coordinates to an address
// @Summary Reverse geocode coordinates
// @Tags Dispatch
// @Produce json
// @Success 200 {object} providers.GeocodeResult
// @Router /api/v1/geocode/reverse [get]
func (h *Handler) ReverseGeocode(c *gin.Context) {
	lat, errLat := strconv.ParseFloat(c.Query("latitude"), 64)
	lng, errLng := strconv.ParseFloat(c.Query("longitude"), 64)
	if errLat != nil || errLng != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "latitude and longitude are required")
		return
	}

	req := validation.ReverseGeocodeRequest{
		Latitude:   lat,
		Longitude:  lng,
		ProviderID: c.Query("provider"),
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	coord := providers.Coordinate{Latitude: req.Latitude, Longitude: req.Longitude}
	result, err := h.service.ReverseGeocode(c.Request.Context(), coord, callerTier(c), req.ProviderID)
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, result)
}

// GetDiseaseOverlay builds the classified marker overlay for a disease
// @Summary Build a disease surveillance overlay
// @Tags Dispatch
// @Produce json
// @Success 200 {object} overlay.Overlay
// @Router /api/v1/overlays/{disease} [get]
func (h *Handler) GetDiseaseOverlay(c *gin.Context) {
	resolution := 0
	if raw := c.Query("resolution"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			common.ErrorResponse(c, http.StatusBadRequest, "resolution must be an integer")
			return
		}
		resolution = parsed
	}

	req := validation.OverlayRequest{
		DiseaseCode: c.Param("disease"),
		Resolution:  resolution,
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	built, err := h.service.GetDiseaseOverlay(c.Request.Context(), req.DiseaseCode, req.Resolution)
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, built)
}

// ========================================
// ADMIN HANDLERS
// ========================================

// GetStatus returns the dispatch operational snapshot
func (h *Handler) GetStatus(c *gin.Context) {
	common.SuccessResponse(c, h.service.GetStatus())
}

// ListTiers returns tier definitions with resolved configured flags
func (h *Handler) ListTiers(c *gin.Context) {
	common.SuccessResponse(c, h.service.ListTiers())
}

// SetStrategy switches the active selection strategy
func (h *Handler) SetStrategy(c *gin.Context) {
	var req validation.SetStrategyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.SetStrategy(c.Request.Context(), req.Strategy); err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"strategy": req.Strategy})
}

// SetCredential rotates a provider secret. The secret never appears in the
// response or any log line.
func (h *Handler) SetCredential(c *gin.Context) {
	var req validation.SetCredentialRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.service.SetCredential(c.Request.Context(), req.ProviderID, req.Secret); err != nil {
		h.respondError(c, err)
		return
	}

	common.SuccessResponse(c, gin.H{"provider_id": req.ProviderID})
}

// AddProvider registers a provider at runtime
func (h *Handler) AddProvider(c *gin.Context) {
	var req validation.AddProviderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := validation.ValidateStruct(&req); err != nil {
		common.ErrorResponse(c, http.StatusBadRequest, err.Error())
		return
	}

	err := h.service.AddProvider(c.Request.Context(), AddProviderSpec{
		ID:                 req.ID,
		DisplayName:        req.DisplayName,
		RequiresCredential: req.RequiresCredential,
		TileURLTemplate:    req.TileURLTemplate,
		GeocodeCapability:  req.GeocodeCapability,
		GeocodeBaseURL:     req.GeocodeBaseURL,
		Styles:             req.Styles,
		Tiers:              req.Tiers,
	})
	if err != nil {
		h.respondError(c, err)
		return
	}

	common.CreatedResponse(c, gin.H{"provider_id": req.ID})
}

// ========================================
// ERROR MAPPING
// ========================================

// respondError maps domain errors onto the stable HTTP error contract.
func (h *Handler) respondError(c *gin.Context, err error) {
	var unavailable *geocode.UnavailableError
	if errors.As(err, &unavailable) {
		common.ErrorResponseWithReasons(c, http.StatusServiceUnavailable, "geocoding unavailable", unavailable.Reasons)
		return
	}

	switch {
	case errors.Is(err, entitlement.ErrEntitlementDenied):
		appErr := common.NewForbiddenError("provider not available on this tier", err).WithErrorCode("ENTITLEMENT_DENIED")
		common.AppErrorResponse(c, appErr)
	case errors.Is(err, entitlement.ErrNoEligibleProvider):
		appErr := common.NewUnavailableError("no eligible provider for tier", err).WithErrorCode("NO_ELIGIBLE_PROVIDER")
		common.AppErrorResponse(c, appErr)
	case errors.Is(err, entitlement.ErrUnknownTier):
		appErr := common.NewBadRequestError("unknown subscription tier", err).WithErrorCode("UNKNOWN_TIER")
		common.AppErrorResponse(c, appErr)
	case errors.Is(err, providers.ErrUnsupportedStyle):
		appErr := common.NewBadRequestError("style not supported by provider", err).WithErrorCode("UNSUPPORTED_STYLE")
		common.AppErrorResponse(c, appErr)
	case errors.Is(err, providers.ErrUnknownProvider):
		appErr := common.NewNotFoundError("unknown provider", err).WithErrorCode("INVALID_PROVIDER")
		common.AppErrorResponse(c, appErr)
	case errors.Is(err, providers.ErrDuplicateProvider):
		appErr := common.NewConflictError("provider already registered", err).WithErrorCode("DUPLICATE_PROVIDER")
		common.AppErrorResponse(c, appErr)
	case errors.Is(err, providers.ErrInvalidProvider):
		appErr := common.NewBadRequestError("invalid provider definition", err).WithErrorCode("INVALID_PROVIDER")
		common.AppErrorResponse(c, appErr)
	case errors.Is(err, providers.ErrCredentialNotApplicable):
		appErr := common.NewBadRequestError("provider does not accept credentials", err).WithErrorCode("CREDENTIAL_NOT_APPLICABLE")
		common.AppErrorResponse(c, appErr)
	case errors.Is(err, providers.ErrCredentialMissing):
		appErr := common.NewUnavailableError("provider credential not configured", err).WithErrorCode("CREDENTIAL_MISSING")
		common.AppErrorResponse(c, appErr)
	case errors.Is(err, strategy.ErrUnknownStrategy):
		appErr := common.NewBadRequestError("unknown selection strategy", err).WithErrorCode("UNKNOWN_STRATEGY")
		common.AppErrorResponse(c, appErr)
	case errors.Is(err, geocode.ErrCancelled):
		common.ErrorResponse(c, statusClientClosedRequest, "request cancelled")
	case errors.Is(err, overlay.ErrUnknownDisease):
		appErr := common.NewNotFoundError("no surveillance data for disease", err).WithErrorCode("UNKNOWN_DISEASE")
		common.AppErrorResponse(c, appErr)
	case errors.Is(err, overlay.ErrSourceFailure):
		appErr := common.NewUnavailableError("surveillance source unavailable", err).WithErrorCode("SOURCE_UNAVAILABLE")
		common.AppErrorResponse(c, appErr)
	default:
		logger.ErrorContext(c.Request.Context(), "unhandled dispatch error", zap.Error(err))
		common.ErrorResponse(c, http.StatusInternalServerError, "internal server error")
	}
}

// callerTier reads the subscription tier asserted by the gateway. Requests
// without the header run as the free tier.
func callerTier(c *gin.Context) string {
	tier := c.GetHeader(middleware.TierHeader)
	if tier == "" {
		return entitlement.TierFree
	}
	return tier
}
