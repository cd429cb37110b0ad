package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/epimap/geodispatch/internal/providers"
	"github.com/epimap/geodispatch/pkg/common"
	"github.com/epimap/geodispatch/pkg/middleware"
)

// ========================================
// HELPERS
// ========================================

func newTestRouter(t *testing.T, seed map[string]string) (*gin.Engine, *serviceDeps) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	deps := newTestService(t, seed)
	handler := NewHandler(deps.service)

	router := gin.New()
	api := router.Group("/api/v1")
	handler.RegisterRoutes(api)
	handler.RegisterAdminRoutes(api.Group("/admin"))

	return router, deps
}

func doRequest(router *gin.Engine, method, path, tier string, body interface{}) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}

	req := httptest.NewRequest(method, path, &buf)
	if tier != "" {
		req.Header.Set(middleware.TierHeader, tier)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func decodeResponse(t *testing.T, w *httptest.ResponseRecorder) common.Response {
	t.Helper()
	var resp common.Response
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	return resp
}

// ========================================
// TESTS: Public surface
// ========================================

func TestHandler_GetMapConfig(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/map/config", "free", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	assert.True(t, resp.Success)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "osm", data["provider_id"])
}

func TestHandler_GetMapConfig_DefaultsToFreeTier(t *testing.T) {
	router, _ := newTestRouter(t, map[string]string{"google": "kg"})

	w := doRequest(router, http.MethodGet, "/api/v1/map/config", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "osm", data["provider_id"])
}

func TestHandler_GetMapConfig_EntitlementDenied(t *testing.T) {
	router, _ := newTestRouter(t, map[string]string{"google": "kg"})

	w := doRequest(router, http.MethodGet, "/api/v1/map/config?provider=google", "free", nil)
	require.Equal(t, http.StatusForbidden, w.Code)

	resp := decodeResponse(t, w)
	assert.False(t, resp.Success)
	assert.Equal(t, "ENTITLEMENT_DENIED", resp.Error.ErrorCode)
}

func TestHandler_ResolveTile(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/tiles/osm/12/2048/1361", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "https://tile.openstreetmap.org/12/2048/1361.png", data["url"])
}

func TestHandler_ResolveTile_UnsupportedStyle(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/tiles/osm/1/0/0?style=satellite", "", nil)
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeResponse(t, w)
	assert.Equal(t, "UNSUPPORTED_STYLE", resp.Error.ErrorCode)
}

func TestHandler_ResolveTile_UnknownProvider(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/tiles/bing/1/0/0", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	resp := decodeResponse(t, w)
	assert.Equal(t, "INVALID_PROVIDER", resp.Error.ErrorCode)
}

func TestHandler_Geocode(t *testing.T) {
	router, deps := newTestRouter(t, nil)
	deps.geocoders["osm"].On("Geocode", mock.Anything, "Berlin", "").Return(&providers.GeocodeResult{
		Query:      "Berlin",
		ProviderID: "osm",
		Coordinate: providers.Coordinate{Latitude: 52.52, Longitude: 13.405},
	}, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/geocode?query=Berlin", "free", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "osm", data["provider_id"])
}

func TestHandler_Geocode_MissingQuery(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/geocode", "free", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Geocode_UnavailableCarriesReasons(t *testing.T) {
	router, deps := newTestRouter(t, nil)
	deps.geocoders["osm"].On("Geocode", mock.Anything, "Berlin", "").Return(nil, context.DeadlineExceeded)

	w := doRequest(router, http.MethodGet, "/api/v1/geocode?query=Berlin", "free", nil)
	require.Equal(t, http.StatusServiceUnavailable, w.Code)

	resp := decodeResponse(t, w)
	require.NotNil(t, resp.Error)
	require.Len(t, resp.Error.Reasons, 1)
	assert.Contains(t, resp.Error.Reasons[0], "osm: timeout")
}

func TestHandler_ReverseGeocode_InvalidCoordinates(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/geocode/reverse?latitude=123.4&longitude=13.4", "free", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_GetDiseaseOverlay(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/overlays/measles", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	markers := data["markers"].([]interface{})
	assert.Len(t, markers, 2)
}

func TestHandler_GetDiseaseOverlay_Unknown(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/overlays/dengue", "", nil)
	require.Equal(t, http.StatusNotFound, w.Code)

	resp := decodeResponse(t, w)
	assert.Equal(t, "UNKNOWN_DISEASE", resp.Error.ErrorCode)
}

// ========================================
// TESTS: Admin surface
// ========================================

func TestHandler_GetStatus(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodGet, "/api/v1/admin/status", "", nil)
	require.Equal(t, http.StatusOK, w.Code)

	resp := decodeResponse(t, w)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "failover", data["active_strategy"])
}

func TestHandler_SetStrategy(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodPut, "/api/v1/admin/strategy", "", gin.H{"strategy": "weighted"})
	require.Equal(t, http.StatusOK, w.Code)

	status := doRequest(router, http.MethodGet, "/api/v1/admin/status", "", nil)
	resp := decodeResponse(t, status)
	data := resp.Data.(map[string]interface{})
	assert.Equal(t, "weighted", data["active_strategy"])
}

func TestHandler_SetStrategy_Unknown(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodPut, "/api/v1/admin/strategy", "", gin.H{"strategy": "sticky"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_SetCredential_NeverEchoesSecret(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodPut, "/api/v1/admin/credentials", "", gin.H{
		"provider_id": "mapbox",
		"secret":      "sk.super-secret",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.NotContains(t, w.Body.String(), "sk.super-secret")
}

func TestHandler_SetCredential_NotApplicable(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodPut, "/api/v1/admin/credentials", "", gin.H{
		"provider_id": "osm",
		"secret":      "anything",
	})
	require.Equal(t, http.StatusBadRequest, w.Code)

	resp := decodeResponse(t, w)
	assert.Equal(t, "CREDENTIAL_NOT_APPLICABLE", resp.Error.ErrorCode)
}

func TestHandler_AddProvider(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/admin/providers", "", gin.H{
		"id":                "stamen",
		"display_name":      "Stamen",
		"tile_url_template": "https://tiles.stamen.com/{z}/{x}/{y}.png",
		"tiers":             []string{"free"},
	})
	require.Equal(t, http.StatusCreated, w.Code)

	tile := doRequest(router, http.MethodGet, "/api/v1/tiles/stamen/1/0/0", "", nil)
	assert.Equal(t, http.StatusOK, tile.Code)
}

func TestHandler_AddProvider_InvalidBody(t *testing.T) {
	router, _ := newTestRouter(t, nil)

	w := doRequest(router, http.MethodPost, "/api/v1/admin/providers", "", gin.H{
		"id": "Bad Name",
	})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
