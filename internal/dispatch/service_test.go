package dispatch

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/epimap/geodispatch/internal/entitlement"
	"github.com/epimap/geodispatch/internal/geocode"
	"github.com/epimap/geodispatch/internal/overlay"
	"github.com/epimap/geodispatch/internal/providers"
	"github.com/epimap/geodispatch/internal/strategy"
	"github.com/epimap/geodispatch/pkg/config"
)

// ========================================
// MOCK: Geocoder
// ========================================

type mockGeocoder struct {
	mock.Mock
}

func (m *mockGeocoder) Geocode(ctx context.Context, query, secret string) (*providers.GeocodeResult, error) {
	args := m.Called(ctx, query, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.GeocodeResult), args.Error(1)
}

func (m *mockGeocoder) ReverseGeocode(ctx context.Context, coord providers.Coordinate, secret string) (*providers.GeocodeResult, error) {
	args := m.Called(ctx, coord, secret)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*providers.GeocodeResult), args.Error(1)
}

// ========================================
// HELPERS
// ========================================

type serviceDeps struct {
	service     *Service
	credentials *providers.CredentialStore
	geocoders   map[string]*mockGeocoder
}

func newTestService(t *testing.T, seed map[string]string) *serviceDeps {
	t.Helper()

	cfg := &config.Config{
		Server: config.ServerConfig{ServiceName: "dispatch"},
		Dispatch: config.DispatchConfig{
			Providers:             config.DefaultProviders(),
			Tiers:                 config.DefaultTiers(),
			Strategy:              "failover",
			GeocodeTimeoutSeconds: 2,
		},
		Overlay: config.OverlayConfig{LowMax: 50, ModerateMax: 200},
	}

	registry, err := providers.NewRegistry(cfg.Dispatch.Providers)
	require.NoError(t, err)

	credentials := providers.NewCredentialStore(seed)

	resolver, err := entitlement.NewResolver(cfg.Dispatch.Tiers, registry, credentials)
	require.NoError(t, err)

	engine, err := strategy.NewEngine(cfg.Dispatch.Strategy, nil)
	require.NoError(t, err)

	mocks := map[string]*mockGeocoder{"osm": {}, "mapbox": {}, "google": {}}
	geocoders := make(map[string]providers.Geocoder, len(mocks))
	for id, m := range mocks {
		geocoders[id] = m
	}

	facade := geocode.NewFacade(resolver, engine, credentials, geocoders, nil, cfg.Dispatch, config.CircuitBreakerConfig{})

	source := overlay.NewMemorySource([]overlay.SurveillanceRow{
		{RegionID: "r1", RegionName: "Mitte", DiseaseCode: "measles", Cases: 120, Population: 100_000, Latitude: 52.52, Longitude: 13.4},
		{RegionID: "r2", RegionName: "Pankow", DiseaseCode: "measles", Cases: 30, Population: 0, Latitude: 52.57, Longitude: 13.4},
	})
	builder := overlay.NewBuilder(source, cfg.Overlay)

	service := NewService(registry, credentials, resolver, engine, facade, builder, nil, cfg)

	return &serviceDeps{service: service, credentials: credentials, geocoders: mocks}
}

// ========================================
// TESTS: Status and tiers
// ========================================

func TestGetStatus(t *testing.T) {
	deps := newTestService(t, map[string]string{"mapbox": "km"})

	status := deps.service.GetStatus()
	assert.Equal(t, "failover", status.ActiveStrategy)
	require.Len(t, status.Providers, 3)
	require.Len(t, status.Tiers, 3)

	byID := map[string]ProviderHealth{}
	for _, p := range status.Providers {
		byID[p.ID] = p
	}
	assert.True(t, byID["osm"].CredentialConfigured)
	assert.True(t, byID["mapbox"].CredentialConfigured)
	assert.False(t, byID["google"].CredentialConfigured)
	assert.Equal(t, "closed", byID["osm"].BreakerState)
}

func TestListTiers_ConfiguredFlags(t *testing.T) {
	deps := newTestService(t, nil)

	tiers := deps.service.ListTiers()
	require.Len(t, tiers, 3)
	assert.Equal(t, "free", tiers[0].Name)
	require.Len(t, tiers[0].Providers, 1)
	assert.True(t, tiers[0].Providers[0].Configured)
}

// ========================================
// TESTS: Admin operations
// ========================================

func TestSetCredential_UnknownProvider(t *testing.T) {
	deps := newTestService(t, nil)

	err := deps.service.SetCredential(context.Background(), "bing", "secret")
	assert.ErrorIs(t, err, providers.ErrUnknownProvider)
}

func TestSetCredential_NotApplicable(t *testing.T) {
	deps := newTestService(t, nil)

	err := deps.service.SetCredential(context.Background(), "osm", "secret")
	assert.ErrorIs(t, err, providers.ErrCredentialNotApplicable)
}

func TestSetCredential_EnablesProvider(t *testing.T) {
	deps := newTestService(t, nil)

	require.NoError(t, deps.service.SetCredential(context.Background(), "mapbox", "km"))

	cfg, err := deps.service.GetMapConfig("enhanced", "", "")
	require.NoError(t, err)
	assert.Equal(t, "mapbox", cfg.ProviderID)
}

func TestSetStrategy(t *testing.T) {
	deps := newTestService(t, nil)

	require.NoError(t, deps.service.SetStrategy(context.Background(), "round_robin"))
	assert.Equal(t, "round_robin", deps.service.GetStatus().ActiveStrategy)

	err := deps.service.SetStrategy(context.Background(), "sticky")
	assert.ErrorIs(t, err, strategy.ErrUnknownStrategy)
	assert.Equal(t, "round_robin", deps.service.GetStatus().ActiveStrategy)
}

func TestAddProvider(t *testing.T) {
	deps := newTestService(t, nil)

	err := deps.service.AddProvider(context.Background(), AddProviderSpec{
		ID:              "stamen",
		DisplayName:     "Stamen",
		TileURLTemplate: "https://tiles.stamen.com/{z}/{x}/{y}.png",
		Tiers:           []string{"free"},
	})
	require.NoError(t, err)

	cfg, err := deps.service.GetMapConfig("free", "stamen", "")
	require.NoError(t, err)
	assert.Equal(t, "stamen", cfg.ProviderID)

	err = deps.service.AddProvider(context.Background(), AddProviderSpec{
		ID:              "stamen",
		DisplayName:     "Stamen",
		TileURLTemplate: "https://tiles.stamen.com/{z}/{x}/{y}.png",
	})
	assert.ErrorIs(t, err, providers.ErrDuplicateProvider)
}

func TestAddProvider_UnknownTierLeavesRegistryUntouched(t *testing.T) {
	deps := newTestService(t, nil)

	err := deps.service.AddProvider(context.Background(), AddProviderSpec{
		ID:              "stamen",
		DisplayName:     "Stamen",
		TileURLTemplate: "https://tiles.stamen.com/{z}/{x}/{y}.png",
		Tiers:           []string{"free", "gold"},
	})
	require.ErrorIs(t, err, entitlement.ErrUnknownTier)

	// The failed registration must not leave the provider behind.
	_, err = deps.service.ResolveTileURL("stamen", providers.TileRequest{Z: 1})
	assert.ErrorIs(t, err, providers.ErrUnknownProvider)
	assert.Len(t, deps.service.GetStatus().Providers, 3)
}

// ========================================
// TESTS: Map config and tiles
// ========================================

func TestGetMapConfig_FreeTier(t *testing.T) {
	deps := newTestService(t, nil)

	cfg, err := deps.service.GetMapConfig("free", "", "")
	require.NoError(t, err)
	assert.Equal(t, "osm", cfg.ProviderID)
	assert.Equal(t, "standard", cfg.Style)
	assert.Contains(t, cfg.TileURLTemplate, "{z}")
}

func TestGetMapConfig_UnsupportedStyle(t *testing.T) {
	deps := newTestService(t, nil)

	_, err := deps.service.GetMapConfig("free", "", "satellite-v9")
	assert.ErrorIs(t, err, providers.ErrUnsupportedStyle)
}

func TestGetMapConfig_EntitlementDenied(t *testing.T) {
	deps := newTestService(t, map[string]string{"google": "kg"})

	_, err := deps.service.GetMapConfig("free", "google", "")
	assert.ErrorIs(t, err, entitlement.ErrEntitlementDenied)
}

func TestResolveTileURL_Idempotent(t *testing.T) {
	deps := newTestService(t, nil)
	req := providers.TileRequest{Z: 12, X: 2048, Y: 1361}

	first, err := deps.service.ResolveTileURL("osm", req)
	require.NoError(t, err)
	second, err := deps.service.ResolveTileURL("osm", req)
	require.NoError(t, err)

	assert.Equal(t, first.URL, second.URL)
	assert.Equal(t, "https://tile.openstreetmap.org/12/2048/1361.png", first.URL)
}

func TestResolveTileURL_CredentialSubstituted(t *testing.T) {
	deps := newTestService(t, map[string]string{"mapbox": "sk.token"})

	tile, err := deps.service.ResolveTileURL("mapbox", providers.TileRequest{Z: 1, X: 0, Y: 0})
	require.NoError(t, err)
	assert.Contains(t, tile.URL, "access_token=sk.token")
}

// ========================================
// TESTS: Geocode pass-through
// ========================================

func TestGeocode_EndToEndFreeTier(t *testing.T) {
	deps := newTestService(t, nil)
	deps.geocoders["osm"].On("Geocode", mock.Anything, "1600 Amphitheatre Parkway", "").Return(&providers.GeocodeResult{
		Query:      "1600 Amphitheatre Parkway",
		ProviderID: "osm",
		Coordinate: providers.Coordinate{Latitude: 37.42, Longitude: -122.08},
		Confidence: 0.8,
	}, nil)

	result, err := deps.service.Geocode(context.Background(), "1600 Amphitheatre Parkway", "free", "")
	require.NoError(t, err)
	assert.Equal(t, "osm", result.ProviderID)
}

func TestGeocode_PremiumFailoverScenario(t *testing.T) {
	// Google lacks a credential, mapbox times out, osm answers.
	deps := newTestService(t, map[string]string{"mapbox": "km"})
	deps.geocoders["mapbox"].On("Geocode", mock.Anything, "Berlin", "km").Return(nil, context.DeadlineExceeded)
	deps.geocoders["osm"].On("Geocode", mock.Anything, "Berlin", "").Return(&providers.GeocodeResult{
		Query:      "Berlin",
		ProviderID: "osm",
		Confidence: 0.7,
	}, nil)

	result, err := deps.service.Geocode(context.Background(), "Berlin", "premium", "")
	require.NoError(t, err)
	assert.Equal(t, "osm", result.ProviderID)

	deps.geocoders["google"].AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything, mock.Anything)
	deps.geocoders["mapbox"].AssertNumberOfCalls(t, "Geocode", 1)
}

// ========================================
// TESTS: Overlay pass-through
// ========================================

func TestGetDiseaseOverlay(t *testing.T) {
	deps := newTestService(t, nil)

	built, err := deps.service.GetDiseaseOverlay(context.Background(), "measles", -1)
	require.NoError(t, err)
	require.Len(t, built.Markers, 2)

	// Rate 120 sorts first; the zero-population region trails flagged.
	assert.Equal(t, "r1", built.Markers[0].RegionID)
	assert.Equal(t, overlay.SeverityModerate, built.Markers[0].Severity)
	assert.True(t, built.Markers[1].LowConfidence)

	_, err = deps.service.GetDiseaseOverlay(context.Background(), "dengue", -1)
	assert.ErrorIs(t, err, overlay.ErrUnknownDisease)
}
