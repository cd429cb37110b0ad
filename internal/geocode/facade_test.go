package geocode

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/epimap/geodispatch/internal/entitlement"
	"github.com/epimap/geodispatch/internal/providers"
	"github.com/epimap/geodispatch/internal/strategy"
	"github.com/epimap/geodispatch/pkg/config"
	"github.com/epimap/geodispatch/pkg/httpclient"
	"github.com/epimap/geodispatch/pkg/redis"
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
// FAKE: cache
// ========================================

type fakeCache struct {
	store map[string]string
}

func newFakeCache() *fakeCache {
	return &fakeCache{store: make(map[string]string)}
}

func (f *fakeCache) SetWithExpiration(_ context.Context, key string, value interface{}, _ time.Duration) error {
	f.store[key] = fmt.Sprint(value)
	return nil
}

func (f *fakeCache) GetString(_ context.Context, key string) (string, error) {
	val, ok := f.store[key]
	if !ok {
		return "", errors.New("cache miss")
	}
	return val, nil
}

func (f *fakeCache) Delete(_ context.Context, keys ...string) error {
	for _, key := range keys {
		delete(f.store, key)
	}
	return nil
}

func (f *fakeCache) Exists(_ context.Context, key string) (bool, error) {
	_, ok := f.store[key]
	return ok, nil
}

func (f *fakeCache) Close() error { return nil }

// ========================================
// HELPERS
// ========================================

type testDeps struct {
	facade      *Facade
	credentials *providers.CredentialStore
	registry    *providers.Registry
	geocoders   map[string]*mockGeocoder
}

func newTestFacade(t *testing.T, strategyKind string, seed map[string]string, cache *fakeCache) *testDeps {
	t.Helper()

	registry, err := providers.NewRegistry(config.DefaultProviders())
	require.NoError(t, err)

	credentials := providers.NewCredentialStore(seed)

	resolver, err := entitlement.NewResolver(config.DefaultTiers(), registry, credentials)
	require.NoError(t, err)

	engine, err := strategy.NewEngine(strategyKind, nil)
	require.NoError(t, err)

	mocks := map[string]*mockGeocoder{
		"osm":    {},
		"mapbox": {},
		"google": {},
	}
	geocoders := make(map[string]providers.Geocoder, len(mocks))
	for id, m := range mocks {
		geocoders[id] = m
	}

	cfg := config.DispatchConfig{
		GeocodeTimeoutSeconds: 2,
		CacheEnabled:          cache != nil,
		CacheTTLHours:         24,
		CachePrefix:           "test:",
	}

	var cacheClient redis.ClientInterface
	if cache != nil {
		cacheClient = cache
	}

	facade := NewFacade(resolver, engine, credentials, geocoders, cacheClient, cfg, config.CircuitBreakerConfig{})

	return &testDeps{
		facade:      facade,
		credentials: credentials,
		registry:    registry,
		geocoders:   mocks,
	}
}

func geocodeResult(providerID string) *providers.GeocodeResult {
	return &providers.GeocodeResult{
		Query:            "Berlin",
		ProviderID:       providerID,
		Coordinate:       providers.Coordinate{Latitude: 52.52, Longitude: 13.405},
		FormattedAddress: "Berlin, Deutschland",
		Confidence:       0.9,
	}
}

// ========================================
// TESTS: Geocode success paths
// ========================================

func TestGeocode_FreeTierUsesOSM(t *testing.T) {
	deps := newTestFacade(t, "failover", nil, nil)
	deps.geocoders["osm"].On("Geocode", mock.Anything, "Berlin", "").Return(geocodeResult("osm"), nil)

	result, err := deps.facade.Geocode(context.Background(), "Berlin", "free", "")
	require.NoError(t, err)
	assert.Equal(t, "osm", result.ProviderID)

	deps.geocoders["mapbox"].AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything, mock.Anything)
}

func TestGeocode_FirstSuccessStopsCascade(t *testing.T) {
	deps := newTestFacade(t, "failover", map[string]string{"google": "kg", "mapbox": "km"}, nil)
	deps.geocoders["google"].On("Geocode", mock.Anything, "Berlin", "kg").Return(geocodeResult("google"), nil)

	result, err := deps.facade.Geocode(context.Background(), "Berlin", "premium", "")
	require.NoError(t, err)
	assert.Equal(t, "google", result.ProviderID)

	deps.geocoders["mapbox"].AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything, mock.Anything)
	deps.geocoders["osm"].AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything, mock.Anything)
}

func TestGeocode_CascadesToNextOnFailure(t *testing.T) {
	// Premium tier with google uncredentialed: mapbox times out, osm saves
	// the request.
	deps := newTestFacade(t, "failover", map[string]string{"mapbox": "km"}, nil)
	deps.geocoders["mapbox"].On("Geocode", mock.Anything, "Berlin", "km").Return(nil, context.DeadlineExceeded)
	deps.geocoders["osm"].On("Geocode", mock.Anything, "Berlin", "").Return(geocodeResult("osm"), nil)

	result, err := deps.facade.Geocode(context.Background(), "Berlin", "premium", "")
	require.NoError(t, err)
	assert.Equal(t, "osm", result.ProviderID)

	deps.geocoders["google"].AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything, mock.Anything)
}

func TestGeocode_ExplicitProvider(t *testing.T) {
	deps := newTestFacade(t, "failover", map[string]string{"mapbox": "km"}, nil)
	deps.geocoders["mapbox"].On("Geocode", mock.Anything, "Berlin", "km").Return(geocodeResult("mapbox"), nil)

	result, err := deps.facade.Geocode(context.Background(), "Berlin", "enhanced", "mapbox")
	require.NoError(t, err)
	assert.Equal(t, "mapbox", result.ProviderID)
}

// ========================================
// TESTS: Geocode failure taxonomy
// ========================================

func TestGeocode_EntitlementDenied(t *testing.T) {
	deps := newTestFacade(t, "failover", map[string]string{"google": "kg"}, nil)

	_, err := deps.facade.Geocode(context.Background(), "Berlin", "free", "google")
	assert.ErrorIs(t, err, entitlement.ErrEntitlementDenied)
}

func TestGeocode_NoEligibleProvider(t *testing.T) {
	deps := newTestFacade(t, "failover", nil, nil)

	_, err := deps.facade.Geocode(context.Background(), "Berlin", "enhanced", "mapbox")
	assert.ErrorIs(t, err, entitlement.ErrNoEligibleProvider)
}

func TestGeocode_AllProvidersFail(t *testing.T) {
	deps := newTestFacade(t, "failover", map[string]string{"google": "kg", "mapbox": "km"}, nil)
	deps.geocoders["google"].On("Geocode", mock.Anything, "Berlin", "kg").Return(nil, context.DeadlineExceeded)
	deps.geocoders["mapbox"].On("Geocode", mock.Anything, "Berlin", "km").Return(nil, &httpclient.HTTPError{StatusCode: 502, Body: "secret km leaked"})
	deps.geocoders["osm"].On("Geocode", mock.Anything, "Berlin", "").Return(nil, errors.New("connection refused"))

	_, err := deps.facade.Geocode(context.Background(), "Berlin", "premium", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAllProvidersExhausted)

	var unavailable *UnavailableError
	require.ErrorAs(t, err, &unavailable)
	require.Len(t, unavailable.Reasons, 3)
	assert.Contains(t, unavailable.Reasons[0], "google: timeout")
	assert.Equal(t, "mapbox: upstream status 502", unavailable.Reasons[1])
	assert.Equal(t, "osm: request failed", unavailable.Reasons[2])

	// Raw upstream bodies never surface through the aggregate.
	assert.NotContains(t, err.Error(), "leaked")
}

func TestGeocode_CancellationShortCircuits(t *testing.T) {
	deps := newTestFacade(t, "failover", map[string]string{"google": "kg", "mapbox": "km"}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	deps.geocoders["google"].On("Geocode", mock.Anything, "Berlin", "kg").Run(func(mock.Arguments) {
		cancel()
	}).Return(nil, context.Canceled)

	_, err := deps.facade.Geocode(ctx, "Berlin", "premium", "")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrCancelled)
	assert.NotErrorIs(t, err, ErrAllProvidersExhausted)

	deps.geocoders["mapbox"].AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything, mock.Anything)
	deps.geocoders["osm"].AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything, mock.Anything)
}

// ========================================
// TESTS: Credential snapshot semantics
// ========================================

func TestGeocode_CredentialSnapshotHeldForWholeCascade(t *testing.T) {
	deps := newTestFacade(t, "failover", map[string]string{"google": "kg", "mapbox": "km-old"}, nil)

	mapbox := providers.Provider{ID: "mapbox", RequiresCredential: true}

	// The rotation lands while the first provider call is in flight; the
	// request keeps its snapshot.
	deps.geocoders["google"].On("Geocode", mock.Anything, "Berlin", "kg").Run(func(mock.Arguments) {
		require.NoError(t, deps.credentials.Set(mapbox, "km-new"))
	}).Return(nil, errors.New("upstream failure"))
	deps.geocoders["mapbox"].On("Geocode", mock.Anything, "Berlin", "km-old").Return(geocodeResult("mapbox"), nil)

	result, err := deps.facade.Geocode(context.Background(), "Berlin", "premium", "")
	require.NoError(t, err)
	assert.Equal(t, "mapbox", result.ProviderID)

	current, _ := deps.credentials.Get("mapbox")
	assert.Equal(t, "km-new", current)
}

// ========================================
// TESTS: Strategy interaction
// ========================================

func TestGeocode_RoundRobinWalksRingFromSelection(t *testing.T) {
	deps := newTestFacade(t, "round_robin", map[string]string{"google": "kg", "mapbox": "km"}, nil)

	// First request starts at google. Second request starts at mapbox and,
	// when mapbox fails, walks the ring to osm rather than restarting at
	// google.
	deps.geocoders["google"].On("Geocode", mock.Anything, "Berlin", "kg").Return(geocodeResult("google"), nil)
	deps.geocoders["mapbox"].On("Geocode", mock.Anything, "Berlin", "km").Return(nil, context.DeadlineExceeded)
	deps.geocoders["osm"].On("Geocode", mock.Anything, "Berlin", "").Return(geocodeResult("osm"), nil)

	first, err := deps.facade.Geocode(context.Background(), "Berlin", "premium", "")
	require.NoError(t, err)
	assert.Equal(t, "google", first.ProviderID)

	second, err := deps.facade.Geocode(context.Background(), "Berlin", "premium", "")
	require.NoError(t, err)
	assert.Equal(t, "osm", second.ProviderID)

	deps.geocoders["google"].AssertNumberOfCalls(t, "Geocode", 1)
}

// ========================================
// TESTS: Caching
// ========================================

func TestGeocode_CacheHitSkipsProviders(t *testing.T) {
	cache := newFakeCache()
	deps := newTestFacade(t, "failover", nil, cache)
	deps.geocoders["osm"].On("Geocode", mock.Anything, "Berlin", "").Return(geocodeResult("osm"), nil).Once()

	first, err := deps.facade.Geocode(context.Background(), "Berlin", "free", "")
	require.NoError(t, err)

	second, err := deps.facade.Geocode(context.Background(), "Berlin", "free", "")
	require.NoError(t, err)

	assert.Equal(t, first.Coordinate, second.Coordinate)
	deps.geocoders["osm"].AssertNumberOfCalls(t, "Geocode", 1)
}

func TestGeocode_CacheKeyScopedToTier(t *testing.T) {
	cache := newFakeCache()
	deps := newTestFacade(t, "failover", map[string]string{"mapbox": "km"}, cache)
	deps.geocoders["osm"].On("Geocode", mock.Anything, "Berlin", "").Return(geocodeResult("osm"), nil).Once()
	deps.geocoders["mapbox"].On("Geocode", mock.Anything, "Berlin", "km").Return(geocodeResult("mapbox"), nil).Once()

	free, err := deps.facade.Geocode(context.Background(), "Berlin", "free", "")
	require.NoError(t, err)
	assert.Equal(t, "osm", free.ProviderID)

	enhanced, err := deps.facade.Geocode(context.Background(), "Berlin", "enhanced", "")
	require.NoError(t, err)
	assert.Equal(t, "mapbox", enhanced.ProviderID)
}

// ========================================
// TESTS: Reverse geocoding
// ========================================

func TestReverseGeocode_Success(t *testing.T) {
	deps := newTestFacade(t, "failover", nil, nil)
	coord := providers.Coordinate{Latitude: 48.8589, Longitude: 2.32}
	deps.geocoders["osm"].On("ReverseGeocode", mock.Anything, coord, "").Return(&providers.GeocodeResult{
		Query:            "48.858900,2.320000",
		ProviderID:       "osm",
		Coordinate:       coord,
		FormattedAddress: "Paris, France",
		Confidence:       0.8,
	}, nil)

	result, err := deps.facade.ReverseGeocode(context.Background(), coord, "free", "")
	require.NoError(t, err)
	assert.Equal(t, "Paris, France", result.FormattedAddress)
}

// ========================================
// TESTS: Runtime adapter registration
// ========================================

func TestRegisterGeocoder_NewProviderServesRequests(t *testing.T) {
	deps := newTestFacade(t, "failover", nil, nil)

	require.NoError(t, deps.registry.Add(providers.Provider{
		ID:                "stamen",
		DisplayName:       "Stamen",
		TileURLTemplate:   "https://tiles.stamen.com/{z}/{x}/{y}.png",
		GeocodeCapability: true,
		GeocodeBaseURL:    "https://geocode.stamen.example",
	}))

	stamen := &mockGeocoder{}
	stamen.On("Geocode", mock.Anything, "Berlin", "").Return(geocodeResult("stamen"), nil)
	deps.facade.RegisterGeocoder("stamen", stamen)

	resolver := deps.facade.resolver
	require.NoError(t, resolver.Attach("free", "stamen"))

	deps.geocoders["osm"].On("Geocode", mock.Anything, "Berlin", "").Return(nil, errors.New("down"))

	result, err := deps.facade.Geocode(context.Background(), "Berlin", "free", "")
	require.NoError(t, err)
	assert.Equal(t, "stamen", result.ProviderID)
}
