package providers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/epimap/geodispatch/pkg/config"
)

// ========================================
// HELPERS
// ========================================

func testCatalog() []config.ProviderConfig {
	return config.DefaultProviders()
}

func testProvider(id string) Provider {
	return Provider{
		ID:              id,
		DisplayName:     "Test Provider",
		TileURLTemplate: "https://tiles.example.com/{z}/{x}/{y}.png",
	}
}

// ========================================
// TESTS: Registry
// ========================================

func TestNewRegistry_DefaultCatalog(t *testing.T) {
	registry, err := NewRegistry(testCatalog())
	require.NoError(t, err)

	providers := registry.List()
	require.Len(t, providers, 3)
	assert.Equal(t, "osm", providers[0].ID)
	assert.Equal(t, "mapbox", providers[1].ID)
	assert.Equal(t, "google", providers[2].ID)
}

func TestNewRegistry_InvalidEntry(t *testing.T) {
	catalog := testCatalog()
	catalog[0].TileURLTemplate = "https://tile.example.com/static.png"

	_, err := NewRegistry(catalog)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidProvider)
}

func TestRegistry_Get_Unknown(t *testing.T) {
	registry, err := NewRegistry(testCatalog())
	require.NoError(t, err)

	_, err = registry.Get("bing")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestRegistry_Add_Duplicate(t *testing.T) {
	registry, err := NewRegistry(testCatalog())
	require.NoError(t, err)

	err = registry.Add(testProvider("osm"))
	assert.ErrorIs(t, err, ErrDuplicateProvider)
}

func TestRegistry_Add_VisibleToSubsequentLookups(t *testing.T) {
	registry, err := NewRegistry(testCatalog())
	require.NoError(t, err)

	require.NoError(t, registry.Add(testProvider("stamen")))

	p, err := registry.Get("stamen")
	require.NoError(t, err)
	assert.Equal(t, "stamen", p.ID)
	assert.Len(t, registry.List(), 4)
}

func TestRegistry_Add_RejectsUppercaseID(t *testing.T) {
	registry, err := NewRegistry(testCatalog())
	require.NoError(t, err)

	err = registry.Add(testProvider("Stamen"))
	assert.ErrorIs(t, err, ErrInvalidProvider)
}

func TestRegistry_Resolve_KeepsOrderDropsUnknown(t *testing.T) {
	registry, err := NewRegistry(testCatalog())
	require.NoError(t, err)

	resolved := registry.Resolve([]string{"google", "bing", "osm"})
	require.Len(t, resolved, 2)
	assert.Equal(t, "google", resolved[0].ID)
	assert.Equal(t, "osm", resolved[1].ID)
}

// ========================================
// TESTS: Provider validation
// ========================================

func TestProvider_Validate_GeocodeNeedsBaseURL(t *testing.T) {
	p := testProvider("custom")
	p.GeocodeCapability = true

	err := p.Validate()
	assert.ErrorIs(t, err, ErrInvalidProvider)

	p.GeocodeBaseURL = "https://geocode.example.com"
	assert.NoError(t, p.Validate())
}

func TestProvider_SupportsStyle(t *testing.T) {
	p := testProvider("custom")
	p.Styles = []string{"streets", "dark"}

	assert.True(t, p.SupportsStyle("streets"))
	assert.True(t, p.SupportsStyle(""))
	assert.False(t, p.SupportsStyle("satellite"))
	assert.Equal(t, "streets", p.DefaultStyle())
}
