package dispatch

import (
	"github.com/epimap/geodispatch/internal/entitlement"
)

// Status is the administrative snapshot of the dispatch state.
type Status struct {
	ActiveStrategy string                 `json:"active_strategy"`
	Providers      []ProviderHealth       `json:"providers"`
	Tiers          []entitlement.TierInfo `json:"tiers"`
}

// ProviderHealth summarizes one provider's operational standing. Secrets are
// reported as a boolean only.
type ProviderHealth struct {
	ID                   string `json:"id"`
	DisplayName          string `json:"display_name"`
	RequiresCredential   bool   `json:"requires_credential"`
	CredentialConfigured bool   `json:"credential_configured"`
	GeocodeCapability    bool   `json:"geocode_capability"`
	BreakerState         string `json:"breaker_state"`
}

// MapConfig is the resolved client-side map configuration for one request.
// The tile template keeps its placeholders; clients resolve concrete tile
// URLs through the tile endpoint.
type MapConfig struct {
	ProviderID      string   `json:"provider_id"`
	DisplayName     string   `json:"display_name"`
	TileURLTemplate string   `json:"tile_url_template"`
	Style           string   `json:"style"`
	Styles          []string `json:"styles,omitempty"`
}

// TileURL is the resolved tile location.
type TileURL struct {
	ProviderID string `json:"provider_id"`
	URL        string `json:"url"`
}

// AddProviderSpec describes a provider registered at runtime.
type AddProviderSpec struct {
	ID                 string
	DisplayName        string
	RequiresCredential bool
	TileURLTemplate    string
	GeocodeCapability  bool
	GeocodeBaseURL     string
	Styles             []string
	Tiers              []string
}
