package providers

import (
	"errors"
	"fmt"
	"strings"

	"github.com/epimap/geodispatch/pkg/config"
	"github.com/epimap/geodispatch/pkg/validation"
)

// Domain errors for the provider catalog
var (
	ErrUnknownProvider         = errors.New("unknown provider")
	ErrInvalidProvider         = errors.New("invalid provider definition")
	ErrDuplicateProvider       = errors.New("provider already registered")
	ErrCredentialNotApplicable = errors.New("provider does not accept credentials")
	ErrCredentialMissing       = errors.New("provider credential not configured")
	ErrUnsupportedStyle        = errors.New("style not supported by provider")
	ErrGeocodeNotSupported     = errors.New("provider has no geocoding capability")
)

// Provider is an immutable catalog record for one map-data provider.
type Provider struct {
	ID                 string   `json:"id"`
	DisplayName        string   `json:"display_name"`
	RequiresCredential bool     `json:"requires_credential"`
	TileURLTemplate    string   `json:"tile_url_template"`
	GeocodeCapability  bool     `json:"geocode_capability"`
	GeocodeBaseURL     string   `json:"geocode_base_url,omitempty"`
	Styles             []string `json:"styles,omitempty"`
}

// FromConfig converts a configured provider entry into a catalog record.
func FromConfig(cfg config.ProviderConfig) Provider {
	return Provider{
		ID:                 cfg.ID,
		DisplayName:        cfg.DisplayName,
		RequiresCredential: cfg.RequiresCredential,
		TileURLTemplate:    cfg.TileURLTemplate,
		GeocodeCapability:  cfg.GeocodeCapability,
		GeocodeBaseURL:     cfg.GeocodeBaseURL,
		Styles:             append([]string(nil), cfg.Styles...),
	}
}

// Validate checks that the record is well formed enough to serve traffic.
func (p Provider) Validate() error {
	if !validation.ValidateProviderID(p.ID) {
		return fmt.Errorf("%w: id %q must be a lowercase identifier", ErrInvalidProvider, p.ID)
	}
	if strings.TrimSpace(p.DisplayName) == "" {
		return fmt.Errorf("%w: display name is required", ErrInvalidProvider)
	}
	if !strings.Contains(p.TileURLTemplate, "{z}") ||
		!strings.Contains(p.TileURLTemplate, "{x}") ||
		!strings.Contains(p.TileURLTemplate, "{y}") {
		return fmt.Errorf("%w: tile template must contain {z}, {x} and {y}", ErrInvalidProvider)
	}
	if p.GeocodeCapability && strings.TrimSpace(p.GeocodeBaseURL) == "" {
		return fmt.Errorf("%w: geocode base url is required for geocode-capable providers", ErrInvalidProvider)
	}
	return nil
}

// DefaultStyle returns the style used when callers do not ask for one.
func (p Provider) DefaultStyle() string {
	if len(p.Styles) == 0 {
		return ""
	}
	return p.Styles[0]
}

// SupportsStyle reports whether the provider publishes the given style.
// Providers without a style list accept only the empty style.
func (p Provider) SupportsStyle(style string) bool {
	if style == "" {
		return true
	}
	for _, s := range p.Styles {
		if s == style {
			return true
		}
	}
	return false
}

// Coordinate represents a geographic point
type Coordinate struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// GeocodeResult is the normalized geocoding result shared by all adapters.
type GeocodeResult struct {
	Query            string     `json:"query"`
	ProviderID       string     `json:"provider_id"`
	Coordinate       Coordinate `json:"coordinate"`
	FormattedAddress string     `json:"formatted_address"`
	Confidence       float64    `json:"confidence"` // 0.0 to 1.0
}
