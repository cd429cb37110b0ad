package providers

import (
	"context"
	"fmt"
	"time"
)

// Geocoder is the adapter contract each geocode-capable provider implements.
// The secret is passed per call so a request operates on the credential
// snapshot it took at selection time.
type Geocoder interface {
	Geocode(ctx context.Context, query, secret string) (*GeocodeResult, error)
	ReverseGeocode(ctx context.Context, coord Coordinate, secret string) (*GeocodeResult, error)
}

// NewGeocoder builds the adapter for a geocode-capable provider. The three
// shipped providers get their native adapters; any other geocode-capable
// provider is assumed to speak the Nominatim protocol against its configured
// base URL.
func NewGeocoder(p Provider, timeout time.Duration) (Geocoder, error) {
	if !p.GeocodeCapability {
		return nil, fmt.Errorf("%w: %s", ErrGeocodeNotSupported, p.ID)
	}

	switch p.ID {
	case "mapbox":
		return NewMapboxGeocoder(p, timeout), nil
	case "google":
		return NewGoogleGeocoder(p, timeout), nil
	default:
		return NewNominatimGeocoder(p, timeout), nil
	}
}

// BuildGeocoders constructs adapters for every geocode-capable provider in
// the catalog, keyed by provider identifier.
func BuildGeocoders(catalog []Provider, timeout time.Duration) map[string]Geocoder {
	geocoders := make(map[string]Geocoder)
	for _, p := range catalog {
		if !p.GeocodeCapability {
			continue
		}
		if g, err := NewGeocoder(p, timeout); err == nil {
			geocoders[p.ID] = g
		}
	}
	return geocoders
}
