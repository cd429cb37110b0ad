package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/epimap/geodispatch/pkg/httpclient"
)

const googleGeocodingEndpoint = "/geocode/json"

// GoogleGeocoder implements Geocoder for the Google Geocoding API
type GoogleGeocoder struct {
	providerID string
	client     *httpclient.Client
}

// NewGoogleGeocoder creates a new Google Maps adapter
func NewGoogleGeocoder(p Provider, timeout time.Duration) *GoogleGeocoder {
	return &GoogleGeocoder{
		providerID: p.ID,
		client:     httpclient.NewClient(p.GeocodeBaseURL, timeout, httpclient.WithDefaultRetry()),
	}
}

type googleGeocodingResponse struct {
	Status       string `json:"status"`
	ErrorMessage string `json:"error_message,omitempty"`
	Results      []struct {
		FormattedAddress string `json:"formatted_address"`
		Geometry         struct {
			Location struct {
				Lat float64 `json:"lat"`
				Lng float64 `json:"lng"`
			} `json:"location"`
			LocationType string `json:"location_type"`
		} `json:"geometry"`
	} `json:"results"`
}

// Geocode converts an address to coordinates
func (g *GoogleGeocoder) Geocode(ctx context.Context, query, secret string) (*GeocodeResult, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: %s", ErrCredentialMissing, g.providerID)
	}

	params := url.Values{}
	params.Set("address", query)
	params.Set("key", secret)

	return g.fetch(ctx, query, params)
}

// ReverseGeocode converts coordinates to an address
func (g *GoogleGeocoder) ReverseGeocode(ctx context.Context, coord Coordinate, secret string) (*GeocodeResult, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: %s", ErrCredentialMissing, g.providerID)
	}

	params := url.Values{}
	params.Set("latlng", fmt.Sprintf("%.6f,%.6f", coord.Latitude, coord.Longitude))
	params.Set("key", secret)

	query := fmt.Sprintf("%.6f,%.6f", coord.Latitude, coord.Longitude)
	return g.fetch(ctx, query, params)
}

func (g *GoogleGeocoder) fetch(ctx context.Context, query string, params url.Values) (*GeocodeResult, error) {
	resp, err := g.client.Get(ctx, googleGeocodingEndpoint+"?"+params.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("google geocoding request failed: %w", err)
	}

	var googleResp googleGeocodingResponse
	if err := json.Unmarshal(resp, &googleResp); err != nil {
		return nil, fmt.Errorf("failed to parse google response: %w", err)
	}

	if googleResp.Status != "OK" {
		// The upstream error message can echo request details; report the
		// status code only.
		return nil, fmt.Errorf("google geocoding status: %s", googleResp.Status)
	}

	if len(googleResp.Results) == 0 {
		return nil, fmt.Errorf("no results for query")
	}

	result := googleResp.Results[0]
	return &GeocodeResult{
		Query:            query,
		ProviderID:       g.providerID,
		Coordinate:       Coordinate{Latitude: result.Geometry.Location.Lat, Longitude: result.Geometry.Location.Lng},
		FormattedAddress: result.FormattedAddress,
		Confidence:       googleConfidence(result.Geometry.LocationType),
	}, nil
}

func googleConfidence(locationType string) float64 {
	switch locationType {
	case "ROOFTOP":
		return 1.0
	case "RANGE_INTERPOLATED":
		return 0.8
	case "GEOMETRIC_CENTER":
		return 0.6
	case "APPROXIMATE":
		return 0.4
	default:
		return 0.5
	}
}
