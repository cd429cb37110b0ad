package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"time"

	"github.com/epimap/geodispatch/pkg/httpclient"
)

const mapboxGeocodingEndpoint = "/geocoding/v5/mapbox.places"

// MapboxGeocoder implements Geocoder for the Mapbox Geocoding API
type MapboxGeocoder struct {
	providerID string
	client     *httpclient.Client
}

// NewMapboxGeocoder creates a new Mapbox adapter
func NewMapboxGeocoder(p Provider, timeout time.Duration) *MapboxGeocoder {
	return &MapboxGeocoder{
		providerID: p.ID,
		client:     httpclient.NewClient(p.GeocodeBaseURL, timeout, httpclient.WithDefaultRetry()),
	}
}

type mapboxResponse struct {
	Features []struct {
		PlaceName string    `json:"place_name"`
		Center    []float64 `json:"center"` // [longitude, latitude]
		Relevance float64   `json:"relevance"`
	} `json:"features"`
	Message string `json:"message,omitempty"`
}

// Geocode converts a free-form query to coordinates
func (m *MapboxGeocoder) Geocode(ctx context.Context, query, secret string) (*GeocodeResult, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: %s", ErrCredentialMissing, m.providerID)
	}

	params := url.Values{}
	params.Set("access_token", secret)
	params.Set("limit", "1")

	path := fmt.Sprintf("%s/%s.json?%s", mapboxGeocodingEndpoint, url.PathEscape(query), params.Encode())
	return m.fetch(ctx, query, path)
}

// ReverseGeocode converts coordinates to an address
func (m *MapboxGeocoder) ReverseGeocode(ctx context.Context, coord Coordinate, secret string) (*GeocodeResult, error) {
	if secret == "" {
		return nil, fmt.Errorf("%w: %s", ErrCredentialMissing, m.providerID)
	}

	params := url.Values{}
	params.Set("access_token", secret)
	params.Set("limit", "1")

	query := fmt.Sprintf("%.6f,%.6f", coord.Latitude, coord.Longitude)
	path := fmt.Sprintf("%s/%f,%f.json?%s", mapboxGeocodingEndpoint, coord.Longitude, coord.Latitude, params.Encode())
	return m.fetch(ctx, query, path)
}

func (m *MapboxGeocoder) fetch(ctx context.Context, query, path string) (*GeocodeResult, error) {
	resp, err := m.client.Get(ctx, path, nil)
	if err != nil {
		return nil, fmt.Errorf("mapbox geocoding request failed: %w", err)
	}

	var mbResp mapboxResponse
	if err := json.Unmarshal(resp, &mbResp); err != nil {
		return nil, fmt.Errorf("failed to parse mapbox response: %w", err)
	}

	if len(mbResp.Features) == 0 {
		return nil, fmt.Errorf("no results for query")
	}

	feature := mbResp.Features[0]
	if len(feature.Center) != 2 {
		return nil, fmt.Errorf("malformed center in mapbox response")
	}

	confidence := feature.Relevance
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}

	return &GeocodeResult{
		Query:            query,
		ProviderID:       m.providerID,
		Coordinate:       Coordinate{Latitude: feature.Center[1], Longitude: feature.Center[0]},
		FormattedAddress: feature.PlaceName,
		Confidence:       confidence,
	}, nil
}
