package providers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/epimap/geodispatch/pkg/httpclient"
)

const (
	nominatimSearchEndpoint  = "/search"
	nominatimReverseEndpoint = "/reverse"

	// Nominatim's usage policy requires an identifying user agent.
	nominatimUserAgent = "geodispatch/1.0"
)

// NominatimGeocoder implements Geocoder for OSM Nominatim and any other
// provider that speaks the Nominatim search protocol. No credential is used;
// the secret argument is accepted for interface parity and ignored.
type NominatimGeocoder struct {
	providerID string
	client     *httpclient.Client
}

// NewNominatimGeocoder creates a Nominatim adapter for the given provider.
func NewNominatimGeocoder(p Provider, timeout time.Duration) *NominatimGeocoder {
	return &NominatimGeocoder{
		providerID: p.ID,
		client:     httpclient.NewClient(p.GeocodeBaseURL, timeout, httpclient.WithDefaultRetry()),
	}
}

type nominatimPlace struct {
	Lat         string  `json:"lat"`
	Lon         string  `json:"lon"`
	DisplayName string  `json:"display_name"`
	Importance  float64 `json:"importance"`
}

// Geocode converts a free-form query to coordinates
func (n *NominatimGeocoder) Geocode(ctx context.Context, query, _ string) (*GeocodeResult, error) {
	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "1")

	resp, err := n.client.Get(ctx, nominatimSearchEndpoint+"?"+params.Encode(), n.headers())
	if err != nil {
		return nil, fmt.Errorf("nominatim geocoding request failed: %w", err)
	}

	var places []nominatimPlace
	if err := json.Unmarshal(resp, &places); err != nil {
		return nil, fmt.Errorf("failed to parse nominatim response: %w", err)
	}

	if len(places) == 0 {
		return nil, fmt.Errorf("no results for query")
	}

	return n.convert(query, places[0])
}

// ReverseGeocode converts coordinates to an address
func (n *NominatimGeocoder) ReverseGeocode(ctx context.Context, coord Coordinate, _ string) (*GeocodeResult, error) {
	params := url.Values{}
	params.Set("lat", strconv.FormatFloat(coord.Latitude, 'f', -1, 64))
	params.Set("lon", strconv.FormatFloat(coord.Longitude, 'f', -1, 64))
	params.Set("format", "json")

	resp, err := n.client.Get(ctx, nominatimReverseEndpoint+"?"+params.Encode(), n.headers())
	if err != nil {
		return nil, fmt.Errorf("nominatim reverse geocoding request failed: %w", err)
	}

	var place nominatimPlace
	if err := json.Unmarshal(resp, &place); err != nil {
		return nil, fmt.Errorf("failed to parse nominatim response: %w", err)
	}

	if place.DisplayName == "" {
		return nil, fmt.Errorf("no results for coordinate")
	}

	query := fmt.Sprintf("%.6f,%.6f", coord.Latitude, coord.Longitude)
	return n.convert(query, place)
}

func (n *NominatimGeocoder) headers() map[string]string {
	return map[string]string{"User-Agent": nominatimUserAgent}
}

func (n *NominatimGeocoder) convert(query string, place nominatimPlace) (*GeocodeResult, error) {
	lat, err := strconv.ParseFloat(place.Lat, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid latitude in nominatim response: %w", err)
	}
	lon, err := strconv.ParseFloat(place.Lon, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid longitude in nominatim response: %w", err)
	}

	confidence := place.Importance
	if confidence <= 0 || confidence > 1 {
		confidence = 0.5
	}

	return &GeocodeResult{
		Query:            query,
		ProviderID:       n.providerID,
		Coordinate:       Coordinate{Latitude: lat, Longitude: lon},
		FormattedAddress: place.DisplayName,
		Confidence:       confidence,
	}, nil
}
