package overlay

import (
	"errors"
	"time"
)

// Domain errors for overlay building
var (
	ErrUnknownDisease = errors.New("no surveillance data for disease")
	ErrSourceFailure  = errors.New("surveillance source failure")
)

// Severity buckets for case-rate classification
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityModerate Severity = "moderate"
	SeverityHigh     Severity = "high"
)

// SurveillanceRow is one region's raw case report as delivered by a source.
type SurveillanceRow struct {
	RegionID    string    `json:"region_id"`
	RegionName  string    `json:"region_name"`
	DiseaseCode string    `json:"disease_code"`
	Cases       int64     `json:"cases"`
	Population  int64     `json:"population"`
	Latitude    float64   `json:"latitude"`
	Longitude   float64   `json:"longitude"`
	ReportedAt  time.Time `json:"reported_at"`
}

// Marker is one map overlay point. Severity is always derived from the rate,
// never set directly, so classification and value cannot drift apart.
type Marker struct {
	RegionID      string    `json:"region_id"`
	RegionName    string    `json:"region_name"`
	Latitude      float64   `json:"latitude"`
	Longitude     float64   `json:"longitude"`
	Cases         int64     `json:"cases"`
	Population    int64     `json:"population"`
	RatePer100k   float64   `json:"rate_per_100k"`
	Severity      Severity  `json:"severity"`
	LowConfidence bool      `json:"low_confidence"`
	LastUpdated   time.Time `json:"last_updated"`
	H3Cell        string    `json:"h3_cell,omitempty"`
}

// Overlay is the assembled response for one disease.
type Overlay struct {
	DiseaseCode  string    `json:"disease_code"`
	Markers      []Marker  `json:"markers"`
	H3Resolution int       `json:"h3_resolution,omitempty"`
	GeneratedAt  time.Time `json:"generated_at"`
}
