package overlay

import (
	"context"
	"sort"
	"time"

	"github.com/uber/h3-go/v4"

	"github.com/epimap/geodispatch/pkg/config"
)

// Builder assembles case-rate overlays from a surveillance source.
type Builder struct {
	source Source
	cfg    config.OverlayConfig
	now    func() time.Time
}

// NewBuilder creates a builder over the given source.
func NewBuilder(source Source, cfg config.OverlayConfig) *Builder {
	return &Builder{
		source: source,
		cfg:    cfg,
		now:    time.Now,
	}
}

// Build produces the overlay for a disease. h3Resolution > 0 aggregates
// markers into hex cells at that resolution; 0 falls back to the configured
// default, and a negative value disables aggregation.
func (b *Builder) Build(ctx context.Context, diseaseCode string, h3Resolution int) (*Overlay, error) {
	rows, err := b.source.Rows(ctx, diseaseCode)
	if err != nil {
		return nil, err
	}

	thresholds := b.cfg.ThresholdsFor(diseaseCode)

	markers := make([]Marker, 0, len(rows))
	for _, row := range rows {
		markers = append(markers, markerFromRow(row, thresholds))
	}

	resolution := h3Resolution
	if resolution == 0 {
		resolution = b.cfg.H3Resolution
	}
	if resolution > 0 {
		markers = aggregateByCell(markers, resolution, thresholds)
	} else {
		resolution = 0
	}

	// Stable sort keeps equal-rate regions in source order.
	sort.SliceStable(markers, func(i, j int) bool {
		return markers[i].RatePer100k > markers[j].RatePer100k
	})

	return &Overlay{
		DiseaseCode:  diseaseCode,
		Markers:      markers,
		H3Resolution: resolution,
		GeneratedAt:  b.now().UTC(),
	}, nil
}

// markerFromRow computes the rate and classification for one region. A zero
// or negative population cannot produce a meaningful rate; the marker reports
// zero and is flagged low confidence instead of presenting the value as
// trustworthy.
func markerFromRow(row SurveillanceRow, thresholds config.SeverityThresholds) Marker {
	m := Marker{
		RegionID:    row.RegionID,
		RegionName:  row.RegionName,
		Latitude:    row.Latitude,
		Longitude:   row.Longitude,
		Cases:       row.Cases,
		Population:  row.Population,
		LastUpdated: row.ReportedAt,
	}

	if row.Population <= 0 {
		m.RatePer100k = 0
		m.LowConfidence = true
	} else {
		m.RatePer100k = float64(row.Cases) / float64(row.Population) * 100000
	}

	m.Severity = classify(m.RatePer100k, thresholds)
	return m
}

// classify buckets a rate. The moderate band is inclusive at both ends.
func classify(ratePer100k float64, thresholds config.SeverityThresholds) Severity {
	switch {
	case ratePer100k < thresholds.LowMax:
		return SeverityLow
	case ratePer100k <= thresholds.ModerateMax:
		return SeverityModerate
	default:
		return SeverityHigh
	}
}

// aggregateByCell merges markers that fall into the same H3 cell, keeping
// per-cell totals and recomputing the rate from them. Cell order follows the
// first marker observed in each cell.
func aggregateByCell(markers []Marker, resolution int, thresholds config.SeverityThresholds) []Marker {
	type bucket struct {
		marker Marker
		count  int
	}

	order := make([]string, 0, len(markers))
	buckets := make(map[string]*bucket, len(markers))

	for _, m := range markers {
		cell, err := h3.LatLngToCell(h3.NewLatLng(m.Latitude, m.Longitude), resolution)
		if err != nil {
			// Coordinates outside the valid range keep their own marker.
			m.LowConfidence = true
			order = append(order, m.RegionID)
			buckets[m.RegionID] = &bucket{marker: m, count: 1}
			continue
		}

		key := cell.String()
		existing, ok := buckets[key]
		if !ok {
			center := m
			if latLng, err := cell.LatLng(); err == nil {
				center.Latitude = latLng.Lat
				center.Longitude = latLng.Lng
			}
			center.H3Cell = key
			order = append(order, key)
			buckets[key] = &bucket{marker: center, count: 1}
			continue
		}

		existing.marker.Cases += m.Cases
		existing.marker.Population += m.Population
		existing.marker.LowConfidence = existing.marker.LowConfidence || m.LowConfidence
		// A merged cell is as fresh as its newest report.
		if m.LastUpdated.After(existing.marker.LastUpdated) {
			existing.marker.LastUpdated = m.LastUpdated
		}
		existing.marker.RegionID = key
		existing.marker.RegionName = ""
		existing.count++
	}

	out := make([]Marker, 0, len(order))
	for _, key := range order {
		b := buckets[key]
		m := b.marker

		if m.Population <= 0 {
			m.RatePer100k = 0
			m.LowConfidence = true
		} else {
			m.RatePer100k = float64(m.Cases) / float64(m.Population) * 100000
		}
		m.Severity = classify(m.RatePer100k, thresholds)

		out = append(out, m)
	}
	return out
}
