package overlay

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Latest report per region for a disease. Older reports stay in the table
// for trend queries elsewhere.
const surveillanceQuery = `
SELECT DISTINCT ON (region_id)
       region_id, region_name, disease_code, cases, population,
       latitude, longitude, reported_at
FROM surveillance_reports
WHERE disease_code = $1
ORDER BY region_id, reported_at DESC`

// PostgresSource reads surveillance rows from the reporting database.
type PostgresSource struct {
	pool *pgxpool.Pool
}

// NewPostgresSource wraps an existing connection pool.
func NewPostgresSource(pool *pgxpool.Pool) *PostgresSource {
	return &PostgresSource{pool: pool}
}

// Rows fetches the latest report per region for a disease.
func (s *PostgresSource) Rows(ctx context.Context, diseaseCode string) ([]SurveillanceRow, error) {
	rows, err := s.pool.Query(ctx, surveillanceQuery, diseaseCode)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFailure, err)
	}
	defer rows.Close()

	var out []SurveillanceRow
	for rows.Next() {
		var r SurveillanceRow
		if err := rows.Scan(
			&r.RegionID, &r.RegionName, &r.DiseaseCode, &r.Cases, &r.Population,
			&r.Latitude, &r.Longitude, &r.ReportedAt,
		); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSourceFailure, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSourceFailure, err)
	}

	if len(out) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDisease, diseaseCode)
	}
	return out, nil
}
