package overlay

import (
	"context"
	"fmt"
	"sync"
)

// Source delivers raw surveillance rows for one disease. Implementations
// must be safe for concurrent use.
type Source interface {
	Rows(ctx context.Context, diseaseCode string) ([]SurveillanceRow, error)
}

// MemorySource serves rows from an in-memory table. It backs deployments
// without a surveillance database and the test suite.
type MemorySource struct {
	mu   sync.RWMutex
	rows map[string][]SurveillanceRow
}

// NewMemorySource seeds a source from a flat row list.
func NewMemorySource(rows []SurveillanceRow) *MemorySource {
	s := &MemorySource{rows: make(map[string][]SurveillanceRow)}
	for _, row := range rows {
		s.rows[row.DiseaseCode] = append(s.rows[row.DiseaseCode], row)
	}
	return s
}

// Rows returns the rows recorded for a disease.
func (s *MemorySource) Rows(_ context.Context, diseaseCode string) ([]SurveillanceRow, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, ok := s.rows[diseaseCode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownDisease, diseaseCode)
	}
	return append([]SurveillanceRow(nil), rows...), nil
}

// Upsert replaces the rows for a disease.
func (s *MemorySource) Upsert(diseaseCode string, rows []SurveillanceRow) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[diseaseCode] = append([]SurveillanceRow(nil), rows...)
}
