package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
)

// MemoryReadingRepository keeps readings in process memory. It is used by tests
// and by dry runs of the scraper.
type MemoryReadingRepository struct {
	mu       sync.RWMutex
	readings map[entities.Key]entities.Reading
}

// NewMemoryReadingRepository creates an empty in-memory repository
func NewMemoryReadingRepository() *MemoryReadingRepository {
	return &MemoryReadingRepository{readings: make(map[entities.Key]entities.Reading)}
}

func (m *MemoryReadingRepository) PutReadingIfAbsent(_ context.Context, reading entities.Reading) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.readings[reading.Key()]; ok {
		return false, nil
	}
	m.readings[reading.Key()] = reading
	return true, nil
}

func (m *MemoryReadingRepository) PutReadingsBatch(_ context.Context, stationID string, readings []entities.Reading) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range readings {
		r.StationID = stationID
		m.readings[r.Key()] = r
	}
	return nil
}

func (m *MemoryReadingRepository) GetReadingsSince(_ context.Context, stationID string, since time.Time) ([]entities.Reading, error) {
	return m.collect(stationID, func(r entities.Reading) bool {
		return r.Timestamp.Unix() > since.Unix()
	}), nil
}

func (m *MemoryReadingRepository) GetAllReadings(_ context.Context, stationID string) ([]entities.Reading, error) {
	return m.collect(stationID, func(entities.Reading) bool { return true }), nil
}

// Len returns the number of stored readings across all stations
func (m *MemoryReadingRepository) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.readings)
}

func (m *MemoryReadingRepository) Close() error { return nil }

func (m *MemoryReadingRepository) collect(stationID string, keep func(entities.Reading) bool) []entities.Reading {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []entities.Reading
	for _, r := range m.readings {
		if r.StationID == stationID && keep(r) {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}
