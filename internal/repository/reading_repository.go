// Package repository provides data access implementations
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
)

// ErrUnknownBackend is returned by Open for an unsupported store backend
var ErrUnknownBackend = errors.New("unknown store backend")

// ReadingRepository defines the interface for time series persistence operations.
// The two write operations have different conflict policies on purpose.
type ReadingRepository interface {
	// PutReadingIfAbsent inserts the reading only if its key is not stored yet.
	// It reports false, without error, when the key already exists.
	PutReadingIfAbsent(ctx context.Context, reading entities.Reading) (bool, error)

	// PutReadingsBatch writes all readings of a station, overwriting existing keys.
	// When a key repeats, the last submitted level wins.
	PutReadingsBatch(ctx context.Context, stationID string, readings []entities.Reading) error

	// GetReadingsSince returns readings strictly newer than since, oldest first
	GetReadingsSince(ctx context.Context, stationID string, since time.Time) ([]entities.Reading, error)

	// GetAllReadings returns the whole series of a station, oldest first
	GetAllReadings(ctx context.Context, stationID string) ([]entities.Reading, error)

	Close() error
}

// dedupeByKey keeps the last reading submitted for every key, preserving first-seen order
func dedupeByKey(readings []entities.Reading) []entities.Reading {
	index := make(map[entities.Key]int, len(readings))
	out := make([]entities.Reading, 0, len(readings))
	for _, r := range readings {
		if i, ok := index[r.Key()]; ok {
			out[i] = r
			continue
		}
		index[r.Key()] = len(out)
		out = append(out, r)
	}
	return out
}
