// Package entities contains the core domain objects for the river-levels application
package entities

import (
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Reading represents a single calibrated water-level sample of one gauge
type Reading struct {
	StationID string          // Gauge number, the partition of the time series
	Timestamp time.Time       // When the level was measured, second resolution
	Level     decimal.Decimal // Height above the station datum in metres
}

// Key identifies a reading within the store
type Key struct {
	StationID string
	Unix      int64
}

// NewReading builds a reading normalised to UTC and whole seconds
func NewReading(stationID string, ts time.Time, level decimal.Decimal) Reading {
	return Reading{
		StationID: stationID,
		Timestamp: ts.UTC().Truncate(time.Second),
		Level:     level,
	}
}

// Key returns the uniqueness key of the reading
func (r Reading) Key() Key {
	return Key{StationID: r.StationID, Unix: r.Timestamp.Unix()}
}

func (r Reading) String() string {
	return fmt.Sprintf("%s@%s=%sm", r.StationID, r.Timestamp.Format(time.RFC3339), r.Level.String())
}

// ResolveLevel converts a raw sensor value into a level above the station datum
func ResolveLevel(raw, datum decimal.Decimal) decimal.Decimal {
	return raw.Sub(datum)
}

// ParseLevel parses the raw value and datum offset and resolves the calibrated level
func ParseLevel(raw, datum string) (decimal.Decimal, error) {
	rawValue, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid raw value %q: %w", raw, err)
	}
	datumValue, err := decimal.NewFromString(datum)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("invalid datum offset %q: %w", datum, err)
	}
	return ResolveLevel(rawValue, datumValue), nil
}
