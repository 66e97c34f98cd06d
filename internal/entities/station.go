package entities

import "github.com/shopspring/decimal"

// Station describes a monitored gauge and where its data comes from
type Station struct {
	ID          string          `yaml:"id"`           // Live feed station number, e.g. 22039
	Name        string          `yaml:"name"`         // Display label, e.g. Flesk
	ArchiveURL  string          `yaml:"archive_url"`  // Zipped 15 minute history
	ArchiveFile string          `yaml:"archive_file"` // Entry inside the archive
	LowWater    decimal.Decimal `yaml:"low_water"`
	HighWater   decimal.Decimal `yaml:"high_water"`
}

// Label returns the name of the station, or its ID when unnamed
func (s Station) Label() string {
	if s.Name != "" {
		return s.Name
	}
	return s.ID
}
