// Package usecases contains the application's business logic
package usecases

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/abelzeko/river-levels/internal/integration"
	"github.com/abelzeko/river-levels/internal/metrics"
	"github.com/abelzeko/river-levels/internal/repository"
)

// Defaults used when the reconciler is built with zero values
const (
	DefaultBackfillCount  = 3000
	DefaultBackfillWindow = 50 * 24 * time.Hour
)

// LatestReadingSource returns the current reading of a station
type LatestReadingSource interface {
	FetchLatest(ctx context.Context, stationID string) (entities.Reading, bool, error)
}

// ArchiveSource returns the newest n readings of a station archive
type ArchiveSource interface {
	Import(ctx context.Context, station entities.Station, n int) (integration.ImportResult, error)
}

// Mode selects the ingestion path of an invocation
type Mode string

const (
	ModeNone     Mode = ""
	ModeLive     Mode = "current"
	ModeBackfill Mode = "past"
)

// Outcome reports what a single reconciliation run stored
type Outcome struct {
	Mode        Mode
	StationID   string
	NewReadings int // Readings committed by this run
	Dropped     int // Archive lines rejected while importing
}

// Ingested reports whether new data arrived
func (o Outcome) Ingested() bool {
	return o.NewReadings > 0
}

func (o Outcome) String() string {
	if !o.Ingested() {
		return fmt.Sprintf("%s/%s: no change", o.Mode, o.StationID)
	}
	return fmt.Sprintf("%s/%s: ingested %d", o.Mode, o.StationID, o.NewReadings)
}

// Reconciler diffs candidate readings against the store and commits only new ones
type Reconciler struct {
	repo     repository.ReadingRepository
	poller   LatestReadingSource
	importer ArchiveSource

	BackfillCount  int
	BackfillWindow time.Duration
	Now            func() time.Time
}

// NewReconciler creates a reconciler with default backfill settings
func NewReconciler(repo repository.ReadingRepository, poller LatestReadingSource, importer ArchiveSource) *Reconciler {
	return &Reconciler{
		repo:           repo,
		poller:         poller,
		importer:       importer,
		BackfillCount:  DefaultBackfillCount,
		BackfillWindow: DefaultBackfillWindow,
		Now:            time.Now,
	}
}

// IngestLatest stores the live reading of the station if it is new
func (r *Reconciler) IngestLatest(ctx context.Context, station entities.Station) (Outcome, error) {
	outcome := Outcome{Mode: ModeLive, StationID: station.ID}

	reading, found, err := r.poller.FetchLatest(ctx, station.ID)
	if err != nil {
		return outcome, fmt.Errorf("failed to fetch live reading for %s: %w", station.ID, err)
	}
	if !found {
		log.Printf("No current reading available for station %s", station.ID)
		return outcome, nil
	}

	inserted, err := r.repo.PutReadingIfAbsent(ctx, reading)
	if err != nil {
		return outcome, fmt.Errorf("failed to store live reading for %s: %w", station.ID, err)
	}
	if inserted {
		outcome.NewReadings = 1
		metrics.ReadingsIngested.WithLabelValues(station.ID, string(ModeLive)).Inc()
	}

	log.Printf("Live reading %s: new=%t", reading, inserted)
	return outcome, nil
}

// Backfill imports the newest archive readings and stores those missing from the recent window
func (r *Reconciler) Backfill(ctx context.Context, station entities.Station) (Outcome, error) {
	outcome := Outcome{Mode: ModeBackfill, StationID: station.ID}

	imported, err := r.importer.Import(ctx, station, r.BackfillCount)
	if err != nil {
		return outcome, fmt.Errorf("failed to import archive for %s: %w", station.ID, err)
	}
	outcome.Dropped = imported.Dropped
	metrics.ArchiveRowsDropped.WithLabelValues(station.ID).Add(float64(imported.Dropped))

	since := r.Now().Add(-r.BackfillWindow)
	existing, err := r.repo.GetReadingsSince(ctx, station.ID, since)
	if err != nil {
		return outcome, fmt.Errorf("failed to read stored readings for %s: %w", station.ID, err)
	}

	fresh := NewReadings(imported.Readings, existing)
	if len(fresh) == 0 {
		log.Printf("No new archive readings for station %s (%d candidates, %d stored since %s)",
			station.ID, len(imported.Readings), len(existing), since.Format(time.RFC3339))
		return outcome, nil
	}

	log.Printf("Storing %d new archive readings for station %s", len(fresh), station.ID)
	if err := r.repo.PutReadingsBatch(ctx, station.ID, fresh); err != nil {
		return outcome, fmt.Errorf("failed to store archive readings for %s: %w", station.ID, err)
	}

	outcome.NewReadings = len(fresh)
	metrics.ReadingsIngested.WithLabelValues(station.ID, string(ModeBackfill)).Add(float64(len(fresh)))
	return outcome, nil
}

// NewReadings returns the candidates whose timestamp is not among the existing readings.
// Candidates sharing a timestamp collapse into one, the later one winning.
func NewReadings(candidates, existing []entities.Reading) []entities.Reading {
	stored := make(map[int64]struct{}, len(existing))
	for _, r := range existing {
		stored[r.Timestamp.Unix()] = struct{}{}
	}

	var fresh []entities.Reading
	seen := make(map[int64]int)
	for _, r := range candidates {
		key := r.Timestamp.Unix()
		if _, ok := stored[key]; ok {
			continue
		}
		if i, ok := seen[key]; ok {
			fresh[i] = r
			continue
		}
		seen[key] = len(fresh)
		fresh = append(fresh, r)
	}
	return fresh
}
