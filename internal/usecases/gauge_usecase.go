package usecases

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/abelzeko/river-levels/internal/metrics"
	"github.com/abelzeko/river-levels/internal/publish"
	"github.com/abelzeko/river-levels/internal/repository"
	"github.com/google/uuid"
)

// Publisher delivers the rendered website to its destination
type Publisher interface {
	Publish(ctx context.Context, content []byte) error
}

// Notifier tells subscribers that a station received new data
type Notifier interface {
	Notify(ctx context.Context, station entities.Station, outcome Outcome, latest entities.Reading) error
}

// GaugeUseCase handles invocations and serves the stored series to consumers
type GaugeUseCase struct {
	repo        repository.ReadingRepository
	reconciler  *Reconciler
	stations    []entities.Station
	publisher   Publisher
	notifier    Notifier
	interpreter QueryInterpreter

	// Window bounds the series read for rendering and for /level lookups
	Window    time.Duration
	PageTitle string
	Now       func() time.Time
}

// NewGaugeUseCase creates a new gauge use case. publisher and notifier may be nil.
func NewGaugeUseCase(repo repository.ReadingRepository, reconciler *Reconciler, stations []entities.Station, publisher Publisher, notifier Notifier) *GaugeUseCase {
	return &GaugeUseCase{
		repo:       repo,
		reconciler: reconciler,
		stations:   stations,
		publisher:  publisher,
		notifier:   notifier,
		Window:     DefaultBackfillWindow,
		PageTitle:  "River levels",
		Now:        time.Now,
	}
}

// HandleEvent runs the mode selected by the payload for every station and
// reports whether any new data arrived. Unrecognised payloads are ignored.
func (uc *GaugeUseCase) HandleEvent(ctx context.Context, payload []byte) (bool, error) {
	runID := uuid.NewString()
	mode := ParseEvent(payload)
	log.Printf("[%s] Received event %q", runID, summarize(payload))

	if mode == ModeNone {
		log.Printf("[%s] Did nothing, could not parse event payload", runID)
		metrics.Invocations.WithLabelValues("none", "ignored").Inc()
		return false, nil
	}

	outcomes, err := uc.Run(ctx, mode)
	ingested := false
	for _, o := range outcomes {
		log.Printf("[%s] %s", runID, o)
		ingested = ingested || o.Ingested()
	}

	if ingested {
		log.Printf("[%s] Updated db with new values, making new graph", runID)
		uc.afterIngest(ctx, outcomes)
	} else if err == nil {
		log.Printf("[%s] No new values found", runID)
	}

	switch {
	case err != nil:
		metrics.Invocations.WithLabelValues(string(mode), "error").Inc()
		log.Printf("[%s] Invocation failed: %v", runID, err)
	case ingested:
		metrics.Invocations.WithLabelValues(string(mode), "ingested").Inc()
	default:
		metrics.Invocations.WithLabelValues(string(mode), "unchanged").Inc()
	}
	return ingested, err
}

// Run reconciles every configured station in the given mode. Stations are
// processed in order; a failing station does not stop the others, and all
// failures are joined into the returned error.
func (uc *GaugeUseCase) Run(ctx context.Context, mode Mode) ([]Outcome, error) {
	var (
		outcomes []Outcome
		errs     []error
	)

	for _, station := range uc.stations {
		var (
			outcome Outcome
			err     error
		)
		switch mode {
		case ModeLive:
			outcome, err = uc.reconciler.IngestLatest(ctx, station)
		case ModeBackfill:
			outcome, err = uc.reconciler.Backfill(ctx, station)
		default:
			return nil, fmt.Errorf("unsupported mode %q", mode)
		}
		if err != nil {
			errs = append(errs, err)
			continue
		}
		outcomes = append(outcomes, outcome)
	}

	return outcomes, errors.Join(errs...)
}

// afterIngest regenerates the website and notifies subscribers. Failures here
// are logged only, they never change the outcome of the invocation.
func (uc *GaugeUseCase) afterIngest(ctx context.Context, outcomes []Outcome) {
	if err := uc.RebuildWebsite(ctx); err != nil {
		log.Printf("Warning: failed to rebuild website: %v", err)
	}

	if uc.notifier == nil {
		return
	}
	for _, o := range outcomes {
		if !o.Ingested() {
			continue
		}
		station, ok := uc.FindStation(o.StationID)
		if !ok {
			continue
		}
		latest, found, err := uc.LatestReading(ctx, station)
		if err != nil || !found {
			log.Printf("Warning: no latest reading to notify for %s: %v", station.ID, err)
			continue
		}
		if err := uc.notifier.Notify(ctx, station, o, latest); err != nil {
			log.Printf("Warning: failed to notify about %s: %v", station.ID, err)
		}
	}
}

// RebuildWebsite renders the recent series of every station and publishes the page
func (uc *GaugeUseCase) RebuildWebsite(ctx context.Context) error {
	now := uc.Now()
	var sections []string

	for _, station := range uc.stations {
		readings, err := uc.repo.GetReadingsSince(ctx, station.ID, now.Add(-uc.Window))
		if err != nil {
			return fmt.Errorf("failed to read series for %s: %w", station.ID, err)
		}
		if len(readings) == 0 {
			log.Printf("No readings for station %s in the last %s, skipping graph", station.ID, uc.Window)
			continue
		}

		section, err := publish.RenderStation(publish.StationPage{
			Station:  station,
			Readings: readings,
			Now:      now,
		})
		if err != nil {
			return fmt.Errorf("failed to render %s: %w", station.ID, err)
		}
		sections = append(sections, section)
	}

	if len(sections) == 0 {
		log.Println("Nothing to publish")
		return nil
	}

	page, err := publish.ComposeIndex(uc.PageTitle, sections)
	if err != nil {
		return fmt.Errorf("failed to compose page: %w", err)
	}

	if uc.publisher == nil {
		log.Printf("Publishing disabled, rendered %d bytes for %d stations", len(page), len(sections))
		return nil
	}
	return uc.publisher.Publish(ctx, []byte(page))
}

// Stations returns the configured stations
func (uc *GaugeUseCase) Stations() []entities.Station {
	return uc.stations
}

// FindStation looks a station up by ID or name, ignoring case
func (uc *GaugeUseCase) FindStation(query string) (entities.Station, bool) {
	query = strings.TrimSpace(query)
	for _, s := range uc.stations {
		if strings.EqualFold(s.ID, query) || strings.EqualFold(s.Name, query) {
			return s, true
		}
	}
	return entities.Station{}, false
}

// LatestReading returns the newest stored reading of the station. The recent
// window is tried first; the full series is only scanned when it is empty.
func (uc *GaugeUseCase) LatestReading(ctx context.Context, station entities.Station) (entities.Reading, bool, error) {
	readings, err := uc.repo.GetReadingsSince(ctx, station.ID, uc.Now().Add(-uc.Window))
	if err != nil {
		return entities.Reading{}, false, err
	}
	if len(readings) == 0 {
		readings, err = uc.repo.GetAllReadings(ctx, station.ID)
		if err != nil {
			return entities.Reading{}, false, err
		}
	}
	if len(readings) == 0 {
		return entities.Reading{}, false, nil
	}
	return readings[len(readings)-1], true, nil
}

// RecentReadings returns the readings of the station stored within the last d
func (uc *GaugeUseCase) RecentReadings(ctx context.Context, station entities.Station, d time.Duration) ([]entities.Reading, error) {
	return uc.repo.GetReadingsSince(ctx, station.ID, uc.Now().Add(-d))
}

// FormatStationInfo formats the latest reading of a station for display
func (uc *GaugeUseCase) FormatStationInfo(station entities.Station, latest entities.Reading) string {
	var result strings.Builder
	result.WriteString(fmt.Sprintf("📍 Station: %s (%s)\n", station.Label(), station.ID))
	result.WriteString(fmt.Sprintf("💧 Water Level: %s m\n", latest.Level.StringFixed(2)))

	switch {
	case !station.HighWater.IsZero() && latest.Level.GreaterThanOrEqual(station.HighWater):
		result.WriteString("🌊 Above high water mark\n")
	case !station.LowWater.IsZero() && latest.Level.LessThanOrEqual(station.LowWater):
		result.WriteString("🏜 Below low water mark\n")
	}

	result.WriteString(fmt.Sprintf("🕒 Last update: %s", latest.Timestamp.Format("2006-01-02 15:04:05 MST")))
	return result.String()
}

func summarize(payload []byte) string {
	const limit = 120
	s := strings.TrimSpace(string(payload))
	if len(s) > limit {
		return s[:limit] + "..."
	}
	return s
}
