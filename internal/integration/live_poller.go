package integration

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/shopspring/decimal"
)

// DefaultLiveFeedURL lists the latest reading of every EPA Hydronet level gauge
const DefaultLiveFeedURL = "https://epawebapp.epa.ie/Hydronet/output/internet/layers/10/index.json"

// timestampLayouts are tried in order when parsing L1_timestamp
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.000-0700",
	"2006-01-02T15:04:05-0700",
	"2006-01-02 15:04:05Z07:00",
	"2006-01-02 15:04:05-07:00",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
}

// hydronetSnapshot is one entry of the live feed. Values may arrive as JSON
// strings or numbers, so they are decoded lazily for the matching station only.
type hydronetSnapshot struct {
	StationNo  json.RawMessage `json:"metadata_station_no"`
	Value      json.RawMessage `json:"L1_ts_value"`
	GaugeDatum json.RawMessage `json:"L1_station_gauge_datum"`
	Timestamp  string          `json:"L1_timestamp"`
}

// LivePoller fetches the most recent reading of a station from the live feed
type LivePoller struct {
	feedURL    string
	httpClient *http.Client
}

// NewLivePoller creates a new live feed poller
func NewLivePoller(feedURL string, timeout time.Duration) *LivePoller {
	if feedURL == "" {
		feedURL = DefaultLiveFeedURL
	}
	return &LivePoller{
		feedURL:    feedURL,
		httpClient: newHTTPClient(timeout),
	}
}

// FetchLatest returns the current reading of the station. The boolean is false
// when the station is absent from the snapshot, which is not an error.
func (p *LivePoller) FetchLatest(ctx context.Context, stationID string) (entities.Reading, bool, error) {
	log.Printf("Fetching live feed for station %s", stationID)
	res, err := get(ctx, p.httpClient, p.feedURL)
	if err != nil {
		return entities.Reading{}, false, err
	}
	defer res.Body.Close()

	var snapshots []hydronetSnapshot
	if err := json.NewDecoder(res.Body).Decode(&snapshots); err != nil {
		return entities.Reading{}, false, fmt.Errorf("failed to decode live feed: %w", err)
	}

	for _, s := range snapshots {
		if s.stationNo() != stationID {
			continue
		}
		reading, err := s.reading(stationID)
		if err != nil {
			return entities.Reading{}, false, err
		}
		log.Printf("Live feed reading for station %s: %s", stationID, reading)
		return reading, true, nil
	}

	log.Printf("Could not find station %s among %d live feed entries", stationID, len(snapshots))
	return entities.Reading{}, false, nil
}

func (s hydronetSnapshot) stationNo() string {
	var no string
	if err := json.Unmarshal(s.StationNo, &no); err == nil {
		return strings.TrimSpace(no)
	}
	return strings.TrimSpace(string(s.StationNo))
}

func (s hydronetSnapshot) reading(stationID string) (entities.Reading, error) {
	ts, err := ParseFeedTimestamp(s.Timestamp)
	if err != nil {
		return entities.Reading{}, fmt.Errorf("station %s: %w", stationID, err)
	}

	raw, err := decodeDecimal(s.Value)
	if err != nil {
		return entities.Reading{}, fmt.Errorf("station %s: invalid L1_ts_value: %w", stationID, err)
	}
	datum, err := decodeDecimal(s.GaugeDatum)
	if err != nil {
		return entities.Reading{}, fmt.Errorf("station %s: invalid L1_station_gauge_datum: %w", stationID, err)
	}

	return entities.NewReading(stationID, ts, entities.ResolveLevel(raw, datum)), nil
}

// decodeDecimal accepts a quoted or bare JSON number
func decodeDecimal(raw json.RawMessage) (decimal.Decimal, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return decimal.Decimal{}, fmt.Errorf("missing value")
	}
	var d decimal.Decimal
	if err := d.UnmarshalJSON(raw); err != nil {
		return decimal.Decimal{}, err
	}
	return d, nil
}

// ParseFeedTimestamp parses a live feed date-time. Values without a zone are UTC.
func ParseFeedTimestamp(value string) (time.Time, error) {
	value = strings.TrimSpace(value)
	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised timestamp %q", value)
}
