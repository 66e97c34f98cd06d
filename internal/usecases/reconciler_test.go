package usecases

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/abelzeko/river-levels/internal/integration"
	"github.com/abelzeko/river-levels/internal/metrics"
	"github.com/abelzeko/river-levels/internal/repository"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var flesk = entities.Station{ID: "22039", Name: "Flesk"}

func at(unix int64, level string) entities.Reading {
	return entities.NewReading(flesk.ID, time.Unix(unix, 0), decimal.RequireFromString(level))
}

type stubPoller struct {
	reading entities.Reading
	found   bool
	err     error
}

func (s stubPoller) FetchLatest(context.Context, string) (entities.Reading, bool, error) {
	return s.reading, s.found, s.err
}

type stubImporter struct {
	result    integration.ImportResult
	err       error
	requested int
}

func (s *stubImporter) Import(_ context.Context, _ entities.Station, n int) (integration.ImportResult, error) {
	s.requested = n
	return s.result, s.err
}

// failingRepository fails every operation with err
type failingRepository struct {
	repository.ReadingRepository
	err error
}

func (f failingRepository) PutReadingIfAbsent(context.Context, entities.Reading) (bool, error) {
	return false, f.err
}

func (f failingRepository) GetReadingsSince(context.Context, string, time.Time) ([]entities.Reading, error) {
	return nil, f.err
}

func TestNewReadingsIsSetDifferenceByTimestamp(t *testing.T) {
	existing := []entities.Reading{at(100, "1.0"), at(200, "1.1")}
	candidates := []entities.Reading{at(100, "1.0"), at(200, "1.1"), at(300, "1.2")}

	fresh := NewReadings(candidates, existing)
	require.Len(t, fresh, 1)
	assert.Equal(t, int64(300), fresh[0].Timestamp.Unix())
}

func TestNewReadingsIgnoresLevelDifferences(t *testing.T) {
	fresh := NewReadings([]entities.Reading{at(100, "9.9")}, []entities.Reading{at(100, "1.0")})
	assert.Empty(t, fresh)
}

func TestNewReadingsCollapsesDuplicateCandidates(t *testing.T) {
	fresh := NewReadings([]entities.Reading{at(100, "1.0"), at(200, "1.1"), at(100, "1.2")}, nil)
	require.Len(t, fresh, 2)
	assert.Equal(t, int64(100), fresh[0].Timestamp.Unix())
	assert.Equal(t, "1.2", fresh[0].Level.String())
	assert.Equal(t, int64(200), fresh[1].Timestamp.Unix())
}

func TestIngestLatestEndToEnd(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `[{"metadata_station_no":"22039","L1_ts_value":"1.52","L1_station_gauge_datum":"0.3","L1_timestamp":"2024-01-01T10:00:00Z"}]`)
	}))
	defer server.Close()

	repo := repository.NewMemoryReadingRepository()
	reconciler := NewReconciler(repo, integration.NewLivePoller(server.URL, time.Second), &stubImporter{})
	ctx := context.Background()

	outcome, err := reconciler.IngestLatest(ctx, flesk)
	require.NoError(t, err)
	assert.True(t, outcome.Ingested())
	assert.Equal(t, 1, repo.Len())

	stored, err := repo.GetAllReadings(ctx, flesk.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, "1.22", stored[0].Level.String())
	assert.Equal(t, time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC), stored[0].Timestamp)

	outcome, err = reconciler.IngestLatest(ctx, flesk)
	require.NoError(t, err)
	assert.False(t, outcome.Ingested())
	assert.Equal(t, 1, repo.Len())
}

func TestIngestLatestStationAbsent(t *testing.T) {
	repo := repository.NewMemoryReadingRepository()
	reconciler := NewReconciler(repo, stubPoller{found: false}, &stubImporter{})

	outcome, err := reconciler.IngestLatest(context.Background(), flesk)
	require.NoError(t, err)
	assert.False(t, outcome.Ingested())
	assert.Zero(t, repo.Len())
}

func TestIngestLatestPropagatesErrors(t *testing.T) {
	fetchErr := errors.New("connection reset")
	reconciler := NewReconciler(repository.NewMemoryReadingRepository(), stubPoller{err: fetchErr}, &stubImporter{})
	_, err := reconciler.IngestLatest(context.Background(), flesk)
	assert.ErrorIs(t, err, fetchErr)

	storeErr := errors.New("throughput exceeded")
	reconciler = NewReconciler(failingRepository{err: storeErr}, stubPoller{reading: at(100, "1"), found: true}, &stubImporter{})
	_, err = reconciler.IngestLatest(context.Background(), flesk)
	assert.ErrorIs(t, err, storeErr)
}

func TestBackfillIsIdempotent(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	base := now.Add(-24 * time.Hour).Unix()

	importer := &stubImporter{result: integration.ImportResult{
		Readings: []entities.Reading{at(base, "1.0"), at(base+900, "1.1"), at(base+1800, "1.2")},
		Parsed:   3,
	}}
	repo := repository.NewMemoryReadingRepository()
	reconciler := NewReconciler(repo, stubPoller{}, importer)
	reconciler.Now = func() time.Time { return now }
	ctx := context.Background()

	outcome, err := reconciler.Backfill(ctx, flesk)
	require.NoError(t, err)
	assert.True(t, outcome.Ingested())
	assert.Equal(t, 3, outcome.NewReadings)
	assert.Equal(t, DefaultBackfillCount, importer.requested)
	assert.Equal(t, 3, repo.Len())

	outcome, err = reconciler.Backfill(ctx, flesk)
	require.NoError(t, err)
	assert.False(t, outcome.Ingested())
	assert.Equal(t, 3, repo.Len())
}

func TestBackfillWritesOnlyTheDelta(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	t1, t2, t3 := now.Add(-3*time.Hour).Unix(), now.Add(-2*time.Hour).Unix(), now.Add(-time.Hour).Unix()

	repo := repository.NewMemoryReadingRepository()
	require.NoError(t, repo.PutReadingsBatch(context.Background(), flesk.ID, []entities.Reading{at(t1, "1.0"), at(t2, "1.1")}))

	importer := &stubImporter{result: integration.ImportResult{
		Readings: []entities.Reading{at(t1, "1.0"), at(t2, "1.1"), at(t3, "1.2")},
		Dropped:  2,
	}}
	reconciler := NewReconciler(repo, stubPoller{}, importer)
	reconciler.Now = func() time.Time { return now }
	before := testutil.ToFloat64(metrics.ArchiveRowsDropped.WithLabelValues(flesk.ID))

	outcome, err := reconciler.Backfill(context.Background(), flesk)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.NewReadings)
	assert.Equal(t, 2, outcome.Dropped)
	assert.Equal(t, 3, repo.Len())
	assert.Equal(t, before+2, testutil.ToFloat64(metrics.ArchiveRowsDropped.WithLabelValues(flesk.ID)))
}

func TestBackfillCountsRepeatedTimestampsOnce(t *testing.T) {
	now := time.Date(2024, 10, 28, 0, 0, 0, 0, time.UTC)
	// Both copies of the repeated hour after a clock change land on one instant
	repeated := now.Add(-23 * time.Hour).Unix()

	importer := &stubImporter{result: integration.ImportResult{
		Readings: []entities.Reading{at(repeated, "1.0"), at(repeated, "1.1")},
	}}
	repo := repository.NewMemoryReadingRepository()
	reconciler := NewReconciler(repo, stubPoller{}, importer)
	reconciler.Now = func() time.Time { return now }
	before := testutil.ToFloat64(metrics.ReadingsIngested.WithLabelValues(flesk.ID, string(ModeBackfill)))

	outcome, err := reconciler.Backfill(context.Background(), flesk)
	require.NoError(t, err)
	assert.Equal(t, 1, outcome.NewReadings)
	assert.Equal(t, 1, repo.Len())
	assert.Equal(t, before+1, testutil.ToFloat64(metrics.ReadingsIngested.WithLabelValues(flesk.ID, string(ModeBackfill))))
}

func TestBackfillOnlyComparesAgainstTheWindow(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	old := now.Add(-60 * 24 * time.Hour).Unix()

	repo := repository.NewMemoryReadingRepository()
	require.NoError(t, repo.PutReadingsBatch(context.Background(), flesk.ID, []entities.Reading{at(old, "1.0")}))

	importer := &stubImporter{result: integration.ImportResult{Readings: []entities.Reading{at(old, "1.0")}}}
	reconciler := NewReconciler(repo, stubPoller{}, importer)
	reconciler.Now = func() time.Time { return now }

	// The old reading is outside the window, so it is rewritten with the same value
	outcome, err := reconciler.Backfill(context.Background(), flesk)
	require.NoError(t, err)
	assert.True(t, outcome.Ingested())
	assert.Equal(t, 1, repo.Len())
}

func TestBackfillPropagatesErrorsWithoutWriting(t *testing.T) {
	importErr := errors.New("archive unavailable")
	repo := repository.NewMemoryReadingRepository()
	reconciler := NewReconciler(repo, stubPoller{}, &stubImporter{err: importErr})

	_, err := reconciler.Backfill(context.Background(), flesk)
	assert.ErrorIs(t, err, importErr)
	assert.Zero(t, repo.Len())

	storeErr := errors.New("table missing")
	reconciler = NewReconciler(failingRepository{err: storeErr}, stubPoller{}, &stubImporter{
		result: integration.ImportResult{Readings: []entities.Reading{at(100, "1")}},
	})
	_, err = reconciler.Backfill(context.Background(), flesk)
	assert.ErrorIs(t, err, storeErr)
}

func TestOutcomeString(t *testing.T) {
	assert.Equal(t, "current/22039: no change", Outcome{Mode: ModeLive, StationID: "22039"}.String())
	assert.Equal(t, "past/22039: ingested 4", Outcome{Mode: ModeBackfill, StationID: "22039", NewReadings: 4}.String())
}
