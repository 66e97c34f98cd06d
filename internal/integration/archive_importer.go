package integration

import (
	"archive/zip"
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/shopspring/decimal"
)

// DefaultArchiveFile is the entry holding the 15 minute series in Hydronet archives
const DefaultArchiveFile = "complete_15min.csv"

// maxDroppedSamples bounds the rejected lines kept in an ImportResult
const maxDroppedSamples = 5

var archiveLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// ImportResult holds the newest readings of an archive and what was rejected on the way
type ImportResult struct {
	Readings       []entities.Reading // Oldest first, at most the requested count
	Parsed         int                // Lines that produced a reading
	Dropped        int                // Lines that could not be parsed
	DroppedSamples []string           // First few rejected lines
}

// ArchiveImporter downloads and parses zipped historical gauge logs
type ArchiveImporter struct {
	httpClient *http.Client
	location   *time.Location
}

// NewArchiveImporter creates an importer. Archive times are read in loc, UTC when nil.
func NewArchiveImporter(timeout time.Duration, loc *time.Location) *ArchiveImporter {
	if loc == nil {
		loc = time.UTC
	}
	return &ArchiveImporter{
		httpClient: newHTTPClient(timeout),
		location:   loc,
	}
}

// Import fetches the station archive and returns its last n readings
func (a *ArchiveImporter) Import(ctx context.Context, station entities.Station, n int) (ImportResult, error) {
	log.Printf("Downloading archive for station %s from %s", station.ID, station.ArchiveURL)
	res, err := get(ctx, a.httpClient, station.ArchiveURL)
	if err != nil {
		return ImportResult{}, err
	}
	defer res.Body.Close()

	body, err := io.ReadAll(res.Body)
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to read archive for %s: %w", station.ID, err)
	}

	zr, err := zip.NewReader(bytes.NewReader(body), int64(len(body)))
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to open archive for %s: %w", station.ID, err)
	}

	entry, err := findEntry(zr, station.ArchiveFile)
	if err != nil {
		return ImportResult{}, fmt.Errorf("archive for %s: %w", station.ID, err)
	}

	f, err := entry.Open()
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to decompress %s: %w", entry.Name, err)
	}
	defer f.Close()

	result, err := ParseArchive(f, station.ID, n, a.location)
	if err != nil {
		return ImportResult{}, fmt.Errorf("failed to read %s: %w", entry.Name, err)
	}

	log.Printf("Archive %s: parsed %d lines, dropped %d, keeping last %d readings",
		entry.Name, result.Parsed, result.Dropped, len(result.Readings))
	if result.Dropped > 0 {
		log.Printf("Warning: dropped archive lines for station %s, e.g. %q", station.ID, result.DroppedSamples)
	}
	return result, nil
}

// findEntry picks the named file, or the only file when the name is absent
func findEntry(zr *zip.Reader, name string) (*zip.File, error) {
	if name == "" {
		name = DefaultArchiveFile
	}

	var files []*zip.File
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		if f.Name == name || path.Base(f.Name) == name {
			return f, nil
		}
		files = append(files, f)
	}

	if len(files) == 1 {
		return files[0], nil
	}
	return nil, fmt.Errorf("entry %q not found among %d files", name, len(files))
}

// ParseArchive reads `DATE TIME;VALUE;...` lines and keeps the last n readings.
// Lines starting with '#' are comments. Lines that fail to parse are counted and
// skipped. The last-n window counts parsed readings only, so gap markers at the
// tail of the file never shrink the result below n. A non-positive n keeps every
// reading.
func ParseArchive(r io.Reader, stationID string, n int, loc *time.Location) (ImportResult, error) {
	var result ImportResult

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		reading, err := parseArchiveLine(line, stationID, loc)
		if err != nil {
			result.Dropped++
			if len(result.DroppedSamples) < maxDroppedSamples {
				result.DroppedSamples = append(result.DroppedSamples, line)
			}
			continue
		}

		result.Parsed++
		result.Readings = append(result.Readings, reading)
		if n > 0 && len(result.Readings) > n {
			result.Readings = result.Readings[1:]
		}
	}
	if err := scanner.Err(); err != nil {
		return ImportResult{}, err
	}

	return result, nil
}

func parseArchiveLine(line, stationID string, loc *time.Location) (entities.Reading, error) {
	fields := strings.Fields(line)
	if len(fields) < 2 {
		return entities.Reading{}, fmt.Errorf("expected date and time fields")
	}

	parts := strings.Split(fields[1], ";")
	if len(parts) < 2 {
		return entities.Reading{}, fmt.Errorf("missing value field")
	}

	ts, err := parseArchiveTime(fields[0]+" "+parts[0], loc)
	if err != nil {
		return entities.Reading{}, err
	}

	level, err := decimal.NewFromString(strings.TrimSpace(parts[1]))
	if err != nil {
		return entities.Reading{}, fmt.Errorf("invalid value %q: %w", parts[1], err)
	}

	return entities.NewReading(stationID, ts, level), nil
}

func parseArchiveTime(value string, loc *time.Location) (time.Time, error) {
	for _, layout := range archiveLayouts {
		if ts, err := time.ParseInLocation(layout, value, loc); err == nil {
			return ts, nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid date-time %q", value)
}
