package repository

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"time"

	"github.com/abelzeko/river-levels/internal/entities"
	_ "github.com/mattn/go-sqlite3"
	"github.com/shopspring/decimal"
)

// SQLiteReadingRepository implements ReadingRepository using SQLite
type SQLiteReadingRepository struct {
	db *sql.DB
}

// NewSQLiteReadingRepository creates and initializes a new SQLite repository
func NewSQLiteReadingRepository(dbPath string) (*SQLiteReadingRepository, error) {
	if dbPath == "" {
		// Set default path if not specified
		dbPath = filepath.Join("data", "readings.db")
	}
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("failed to create database directory: %w", err)
	}

	log.Printf("Opening database at %s", dbPath)
	// Overlapping invocations wait for the write lock instead of failing with SQLITE_BUSY
	db, err := sql.Open("sqlite3", dbPath+"?_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Levels are kept as TEXT so the decimal value round-trips exactly
	createTableSQL := `
	CREATE TABLE IF NOT EXISTS readings (
		station_id TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		level TEXT NOT NULL,
		PRIMARY KEY (station_id, timestamp)
	);`

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return &SQLiteReadingRepository{db: db}, nil
}

// Close closes the database connection
func (r *SQLiteReadingRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// PutReadingIfAbsent inserts a reading unless its key is already stored
func (r *SQLiteReadingRepository) PutReadingIfAbsent(ctx context.Context, reading entities.Reading) (bool, error) {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO readings(station_id, timestamp, level)
		VALUES(?, ?, ?)
		ON CONFLICT(station_id, timestamp) DO NOTHING`,
		reading.StationID, reading.Timestamp.Unix(), reading.Level.String(),
	)
	if err != nil {
		return false, fmt.Errorf("failed to insert reading %s: %w", reading, err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to read affected rows: %w", err)
	}
	return affected == 1, nil
}

// PutReadingsBatch stores readings in one transaction, overwriting existing keys
func (r *SQLiteReadingRepository) PutReadingsBatch(ctx context.Context, stationID string, readings []entities.Reading) error {
	if len(readings) == 0 {
		return nil
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO readings(station_id, timestamp, level)
		VALUES(?, ?, ?)
		ON CONFLICT(station_id, timestamp) DO UPDATE SET
		level=excluded.level
	`)
	if err != nil {
		tx.Rollback()
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, rd := range readings {
		if _, err := stmt.ExecContext(ctx, stationID, rd.Timestamp.Unix(), rd.Level.String()); err != nil {
			tx.Rollback()
			return fmt.Errorf("failed to insert reading for %s at %s: %w", stationID, rd.Timestamp.Format(time.RFC3339), err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}

	log.Printf("Successfully saved %d readings for station %s", len(readings), stationID)
	return nil
}

// GetReadingsSince retrieves readings of a station newer than since
func (r *SQLiteReadingRepository) GetReadingsSince(ctx context.Context, stationID string, since time.Time) ([]entities.Reading, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT station_id, timestamp, level
		FROM readings
		WHERE station_id = ? AND timestamp > ?
		ORDER BY timestamp`,
		stationID, since.Unix(),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings for %s: %w", stationID, err)
	}
	return scanReadings(rows)
}

// GetAllReadings retrieves the whole series of a station
func (r *SQLiteReadingRepository) GetAllReadings(ctx context.Context, stationID string) ([]entities.Reading, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT station_id, timestamp, level
		FROM readings
		WHERE station_id = ?
		ORDER BY timestamp`,
		stationID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query readings for %s: %w", stationID, err)
	}
	return scanReadings(rows)
}

func scanReadings(rows *sql.Rows) ([]entities.Reading, error) {
	defer rows.Close()

	var result []entities.Reading
	for rows.Next() {
		var (
			stationID string
			unix      int64
			level     string
		)
		if err := rows.Scan(&stationID, &unix, &level); err != nil {
			return nil, fmt.Errorf("failed to scan row: %w", err)
		}
		value, err := decimal.NewFromString(level)
		if err != nil {
			return nil, fmt.Errorf("corrupt level %q for %s at %d: %w", level, stationID, unix, err)
		}
		result = append(result, entities.NewReading(stationID, time.Unix(unix, 0), value))
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return result, nil
}
