// Package config loads runtime settings from the environment and the stations file
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"strconv"
	"time"
	_ "time/tzdata"

	"github.com/abelzeko/river-levels/internal/entities"
	"github.com/abelzeko/river-levels/internal/integration"
	"github.com/abelzeko/river-levels/internal/publish"
	"github.com/abelzeko/river-levels/internal/repository"
	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the binaries
type Config struct {
	Store repository.Options

	LiveFeedURL     string
	HTTPTimeout     time.Duration
	ArchiveLocation *time.Location
	BackfillCount   int
	BackfillWindow  time.Duration

	LiveSchedule     string
	BackfillSchedule string
	TriggerAddr      string

	Publish publish.SCPConfig // Disabled when Publish.Host is empty

	TelegramBotToken string
	TelegramChatID   int64
	OpenAIAPIKey     string // Enables free-text bot queries

	Stations []entities.Station
}

// DefaultStations is used when no stations file is configured
func DefaultStations() []entities.Station {
	return []entities.Station{{
		ID:          "22039",
		Name:        "Flesk",
		ArchiveURL:  "https://epawebapp.epa.ie/Hydronet/output/internet/stations/LIM/22039/S/complete_15min.zip",
		ArchiveFile: integration.DefaultArchiveFile,
		LowWater:    decimal.RequireFromString("0.7"),
		HighWater:   decimal.RequireFromString("1.5"),
	}}
}

// Load reads the optional .env file and the environment
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	cfg := &Config{
		Store: repository.Options{
			Backend:    getEnv("STORE_BACKEND", repository.BackendSQLite),
			SQLitePath: getEnv("SQLITE_PATH", "data/readings.db"),
			DynamoDB: repository.DynamoDBConfig{
				Table:    getEnv("DYNAMODB_TABLE", "river_levels"),
				Region:   os.Getenv("AWS_REGION"),
				Endpoint: os.Getenv("DYNAMODB_ENDPOINT"),
			},
		},
		LiveFeedURL:      getEnv("LIVE_FEED_URL", integration.DefaultLiveFeedURL),
		LiveSchedule:     getEnv("LIVE_SCHEDULE", "*/15 * * * *"),
		BackfillSchedule: getEnv("BACKFILL_SCHEDULE", "0 3 * * *"),
		TriggerAddr:      os.Getenv("TRIGGER_ADDR"),
		Publish: publish.SCPConfig{
			Host:           os.Getenv("PUBLISH_HOST"),
			User:           os.Getenv("PUBLISH_USER"),
			KeyFile:        os.Getenv("PUBLISH_KEY_FILE"),
			KnownHostsFile: os.Getenv("PUBLISH_KNOWN_HOSTS"),
			Dir:            getEnv("PUBLISH_DIR", publish.DefaultPublishDir),
			File:           getEnv("PUBLISH_FILE", publish.DefaultPublishFile),
		},
		TelegramBotToken: os.Getenv("TELEGRAM_BOT_TOKEN"),
		OpenAIAPIKey:     os.Getenv("OPENAI_API_KEY"),
	}

	var err error
	if cfg.HTTPTimeout, err = getDuration("HTTP_TIMEOUT", 30*time.Second); err != nil {
		return nil, err
	}
	cfg.Publish.Timeout = cfg.HTTPTimeout

	if cfg.BackfillCount, err = getInt("BACKFILL_COUNT", 3000); err != nil {
		return nil, err
	}
	days, err := getInt("BACKFILL_WINDOW_DAYS", 50)
	if err != nil {
		return nil, err
	}
	cfg.BackfillWindow = time.Duration(days) * 24 * time.Hour

	if cfg.ArchiveLocation, err = time.LoadLocation(getEnv("ARCHIVE_TIMEZONE", "UTC")); err != nil {
		return nil, fmt.Errorf("invalid ARCHIVE_TIMEZONE: %w", err)
	}

	if chatID := os.Getenv("TELEGRAM_CHAT_ID"); chatID != "" {
		if cfg.TelegramChatID, err = strconv.ParseInt(chatID, 10, 64); err != nil {
			return nil, fmt.Errorf("invalid TELEGRAM_CHAT_ID %q: %w", chatID, err)
		}
	}

	for key, schedule := range map[string]string{"LIVE_SCHEDULE": cfg.LiveSchedule, "BACKFILL_SCHEDULE": cfg.BackfillSchedule} {
		if _, err := cron.ParseStandard(schedule); err != nil {
			return nil, fmt.Errorf("invalid %s %q: %w", key, schedule, err)
		}
	}

	if path := os.Getenv("STATIONS_FILE"); path != "" {
		if cfg.Stations, err = LoadStations(path); err != nil {
			return nil, err
		}
	} else {
		cfg.Stations = DefaultStations()
	}

	log.Printf("Loaded configuration: store=%s, %d station(s)", cfg.Store.Backend, len(cfg.Stations))
	return cfg, nil
}

type stationsFile struct {
	Stations []entities.Station `yaml:"stations"`
}

// LoadStations reads the station catalogue from a YAML file
func LoadStations(path string) ([]entities.Station, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read stations file: %w", err)
	}

	var file stationsFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse stations file: %w", err)
	}
	if len(file.Stations) == 0 {
		return nil, fmt.Errorf("no stations defined in %s", path)
	}

	seen := make(map[string]bool)
	for i := range file.Stations {
		s := &file.Stations[i]
		if s.ID == "" {
			return nil, fmt.Errorf("station %d in %s has no id", i+1, path)
		}
		if seen[s.ID] {
			return nil, fmt.Errorf("duplicate station id %s in %s", s.ID, path)
		}
		seen[s.ID] = true
		if s.ArchiveFile == "" {
			s.ArchiveFile = integration.DefaultArchiveFile
		}
	}
	return file.Stations, nil
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}

func getInt(key string, fallback int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive integer", key, value)
	}
	return n, nil
}

func getDuration(key string, fallback time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("invalid %s %q: must be a positive duration", key, value)
	}
	return d, nil
}
